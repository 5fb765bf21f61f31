// internal/workers/notification/notification-digest/handler.go
package notificationdigest

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"

	"crm-notifications/internal/common/errors"
	"crm-notifications/internal/common/logger"
	"crm-notifications/internal/common/metrics"
	"crm-notifications/internal/notifications"
)

const TaskType = "notification-digest"

// ViewService builds the actor's bell view.
type ViewService interface {
	GetNotificationView(ctx context.Context, actorID string) ([]notifications.Group, error)
}

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, text, html string) (string, error)
}

type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) (string, error)
}

type Handler struct {
	config       *Config
	views        ViewService
	mailer       EmailSender
	texter       SMSSender
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
	clock        func() time.Time
}

// NewHandler wires the digest worker. mailer or texter may be nil when the
// channel is not configured.
func NewHandler(config *Config, views ViewService, mailer EmailSender, texter SMSSender, log logger.Logger) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		views:        views,
		mailer:       mailer,
		texter:       texter,
		errorHandler: errors.NewErrorHandler(log),
		logger:       log,
		clock:        time.Now,
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	start := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.GetKey(),
		"workflowKey": job.GetProcessInstanceKey(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := parseInput(job.GetVariables())
	if err != nil {
		return h.failJob(ctx, client, job, err)
	}

	output, err := h.execute(ctx, input)
	if err != nil {
		return h.failJob(ctx, client, job, err)
	}

	h.completeJob(ctx, client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	return nil
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) error {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
	return err
}

func parseInput(variables string) (*Input, error) {
	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("parse variables: %v", err))
	}
	input.ActorID = strings.TrimSpace(input.ActorID)
	input.Email = strings.TrimSpace(input.Email)
	input.Phone = strings.TrimSpace(input.Phone)
	input.Channel = strings.ToLower(strings.TrimSpace(input.Channel))
	if input.Channel == "" {
		input.Channel = ChannelAuto
	}

	if input.ActorID == "" {
		return nil, errors.NewInvalidInputError("actorId is required")
	}
	switch input.Channel {
	case ChannelAuto, ChannelEmail, ChannelSMS:
	default:
		return nil, errors.NewInvalidInputError(fmt.Sprintf("unknown channel %q", input.Channel))
	}
	return &input, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	groups, err := h.views.GetNotificationView(ctx, input.ActorID)
	if err != nil {
		return nil, err
	}

	output := &Output{
		DigestID:    uuid.New().String(),
		UnreadCount: notifications.UnreadTotal(groups),
		SentAt:      h.clock().UTC().Format(time.RFC3339),
	}
	if output.UnreadCount == 0 {
		output.Status = StatusSkipped
		return output, nil
	}

	channel := h.pickChannel(input)
	if channel == "" {
		h.logger.Warn("no delivery channel for recipient", map[string]interface{}{
			"actorId": input.ActorID,
			"channel": input.Channel,
		})
		output.Status = StatusDisabled
		return output, nil
	}

	var messageID string
	switch channel {
	case ChannelEmail:
		subject, text, body := renderEmail(groups, output.UnreadCount, h.config.MaxGroups)
		messageID, err = h.mailer.SendEmail(ctx, input.Email, subject, text, body)
	case ChannelSMS:
		messageID, err = h.texter.SendSMS(ctx, input.Phone, renderSMS(groups, output.UnreadCount))
	}
	if err != nil {
		return nil, errors.NewDigestSendFailedError(channel, err)
	}

	output.Status = StatusSent
	output.Channel = channel
	output.MessageID = messageID
	return output, nil
}

// pickChannel returns the channel to deliver on, or "" when the requested
// one is unavailable. Auto prefers email.
func (h *Handler) pickChannel(input *Input) string {
	emailOK := h.config.EmailEnabled && h.mailer != nil && input.Email != ""
	smsOK := h.config.SMSEnabled && h.texter != nil && input.Phone != ""

	switch {
	case input.Channel == ChannelEmail && emailOK:
		return ChannelEmail
	case input.Channel == ChannelSMS && smsOK:
		return ChannelSMS
	case input.Channel == ChannelAuto && emailOK:
		return ChannelEmail
	case input.Channel == ChannelAuto && smsOK:
		return ChannelSMS
	}
	return ""
}

// unreadGroups keeps the groups with unread items, at most limit of them;
// limit <= 0 keeps all.
func unreadGroups(groups []notifications.Group, limit int) (shown []notifications.Group, more int) {
	for _, g := range groups {
		if g.UnreadCount == 0 {
			continue
		}
		if limit > 0 && len(shown) == limit {
			more++
			continue
		}
		shown = append(shown, g)
	}
	return shown, more
}

func summaryLine(unread int) string {
	if unread == 1 {
		return "You have 1 unread notification"
	}
	return fmt.Sprintf("You have %d unread notifications", unread)
}

func renderEmail(groups []notifications.Group, unread, limit int) (subject, text, body string) {
	shown, more := unreadGroups(groups, limit)
	subject = summaryLine(unread)

	var t, b strings.Builder
	t.WriteString(subject + ":\n\n")
	b.WriteString("<p>" + html.EscapeString(subject) + ":</p>\n<ul>\n")
	for _, g := range shown {
		fmt.Fprintf(&t, "- %s: %d unread\n", g.Label, g.UnreadCount)
		fmt.Fprintf(&b, "<li>%s: %d unread</li>\n", html.EscapeString(g.Label), g.UnreadCount)
	}
	if more > 0 {
		fmt.Fprintf(&t, "- and %d more\n", more)
		fmt.Fprintf(&b, "<li>and %d more</li>\n", more)
	}
	b.WriteString("</ul>")
	return subject, t.String(), b.String()
}

// renderSMS lists only the top group to stay within one segment.
func renderSMS(groups []notifications.Group, unread int) string {
	msg := summaryLine(unread) + "."
	if shown, _ := unreadGroups(groups, 1); len(shown) == 1 {
		msg += fmt.Sprintf(" Top: %s (%d).", shown[0].Label, shown[0].UnreadCount)
	}
	return msg
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.GetKey()).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err,
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err,
		})
		return
	}
	h.logger.Info("digest job completed", map[string]interface{}{
		"jobKey":      job.GetKey(),
		"digestId":    output.DigestID,
		"status":      output.Status,
		"unreadCount": output.UnreadCount,
	})
}

// Execute runs the digest without a job. Used by tests.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
