// internal/workers/notification/notification-snooze/handler.go
package notificationsnooze

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"crm-notifications/internal/common/errors"
	"crm-notifications/internal/common/logger"
	"crm-notifications/internal/common/metrics"
	"crm-notifications/internal/common/validation"
	"crm-notifications/internal/notifications"
)

const TaskType = "notification-snooze"

type SnoozeService interface {
	Snooze(ctx context.Context, actorID string, req notifications.SnoozeRequest) error
}

type Handler struct {
	timeout      time.Duration
	service      SnoozeService
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(timeout time.Duration, service SnoozeService, log logger.Logger) *Handler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		timeout:      timeout,
		service:      service,
		errorHandler: errors.NewErrorHandler(log),
		logger:       log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	start := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.GetKey(),
		"workflowKey": job.GetProcessInstanceKey(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	input, err := parseInput(job.GetVariables())
	if err == nil {
		var output *Output
		if output, err = h.Execute(ctx, input); err == nil {
			h.completeJob(ctx, client, job, output)
			metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
			metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
			return nil
		}
	}

	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
	return err
}

// parseInput validates the snooze fields against the shared request schema.
func parseInput(variables string) (*Input, error) {
	result := validation.SnoozeRequestSchema.ValidateBytes([]byte(variables))
	if !result.Valid {
		return nil, errors.NewSnoozeInvalidError(result.Error())
	}

	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, errors.NewSnoozeInvalidError(fmt.Sprintf("parse variables: %v", err))
	}
	input.ActorID = strings.TrimSpace(input.ActorID)
	if input.ActorID == "" {
		return nil, errors.NewInvalidInputError("actorId is required")
	}
	return &input, nil
}

// Execute applies the snooze through the notification service.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	req, err := input.Request()
	if err != nil {
		return nil, err
	}
	if err := h.service.Snooze(ctx, input.ActorID, req); err != nil {
		return nil, err
	}

	output := &Output{
		Snoozed:          true,
		NotificationType: req.Type.String(),
		SnoozedUntil:     req.Until.UTC().Format(time.RFC3339),
	}
	if req.AccountID != nil {
		if acct := strings.TrimSpace(*req.AccountID); !strings.EqualFold(acct, "null") {
			output.RelatedAccountID = acct
		}
	}
	return output, nil
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
	}
}
