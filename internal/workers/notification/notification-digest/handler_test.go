// internal/workers/notification/notification-digest/handler_test.go
package notificationdigest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-notifications/internal/common/config"
	apperrors "crm-notifications/internal/common/errors"
	"crm-notifications/internal/common/logger"
	"crm-notifications/internal/notifications"
)

// ==========================
// Mock Implementations
// ==========================

type MockViewService struct {
	GetNotificationViewFunc func(ctx context.Context, actorID string) ([]notifications.Group, error)
}

func (m *MockViewService) GetNotificationView(ctx context.Context, actorID string) ([]notifications.Group, error) {
	return m.GetNotificationViewFunc(ctx, actorID)
}

type MockMailer struct {
	SendEmailFunc func(ctx context.Context, to, subject, text, html string) (string, error)
	calls         int
}

func (m *MockMailer) SendEmail(ctx context.Context, to, subject, text, html string) (string, error) {
	m.calls++
	return m.SendEmailFunc(ctx, to, subject, text, html)
}

type MockTexter struct {
	SendSMSFunc func(ctx context.Context, phone, message string) (string, error)
	calls       int
}

func (m *MockTexter) SendSMS(ctx context.Context, phone, message string) (string, error) {
	m.calls++
	return m.SendSMSFunc(ctx, phone, message)
}

// ==========================
// Test Helper Functions
// ==========================

func createTestConfig() *Config {
	return &Config{
		EmailEnabled: true,
		SMSEnabled:   true,
		Timeout:      5 * time.Second,
		MaxGroups:    2,
	}
}

func createMockJob(key int64, variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                key,
		Type:               TaskType,
		ProcessInstanceKey: key * 10,
		BpmnProcessId:      "account-digest",
		ElementId:          "Activity_SendDigest",
		CustomHeaders:      "{}",
		Worker:             "test-worker",
		Retries:            3,
		Variables:          string(variablesJSON),
	}}
}

func testGroups() []notifications.Group {
	return []notifications.Group{
		{Type: notifications.TypeTaskOverdue, Label: notifications.TypeTaskOverdue.Label(), Count: 2, UnreadCount: 2},
		{Type: notifications.TypeTicketAssigned, Label: notifications.TypeTicketAssigned.Label(), Count: 1, UnreadCount: 0},
		{Type: notifications.TypeRenewalReminder, Label: notifications.TypeRenewalReminder.Label(), Count: 3, UnreadCount: 1},
		{Type: notifications.TypeEndOfYearAnalysis, Label: notifications.TypeEndOfYearAnalysis.Label(), Count: 1, UnreadCount: 1},
	}
}

func staticView(groups []notifications.Group) *MockViewService {
	return &MockViewService{GetNotificationViewFunc: func(context.Context, string) ([]notifications.Group, error) {
		return groups, nil
	}}
}

func okMailer() *MockMailer {
	return &MockMailer{SendEmailFunc: func(context.Context, string, string, string, string) (string, error) {
		return "ses-msg-1", nil
	}}
}

func okTexter() *MockTexter {
	return &MockTexter{SendSMSFunc: func(context.Context, string, string) (string, error) {
		return "sns-msg-1", nil
	}}
}

func newTestHandler(t *testing.T, cfg *Config, views ViewService, mailer EmailSender, texter SMSSender) *Handler {
	t.Helper()
	h, err := NewHandler(cfg, views, mailer, texter, logger.NewTestLogger(t))
	require.NoError(t, err)
	h.clock = func() time.Time { return time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC) }
	return h
}

// ==========================
// Input Parsing Tests
// ==========================

func TestParseInput(t *testing.T) {
	tests := []struct {
		name      string
		variables map[string]interface{}
		wantErr   string
		channel   string
	}{
		{
			name:      "defaults to auto",
			variables: map[string]interface{}{"actorId": " user-1 ", "email": "a@b.co"},
			channel:   ChannelAuto,
		},
		{
			name:      "channel is case-insensitive",
			variables: map[string]interface{}{"actorId": "user-1", "channel": "SMS"},
			channel:   ChannelSMS,
		},
		{
			name:      "missing actor",
			variables: map[string]interface{}{"email": "a@b.co"},
			wantErr:   "actorId is required",
		},
		{
			name:      "unknown channel",
			variables: map[string]interface{}{"actorId": "user-1", "channel": "pigeon"},
			wantErr:   "unknown channel",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := createMockJob(1, tt.variables)
			input, err := parseInput(job.GetVariables())
			if tt.wantErr != "" {
				require.Error(t, err)
				stdErr, ok := apperrors.AsStandardError(err)
				require.True(t, ok)
				assert.Equal(t, apperrors.ErrCodeInvalidInput, stdErr.Code)
				assert.Contains(t, stdErr.Details, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "user-1", input.ActorID)
			assert.Equal(t, tt.channel, input.Channel)
		})
	}
}

func TestParseInput_NotJSON(t *testing.T) {
	_, err := parseInput("{not json")
	require.Error(t, err)
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_Email(t *testing.T) {
	mailer := &MockMailer{}
	var subject, text, html string
	mailer.SendEmailFunc = func(_ context.Context, to, s, tx, h string) (string, error) {
		assert.Equal(t, "rep@acme.test", to)
		subject, text, html = s, tx, h
		return "ses-msg-1", nil
	}
	h := newTestHandler(t, createTestConfig(), staticView(testGroups()), mailer, okTexter())

	output, err := h.Execute(context.Background(), &Input{ActorID: "user-1", Email: "rep@acme.test", Phone: "+15550100", Channel: ChannelAuto})

	require.NoError(t, err)
	assert.Equal(t, StatusSent, output.Status)
	assert.Equal(t, ChannelEmail, output.Channel)
	assert.Equal(t, "ses-msg-1", output.MessageID)
	assert.Equal(t, 4, output.UnreadCount)
	assert.Equal(t, "2026-10-17T09:00:00Z", output.SentAt)
	assert.NotEmpty(t, output.DigestID)

	assert.Equal(t, "You have 4 unread notifications", subject)
	// Groups with nothing unread are left out; MaxGroups=2 folds the rest.
	assert.Contains(t, text, "- "+notifications.TypeTaskOverdue.Label()+": 2 unread")
	assert.Contains(t, text, "- "+notifications.TypeRenewalReminder.Label()+": 1 unread")
	assert.NotContains(t, text, notifications.TypeTicketAssigned.Label())
	assert.Contains(t, text, "- and 1 more")
	assert.True(t, strings.HasPrefix(html, "<p>"))
}

func TestHandler_Execute_SMS(t *testing.T) {
	texter := &MockTexter{}
	var sent string
	texter.SendSMSFunc = func(_ context.Context, phone, msg string) (string, error) {
		assert.Equal(t, "+15550100", phone)
		sent = msg
		return "sns-msg-1", nil
	}
	mailer := okMailer()
	h := newTestHandler(t, createTestConfig(), staticView(testGroups()), mailer, texter)

	output, err := h.Execute(context.Background(), &Input{ActorID: "user-1", Email: "rep@acme.test", Phone: "+15550100", Channel: ChannelSMS})

	require.NoError(t, err)
	assert.Equal(t, ChannelSMS, output.Channel)
	assert.Equal(t, "You have 4 unread notifications. Top: "+notifications.TypeTaskOverdue.Label()+" (2).", sent)
	assert.Equal(t, 0, mailer.calls)
}

func TestHandler_Execute_AutoFallsBackToSMS(t *testing.T) {
	cfg := createTestConfig()
	cfg.EmailEnabled = false
	texter := okTexter()
	h := newTestHandler(t, cfg, staticView(testGroups()), okMailer(), texter)

	output, err := h.Execute(context.Background(), &Input{ActorID: "user-1", Email: "rep@acme.test", Phone: "+15550100", Channel: ChannelAuto})

	require.NoError(t, err)
	assert.Equal(t, ChannelSMS, output.Channel)
	assert.Equal(t, 1, texter.calls)
}

func TestHandler_Execute_NothingUnread(t *testing.T) {
	mailer := okMailer()
	groups := []notifications.Group{{Type: notifications.TypeEndOfYearAnalysis, Count: 2, UnreadCount: 0}}
	h := newTestHandler(t, createTestConfig(), staticView(groups), mailer, okTexter())

	output, err := h.Execute(context.Background(), &Input{ActorID: "user-1", Email: "rep@acme.test", Channel: ChannelAuto})

	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, output.Status)
	assert.Equal(t, 0, output.UnreadCount)
	assert.Equal(t, 0, mailer.calls)
}

func TestHandler_Execute_NoChannel(t *testing.T) {
	tests := []struct {
		name  string
		cfg   func(*Config)
		input *Input
	}{
		{
			name:  "email requested without address",
			cfg:   func(*Config) {},
			input: &Input{ActorID: "user-1", Phone: "+15550100", Channel: ChannelEmail},
		},
		{
			name:  "sms disabled",
			cfg:   func(c *Config) { c.SMSEnabled = false },
			input: &Input{ActorID: "user-1", Phone: "+15550100", Channel: ChannelSMS},
		},
		{
			name:  "auto with no contact details",
			cfg:   func(*Config) {},
			input: &Input{ActorID: "user-1", Channel: ChannelAuto},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := createTestConfig()
			tt.cfg(cfg)
			h := newTestHandler(t, cfg, staticView(testGroups()), okMailer(), okTexter())

			output, err := h.Execute(context.Background(), tt.input)

			require.NoError(t, err)
			assert.Equal(t, StatusDisabled, output.Status)
			assert.Empty(t, output.Channel)
		})
	}
}

func TestHandler_Execute_SendFailureIsRetryable(t *testing.T) {
	mailer := &MockMailer{SendEmailFunc: func(context.Context, string, string, string, string) (string, error) {
		return "", errors.New("Throttling: rate exceeded")
	}}
	h := newTestHandler(t, createTestConfig(), staticView(testGroups()), mailer, nil)

	_, err := h.Execute(context.Background(), &Input{ActorID: "user-1", Email: "rep@acme.test", Channel: ChannelEmail})

	require.Error(t, err)
	stdErr, ok := apperrors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeDigestSendFailed, stdErr.Code)
	assert.True(t, stdErr.Retryable)
	assert.Contains(t, stdErr.Details, "channel: email")
}

func TestHandler_Execute_ViewError(t *testing.T) {
	views := &MockViewService{GetNotificationViewFunc: func(context.Context, string) ([]notifications.Group, error) {
		return nil, notifications.ErrNoActor
	}}
	h := newTestHandler(t, createTestConfig(), views, okMailer(), okTexter())

	_, err := h.Execute(context.Background(), &Input{ActorID: "user-1"})

	assert.ErrorIs(t, err, notifications.ErrNoActor)
}

// ==========================
// Configuration Tests
// ==========================

func TestNewHandler_InvalidConfig(t *testing.T) {
	_, err := NewHandler(&Config{}, staticView(nil), nil, nil, logger.NewNoOpLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout must be positive")
}

func TestNewHandler_RejectsNonPositiveMaxGroups(t *testing.T) {
	for _, limit := range []int{0, -1} {
		cfg := DefaultConfig()
		cfg.MaxGroups = limit
		_, err := NewHandler(cfg, staticView(nil), nil, nil, logger.NewNoOpLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_groups must be positive")
	}
}

func TestUnreadGroups_Limit(t *testing.T) {
	groups := testGroups()

	shown, more := unreadGroups(groups, 0)
	assert.Len(t, shown, 3, "zero means no cap")
	assert.Zero(t, more)

	shown, more = unreadGroups(groups, 1)
	require.Len(t, shown, 1)
	assert.Equal(t, notifications.TypeTaskOverdue, shown[0].Type)
	assert.Equal(t, 2, more)

	_, text, _ := renderEmail(groups, 4, 0)
	assert.Contains(t, text, "Overdue tasks: 2 unread")
	assert.NotContains(t, text, "more")
}

func TestConfigFromApp(t *testing.T) {
	app := &config.Config{Workers: map[string]config.WorkerConfig{
		TaskType: {Enabled: true, Timeout: 1500},
	}}
	app.Integrations.AWS.SES.Enabled = true

	cfg := ConfigFromApp(app)

	assert.Equal(t, 1500*time.Millisecond, cfg.Timeout)
	assert.True(t, cfg.EmailEnabled)
	assert.False(t, cfg.SMSEnabled)
	assert.Equal(t, DefaultConfig().MaxGroups, cfg.MaxGroups)
	assert.NoError(t, ConfigFromApp(nil).Validate())
}
