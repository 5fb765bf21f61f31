// Package rest reads and writes notification data through the CRM's REST
// gateway. Every response is a {success, data, error} envelope.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "crm-notifications/internal/common/errors"
	httpclient "crm-notifications/internal/common/http"
	"crm-notifications/internal/common/logger"
	"crm-notifications/internal/common/metrics"
	"crm-notifications/internal/common/validation"
	"crm-notifications/internal/notifications"
)

var _ notifications.Store = (*Store)(nil)

// rowPaths maps each row table to its gateway collection.
var rowPaths = map[string]string{
	notifications.SourceTasks:   "/notifications/tasks",
	notifications.SourceSystem:  "/notifications/system",
	notifications.SourceTickets: "/notifications/tickets",
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *envelopeError  `json:"error,omitempty"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Options struct {
	BaseURL              string
	APIKey               string
	Timeout              time.Duration
	RenewalLookaheadDays int
	NeglectThresholdDays int
	Clock                func() time.Time
}

type Store struct {
	client           *httpclient.Client
	baseURL          string
	renewalLookahead time.Duration
	neglectThreshold time.Duration
	clock            func() time.Time
	logger           logger.Logger
}

func New(opts Options, log logger.Logger) *Store {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RenewalLookaheadDays <= 0 {
		opts.RenewalLookaheadDays = 90
	}
	if opts.NeglectThresholdDays <= 0 {
		opts.NeglectThresholdDays = 30
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	client := httpclient.NewClient(opts.Timeout)
	if opts.APIKey != "" {
		client = client.WithHeader("Authorization", "Bearer "+opts.APIKey)
	}

	return &Store{
		client:           client,
		baseURL:          strings.TrimRight(opts.BaseURL, "/"),
		renewalLookahead: time.Duration(opts.RenewalLookaheadDays) * 24 * time.Hour,
		neglectThreshold: time.Duration(opts.NeglectThresholdDays) * 24 * time.Hour,
		clock:            opts.Clock,
		logger:           log.WithFields(map[string]interface{}{"component": "rest-source"}),
	}
}

// ==========================
// Reader
// ==========================

func (s *Store) TaskNotifications(ctx context.Context, actorID string) ([]notifications.Notification, error) {
	return s.rows(ctx, notifications.SourceTasks, rowPaths[notifications.SourceTasks], url.Values{"user_id": {actorID}})
}

func (s *Store) SystemNotifications(ctx context.Context, actorID string) ([]notifications.Notification, error) {
	return s.rows(ctx, notifications.SourceSystem, rowPaths[notifications.SourceSystem], url.Values{"user_id": {actorID}})
}

func (s *Store) TicketNotifications(ctx context.Context, actorID string) ([]notifications.Notification, error) {
	return s.rows(ctx, notifications.SourceTickets, rowPaths[notifications.SourceTickets], url.Values{"user_id": {actorID}})
}

func (s *Store) AtRiskAccounts(ctx context.Context, actorID string) ([]notifications.AccountRecord, error) {
	q := url.Values{
		"user_id":        {actorID},
		"renewal_before": {s.clock().Add(s.renewalLookahead).UTC().Format(time.RFC3339)},
	}
	return s.accounts(ctx, notifications.SourceAtRisk, "/accounts/at-risk", q)
}

func (s *Store) NeglectedAccounts(ctx context.Context, actorID string) ([]notifications.AccountRecord, error) {
	q := url.Values{
		"user_id":        {actorID},
		"contact_before": {s.clock().Add(-s.neglectThreshold).UTC().Format(time.RFC3339)},
	}
	return s.accounts(ctx, notifications.SourceNeglected, "/accounts/neglected", q)
}

func (s *Store) DuplicateEstimates(ctx context.Context, actorID string) ([]notifications.AccountRecord, error) {
	return s.accounts(ctx, notifications.SourceDuplicates, "/accounts/duplicate-estimates", url.Values{"user_id": {actorID}})
}

func (s *Store) NotificationStates(ctx context.Context, actorID string) (map[string]notifications.State, error) {
	var rows []struct {
		NotificationID string `json:"notification_id"`
		IsRead         bool   `json:"is_read"`
		IsDismissed    bool   `json:"is_dismissed"`
	}
	if err := s.get(ctx, "/notification-states", url.Values{"user_id": {actorID}}, &rows); err != nil {
		return nil, err
	}

	states := make(map[string]notifications.State, len(rows))
	for _, r := range rows {
		if r.NotificationID == "" {
			continue
		}
		states[r.NotificationID] = notifications.State{Read: r.IsRead, Dismissed: r.IsDismissed}
	}
	return states, nil
}

func (s *Store) ActiveSnoozes(ctx context.Context, now time.Time) ([]notifications.Snooze, error) {
	var raws []json.RawMessage
	q := url.Values{"active_at": {now.UTC().Format(time.RFC3339)}}
	if err := s.get(ctx, "/notification-snoozes", q, &raws); err != nil {
		return nil, err
	}

	out := make([]notifications.Snooze, 0, len(raws))
	for _, raw := range raws {
		if !s.valid(notifications.SourceSnoozes, validation.SnoozeRecordSchema, raw) {
			continue
		}
		var rec notifications.SnoozeRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			s.malformed(notifications.SourceSnoozes, err.Error())
			continue
		}
		out = append(out, rec.Snooze())
	}
	return out, nil
}

func (s *Store) OverdueTaskIDs(ctx context.Context, actorID string, now time.Time) ([]string, error) {
	var rows []struct {
		ID notifications.FlexString `json:"id"`
	}
	q := url.Values{
		"overdue":     {"true"},
		"assigned_to": {actorID},
		"as_of":       {now.UTC().Format(time.RFC3339)},
	}
	if err := s.get(ctx, "/tasks", q, &rows); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.ID != "" {
			ids = append(ids, string(r.ID))
		}
	}
	return ids, nil
}

func (s *Store) rows(ctx context.Context, source, path string, q url.Values) ([]notifications.Notification, error) {
	var raws []json.RawMessage
	if err := s.get(ctx, path, q, &raws); err != nil {
		return nil, err
	}

	out := make([]notifications.Notification, 0, len(raws))
	for _, raw := range raws {
		if !s.valid(source, validation.NotificationRecordSchema, raw) {
			continue
		}
		var rec notifications.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			s.malformed(source, err.Error())
			continue
		}
		out = append(out, rec.Notification(source))
	}
	return out, nil
}

func (s *Store) accounts(ctx context.Context, source, path string, q url.Values) ([]notifications.AccountRecord, error) {
	var raws []json.RawMessage
	if err := s.get(ctx, path, q, &raws); err != nil {
		return nil, err
	}

	out := make([]notifications.AccountRecord, 0, len(raws))
	for _, raw := range raws {
		if !s.valid(source, validation.AccountRecordSchema, raw) {
			continue
		}
		var row notifications.AccountRow
		if err := json.Unmarshal(raw, &row); err != nil {
			s.malformed(source, err.Error())
			continue
		}
		out = append(out, row.AccountRecord())
	}
	return out, nil
}

func (s *Store) valid(source string, schema *validation.Schema, raw json.RawMessage) bool {
	result := schema.ValidateBytes(raw)
	if result.Valid {
		return true
	}
	s.malformed(source, result.Error())
	return false
}

func (s *Store) malformed(source, details string) {
	metrics.MalformedRecords.WithLabelValues(source).Inc()
	s.logger.Warn("dropping malformed record", map[string]interface{}{
		"source":  source,
		"details": details,
	})
}

// ==========================
// Writer
// ==========================

// rowPath resolves a RowID to the gateway resource of that one row.
func rowPath(id string) (string, bool) {
	source, rawID, ok := notifications.SplitRowID(id)
	if !ok {
		return "", false
	}
	return rowPaths[source] + "/" + url.PathEscape(rawID), true
}

func (s *Store) MarkAsRead(ctx context.Context, actorID, id string) error {
	path, ok := rowPath(id)
	if !ok {
		return notifications.ErrNotFound
	}
	return s.send(ctx, http.MethodPost, path+"/read", nil, map[string]string{"user_id": actorID})
}

func (s *Store) MarkAllAsRead(ctx context.Context, actorID string, syntheticIDs []string) error {
	if syntheticIDs == nil {
		syntheticIDs = []string{}
	}
	body := map[string]interface{}{
		"user_id":       actorID,
		"synthetic_ids": syntheticIDs,
	}
	return s.send(ctx, http.MethodPost, "/notifications/read-all", nil, body)
}

func (s *Store) Delete(ctx context.Context, actorID, id string) error {
	path, ok := rowPath(id)
	if !ok {
		return notifications.ErrNotFound
	}
	return s.send(ctx, http.MethodDelete, path, url.Values{"user_id": {actorID}}, nil)
}

func (s *Store) SetState(ctx context.Context, actorID, id string, state notifications.State) error {
	body := map[string]interface{}{
		"user_id":      actorID,
		"is_read":      state.Read,
		"is_dismissed": state.Dismissed,
	}
	return s.send(ctx, http.MethodPut, "/notification-states/"+url.PathEscape(id), nil, body)
}

func (s *Store) CreateSnooze(ctx context.Context, sn notifications.Snooze) error {
	body := map[string]interface{}{
		"id":                 sn.ID,
		"notification_type":  sn.NotificationType.String(),
		"related_account_id": sn.RelatedAccountID,
		"snoozed_until":      sn.SnoozedUntil.UTC().Format(time.RFC3339Nano),
		"created_by":         sn.CreatedBy,
	}
	return s.send(ctx, http.MethodPost, "/notification-snoozes", nil, body)
}

// ==========================
// Transport
// ==========================

func (s *Store) endpoint(path string, q url.Values) string {
	u := s.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (s *Store) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	return s.do(ctx, http.MethodGet, path, q, nil, out)
}

func (s *Store) send(ctx context.Context, method, path string, q url.Values, body interface{}) error {
	return s.do(ctx, method, path, q, body, nil)
}

func (s *Store) do(ctx context.Context, method, path string, q url.Values, body, out interface{}) error {
	var env envelope
	err := s.client.DoJSON(ctx, method, s.endpoint(path, q), body, &env)
	if err != nil {
		return s.transportError(method, path, err)
	}
	if !env.Success {
		reason := "request rejected"
		if env.Error != nil && env.Error.Message != "" {
			reason = env.Error.Message
		}
		if env.Error != nil && strings.EqualFold(env.Error.Code, "NOT_FOUND") {
			return notifications.ErrNotFound
		}
		return apperrors.NewUpstreamRejectedError(path, reason)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return apperrors.NewMalformedRecordError(path, err.Error())
	}
	return nil
}

func (s *Store) transportError(method, path string, err error) error {
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusNotFound && method != http.MethodGet:
			return notifications.ErrNotFound
		case statusErr.Temporary():
			return apperrors.NewUpstreamUnavailableError(path, err)
		default:
			return apperrors.NewUpstreamRejectedError(path, fmt.Sprintf("status %d", statusErr.StatusCode))
		}
	}
	return apperrors.NewUpstreamUnavailableError(path, err)
}
