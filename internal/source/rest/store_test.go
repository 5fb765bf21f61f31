package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "crm-notifications/internal/common/errors"
	"crm-notifications/internal/common/logger"
	"crm-notifications/internal/notifications"
)

var testNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

type recordedRequest struct {
	Method string
	Path   string
	Query  map[string][]string
	Auth   string
	Body   map[string]interface{}
}

type requestLog struct {
	mu   sync.Mutex
	reqs []recordedRequest
}

func (l *requestLog) all() []recordedRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recordedRequest(nil), l.reqs...)
}

func setupServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Store, *requestLog) {
	t.Helper()
	seen := &requestLog{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Auth:   r.Header.Get("Authorization"),
		}
		if r.Body != nil {
			raw, _ := io.ReadAll(r.Body)
			if len(raw) > 0 {
				_ = json.Unmarshal(raw, &rec.Body)
			}
		}
		seen.mu.Lock()
		seen.reqs = append(seen.reqs, rec)
		seen.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	store := New(Options{
		BaseURL:              server.URL + "/",
		APIKey:               "svc-key",
		Timeout:              time.Second,
		RenewalLookaheadDays: 60,
		NeglectThresholdDays: 30,
		Clock:                func() time.Time { return testNow },
	}, logger.NewTestLogger(t))
	return store, seen
}

func writeData(w http.ResponseWriter, data string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"success":true,"data":`+data+`}`)
}

// ==========================
// Reader
// ==========================

func TestStore_TaskNotifications_DropsMalformed(t *testing.T) {
	store, seen := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeData(w, `[
			{"id": 1, "type": "task_assigned", "user_id": "user-1", "related_task_id": 55, "created_at": "2026-10-17T10:00:00Z"},
			{"type": "task_overdue", "user_id": "user-1"},
			{"id": "", "type": "task_overdue"},
			{"id": "3", "type": "task_reminder", "is_read": "yes"},
			{"id": "4", "type": "task_due_today", "user_id": 9, "is_read": true}
		]`)
	})

	ns, err := store.TaskNotifications(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, ns, 2)

	assert.Equal(t, "1", ns[0].ID)
	assert.Equal(t, "55", *ns[0].RelatedTaskID)
	assert.Equal(t, notifications.SourceTasks, ns[0].Source)
	assert.Equal(t, "4", ns[1].ID)
	assert.Equal(t, "9", *ns[1].UserID)
	assert.True(t, ns[1].IsRead)

	reqs := seen.all()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, "/notifications/tasks", req.Path)
	assert.Equal(t, []string{"user-1"}, req.Query["user_id"])
	assert.Equal(t, "Bearer svc-key", req.Auth)
}

func TestStore_AccountQueries(t *testing.T) {
	store, seen := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeData(w, `[{"account_id": "acct-1", "account_name": "Acme", "renewal_date": "2026-11-30"}, {"account_name": "no id"}]`)
	})
	ctx := context.Background()

	recs, err := store.AtRiskAccounts(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "acct-1", recs[0].AccountID)
	require.NotNil(t, recs[0].RenewalDate)

	_, err = store.NeglectedAccounts(ctx, "user-1")
	require.NoError(t, err)

	reqs := seen.all()
	require.Len(t, reqs, 2)
	assert.Equal(t, []string{"2026-12-16T12:00:00Z"}, reqs[0].Query["renewal_before"])
	assert.Equal(t, "/accounts/neglected", reqs[1].Path)
	assert.Equal(t, []string{"2026-09-17T12:00:00Z"}, reqs[1].Query["contact_before"])
}

func TestStore_StatesSnoozesOverdue(t *testing.T) {
	store, _ := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/notification-states":
			writeData(w, `[{"notification_id": "at_risk_a", "is_read": true}, {"notification_id": "", "is_read": true}]`)
		case "/notification-snoozes":
			writeData(w, `[{"id": 1, "notification_type": "neglected_account", "related_account_id": "a", "snoozed_until": "2026-10-20T00:00:00Z"}, {"notification_type": "ticket_opened"}]`)
		case "/tasks":
			writeData(w, `[{"id": 7}, {"id": "task-8"}]`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	states, err := store.NotificationStates(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]notifications.State{"at_risk_a": {Read: true}}, states)

	ss, err := store.ActiveSnoozes(ctx, testNow)
	require.NoError(t, err)
	require.Len(t, ss, 1)
	assert.Equal(t, notifications.TypeNeglectedAccount, ss[0].NotificationType)

	ids, err := store.OverdueTaskIDs(ctx, "user-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"7", "task-8"}, ids)
}

func TestStore_ReadErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler func(w http.ResponseWriter, r *http.Request)
		code    apperrors.ErrorCode
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			code: apperrors.ErrCodeUpstreamUnavailable,
		},
		{
			name: "forbidden",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
			code: apperrors.ErrCodeUpstreamRejected,
		},
		{
			name: "envelope failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"success":false,"error":{"code":"BAD_QUERY","message":"unknown column"}}`)
			},
			code: apperrors.ErrCodeUpstreamRejected,
		},
		{
			name: "data is not a list",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeData(w, `{"id": 1}`)
			},
			code: apperrors.ErrCodeMalformedRecord,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := setupServer(t, tt.handler)

			_, err := store.SystemNotifications(context.Background(), "user-1")
			stdErr, ok := apperrors.AsStandardError(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.code, stdErr.Code)
		})
	}
}

// ==========================
// Writer
// ==========================

func TestStore_Writes(t *testing.T) {
	store, seen := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeData(w, `null`)
	})
	ctx := context.Background()
	until := testNow.Add(time.Hour)

	require.NoError(t, store.MarkAsRead(ctx, "user-1", "task_notifications:12"))
	require.NoError(t, store.MarkAllAsRead(ctx, "user-1", nil))
	require.NoError(t, store.Delete(ctx, "user-1", "ticket_notifications:12"))
	require.NoError(t, store.SetState(ctx, "user-1", "neglected_a", notifications.State{Read: true, Dismissed: true}))
	require.NoError(t, store.CreateSnooze(ctx, notifications.Snooze{
		ID: "s-1", NotificationType: notifications.TypeNeglectedAccount, SnoozedUntil: until, CreatedBy: "user-1",
	}))

	reqs := seen.all()
	require.Len(t, reqs, 5)

	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "/notifications/tasks/12/read", reqs[0].Path)
	assert.Equal(t, "user-1", reqs[0].Body["user_id"])

	assert.Equal(t, "/notifications/read-all", reqs[1].Path)
	assert.Equal(t, []interface{}{}, reqs[1].Body["synthetic_ids"])

	assert.Equal(t, http.MethodDelete, reqs[2].Method)
	assert.Equal(t, "/notifications/tickets/12", reqs[2].Path)
	assert.Equal(t, []string{"user-1"}, reqs[2].Query["user_id"])

	assert.Equal(t, http.MethodPut, reqs[3].Method)
	assert.Equal(t, "/notification-states/neglected_a", reqs[3].Path)
	assert.Equal(t, true, reqs[3].Body["is_dismissed"])

	assert.Equal(t, "/notification-snoozes", reqs[4].Path)
	assert.Equal(t, "neglected_account", reqs[4].Body["notification_type"])
	assert.Nil(t, reqs[4].Body["related_account_id"])
	assert.Equal(t, "2026-10-17T13:00:00Z", reqs[4].Body["snoozed_until"])
}

func TestStore_WriteNotFound(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		store, _ := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		assert.ErrorIs(t, store.Delete(context.Background(), "user-1", "notifications:99"), notifications.ErrNotFound)
	})

	t.Run("envelope", func(t *testing.T) {
		store, _ := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"success":false,"error":{"code":"not_found","message":"no such notification"}}`)
		})
		assert.ErrorIs(t, store.MarkAsRead(context.Background(), "user-1", "notifications:99"), notifications.ErrNotFound)
	})
}

func TestStore_WriteWithoutRowTable(t *testing.T) {
	store, seen := setupServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeData(w, `null`)
	})

	assert.ErrorIs(t, store.Delete(context.Background(), "user-1", "99"), notifications.ErrNotFound)
	assert.ErrorIs(t, store.MarkAsRead(context.Background(), "user-1", "at_risk_acct-1"), notifications.ErrNotFound)
	assert.Empty(t, seen.all())
}

func TestStore_Unreachable(t *testing.T) {
	store := New(Options{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond}, logger.NewNoOpLogger())

	err := store.CreateSnooze(context.Background(), notifications.Snooze{NotificationType: notifications.TypeTicketOpened})
	stdErr, ok := apperrors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeUpstreamUnavailable, stdErr.Code)
	assert.True(t, stdErr.Retryable)
}
