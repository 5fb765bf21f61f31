package notifications

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"crm-notifications/internal/common/logger"
)

var testNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

// ==========================
// Fake data source
// ==========================

type fakeStore struct {
	mu sync.Mutex

	atRisk     []AccountRecord
	neglected  []AccountRecord
	duplicates []AccountRecord
	tasks      []Notification
	system     []Notification
	tickets    []Notification
	states     map[string]State
	snoozes    []Snooze
	overdue    []string

	readErrs map[string]error

	markReadErr     error
	markAllErr      error
	deleteErr       error
	stateErr        error
	createSnoozeErr error

	onDelete func()

	readIDs        []string
	markAllCalls   [][]string
	deletedIDs     []string
	stateWrites    map[string]State
	createdSnoozes []Snooze
	snoozeFetches  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		readErrs:    map[string]error{},
		states:      map[string]State{},
		stateWrites: map[string]State{},
	}
}

func (f *fakeStore) err(source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readErrs[source]
}

func (f *fakeStore) AtRiskAccounts(_ context.Context, _ string) ([]AccountRecord, error) {
	return f.atRisk, f.err(SourceAtRisk)
}

func (f *fakeStore) NeglectedAccounts(_ context.Context, _ string) ([]AccountRecord, error) {
	return f.neglected, f.err(SourceNeglected)
}

func (f *fakeStore) TaskNotifications(_ context.Context, _ string) ([]Notification, error) {
	if err := f.err(SourceTasks); err != nil {
		return nil, err
	}
	return append([]Notification(nil), f.tasks...), nil
}

func (f *fakeStore) SystemNotifications(_ context.Context, _ string) ([]Notification, error) {
	if err := f.err(SourceSystem); err != nil {
		return nil, err
	}
	return append([]Notification(nil), f.system...), nil
}

func (f *fakeStore) TicketNotifications(_ context.Context, _ string) ([]Notification, error) {
	if err := f.err(SourceTickets); err != nil {
		return nil, err
	}
	return append([]Notification(nil), f.tickets...), nil
}

func (f *fakeStore) DuplicateEstimates(_ context.Context, _ string) ([]AccountRecord, error) {
	return f.duplicates, f.err(SourceDuplicates)
}

func (f *fakeStore) NotificationStates(_ context.Context, _ string) (map[string]State, error) {
	if err := f.err(SourceStates); err != nil {
		return nil, err
	}
	return f.states, nil
}

func (f *fakeStore) ActiveSnoozes(_ context.Context, _ time.Time) ([]Snooze, error) {
	f.mu.Lock()
	f.snoozeFetches++
	f.mu.Unlock()
	if err := f.err(SourceSnoozes); err != nil {
		return nil, err
	}
	return f.snoozes, nil
}

func (f *fakeStore) OverdueTaskIDs(_ context.Context, _ string, _ time.Time) ([]string, error) {
	if err := f.err(SourceOverdue); err != nil {
		return nil, err
	}
	return f.overdue, nil
}

func (f *fakeStore) MarkAsRead(_ context.Context, _ string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markReadErr != nil {
		return f.markReadErr
	}
	f.readIDs = append(f.readIDs, id)
	return nil
}

func (f *fakeStore) MarkAllAsRead(_ context.Context, _ string, syntheticIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markAllErr != nil {
		return f.markAllErr
	}
	f.markAllCalls = append(f.markAllCalls, syntheticIDs)
	return nil
}

func (f *fakeStore) Delete(_ context.Context, _ string, id string) error {
	if f.onDelete != nil {
		f.onDelete()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedIDs = append(f.deletedIDs, id)
	return nil
}

func (f *fakeStore) SetState(_ context.Context, _ string, id string, st State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return f.stateErr
	}
	f.stateWrites[id] = st
	return nil
}

func (f *fakeStore) CreateSnooze(_ context.Context, s Snooze) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createSnoozeErr != nil {
		return f.createSnoozeErr
	}
	f.createdSnoozes = append(f.createdSnoozes, s)
	return nil
}

// ==========================
// Recording toaster
// ==========================

type recordingToaster struct {
	mu     sync.Mutex
	toasts []Toast
}

func (r *recordingToaster) Toast(_ context.Context, t Toast) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, t)
}

func (r *recordingToaster) all() []Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Toast(nil), r.toasts...)
}

// ==========================
// Wiring
// ==========================

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func newTestService(t *testing.T, store *fakeStore, policy SnoozePolicy) (*Service, *RedisCache, *recordingToaster) {
	t.Helper()
	rdb, _ := setupRedis(t)
	cache := NewRedisCache(rdb, time.Minute, 30*time.Second)
	toaster := &recordingToaster{}
	svc := NewService(store, cache, toaster, Options{
		Policy: policy,
		Years:  FixedYear(2026),
		Clock:  fixedClock,
	}, logger.NewTestLogger(t))
	return svc, cache, toaster
}

func rowNotification(id string, t Type, userID string, created time.Time) Notification {
	return Notification{
		ID:        id,
		Type:      t,
		Title:     id,
		UserID:    strPtr(userID),
		CreatedAt: created,
	}
}

func bulkNotification(id string, t Type, accountID *string, read bool, created time.Time) Notification {
	return Notification{
		ID:               id,
		Type:             t,
		RelatedAccountID: accountID,
		IsRead:           read,
		CreatedAt:        created,
	}
}
