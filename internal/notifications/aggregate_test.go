package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-notifications/internal/common/logger"
)

func newTestAggregator(t *testing.T, store *fakeStore) *Aggregator {
	return NewAggregator(store, FixedYear(2026), fixedClock, logger.NewTestLogger(t))
}

func byID(ns []Notification) map[string]Notification {
	m := make(map[string]Notification, len(ns))
	for _, n := range ns {
		m[n.ID] = n
	}
	return m
}

// ==========================
// Source order and shape
// ==========================

func TestAggregate_SourceOrderAndSynthesis(t *testing.T) {
	store := newFakeStore()
	store.atRisk = []AccountRecord{
		{AccountID: "acct-1", AccountName: "Acme", RenewalDate: timePtr(time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)), UpdatedAt: testNow},
		{AccountID: "  ", AccountName: "broken"},
	}
	store.neglected = []AccountRecord{
		{AccountID: "acct-2", LastContactAt: timePtr(testNow.Add(-40 * 24 * time.Hour)), UpdatedAt: testNow},
	}
	store.tasks = []Notification{rowNotification("t-1", TypeTaskAssigned, "user-1", testNow)}
	store.system = []Notification{
		{ID: "s-1", Type: TypeEndOfYearAnalysis, UserID: strPtr("user-1"), CreatedAt: testNow},
		{ID: "", Type: TypeBugReport, UserID: strPtr("user-1")},
	}
	store.tickets = []Notification{rowNotification("k-1", TypeTicketComment, "user-1", testNow)}
	store.duplicates = []AccountRecord{{AccountID: "acct-3", EstimateCount: 4}}

	got := newTestAggregator(t, store).Aggregate(context.Background(), "user-1")

	assert.Equal(t, []string{
		"at_risk_acct-1",
		"neglected_acct-2",
		"task_notifications:t-1",
		"notifications:s-1",
		"ticket_notifications:k-1",
		"duplicate_acct-3",
	}, ids(got))

	m := byID(got)
	assert.Equal(t, "Acme renews on Dec 1, 2026", m["at_risk_acct-1"].Message)
	assert.Equal(t, "acct-1", *m["at_risk_acct-1"].RelatedAccountID)
	assert.Nil(t, m["at_risk_acct-1"].UserID)
	assert.Equal(t, SourceAtRisk, m["at_risk_acct-1"].Source)

	assert.Equal(t, "No contact with Account acct-2 in 40 days", m["neglected_acct-2"].Message)
	assert.Equal(t, "2026 end of year analysis", m["notifications:s-1"].Title)
	assert.Equal(t, "Account acct-3 has 4 overlapping at-risk estimates", m["duplicate_acct-3"].Message)
	assert.Equal(t, SourceTickets, m["ticket_notifications:k-1"].Source)
}

func TestAggregate_SameRawIDInTwoSourcesKeepsBoth(t *testing.T) {
	store := newFakeStore()
	store.tasks = []Notification{rowNotification("7", TypeTaskOverdue, "user-1", testNow)}
	store.tickets = []Notification{rowNotification("7", TypeTicketComment, "user-1", testNow)}

	got := newTestAggregator(t, store).Aggregate(context.Background(), "user-1")

	require.Len(t, got, 2)
	assert.Equal(t, []string{"task_notifications:7", "ticket_notifications:7"}, ids(got))

	groups := BuildView(got, "user-1", nil, nil, testNow, SnoozeStrict)
	require.Len(t, groups, 2)
	assert.Equal(t, TypeTaskOverdue, groups[0].Type)
	assert.Equal(t, TypeTicketComment, groups[1].Type)
}

func TestAggregate_RepeatedIDWithinSourceKeepsFirst(t *testing.T) {
	store := newFakeStore()
	store.system = []Notification{
		rowNotification("42", TypeBugReport, "user-1", testNow),
		rowNotification(" 42 ", TypeEndOfYearAnalysis, "user-1", testNow),
	}

	got := newTestAggregator(t, store).Aggregate(context.Background(), "user-1")

	require.Len(t, got, 1)
	assert.Equal(t, "notifications:42", got[0].ID)
	assert.Equal(t, TypeBugReport, got[0].Type)
}

func TestAggregate_IsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.tasks = []Notification{rowNotification("7", TypeTaskAssigned, "user-1", testNow)}
	store.atRisk = []AccountRecord{{AccountID: "acct-1"}}
	agg := newTestAggregator(t, store)

	first := agg.Aggregate(context.Background(), "user-1")
	second := agg.Aggregate(context.Background(), "user-1")

	assert.Equal(t, ids(first), ids(second))
}

func TestAggregate_KeepsExistingTitle(t *testing.T) {
	store := newFakeStore()
	store.system = []Notification{{ID: "s-1", Type: TypeEndOfYearAnalysis, Title: "FY review", UserID: strPtr("u")}}

	got := newTestAggregator(t, store).Aggregate(context.Background(), "u")

	require.Len(t, got, 1)
	assert.Equal(t, "FY review", got[0].Title)
}

// ==========================
// Per-user state of synthetic ids
// ==========================

func TestAggregate_AppliesSyntheticState(t *testing.T) {
	store := newFakeStore()
	store.atRisk = []AccountRecord{{AccountID: "acct-1"}, {AccountID: "acct-2"}, {AccountID: "acct-3"}}
	store.states = map[string]State{
		"at_risk_acct-1": {Read: true},
		"at_risk_acct-2": {Read: true, Dismissed: true},
	}

	got := newTestAggregator(t, store).Aggregate(context.Background(), "user-1")

	assert.Equal(t, []string{"at_risk_acct-1", "at_risk_acct-3"}, ids(got))
	assert.True(t, got[0].IsRead)
	assert.False(t, got[1].IsRead)
}

// ==========================
// Degradation
// ==========================

func TestAggregate_FailingSourceDegradesToEmpty(t *testing.T) {
	store := newFakeStore()
	store.tasks = []Notification{rowNotification("t-1", TypeTaskAssigned, "user-1", testNow)}
	store.tickets = []Notification{rowNotification("k-1", TypeTicketOpened, "user-1", testNow)}
	store.readErrs[SourceTasks] = errors.New("connection reset")

	got := newTestAggregator(t, store).Aggregate(context.Background(), "user-1")

	assert.Equal(t, []string{"ticket_notifications:k-1"}, ids(got))
}

func TestAggregate_StateFailureLeavesSyntheticUnread(t *testing.T) {
	store := newFakeStore()
	store.neglected = []AccountRecord{{AccountID: "acct-1"}}
	store.states = map[string]State{"neglected_acct-1": {Read: true}}
	store.readErrs[SourceStates] = errors.New("timeout")

	got := newTestAggregator(t, store).Aggregate(context.Background(), "user-1")

	require.Len(t, got, 1)
	assert.False(t, got[0].IsRead)
}

func TestAggregate_AllSourcesFailing(t *testing.T) {
	store := newFakeStore()
	for _, src := range []string{SourceAtRisk, SourceNeglected, SourceTasks, SourceSystem, SourceTickets, SourceDuplicates, SourceStates} {
		store.readErrs[src] = errors.New("down")
	}

	got := newTestAggregator(t, store).Aggregate(context.Background(), "user-1")

	assert.Empty(t, got)
}

func TestFixedYear(t *testing.T) {
	assert.Equal(t, 2031, FixedYear(2031).EffectiveYear(testNow))
	assert.Equal(t, 2026, FixedYear(0).EffectiveYear(testNow))
}
