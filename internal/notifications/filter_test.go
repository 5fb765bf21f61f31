package notifications

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ids(ns []Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}

// ==========================
// Ownership
// ==========================

func TestFilter_OwnershipProperty(t *testing.T) {
	ns := []Notification{
		rowNotification("mine", TypeTaskAssigned, "user-1", testNow),
		rowNotification("mine-padded", TypeTicketOpened, "  USER-1 ", testNow),
		rowNotification("theirs", TypeTaskOverdue, "user-2", testNow),
		rowNotification("blank", TypeBugReport, "", testNow),
		bulkNotification("neglected_a", TypeNeglectedAccount, strPtr("a"), false, testNow),
	}

	got := Filter(ns, "user-1", nil, nil, testNow, SnoozeStrict)
	assert.Equal(t, []string{"mine", "mine-padded", "neglected_a"}, ids(got))

	for _, n := range got {
		if n.RowScoped() {
			assert.True(t, SameActor(*n.UserID, "user-1"))
		}
	}
}

func TestFilter_EmptyActorSeesNoRows(t *testing.T) {
	ns := []Notification{rowNotification("r", TypeTaskAssigned, "", testNow)}
	assert.Empty(t, Filter(ns, "  ", nil, nil, testNow, SnoozeStrict))
}

// ==========================
// Renewal and overdue rules
// ==========================

func TestFilter_RenewalWithoutAccountDropped(t *testing.T) {
	ns := []Notification{
		bulkNotification("r-nil", TypeRenewalReminder, nil, false, testNow),
		bulkNotification("r-null", TypeRenewalReminder, strPtr("null"), false, testNow),
		bulkNotification("r-ok", TypeRenewalReminder, strPtr("acct-1"), false, testNow),
		bulkNotification("n-nil", TypeNeglectedAccount, nil, false, testNow),
	}
	got := Filter(ns, "user-1", nil, nil, testNow, SnoozeStrict)
	assert.Equal(t, []string{"r-ok", "n-nil"}, ids(got))
}

func TestFilter_OverdueSupersedesAssigned(t *testing.T) {
	assigned := rowNotification("a-1", TypeTaskAssigned, "user-1", testNow)
	assigned.RelatedTaskID = strPtr("t1")
	overdue := rowNotification("o-1", TypeTaskOverdue, "user-1", testNow)
	overdue.RelatedTaskID = strPtr("t1")
	other := rowNotification("a-2", TypeTaskAssigned, "user-1", testNow)
	other.RelatedTaskID = strPtr("t2")

	got := Filter([]Notification{assigned, overdue, other}, "user-1", nil, []string{"t1"}, testNow, SnoozeStrict)
	assert.Equal(t, []string{"o-1", "a-2"}, ids(got))
}

// ==========================
// Snoozes
// ==========================

func TestFilter_SnoozeProperty(t *testing.T) {
	future := testNow.Add(time.Hour)
	snoozes := []Snooze{
		{NotificationType: TypeNeglectedAccount, RelatedAccountID: strPtr("acct-1"), SnoozedUntil: future},
		{NotificationType: TypeTicketComment, RelatedAccountID: nil, SnoozedUntil: future},
	}
	ns := []Notification{
		bulkNotification("neglected_acct-1", TypeNeglectedAccount, strPtr("acct-1"), false, testNow),
		bulkNotification("neglected_acct-2", TypeNeglectedAccount, strPtr("acct-2"), false, testNow),
		rowNotification("comment-no-acct", TypeTicketComment, "user-1", testNow),
	}
	withAcct := rowNotification("comment-acct", TypeTicketComment, "user-1", testNow)
	withAcct.RelatedAccountID = strPtr("acct-9")
	ns = append(ns, withAcct)

	got := Filter(ns, "user-1", snoozes, nil, testNow, SnoozeStrict)
	assert.Equal(t, []string{"neglected_acct-2", "comment-acct"}, ids(got))

	for _, n := range got {
		for _, s := range snoozes {
			assert.False(t, SnoozeStrict.Matches(s, n, testNow))
		}
	}
}

func TestFilter_ExpiredOrInvalidSnoozeNeverMatches(t *testing.T) {
	ns := []Notification{bulkNotification("neglected_a", TypeNeglectedAccount, strPtr("a"), false, testNow)}
	snoozes := []Snooze{
		{NotificationType: TypeNeglectedAccount, RelatedAccountID: strPtr("a"), SnoozedUntil: testNow.Add(-time.Minute)},
		{NotificationType: TypeNeglectedAccount, RelatedAccountID: strPtr("a")},
		{NotificationType: TypeNeglectedAccount, RelatedAccountID: strPtr("a"), SnoozedUntil: testNow},
	}
	assert.Len(t, Filter(ns, "user-1", snoozes, nil, testNow, SnoozeStrict), 1)
}

func TestFilter_TasksAndBugReportsIgnoreSnoozes(t *testing.T) {
	future := testNow.Add(time.Hour)
	snoozes := []Snooze{
		{NotificationType: TypeTaskOverdue, SnoozedUntil: future},
		{NotificationType: TypeBugReport, SnoozedUntil: future},
	}
	ns := []Notification{
		rowNotification("t", TypeTaskOverdue, "user-1", testNow),
		rowNotification("b", TypeBugReport, "user-1", testNow),
	}
	assert.Len(t, Filter(ns, "user-1", snoozes, nil, testNow, SnoozeUniversalMatchesAll), 2)
}

func TestFilter_EmptySnoozeListFailsOpen(t *testing.T) {
	ns := []Notification{
		bulkNotification("neglected_a", TypeNeglectedAccount, strPtr("a"), false, testNow),
		bulkNotification("at_risk_b", TypeRenewalReminder, strPtr("b"), false, testNow),
	}
	assert.Len(t, Filter(ns, "user-1", nil, nil, testNow, SnoozeStrict), 2)
	assert.Len(t, Filter(ns, "user-1", []Snooze{}, nil, testNow, SnoozeUniversalMatchesAll), 2)
}

// A universal snooze under both policies.
func TestFilter_UniversalSnooze(t *testing.T) {
	universal := []Snooze{{NotificationType: TypeNeglectedAccount, RelatedAccountID: nil, SnoozedUntil: testNow.Add(24 * time.Hour)}}
	ns := []Notification{
		bulkNotification("neglected_x", TypeNeglectedAccount, nil, false, testNow),
		bulkNotification("neglected_acct-1", TypeNeglectedAccount, strPtr("acct-1"), false, testNow),
		bulkNotification("neglected_acct-2", TypeNeglectedAccount, strPtr("acct-2"), false, testNow),
	}

	t.Run("strict matches only account-less", func(t *testing.T) {
		got := Filter(ns, "user-1", universal, nil, testNow, SnoozeStrict)
		assert.Equal(t, []string{"neglected_acct-1", "neglected_acct-2"}, ids(got))
	})

	t.Run("universal matches all", func(t *testing.T) {
		got := Filter(ns, "user-1", universal, nil, testNow, SnoozeUniversalMatchesAll)
		assert.Empty(t, got)
	})
}

func TestSnoozePolicy_AccountSnoozeNeverMatchesAccountless(t *testing.T) {
	s := Snooze{NotificationType: TypeNeglectedAccount, RelatedAccountID: strPtr("acct-1"), SnoozedUntil: testNow.Add(time.Hour)}
	n := bulkNotification("neglected_x", TypeNeglectedAccount, nil, false, testNow)
	assert.False(t, SnoozeStrict.Matches(s, n, testNow))
	assert.False(t, SnoozeUniversalMatchesAll.Matches(s, n, testNow))
	assert.Equal(t, "strict", SnoozeStrict.String())
}
