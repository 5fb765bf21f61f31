package notifications

import (
	"strings"
	"time"
)

// SnoozePolicy decides how a universal (account-less) snooze matches.
type SnoozePolicy uint8

const (
	// SnoozeStrict requires account equality: a universal snooze matches
	// only notifications without an account, and an account snooze never
	// matches an account-less notification.
	SnoozeStrict SnoozePolicy = iota
	// SnoozeUniversalMatchesAll lets a universal snooze hide every
	// notification of its type regardless of account.
	SnoozeUniversalMatchesAll
)

func (p SnoozePolicy) String() string {
	if p == SnoozeUniversalMatchesAll {
		return "universal_matches_all"
	}
	return "strict"
}

// Matches reports whether s suppresses n at now.
func (p SnoozePolicy) Matches(s Snooze, n Notification, now time.Time) bool {
	if s.NotificationType != n.Type || !s.ActiveAt(now) {
		return false
	}

	snoozeAcct, snoozeHas := normalizeAccount(s.RelatedAccountID)
	if !snoozeHas && p == SnoozeUniversalMatchesAll {
		return true
	}

	notifAcct, notifHas := n.AccountKey()
	if snoozeHas != notifHas {
		return false
	}
	return snoozeAcct == notifAcct
}

// IsSnoozed reports whether any snooze suppresses n. Kinds that are not
// snoozeable are never snoozed.
func IsSnoozed(n Notification, snoozes []Snooze, now time.Time, policy SnoozePolicy) bool {
	if !n.Type.Snoozeable() {
		return false
	}
	for _, s := range snoozes {
		if policy.Matches(s, n, now) {
			return true
		}
	}
	return false
}

// SameActor compares user ids ignoring surrounding whitespace and case.
func SameActor(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

// Filter returns the notifications visible to actorID. Rules run in order
// and the first failing rule drops the notification:
//
//  1. row-scoped notifications must belong to the actor
//  2. renewal reminders need an account
//  3. task_assigned is superseded once its task is overdue
//  4. task_* and bug_report skip snooze matching
//  5. anything matched by an active snooze is dropped
//
// An empty snooze list hides nothing.
func Filter(ns []Notification, actorID string, snoozes []Snooze, overdueTaskIDs []string, now time.Time, policy SnoozePolicy) []Notification {
	overdue := make(map[string]struct{}, len(overdueTaskIDs))
	for _, id := range overdueTaskIDs {
		overdue[strings.TrimSpace(id)] = struct{}{}
	}

	out := make([]Notification, 0, len(ns))
	for _, n := range ns {
		if n.RowScoped() && !SameActor(*n.UserID, actorID) {
			continue
		}

		if n.Type == TypeRenewalReminder {
			if _, ok := n.AccountKey(); !ok {
				continue
			}
		}

		if n.Type == TypeTaskAssigned && n.RelatedTaskID != nil {
			if _, ok := overdue[strings.TrimSpace(*n.RelatedTaskID)]; ok {
				continue
			}
		}

		if IsSnoozed(n, snoozes, now, policy) {
			continue
		}

		out = append(out, n)
	}
	return out
}
