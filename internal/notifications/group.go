package notifications

import (
	"sort"
	"time"
)

// tieWindow is how close two display times must be for unread to win.
const tieWindow = time.Second

// GroupByType buckets visible notifications by kind. Buckets appear in order
// of first occurrence; SortGroups puts them in display order.
func GroupByType(visible []Notification, snoozes []Snooze, now time.Time, policy SnoozePolicy) []Group {
	index := make(map[Type]int)
	var groups []Group

	for _, n := range visible {
		i, ok := index[n.Type]
		if !ok {
			i = len(groups)
			index[n.Type] = i
			groups = append(groups, Group{Type: n.Type, Label: n.Type.Label()})
		}
		groups[i].Notifications = append(groups[i].Notifications, n)
	}

	for i := range groups {
		sortWithinGroup(groups[i].Notifications)
		groups[i].Count, groups[i].UnreadCount = countGroup(groups[i], snoozes, now, policy)
	}
	return groups
}

// sortWithinGroup orders newest first; display times less than a second
// apart put unread first.
func sortWithinGroup(ns []Notification) {
	sort.SliceStable(ns, func(i, j int) bool {
		a, b := ns[i], ns[j]
		ta, tb := a.DisplayTime(), b.DisplayTime()

		diff := ta.Sub(tb)
		if diff < 0 {
			diff = -diff
		}
		if diff < tieWindow && a.IsRead != b.IsRead {
			return !a.IsRead
		}
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return a.ID < b.ID
	})
}

func countGroup(g Group, snoozes []Snooze, now time.Time, policy SnoozePolicy) (count, unread int) {
	if !g.Type.CountsUniqueAccounts() {
		for _, n := range g.Notifications {
			count++
			if !n.IsRead {
				unread++
			}
		}
		return count, unread
	}

	accounts := make(map[string]struct{})
	unreadAccounts := make(map[string]struct{})
	for _, n := range g.Notifications {
		acct, ok := n.AccountKey()
		if !ok || IsSnoozed(n, snoozes, now, policy) {
			continue
		}
		accounts[acct] = struct{}{}
		if !n.IsRead {
			unreadAccounts[acct] = struct{}{}
		}
	}

	count, unread = len(accounts), len(unreadAccounts)
	if unread > count {
		unread = count
	}
	return count, unread
}
