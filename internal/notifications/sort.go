package notifications

import "sort"

// SortGroups orders groups by type priority, then most recent notification,
// then unread count, then count. Equal groups keep their input order.
func SortGroups(groups []Group) {
	latest := make(map[Type]int64, len(groups))
	for _, g := range groups {
		latest[g.Type] = g.LatestAt().UnixNano()
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if pa, pb := a.Type.Priority(), b.Type.Priority(); pa != pb {
			return pa < pb
		}
		if la, lb := latest[a.Type], latest[b.Type]; la != lb {
			return la > lb
		}
		if a.UnreadCount != b.UnreadCount {
			return a.UnreadCount > b.UnreadCount
		}
		return a.Count > b.Count
	})
}

// UnreadTotal is the badge number: the sum of group unread counts.
func UnreadTotal(groups []Group) int {
	total := 0
	for _, g := range groups {
		total += g.UnreadCount
	}
	return total
}
