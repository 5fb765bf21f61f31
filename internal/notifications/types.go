// Package notifications builds the notification bell for a CRM user: it
// aggregates records from every source, filters them for the actor, groups
// them by kind and orders the groups by priority. Mutations (mark read,
// delete, snooze) run through a single coordinator that owns the view cache.
package notifications

import (
	"fmt"
	"strings"
	"time"
)

// Type is the closed set of notification kinds. Unrecognised upstream
// strings parse to TypeUnknown.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeTaskAssigned
	TypeTaskOverdue
	TypeTaskDueToday
	TypeTaskReminder
	TypeRenewalReminder
	TypeNeglectedAccount
	TypeBugReport
	TypeTicketOpened
	TypeTicketComment
	TypeTicketStatusChange
	TypeTicketAssigned
	TypeTicketArchived
	TypeEndOfYearAnalysis
	TypeDuplicateAtRiskEstimates

	numTypes
)

type typeInfo struct {
	name     string
	label    string
	priority float64
	// bulk kinds are materialised per user upstream and carry no user_id.
	bulk bool
	// snoozeable kinds are subject to snooze matching.
	snoozeable bool
	// uniqueAccounts kinds count distinct related accounts, not rows.
	uniqueAccounts bool
}

var typeTable = [...]typeInfo{
	TypeUnknown:                  {name: "unknown", label: "Other", priority: 99, snoozeable: true},
	TypeTaskAssigned:             {name: "task_assigned", label: "Assigned tasks", priority: 4},
	TypeTaskOverdue:              {name: "task_overdue", label: "Overdue tasks", priority: 3},
	TypeTaskDueToday:             {name: "task_due_today", label: "Due today", priority: 5},
	TypeTaskReminder:             {name: "task_reminder", label: "Task reminders", priority: 6},
	TypeRenewalReminder:          {name: "renewal_reminder", label: "Upcoming renewals", priority: 1, bulk: true, snoozeable: true, uniqueAccounts: true},
	TypeNeglectedAccount:         {name: "neglected_account", label: "Neglected accounts", priority: 2, bulk: true, snoozeable: true, uniqueAccounts: true},
	TypeBugReport:                {name: "bug_report", label: "Bug reports", priority: 2.5},
	TypeTicketOpened:             {name: "ticket_opened", label: "New tickets", priority: 2.5, snoozeable: true},
	TypeTicketComment:            {name: "ticket_comment", label: "Ticket comments", priority: 3.5, snoozeable: true},
	TypeTicketStatusChange:       {name: "ticket_status_change", label: "Ticket status changes", priority: 3.5, snoozeable: true},
	TypeTicketAssigned:           {name: "ticket_assigned", label: "Assigned tickets", priority: 3.5, snoozeable: true},
	TypeTicketArchived:           {name: "ticket_archived", label: "Archived tickets", priority: 3.5, snoozeable: true},
	TypeEndOfYearAnalysis:        {name: "end_of_year_analysis", label: "End of year analysis", priority: 7, snoozeable: true},
	TypeDuplicateAtRiskEstimates: {name: "duplicate_at_risk_estimates", label: "Duplicate estimates", priority: 99, bulk: true, snoozeable: true},
}

// Fails to compile when a Type constant is added without a table row.
var _ [numTypes]typeInfo = typeTable

var typesByName = func() map[string]Type {
	m := make(map[string]Type, numTypes)
	for i := range typeTable {
		m[typeTable[i].name] = Type(i)
	}
	return m
}()

// ParseType maps an upstream type string to a Type. Matching ignores case
// and surrounding whitespace.
func ParseType(s string) Type {
	if t, ok := typesByName[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t
	}
	return TypeUnknown
}

// AllTypes returns every known kind except TypeUnknown, in declaration order.
func AllTypes() []Type {
	out := make([]Type, 0, numTypes-1)
	for t := TypeUnknown + 1; t < numTypes; t++ {
		out = append(out, t)
	}
	return out
}

func (t Type) info() typeInfo {
	if t >= numTypes {
		return typeTable[TypeUnknown]
	}
	return typeTable[t]
}

func (t Type) String() string { return t.info().name }

// Label is the human readable group heading.
func (t Type) Label() string { return t.info().label }

// Priority orders groups; lower sorts first.
func (t Type) Priority() float64 { return t.info().priority }

// Bulk reports whether the kind is materialised per user upstream.
func (t Type) Bulk() bool { return t.info().bulk }

// Snoozeable reports whether snoozes apply. task_* and bug_report are always
// shown.
func (t Type) Snoozeable() bool { return t.info().snoozeable }

// CountsUniqueAccounts reports whether group counts are distinct accounts.
func (t Type) CountsUniqueAccounts() bool { return t.info().uniqueAccounts }

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	*t = ParseType(string(b))
	return nil
}

// Synthetic id prefixes for notifications built from materialised account
// caches. The id is stable across fetches.
const (
	prefixAtRisk    = "at_risk_"
	prefixNeglected = "neglected_"
	prefixDuplicate = "duplicate_"
)

// SyntheticID returns the deterministic id for a bulk notification about
// accountID, or "" if t is not a synthesised kind.
func SyntheticID(t Type, accountID string) string {
	switch t {
	case TypeRenewalReminder:
		return prefixAtRisk + accountID
	case TypeNeglectedAccount:
		return prefixNeglected + accountID
	case TypeDuplicateAtRiskEstimates:
		return prefixDuplicate + accountID
	}
	return ""
}

// IsSynthetic reports whether id was produced by SyntheticID. Such ids have
// no row of their own; their read and dismissed state lives in the per-user
// notification state store.
func IsSynthetic(id string) bool {
	return strings.HasPrefix(id, prefixAtRisk) ||
		strings.HasPrefix(id, prefixNeglected) ||
		strings.HasPrefix(id, prefixDuplicate)
}

// Notification is the normalised shape every source maps into.
type Notification struct {
	ID               string     `json:"id"`
	Type             Type       `json:"type"`
	Title            string     `json:"title"`
	Message          string     `json:"message"`
	UserID           *string    `json:"user_id,omitempty"`
	RelatedAccountID *string    `json:"related_account_id,omitempty"`
	RelatedTaskID    *string    `json:"related_task_id,omitempty"`
	RelatedTicketID  *string    `json:"related_ticket_id,omitempty"`
	IsRead           bool       `json:"is_read"`
	CreatedAt        time.Time  `json:"created_at"`
	ScheduledFor     *time.Time `json:"scheduled_for,omitempty"`
	Source           string     `json:"source,omitempty"`
}

// DisplayTime is scheduled_for when set, else created_at.
func (n Notification) DisplayTime() time.Time {
	if n.ScheduledFor != nil && !n.ScheduledFor.IsZero() {
		return *n.ScheduledFor
	}
	return n.CreatedAt
}

// RowScoped reports whether the notification is addressed via user_id.
func (n Notification) RowScoped() bool {
	return n.UserID != nil
}

// AccountKey returns the related account id, treating nil, blank and the
// literal "null" as absent.
func (n Notification) AccountKey() (string, bool) {
	return normalizeAccount(n.RelatedAccountID)
}

func normalizeAccount(p *string) (string, bool) {
	if p == nil {
		return "", false
	}
	v := strings.TrimSpace(*p)
	if v == "" || strings.EqualFold(v, "null") {
		return "", false
	}
	return v, true
}

// Snooze suppresses a (type, account) pair for every actor until
// SnoozedUntil. A nil RelatedAccountID is a universal snooze.
type Snooze struct {
	ID               string    `json:"id,omitempty"`
	NotificationType Type      `json:"notification_type"`
	RelatedAccountID *string   `json:"related_account_id"`
	SnoozedUntil     time.Time `json:"snoozed_until"`
	CreatedBy        string    `json:"created_by,omitempty"`
}

// Universal reports whether the snooze has no account.
func (s Snooze) Universal() bool {
	_, ok := normalizeAccount(s.RelatedAccountID)
	return !ok
}

// ActiveAt reports whether the snooze is still in force. A zero SnoozedUntil
// means the upstream value did not parse; it never matches.
func (s Snooze) ActiveAt(now time.Time) bool {
	return !s.SnoozedUntil.IsZero() && s.SnoozedUntil.After(now)
}

// AccountRecord is a row of one of the materialised account caches
// (at-risk, neglected, duplicate estimates).
type AccountRecord struct {
	AccountID     string     `json:"account_id"`
	AccountName   string     `json:"account_name"`
	RenewalDate   *time.Time `json:"renewal_date,omitempty"`
	LastContactAt *time.Time `json:"last_contact_at,omitempty"`
	EstimateCount int        `json:"estimate_count,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// State is the per-user read/dismissed flag for a synthesised notification.
type State struct {
	Read      bool `json:"is_read"`
	Dismissed bool `json:"is_dismissed"`
}

// Group is one bucket of the bell view.
type Group struct {
	Type          Type           `json:"type"`
	Label         string         `json:"label"`
	Notifications []Notification `json:"notifications"`
	Count         int            `json:"count"`
	UnreadCount   int            `json:"unread_count"`
}

// LatestAt is the most recent display time in the group.
func (g Group) LatestAt() time.Time {
	var latest time.Time
	for _, n := range g.Notifications {
		if t := n.DisplayTime(); t.After(latest) {
			latest = t
		}
	}
	return latest
}

func (g Group) String() string {
	return fmt.Sprintf("%s(count=%d unread=%d)", g.Type, g.Count, g.UnreadCount)
}
