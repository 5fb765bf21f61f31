package notifications

import (
	"context"
	"strings"
	"time"
)

// Reader is the read side of the data source layer. Implementations return
// records already scoped to actorID where the underlying table is per-user.
type Reader interface {
	AtRiskAccounts(ctx context.Context, actorID string) ([]AccountRecord, error)
	NeglectedAccounts(ctx context.Context, actorID string) ([]AccountRecord, error)
	TaskNotifications(ctx context.Context, actorID string) ([]Notification, error)
	SystemNotifications(ctx context.Context, actorID string) ([]Notification, error)
	TicketNotifications(ctx context.Context, actorID string) ([]Notification, error)
	DuplicateEstimates(ctx context.Context, actorID string) ([]AccountRecord, error)

	// NotificationStates returns the per-user state of synthesised
	// notifications keyed by notification id.
	NotificationStates(ctx context.Context, actorID string) (map[string]State, error)
	ActiveSnoozes(ctx context.Context, now time.Time) ([]Snooze, error)
	OverdueTaskIDs(ctx context.Context, actorID string, now time.Time) ([]string, error)
}

// Writer is the mutation side of the data source layer.
type Writer interface {
	// MarkAsRead marks a row notification owned by actorID as read. id is a
	// RowID; only the table it names is touched. It returns ErrNotFound when
	// no row matched.
	MarkAsRead(ctx context.Context, actorID, id string) error
	// MarkAllAsRead marks every row notification of actorID read and
	// records read state for the given synthesised ids.
	MarkAllAsRead(ctx context.Context, actorID string, syntheticIDs []string) error
	// Delete removes a row notification owned by actorID. id is a RowID. It
	// returns ErrNotFound when no row matched.
	Delete(ctx context.Context, actorID, id string) error
	// SetState upserts the per-user state of a synthesised notification.
	SetState(ctx context.Context, actorID, id string, state State) error
	CreateSnooze(ctx context.Context, s Snooze) error
}

// Store is a complete data source.
type Store interface {
	Reader
	Writer
}

// Source names, used in logs and the source failure metric.
const (
	SourceAtRisk     = "at_risk_accounts"
	SourceNeglected  = "neglected_accounts"
	SourceTasks      = "task_notifications"
	SourceSystem     = "notifications"
	SourceTickets    = "ticket_notifications"
	SourceDuplicates = "duplicate_estimate_detections"
	SourceStates     = "user_notification_states"
	SourceSnoozes    = "notification_snoozes"
	SourceOverdue    = "tasks"
)

// rowSources hold per-user notification rows. Their raw ids are only unique
// within one source.
var rowSources = map[string]bool{
	SourceTasks:   true,
	SourceSystem:  true,
	SourceTickets: true,
}

// IsRowSource reports whether source is one of the row notification tables.
func IsRowSource(source string) bool { return rowSources[source] }

// RowID namespaces a raw row id by its source table, e.g.
// "ticket_notifications:7". Ids already carrying the prefix are returned
// unchanged.
func RowID(source, rawID string) string {
	rawID = strings.TrimSpace(rawID)
	if strings.HasPrefix(rawID, source+":") {
		return rawID
	}
	return source + ":" + rawID
}

// SplitRowID returns the table and raw id of a RowID. ok is false for
// synthesised ids, unknown tables and empty raw ids.
func SplitRowID(id string) (source, rawID string, ok bool) {
	source, rawID, found := strings.Cut(strings.TrimSpace(id), ":")
	if !found || !rowSources[source] || rawID == "" {
		return "", "", false
	}
	return source, rawID, true
}
