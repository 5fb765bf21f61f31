// internal/workers/notification/notification-snooze/models.go
package notificationsnooze

import "crm-notifications/internal/notifications"

// Input carries the actor plus the same snooze fields as the HTTP body.
type Input struct {
	ActorID string `json:"actorId"`
	notifications.SnoozeInput
}

type Output struct {
	Snoozed          bool   `json:"snoozed"`
	NotificationType string `json:"notificationType"`
	RelatedAccountID string `json:"relatedAccountId,omitempty"`
	SnoozedUntil     string `json:"snoozedUntil"` // ISO 8601
}
