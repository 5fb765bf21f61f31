// internal/workers/notification/notification-digest/models.go
package notificationdigest

type Input struct {
	ActorID string `json:"actorId"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Channel string `json:"channel,omitempty"` // "email", "sms" or "auto"
}

type Output struct {
	DigestID    string `json:"digestId"`
	Status      string `json:"status"`
	Channel     string `json:"channel,omitempty"`
	MessageID   string `json:"messageId,omitempty"`
	UnreadCount int    `json:"unreadCount"`
	SentAt      string `json:"sentAt"` // ISO 8601
}

// Channels
const (
	ChannelAuto  = "auto"
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// Statuses
const (
	StatusSent     = "sent"
	StatusSkipped  = "skipped"  // nothing unread
	StatusDisabled = "disabled" // no usable channel for the recipient
)
