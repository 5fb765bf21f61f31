package notifications

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// FlexString decodes a JSON string or number into a string. Row ids arrive
// as numbers from some tables and as uuids from others.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// Record is the wire shape of a notification row as returned by the
// upstream API and carried in realtime events.
type Record struct {
	ID               FlexString  `json:"id"`
	Type             string      `json:"type"`
	Title            *string     `json:"title"`
	Message          *string     `json:"message"`
	UserID           *FlexString `json:"user_id"`
	RelatedAccountID *FlexString `json:"related_account_id"`
	RelatedTaskID    *FlexString `json:"related_task_id"`
	RelatedTicketID  *FlexString `json:"related_ticket_id"`
	IsRead           *bool       `json:"is_read"`
	CreatedAt        *string     `json:"created_at"`
	ScheduledFor     *string     `json:"scheduled_for"`
}

// Notification maps the record. source is recorded on the result.
func (r Record) Notification(source string) Notification {
	n := Notification{
		ID:               strings.TrimSpace(string(r.ID)),
		Type:             ParseType(r.Type),
		Title:            deref(r.Title),
		Message:          deref(r.Message),
		UserID:           flexPtr(r.UserID),
		RelatedAccountID: flexPtr(r.RelatedAccountID),
		RelatedTaskID:    flexPtr(r.RelatedTaskID),
		RelatedTicketID:  flexPtr(r.RelatedTicketID),
		Source:           source,
	}
	if r.IsRead != nil {
		n.IsRead = *r.IsRead
	}
	if t, ok := ParseTime(deref(r.CreatedAt)); ok {
		n.CreatedAt = t
	}
	if t, ok := ParseTime(deref(r.ScheduledFor)); ok {
		n.ScheduledFor = &t
	}
	return n
}

// SnoozeRecord is the wire shape of a notification_snoozes row.
type SnoozeRecord struct {
	ID               FlexString  `json:"id"`
	NotificationType string      `json:"notification_type"`
	RelatedAccountID *FlexString `json:"related_account_id"`
	SnoozedUntil     *string     `json:"snoozed_until"`
	CreatedBy        *FlexString `json:"created_by"`
}

// Snooze maps the record. An unparseable snoozed_until leaves a zero time,
// which never matches.
func (r SnoozeRecord) Snooze() Snooze {
	s := Snooze{
		ID:               string(r.ID),
		NotificationType: ParseType(r.NotificationType),
		RelatedAccountID: flexPtr(r.RelatedAccountID),
	}
	if r.CreatedBy != nil {
		s.CreatedBy = string(*r.CreatedBy)
	}
	if t, ok := ParseTime(deref(r.SnoozedUntil)); ok {
		s.SnoozedUntil = t
	}
	return s
}

// AccountRow is the wire shape of the materialised account caches.
type AccountRow struct {
	AccountID     FlexString `json:"account_id"`
	AccountName   *string    `json:"account_name"`
	RenewalDate   *string    `json:"renewal_date"`
	LastContactAt *string    `json:"last_contact_at"`
	EstimateCount *int       `json:"estimate_count"`
	UpdatedAt     *string    `json:"updated_at"`
}

func (r AccountRow) AccountRecord() AccountRecord {
	rec := AccountRecord{
		AccountID:   strings.TrimSpace(string(r.AccountID)),
		AccountName: deref(r.AccountName),
	}
	if t, ok := ParseTime(deref(r.RenewalDate)); ok {
		rec.RenewalDate = &t
	}
	if t, ok := ParseTime(deref(r.LastContactAt)); ok {
		rec.LastContactAt = &t
	}
	if r.EstimateCount != nil {
		rec.EstimateCount = *r.EstimateCount
	}
	if t, ok := ParseTime(deref(r.UpdatedAt)); ok {
		rec.UpdatedAt = t
	}
	return rec
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
}

// ParseTime accepts the timestamp formats Postgres and its REST gateway
// emit. Naive timestamps are UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func flexPtr(p *FlexString) *string {
	if p == nil || *p == "" {
		return nil
	}
	s := string(*p)
	return &s
}
