package validation

// NotificationRecordSchema is the minimum an upstream notification row must
// carry to be mapped. Everything else is optional and tolerated.
var NotificationRecordSchema = MustCompile("notification_record", `{
  "type": "object",
  "required": ["id", "type"],
  "properties": {
    "id":                 {"type": ["string", "integer"], "minLength": 1},
    "type":               {"type": "string", "minLength": 1},
    "title":              {"type": ["string", "null"]},
    "message":            {"type": ["string", "null"]},
    "user_id":            {"type": ["string", "integer", "null"]},
    "related_account_id": {"type": ["string", "integer", "null"]},
    "related_task_id":    {"type": ["string", "integer", "null"]},
    "related_ticket_id":  {"type": ["string", "integer", "null"]},
    "is_read":            {"type": ["boolean", "null"]},
    "created_at":         {"type": ["string", "null"]},
    "scheduled_for":      {"type": ["string", "null"]}
  }
}`)

// AccountRecordSchema covers at-risk, neglected and duplicate-estimate rows.
var AccountRecordSchema = MustCompile("account_record", `{
  "type": "object",
  "required": ["account_id"],
  "properties": {
    "account_id":   {"type": ["string", "integer"], "minLength": 1},
    "account_name": {"type": ["string", "null"]}
  }
}`)

// SnoozeRecordSchema is an upstream notification_snoozes row.
var SnoozeRecordSchema = MustCompile("snooze_record", `{
  "type": "object",
  "required": ["notification_type", "snoozed_until"],
  "properties": {
    "notification_type":  {"type": "string", "minLength": 1},
    "related_account_id": {"type": ["string", "null"]},
    "snoozed_until":      {"type": ["string", "null"]}
  }
}`)

// SnoozeRequestSchema is the body of POST /api/notifications/snooze and the
// variables of a notification-snooze job.
var SnoozeRequestSchema = MustCompile("snooze_request", `{
  "type": "object",
  "required": ["notification_type", "snoozed_until"],
  "properties": {
    "notification_type":  {"type": "string", "minLength": 1},
    "related_account_id": {"type": ["string", "null"]},
    "snoozed_until":      {"type": "string", "format": "date-time"},
    "notification_id":    {"type": ["string", "null"]}
  }
}`)
