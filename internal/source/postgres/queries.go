package postgres

import "crm-notifications/internal/notifications"

// Row notification tables share one column list so a single scanner can
// read all three.
const (
	selectTaskNotifications = `
		SELECT id::text, type, title, message, user_id::text,
		       related_account_id::text, related_task_id::text, NULL::text,
		       is_read, created_at, scheduled_for
		FROM task_notifications
		WHERE user_id::text = $1
		ORDER BY created_at DESC`

	selectSystemNotifications = `
		SELECT id::text, type, title, message, user_id::text,
		       related_account_id::text, NULL::text, NULL::text,
		       is_read, created_at, NULL::timestamptz
		FROM notifications
		WHERE user_id::text = $1
		ORDER BY created_at DESC`

	selectTicketNotifications = `
		SELECT id::text, type, title, message, user_id::text,
		       NULL::text, NULL::text, related_ticket_id::text,
		       is_read, created_at, NULL::timestamptz
		FROM ticket_notifications
		WHERE user_id::text = $1
		ORDER BY created_at DESC`

	selectAtRiskAccounts = `
		SELECT account_id::text, account_name, renewal_date, NULL::timestamptz, 0, updated_at
		FROM at_risk_accounts
		WHERE user_id::text = $1
		  AND (renewal_date IS NULL OR renewal_date <= $2)
		ORDER BY renewal_date ASC NULLS LAST`

	selectNeglectedAccounts = `
		SELECT account_id::text, account_name, NULL::timestamptz, last_contact_at, 0, updated_at
		FROM neglected_accounts
		WHERE user_id::text = $1
		  AND (last_contact_at IS NULL OR last_contact_at <= $2)
		ORDER BY last_contact_at ASC NULLS FIRST`

	selectDuplicateEstimates = `
		SELECT account_id::text, account_name, NULL::timestamptz, NULL::timestamptz, estimate_count, detected_at
		FROM duplicate_estimate_detections
		WHERE user_id::text = $1
		ORDER BY detected_at DESC`

	selectNotificationStates = `
		SELECT notification_id, is_read, is_dismissed
		FROM user_notification_states
		WHERE user_id::text = $1`

	selectActiveSnoozes = `
		SELECT id::text, notification_type, related_account_id::text, snoozed_until, created_by::text
		FROM notification_snoozes
		WHERE snoozed_until > $1`

	selectOverdueTaskIDs = `
		SELECT id::text
		FROM tasks
		WHERE assigned_to::text = $1
		  AND due_date < $2
		  AND status NOT IN ('completed', 'cancelled')`

	upsertNotificationState = `
		INSERT INTO user_notification_states (user_id, notification_id, is_read, is_dismissed, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id, notification_id)
		DO UPDATE SET is_read = EXCLUDED.is_read, is_dismissed = EXCLUDED.is_dismissed, updated_at = now()`

	markStatesRead = `
		INSERT INTO user_notification_states (user_id, notification_id, is_read, is_dismissed, updated_at)
		SELECT $1, ids.id, true, false, now() FROM unnest($2::text[]) AS ids(id)
		ON CONFLICT (user_id, notification_id)
		DO UPDATE SET is_read = true, updated_at = now()`

	insertSnooze = `
		INSERT INTO notification_snoozes (id, notification_type, related_account_id, snoozed_until, created_by)
		VALUES ($1, $2, $3, $4, $5)`
)

// rowTables are the tables holding per-user notification rows. Statements
// built from a table name only ever see these values.
var rowTables = []string{
	notifications.SourceTasks,
	notifications.SourceSystem,
	notifications.SourceTickets,
}

func markReadQuery(table string) string {
	return `UPDATE ` + table + ` SET is_read = true WHERE id::text = $1 AND user_id::text = $2`
}

func markAllReadQuery(table string) string {
	return `UPDATE ` + table + ` SET is_read = true WHERE user_id::text = $1 AND is_read = false`
}

func deleteQuery(table string) string {
	return `DELETE FROM ` + table + ` WHERE id::text = $1 AND user_id::text = $2`
}
