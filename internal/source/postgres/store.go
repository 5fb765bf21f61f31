// Package postgres reads and writes notification data directly from the CRM
// database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"crm-notifications/internal/common/database"
	apperrors "crm-notifications/internal/common/errors"
	"crm-notifications/internal/notifications"
)

var _ notifications.Store = (*Store)(nil)

// Options tunes the account cache queries.
type Options struct {
	RenewalLookaheadDays int
	NeglectThresholdDays int
	Clock                func() time.Time
}

type Store struct {
	db               *database.PostgresClient
	renewalLookahead time.Duration
	neglectThreshold time.Duration
	clock            func() time.Time
}

func New(db *database.PostgresClient, opts Options) *Store {
	if opts.RenewalLookaheadDays <= 0 {
		opts.RenewalLookaheadDays = 90
	}
	if opts.NeglectThresholdDays <= 0 {
		opts.NeglectThresholdDays = 30
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Store{
		db:               db,
		renewalLookahead: time.Duration(opts.RenewalLookaheadDays) * 24 * time.Hour,
		neglectThreshold: time.Duration(opts.NeglectThresholdDays) * 24 * time.Hour,
		clock:            opts.Clock,
	}
}

// ==========================
// Reader
// ==========================

func (s *Store) AtRiskAccounts(ctx context.Context, actorID string) ([]notifications.AccountRecord, error) {
	return s.accounts(ctx, notifications.SourceAtRisk, selectAtRiskAccounts, actorID, s.clock().Add(s.renewalLookahead))
}

func (s *Store) NeglectedAccounts(ctx context.Context, actorID string) ([]notifications.AccountRecord, error) {
	return s.accounts(ctx, notifications.SourceNeglected, selectNeglectedAccounts, actorID, s.clock().Add(-s.neglectThreshold))
}

func (s *Store) DuplicateEstimates(ctx context.Context, actorID string) ([]notifications.AccountRecord, error) {
	return s.accounts(ctx, notifications.SourceDuplicates, selectDuplicateEstimates, actorID)
}

func (s *Store) TaskNotifications(ctx context.Context, actorID string) ([]notifications.Notification, error) {
	return s.rows(ctx, notifications.SourceTasks, selectTaskNotifications, actorID)
}

func (s *Store) SystemNotifications(ctx context.Context, actorID string) ([]notifications.Notification, error) {
	return s.rows(ctx, notifications.SourceSystem, selectSystemNotifications, actorID)
}

func (s *Store) TicketNotifications(ctx context.Context, actorID string) ([]notifications.Notification, error) {
	return s.rows(ctx, notifications.SourceTickets, selectTicketNotifications, actorID)
}

func (s *Store) NotificationStates(ctx context.Context, actorID string) (map[string]notifications.State, error) {
	rows, err := s.db.Query(ctx, selectNotificationStates, actorID)
	if err != nil {
		return nil, queryError(ctx, notifications.SourceStates, err)
	}
	defer rows.Close()

	states := make(map[string]notifications.State)
	for rows.Next() {
		var id string
		var read, dismissed sql.NullBool
		if err := rows.Scan(&id, &read, &dismissed); err != nil {
			return nil, queryError(ctx, notifications.SourceStates, err)
		}
		states[id] = notifications.State{Read: read.Bool, Dismissed: dismissed.Bool}
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(ctx, notifications.SourceStates, err)
	}
	return states, nil
}

func (s *Store) ActiveSnoozes(ctx context.Context, now time.Time) ([]notifications.Snooze, error) {
	rows, err := s.db.Query(ctx, selectActiveSnoozes, now)
	if err != nil {
		return nil, queryError(ctx, notifications.SourceSnoozes, err)
	}
	defer rows.Close()

	var out []notifications.Snooze
	for rows.Next() {
		var (
			id, kind           string
			account, createdBy sql.NullString
			until              sql.NullTime
		)
		if err := rows.Scan(&id, &kind, &account, &until, &createdBy); err != nil {
			return nil, queryError(ctx, notifications.SourceSnoozes, err)
		}
		out = append(out, notifications.Snooze{
			ID:               id,
			NotificationType: notifications.ParseType(kind),
			RelatedAccountID: nullable(account),
			SnoozedUntil:     until.Time.UTC(),
			CreatedBy:        createdBy.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(ctx, notifications.SourceSnoozes, err)
	}
	return out, nil
}

func (s *Store) OverdueTaskIDs(ctx context.Context, actorID string, now time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx, selectOverdueTaskIDs, actorID, now)
	if err != nil {
		return nil, queryError(ctx, notifications.SourceOverdue, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, queryError(ctx, notifications.SourceOverdue, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) rows(ctx context.Context, source, query, actorID string) ([]notifications.Notification, error) {
	rows, err := s.db.Query(ctx, query, actorID)
	if err != nil {
		return nil, queryError(ctx, source, err)
	}
	defer rows.Close()

	var out []notifications.Notification
	for rows.Next() {
		var (
			id, kind                    string
			title, message, userID      sql.NullString
			accountID, taskID, ticketID sql.NullString
			read                        sql.NullBool
			createdAt, scheduledFor     sql.NullTime
		)
		if err := rows.Scan(&id, &kind, &title, &message, &userID,
			&accountID, &taskID, &ticketID, &read, &createdAt, &scheduledFor); err != nil {
			return nil, queryError(ctx, source, err)
		}

		n := notifications.Notification{
			ID:               strings.TrimSpace(id),
			Type:             notifications.ParseType(kind),
			Title:            title.String,
			Message:          message.String,
			UserID:           nullable(userID),
			RelatedAccountID: nullable(accountID),
			RelatedTaskID:    nullable(taskID),
			RelatedTicketID:  nullable(ticketID),
			IsRead:           read.Bool,
			CreatedAt:        createdAt.Time.UTC(),
			Source:           source,
		}
		if scheduledFor.Valid {
			t := scheduledFor.Time.UTC()
			n.ScheduledFor = &t
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(ctx, source, err)
	}
	return out, nil
}

func (s *Store) accounts(ctx context.Context, source, query string, args ...interface{}) ([]notifications.AccountRecord, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, queryError(ctx, source, err)
	}
	defer rows.Close()

	var out []notifications.AccountRecord
	for rows.Next() {
		var (
			id                        string
			name                      sql.NullString
			renewal, contact, updated sql.NullTime
			estimates                 sql.NullInt64
		)
		if err := rows.Scan(&id, &name, &renewal, &contact, &estimates, &updated); err != nil {
			return nil, queryError(ctx, source, err)
		}
		rec := notifications.AccountRecord{
			AccountID:     id,
			AccountName:   name.String,
			EstimateCount: int(estimates.Int64),
			UpdatedAt:     updated.Time.UTC(),
		}
		if renewal.Valid {
			t := renewal.Time.UTC()
			rec.RenewalDate = &t
		}
		if contact.Valid {
			t := contact.Time.UTC()
			rec.LastContactAt = &t
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(ctx, source, err)
	}
	return out, nil
}

// ==========================
// Writer
// ==========================

// MarkAsRead updates the row in the table named by the RowID.
func (s *Store) MarkAsRead(ctx context.Context, actorID, id string) error {
	return s.affectOne(ctx, markReadQuery, id, actorID)
}

func (s *Store) Delete(ctx context.Context, actorID, id string) error {
	return s.affectOne(ctx, deleteQuery, id, actorID)
}

func (s *Store) MarkAllAsRead(ctx context.Context, actorID string, syntheticIDs []string) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, table := range rowTables {
			if _, err := tx.ExecContext(ctx, markAllReadQuery(table), actorID); err != nil {
				return fmt.Errorf("mark all read in %s: %w", table, err)
			}
		}
		if len(syntheticIDs) == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, markStatesRead, actorID, pq.Array(syntheticIDs)); err != nil {
			return fmt.Errorf("mark states read: %w", err)
		}
		return nil
	})
}

func (s *Store) SetState(ctx context.Context, actorID, id string, state notifications.State) error {
	if _, err := s.db.Exec(ctx, upsertNotificationState, actorID, id, state.Read, state.Dismissed); err != nil {
		return fmt.Errorf("upsert state %s: %w", id, err)
	}
	return nil
}

func (s *Store) CreateSnooze(ctx context.Context, sn notifications.Snooze) error {
	var account interface{}
	if sn.RelatedAccountID != nil {
		account = *sn.RelatedAccountID
	}
	_, err := s.db.Exec(ctx, insertSnooze, sn.ID, sn.NotificationType.String(), account, sn.SnoozedUntil, sn.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert snooze: %w", err)
	}
	return nil
}

// affectOne runs the statement against the single table id names and
// reports ErrNotFound when no row matched or id is not a RowID.
func (s *Store) affectOne(ctx context.Context, stmt func(table string) string, id, actorID string) error {
	table, rawID, ok := notifications.SplitRowID(id)
	if !ok {
		return notifications.ErrNotFound
	}
	res, err := s.db.Exec(ctx, stmt(table), rawID, actorID)
	if err != nil {
		return fmt.Errorf("%s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", table, err)
	}
	if n == 0 {
		return notifications.ErrNotFound
	}
	return nil
}

func queryError(ctx context.Context, source string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.NewQueryTimeoutError(source)
	}
	return apperrors.NewNotificationFetchFailedError(source, err)
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := strings.TrimSpace(ns.String)
	if v == "" {
		return nil
	}
	return &v
}
