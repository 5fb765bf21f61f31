package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "crm-notifications/internal/common/errors"
	"crm-notifications/internal/common/logger"
	"crm-notifications/internal/common/metrics"
)

// Mutation operation names, used in toasts, logs and metrics.
const (
	OpMarkRead    = "mark_read"
	OpMarkAllRead = "mark_all_read"
	OpDelete      = "delete"
	OpSnooze      = "snooze"
)

// Command is one mutation. Forward performs it against the data source.
// Optimistic, when set, is applied to the cached aggregate before Forward;
// the coordinator keeps the prior aggregate as the snapshot and restores it
// if Forward fails.
type Command struct {
	Op         string
	ActorID    string
	Forward    func(ctx context.Context) error
	Optimistic func([]Notification) []Notification
	// Snoozes marks a command that changes the global snooze list.
	Snoozes bool
	// FailureMessage is shown to the actor when Forward fails.
	FailureMessage string
}

// Coordinator executes commands: optimistic apply, forward, then
// invalidate on success or roll back and toast on failure.
type Coordinator struct {
	cache   Cache
	toaster Toaster
	logger  logger.Logger
}

func NewCoordinator(cache Cache, toaster Toaster, log logger.Logger) *Coordinator {
	return &Coordinator{
		cache:   cache,
		toaster: toaster,
		logger:  log.WithFields(map[string]interface{}{"component": "mutations"}),
	}
}

func (c *Coordinator) Execute(ctx context.Context, cmd Command) error {
	log := c.logger.WithFields(map[string]interface{}{"op": cmd.Op, "actorId": cmd.ActorID})

	var snapshot []Notification
	var applied bool
	if cmd.Optimistic != nil {
		before, ok, err := c.cache.Update(ctx, cmd.ActorID, cmd.Optimistic)
		switch {
		case err != nil:
			log.Warn("optimistic update skipped", map[string]interface{}{"error": err})
		case ok:
			snapshot, applied = before, true
		}
	}

	if err := cmd.Forward(ctx); err != nil {
		if applied {
			c.rollback(ctx, log, cmd.ActorID, snapshot)
		}
		metrics.Mutations.WithLabelValues(cmd.Op, "failed").Inc()
		log.Error("mutation failed", map[string]interface{}{"error": err})

		msg := cmd.FailureMessage
		if msg == "" {
			msg = "Something went wrong. Please try again."
		}
		c.toaster.Toast(ctx, Toast{ActorID: cmd.ActorID, Level: ToastError, Op: cmd.Op, Message: msg})

		if _, ok := apperrors.AsStandardError(err); ok {
			return err
		}
		return apperrors.NewMutationFailedError(cmd.Op, err)
	}

	metrics.Mutations.WithLabelValues(cmd.Op, "succeeded").Inc()

	if err := c.cache.Invalidate(ctx, cmd.ActorID); err != nil {
		log.Warn("failed to invalidate aggregate", map[string]interface{}{"error": err})
	}
	if cmd.Snoozes {
		if err := c.cache.InvalidateSnoozes(ctx); err != nil {
			log.Warn("failed to invalidate snoozes", map[string]interface{}{"error": err})
		}
	}
	return nil
}

// rollback restores the snapshot. A failed restore falls back to dropping
// the cache entry so the next read refetches.
func (c *Coordinator) rollback(ctx context.Context, log logger.Logger, actorID string, snapshot []Notification) {
	if err := c.cache.SetAggregate(ctx, actorID, snapshot); err != nil {
		log.Warn("rollback failed, invalidating", map[string]interface{}{"error": err})
		_ = c.cache.Invalidate(ctx, actorID)
	}
}

// notFound converts ErrNotFound into the API's not-found error.
func notFound(id string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return apperrors.NewNotificationNotFoundError(id)
	}
	return err
}

// SnoozeRequest asks to hide a (type, account) pair for everyone until
// Until, and to mark the originating notification read for the actor.
type SnoozeRequest struct {
	Type           Type
	AccountID      *string
	Until          time.Time
	NotificationID string
}

// SnoozeInput is the wire shape of a snooze, shared by the HTTP body and the
// notification-snooze job variables.
type SnoozeInput struct {
	NotificationType string  `json:"notification_type"`
	RelatedAccountID *string `json:"related_account_id"`
	SnoozedUntil     string  `json:"snoozed_until"`
	NotificationID   *string `json:"notification_id"`
}

// Request converts the input. Type and future-ness are checked by Snooze.
func (in SnoozeInput) Request() (SnoozeRequest, error) {
	until, ok := ParseTime(in.SnoozedUntil)
	if !ok {
		return SnoozeRequest{}, apperrors.NewSnoozeInvalidError("snoozed_until is not a timestamp")
	}
	req := SnoozeRequest{
		Type:      ParseType(in.NotificationType),
		AccountID: in.RelatedAccountID,
		Until:     until,
	}
	if in.NotificationID != nil {
		req.NotificationID = strings.TrimSpace(*in.NotificationID)
	}
	return req, nil
}

func (s *Service) markReadCommand(actorID, id string) Command {
	return Command{
		Op:      OpMarkRead,
		ActorID: actorID,
		Forward: func(ctx context.Context) error {
			if IsSynthetic(id) {
				return s.store.SetState(ctx, actorID, id, State{Read: true})
			}
			return notFound(id, s.store.MarkAsRead(ctx, actorID, id))
		},
		FailureMessage: "Could not mark the notification as read.",
	}
}

// MarkAsRead marks one notification read for the actor.
func (s *Service) MarkAsRead(ctx context.Context, actorID, id string) error {
	if actorID == "" {
		return ErrNoActor
	}
	return s.coordinator.Execute(ctx, s.markReadCommand(actorID, id))
}

// MarkAllAsRead marks every notification of the actor read, including the
// synthesised ones currently in their aggregate.
func (s *Service) MarkAllAsRead(ctx context.Context, actorID string) error {
	if actorID == "" {
		return ErrNoActor
	}

	var syntheticIDs []string
	for _, n := range s.aggregate(ctx, actorID) {
		if IsSynthetic(n.ID) && !n.IsRead {
			syntheticIDs = append(syntheticIDs, n.ID)
		}
	}

	return s.coordinator.Execute(ctx, Command{
		Op:      OpMarkAllRead,
		ActorID: actorID,
		Forward: func(ctx context.Context) error {
			return s.store.MarkAllAsRead(ctx, actorID, syntheticIDs)
		},
		Optimistic: func(ns []Notification) []Notification {
			for i := range ns {
				ns[i].IsRead = true
			}
			return ns
		},
		FailureMessage: "Could not mark notifications as read.",
	})
}

// Delete removes a notification. The cached aggregate drops it immediately
// and gets it back if the data source refuses.
func (s *Service) Delete(ctx context.Context, actorID, id string) error {
	if actorID == "" {
		return ErrNoActor
	}

	return s.coordinator.Execute(ctx, Command{
		Op:      OpDelete,
		ActorID: actorID,
		Forward: func(ctx context.Context) error {
			if IsSynthetic(id) {
				return s.store.SetState(ctx, actorID, id, State{Read: true, Dismissed: true})
			}
			return notFound(id, s.store.Delete(ctx, actorID, id))
		},
		Optimistic: func(ns []Notification) []Notification {
			return removeID(ns, id)
		},
		FailureMessage: "Could not delete the notification.",
	})
}

// Snooze writes a universal snooze then marks the originating notification
// read for the actor. Bulk kinds record read state per user; row kinds use
// the regular mark-read.
func (s *Service) Snooze(ctx context.Context, actorID string, req SnoozeRequest) error {
	if actorID == "" {
		return ErrNoActor
	}
	if req.Type == TypeUnknown {
		return apperrors.NewSnoozeInvalidError("unknown notification_type")
	}
	if !req.Type.Snoozeable() {
		return apperrors.NewSnoozeInvalidError(fmt.Sprintf("%s notifications cannot be snoozed", req.Type))
	}
	if !req.Until.After(s.clock()) {
		return apperrors.NewSnoozeInvalidError("snoozed_until must be in the future")
	}

	var account *string
	if acct, ok := normalizeAccount(req.AccountID); ok {
		account = &acct
	}

	snooze := Snooze{
		ID:               uuid.NewString(),
		NotificationType: req.Type,
		RelatedAccountID: account,
		SnoozedUntil:     req.Until.UTC(),
		CreatedBy:        actorID,
	}

	return s.coordinator.Execute(ctx, Command{
		Op:      OpSnooze,
		ActorID: actorID,
		Snoozes: true,
		Forward: func(ctx context.Context) error {
			if err := s.store.CreateSnooze(ctx, snooze); err != nil {
				return apperrors.NewSnoozeFailedError(err)
			}
			if req.NotificationID == "" {
				return nil
			}

			var err error
			if req.Type.Bulk() || IsSynthetic(req.NotificationID) {
				err = s.store.SetState(ctx, actorID, req.NotificationID, State{Read: true})
			} else {
				err = s.store.MarkAsRead(ctx, actorID, req.NotificationID)
			}
			if err != nil {
				// The snooze stands even if the read flag could not be written.
				s.logger.Warn("snoozed but could not mark read", map[string]interface{}{
					"actorId":        actorID,
					"notificationId": req.NotificationID,
					"error":          err,
				})
			}
			return nil
		},
		FailureMessage: "Could not snooze the notification.",
	})
}
