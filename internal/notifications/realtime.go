package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"crm-notifications/internal/common/logger"
	"crm-notifications/internal/common/metrics"
)

// Event is a row change pushed by the database.
type Event struct {
	Table  string          `json:"table"`
	Event  string          `json:"event"` // insert | update | delete
	Record json.RawMessage `json:"record"`
}

const (
	EventInsert = "insert"
	EventUpdate = "update"
	EventDelete = "delete"
)

// Merger applies push events to the view cache. Applying the same event
// twice has the same effect as applying it once.
type Merger struct {
	cache  Cache
	logger logger.Logger
}

func NewMerger(cache Cache, log logger.Logger) *Merger {
	return &Merger{
		cache:  cache,
		logger: log.WithFields(map[string]interface{}{"component": "realtime"}),
	}
}

// Apply handles one event. Inserts of row notifications are prepended to
// the owner's cached aggregate; every other change invalidates the owner,
// or every actor when the row has no owner.
func (m *Merger) Apply(ctx context.Context, ev Event) error {
	table := strings.TrimSpace(ev.Table)
	kind := strings.ToLower(strings.TrimSpace(ev.Event))

	if table == SourceSnoozes {
		metrics.RealtimeEvents.WithLabelValues(table, "invalidate_snoozes").Inc()
		return m.cache.InvalidateSnoozes(ctx)
	}

	var owner struct {
		UserID *FlexString `json:"user_id"`
	}
	if len(ev.Record) > 0 {
		if err := json.Unmarshal(ev.Record, &owner); err != nil {
			return fmt.Errorf("decode %s record: %w", table, err)
		}
	}
	ownerID := ""
	if owner.UserID != nil {
		ownerID = strings.TrimSpace(string(*owner.UserID))
	}

	if kind == EventInsert && IsRowSource(table) && ownerID != "" {
		var rec Record
		if err := json.Unmarshal(ev.Record, &rec); err != nil {
			return fmt.Errorf("decode %s record: %w", table, err)
		}
		n := rec.Notification(table)
		if n.ID == "" {
			metrics.MalformedRecords.WithLabelValues(table).Inc()
			return nil
		}
		n.ID = RowID(table, n.ID)

		_, cached, err := m.cache.Update(ctx, ownerID, func(ns []Notification) []Notification {
			return prependOnce(ns, n)
		})
		if err != nil {
			return err
		}
		action := "prepend"
		if !cached {
			action = "skip_uncached"
		}
		metrics.RealtimeEvents.WithLabelValues(table, action).Inc()
		return nil
	}

	if ownerID != "" {
		metrics.RealtimeEvents.WithLabelValues(table, "invalidate").Inc()
		return m.cache.Invalidate(ctx, ownerID)
	}

	metrics.RealtimeEvents.WithLabelValues(table, "invalidate_all").Inc()
	return m.cache.InvalidateAll(ctx)
}

// HandlePayload decodes and applies a raw pub/sub message.
func (m *Merger) HandlePayload(ctx context.Context, payload []byte) error {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if ev.Table == "" {
		return fmt.Errorf("event without table")
	}
	return m.Apply(ctx, ev)
}

// Subscriber feeds a Redis pub/sub channel into a Merger.
type Subscriber struct {
	rdb     *redis.Client
	channel string
	merger  *Merger
	logger  logger.Logger
}

func NewSubscriber(rdb *redis.Client, channel string, merger *Merger, log logger.Logger) *Subscriber {
	return &Subscriber{
		rdb:     rdb,
		channel: channel,
		merger:  merger,
		logger:  log.WithFields(map[string]interface{}{"channel": channel}),
	}
}

// Run blocks until ctx is done. Bad events are logged and skipped.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.rdb.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	s.logger.Info("realtime subscriber started", nil)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("realtime subscriber stopped", nil)
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := s.merger.HandlePayload(ctx, []byte(msg.Payload)); err != nil {
				s.logger.Warn("realtime event skipped", map[string]interface{}{"error": err})
			}
		}
	}
}
