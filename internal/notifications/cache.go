package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "crm-notifications/internal/common/errors"
)

// Cache holds per-actor aggregates and the global snooze list.
type Cache interface {
	// GetAggregate returns the cached aggregate; ok is false on a miss.
	GetAggregate(ctx context.Context, actorID string) (ns []Notification, ok bool, err error)
	SetAggregate(ctx context.Context, actorID string, ns []Notification) error
	// Update applies fn to the cached aggregate atomically and returns the
	// value before fn ran. It is a no-op returning ok=false on a miss.
	Update(ctx context.Context, actorID string, fn func([]Notification) []Notification) (before []Notification, ok bool, err error)
	Invalidate(ctx context.Context, actorIDs ...string) error
	InvalidateAll(ctx context.Context) error

	GetSnoozes(ctx context.Context) (ss []Snooze, ok bool, err error)
	SetSnoozes(ctx context.Context, ss []Snooze) error
	InvalidateSnoozes(ctx context.Context) error
}

const (
	viewKeyPrefix = "notifications:aggregate:"
	snoozeKey     = "notifications:snoozes"
	updateRetries = 5
)

// RedisCache stores JSON-encoded aggregates with a TTL.
type RedisCache struct {
	rdb       *redis.Client
	ttl       time.Duration
	snoozeTTL time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl, snoozeTTL time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl, snoozeTTL: snoozeTTL}
}

func aggregateKey(actorID string) string {
	return viewKeyPrefix + actorID
}

var errCorruptEntry = errors.New("decode cached aggregate")

// unavailable marks a Redis command failure as a retryable cache error.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.NewCacheUnavailableError(err)
}

func (c *RedisCache) GetAggregate(ctx context.Context, actorID string) ([]Notification, bool, error) {
	raw, err := c.rdb.Get(ctx, aggregateKey(actorID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable(err)
	}

	var ns []Notification
	if err := json.Unmarshal(raw, &ns); err != nil {
		return nil, false, fmt.Errorf("decode cached aggregate: %w", err)
	}
	return ns, true, nil
}

func (c *RedisCache) SetAggregate(ctx context.Context, actorID string, ns []Notification) error {
	payload, err := json.Marshal(ns)
	if err != nil {
		return err
	}
	return unavailable(c.rdb.Set(ctx, aggregateKey(actorID), payload, c.ttl).Err())
}

func (c *RedisCache) Update(ctx context.Context, actorID string, fn func([]Notification) []Notification) ([]Notification, bool, error) {
	key := aggregateKey(actorID)

	var before []Notification
	var found bool

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}

		var current []Notification
		if err := json.Unmarshal(raw, &current); err != nil {
			return fmt.Errorf("%w: %v", errCorruptEntry, err)
		}
		found = true
		before = append([]Notification(nil), current...)

		payload, err := json.Marshal(fn(current))
		if err != nil {
			return err
		}

		ttl, err := tx.PTTL(ctx, key).Result()
		if err != nil || ttl <= 0 {
			ttl = c.ttl
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < updateRetries; i++ {
		err := c.rdb.Watch(ctx, txf, key)
		switch {
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, errCorruptEntry):
			return nil, false, err
		case err != nil:
			return nil, false, unavailable(err)
		}
		return before, found, nil
	}
	return nil, false, fmt.Errorf("update %s: too much contention", key)
}

func (c *RedisCache) Invalidate(ctx context.Context, actorIDs ...string) error {
	if len(actorIDs) == 0 {
		return nil
	}
	keys := make([]string, len(actorIDs))
	for i, id := range actorIDs {
		keys[i] = aggregateKey(id)
	}
	return unavailable(c.rdb.Del(ctx, keys...).Err())
}

// InvalidateAll drops every cached aggregate. Used when a bulk table
// changes and the affected actors are not known.
func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	iter := c.rdb.Scan(ctx, 0, viewKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == 100 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return unavailable(err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return unavailable(err)
	}
	if len(keys) > 0 {
		return unavailable(c.rdb.Del(ctx, keys...).Err())
	}
	return nil
}

func (c *RedisCache) GetSnoozes(ctx context.Context) ([]Snooze, bool, error) {
	raw, err := c.rdb.Get(ctx, snoozeKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable(err)
	}

	var ss []Snooze
	if err := json.Unmarshal(raw, &ss); err != nil {
		return nil, false, fmt.Errorf("decode cached snoozes: %w", err)
	}
	return ss, true, nil
}

func (c *RedisCache) SetSnoozes(ctx context.Context, ss []Snooze) error {
	payload, err := json.Marshal(ss)
	if err != nil {
		return err
	}
	return unavailable(c.rdb.Set(ctx, snoozeKey, payload, c.snoozeTTL).Err())
}

func (c *RedisCache) InvalidateSnoozes(ctx context.Context) error {
	return unavailable(c.rdb.Del(ctx, snoozeKey).Err())
}

// prependOnce adds n at the front unless its id is already present.
func prependOnce(ns []Notification, n Notification) []Notification {
	for _, existing := range ns {
		if existing.ID == n.ID {
			return ns
		}
	}
	return append([]Notification{n}, ns...)
}

// removeID drops the notification with id.
func removeID(ns []Notification, id string) []Notification {
	out := ns[:0:0]
	for _, n := range ns {
		if n.ID != id {
			out = append(out, n)
		}
	}
	return out
}

func findID(ns []Notification, id string) (Notification, bool) {
	for _, n := range ns {
		if n.ID == id {
			return n, true
		}
	}
	return Notification{}, false
}
