package notifications

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"crm-notifications/internal/common/logger"
)

type ToastLevel string

const (
	ToastSuccess ToastLevel = "success"
	ToastError   ToastLevel = "error"
)

// Toast is a transient message for the actor's open sessions.
type Toast struct {
	ID        string     `json:"id"`
	ActorID   string     `json:"actor_id"`
	Level     ToastLevel `json:"level"`
	Op        string     `json:"op"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"created_at"`
}

// Toaster delivers toasts. Delivery is best effort.
type Toaster interface {
	Toast(ctx context.Context, t Toast)
}

// RedisToaster publishes toasts as JSON on a pub/sub channel.
type RedisToaster struct {
	rdb     *redis.Client
	channel string
	logger  logger.Logger
}

func NewRedisToaster(rdb *redis.Client, channel string, log logger.Logger) *RedisToaster {
	return &RedisToaster{rdb: rdb, channel: channel, logger: log}
}

func (r *RedisToaster) Toast(ctx context.Context, t Toast) {
	t = stamp(t)
	payload, err := json.Marshal(t)
	if err != nil {
		r.logger.Error("failed to encode toast", map[string]interface{}{"error": err})
		return
	}
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("failed to publish toast", map[string]interface{}{
			"toastId": t.ID,
			"actorId": t.ActorID,
			"error":   err,
		})
	}
}

// LogToaster only logs. Used when no Redis channel is configured.
type LogToaster struct {
	logger logger.Logger
}

func NewLogToaster(log logger.Logger) *LogToaster {
	return &LogToaster{logger: log}
}

func (l *LogToaster) Toast(_ context.Context, t Toast) {
	t = stamp(t)
	l.logger.Info("toast", map[string]interface{}{
		"toastId": t.ID,
		"actorId": t.ActorID,
		"level":   string(t.Level),
		"op":      t.Op,
		"message": t.Message,
	})
}

func stamp(t Toast) Toast {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return t
}
