package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "crm-notifications/internal/common/errors"
	"crm-notifications/internal/common/logger"
	"crm-notifications/internal/common/validation"
	"crm-notifications/internal/notifications"
)

// NotificationService is what the handlers need from the bell.
type NotificationService interface {
	GetNotificationView(ctx context.Context, actorID string) ([]notifications.Group, error)
	UnreadCount(ctx context.Context, actorID string) (int, error)
	MarkAsRead(ctx context.Context, actorID, id string) error
	MarkAllAsRead(ctx context.Context, actorID string) error
	Delete(ctx context.Context, actorID, id string) error
	Snooze(ctx context.Context, actorID string, req notifications.SnoozeRequest) error
}

// Check is a named readiness probe.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

type Handler struct {
	service NotificationService
	checks  []Check
	logger  logger.Logger
}

func NewHandler(service NotificationService, checks []Check, log logger.Logger) *Handler {
	return &Handler{
		service: service,
		checks:  checks,
		logger:  log.WithFields(map[string]interface{}{"component": "api"}),
	}
}

type viewResponse struct {
	Groups      []notifications.Group `json:"groups"`
	UnreadCount int                   `json:"unread_count"`
}

func (h *Handler) GetNotifications(c *gin.Context) {
	groups, err := h.service.GetNotificationView(c.Request.Context(), actorID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, viewResponse{
		Groups:      groups,
		UnreadCount: notifications.UnreadTotal(groups),
	})
}

func (h *Handler) GetUnreadCount(c *gin.Context) {
	n, err := h.service.UnreadCount(c.Request.Context(), actorID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"count": n})
}

func (h *Handler) MarkAsRead(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if err := h.service.MarkAsRead(c.Request.Context(), actorID(c), id); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"id": id, "is_read": true})
}

func (h *Handler) MarkAllAsRead(c *gin.Context) {
	if err := h.service.MarkAllAsRead(c.Request.Context(), actorID(c)); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"is_read": true})
}

func (h *Handler) Delete(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if err := h.service.Delete(c.Request.Context(), actorID(c), id); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"id": id, "deleted": true})
}

func (h *Handler) Snooze(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
	if err != nil {
		respondError(c, apperrors.NewInvalidInputError("unreadable body"))
		return
	}

	if result := validation.SnoozeRequestSchema.ValidateBytes(raw); !result.Valid {
		respondError(c, apperrors.NewSnoozeInvalidError(result.Error()))
		return
	}

	var body notifications.SnoozeInput
	if err := json.Unmarshal(raw, &body); err != nil {
		respondError(c, apperrors.NewSnoozeInvalidError(err.Error()))
		return
	}

	req, err := body.Request()
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.service.Snooze(c.Request.Context(), actorID(c), req); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{
		"notification_type": req.Type,
		"snoozed_until":     req.Until.UTC(),
	})
}

func (h *Handler) Health(c *gin.Context) {
	respond(c, http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().UTC()})
}

// Ready runs every readiness probe and reports each result.
func (h *Handler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	ready := true
	for _, check := range h.checks {
		if err := check.Probe(ctx); err != nil {
			h.logger.Warn("readiness probe failed", map[string]interface{}{"check": check.Name, "error": err})
			results[check.Name] = err.Error()
			ready = false
			continue
		}
		results[check.Name] = "ok"
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, Envelope{Success: false, Data: results, Error: &ErrorBody{
			Code:    "NOT_READY",
			Message: "one or more dependencies are unavailable",
		}})
		return
	}
	respond(c, http.StatusOK, results)
}
