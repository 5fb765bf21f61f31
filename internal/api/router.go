// Package api serves the notification bell over HTTP.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crm-notifications/internal/common/auth"
	"crm-notifications/internal/common/logger"
)

// NewRouter wires the routes. Everything under /api requires a bearer token.
func NewRouter(h *Handler, tokens *auth.Service, log logger.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(log))

	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/notifications", Authenticate(tokens))
	{
		api.GET("", h.GetNotifications)
		api.GET("/count", h.GetUnreadCount)
		api.POST("/read-all", h.MarkAllAsRead)
		api.POST("/snooze", h.Snooze)
		api.POST("/:id/read", h.MarkAsRead)
		api.DELETE("/:id", h.Delete)
	}
	return r
}
