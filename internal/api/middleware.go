package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"crm-notifications/internal/common/auth"
	apperrors "crm-notifications/internal/common/errors"
	"crm-notifications/internal/common/logger"
)

const actorKey = "actor_id"

// Authenticate resolves the bearer token to an actor id and stores it on the
// context. Requests without a valid token are rejected.
func Authenticate(tokens *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := tokens.FromHeader(c.GetHeader("Authorization"))
		if err != nil {
			respondError(c, apperrors.NewUnauthorizedError(err.Error()))
			return
		}
		c.Set(actorKey, claims.ActorID())
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"durationMs": time.Since(start).Milliseconds(),
		}
		if actor := c.GetString(actorKey); actor != "" {
			fields["actorId"] = actor
		}
		if c.Writer.Status() >= 500 {
			log.Warn("request failed", fields)
			return
		}
		log.Debug("request served", fields)
	}
}

func actorID(c *gin.Context) string {
	return c.GetString(actorKey)
}
