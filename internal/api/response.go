package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "crm-notifications/internal/common/errors"
	"crm-notifications/internal/notifications"
)

// Envelope is the shape of every API response.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Envelope{Success: true, Data: data})
}

func respondError(c *gin.Context, err error) {
	stdErr := toStandardError(err)
	c.AbortWithStatusJSON(statusFor(stdErr.Code), Envelope{
		Success: false,
		Error: &ErrorBody{
			Code:    string(stdErr.Code),
			Message: stdErr.Message,
			Details: stdErr.Details,
		},
	})
}

func toStandardError(err error) *apperrors.StandardError {
	if stdErr, ok := apperrors.AsStandardError(err); ok {
		return stdErr
	}
	switch {
	case errors.Is(err, notifications.ErrNoActor):
		return apperrors.NewUnauthorizedError("no actor")
	case errors.Is(err, notifications.ErrNotFound):
		return apperrors.NewNotificationNotFoundError("")
	}
	return apperrors.NewNotificationFetchFailedError("api", err)
}

func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeNotificationNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeSnoozeInvalid, apperrors.ErrCodeInvalidInput, apperrors.ErrCodeMalformedRecord:
		return http.StatusBadRequest
	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrCodeUpstreamUnavailable, apperrors.ErrCodeDatabaseConnectionFailed, apperrors.ErrCodeCacheUnavailable:
		return http.StatusServiceUnavailable
	case apperrors.ErrCodeQueryTimeout:
		return http.StatusGatewayTimeout
	case apperrors.ErrCodeUpstreamRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
