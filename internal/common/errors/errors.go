// Package errors provides standardized error handling for the notification
// service and its workflow job workers.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeNotificationFetchFailed ErrorCode = "NOTIFICATION_FETCH_FAILED"
	ErrCodeNotificationNotFound    ErrorCode = "NOTIFICATION_NOT_FOUND"
	ErrCodeMalformedRecord         ErrorCode = "MALFORMED_RECORD"

	ErrCodeMutationFailed ErrorCode = "MUTATION_FAILED"
	ErrCodeSnoozeInvalid  ErrorCode = "SNOOZE_INVALID"
	ErrCodeSnoozeFailed   ErrorCode = "SNOOZE_FAILED"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeQueryTimeout             ErrorCode = "QUERY_TIMEOUT"
	ErrCodeCacheUnavailable         ErrorCode = "CACHE_UNAVAILABLE"

	ErrCodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrCodeUpstreamRejected    ErrorCode = "UPSTREAM_REJECTED"

	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	ErrCodeDigestSendFailed ErrorCode = "DIGEST_SEND_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationFetchFailedError wraps a failed read of one notification source.
func NewNotificationFetchFailedError(source string, err error) *StandardError {
	e := newError(ErrCodeNotificationFetchFailed, "Notification source fetch failed",
		fmt.Sprintf("source: %s, error: %s", source, err.Error()), true)
	e.Metadata = map[string]interface{}{"source": source}
	return e
}

func NewNotificationNotFoundError(notificationID string) *StandardError {
	return newError(ErrCodeNotificationNotFound, "Notification not found",
		fmt.Sprintf("notificationId: %s", notificationID), false)
}

// NewMalformedRecordError describes an upstream record that was dropped.
func NewMalformedRecordError(source, details string) *StandardError {
	return newError(ErrCodeMalformedRecord, "Malformed upstream record",
		fmt.Sprintf("source: %s, %s", source, details), false)
}

func NewMutationFailedError(operation string, err error) *StandardError {
	e := newError(ErrCodeMutationFailed, fmt.Sprintf("Notification %s failed", operation), err.Error(), true)
	e.Metadata = map[string]interface{}{"operation": operation}
	return e
}

func NewSnoozeInvalidError(details string) *StandardError {
	return newError(ErrCodeSnoozeInvalid, "Invalid snooze request", details, false)
}

func NewSnoozeFailedError(err error) *StandardError {
	return newError(ErrCodeSnoozeFailed, "Snooze could not be saved", err.Error(), true)
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeDatabaseConnectionFailed, "Database connection error", err.Error(), true)
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(queryType string, err error) *StandardError {
	return newError(ErrCodeQueryExecutionFailed, "Database query execution error",
		fmt.Sprintf("queryType: %s, error: %s", queryType, err.Error()), true)
}

// NewQueryTimeoutError creates a retryable query timeout error.
func NewQueryTimeoutError(queryType string) *StandardError {
	return newError(ErrCodeQueryTimeout, "Database query timeout",
		fmt.Sprintf("queryType: %s", queryType), true)
}

func NewCacheUnavailableError(err error) *StandardError {
	return newError(ErrCodeCacheUnavailable, "Notification cache unavailable", err.Error(), true)
}

// NewUpstreamUnavailableError is a network or 5xx failure talking to the upstream API.
func NewUpstreamUnavailableError(endpoint string, err error) *StandardError {
	return newError(ErrCodeUpstreamUnavailable, "Upstream API unavailable",
		fmt.Sprintf("endpoint: %s, error: %s", endpoint, err.Error()), true)
}

// NewUpstreamRejectedError is a {success:false} envelope or a 4xx answer.
func NewUpstreamRejectedError(endpoint, reason string) *StandardError {
	return newError(ErrCodeUpstreamRejected, "Upstream API rejected the request",
		fmt.Sprintf("endpoint: %s, reason: %s", endpoint, reason), false)
}

func NewUnauthorizedError(details string) *StandardError {
	return newError(ErrCodeUnauthorized, "Authentication failed", details, false)
}

func NewInvalidInputError(details string) *StandardError {
	return newError(ErrCodeInvalidInput, "Invalid input", details, false)
}

// NewDigestSendFailedError creates a retryable digest delivery error.
func NewDigestSendFailedError(channel string, err error) *StandardError {
	return newError(ErrCodeDigestSendFailed, "Notification digest delivery failed",
		fmt.Sprintf("channel: %s, error: %s", channel, err.Error()), true)
}

// Generic constructors

func NewExternalServiceError(service string, err error) *StandardError {
	return newError("EXTERNAL_SERVICE_ERROR", fmt.Sprintf("External service '%s' error", service), err.Error(), true)
}

func NewTimeoutError(service string, err error) *StandardError {
	return newError("TIMEOUT_ERROR", fmt.Sprintf("Service '%s' timeout", service), err.Error(), true)
}

func NewResourceNotFoundError(service, details string) *StandardError {
	return newError("RESOURCE_NOT_FOUND", fmt.Sprintf("Resource not found in %s", service), details, false)
}

func NewBusinessRuleError(message, details string) *StandardError {
	return newError("BUSINESS_RULE_VIOLATION", message, details, false)
}

// AsStandardError returns err as a *StandardError if it is (or wraps) one.
func AsStandardError(err error) (*StandardError, bool) {
	for err != nil {
		if stdErr, ok := err.(*StandardError); ok {
			return stdErr, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeNotificationFetchFailed:  "NOTIFICATION_FETCH_FAILED",
	ErrCodeNotificationNotFound:     "NOTIFICATION_NOT_FOUND",
	ErrCodeMalformedRecord:          "MALFORMED_RECORD",
	ErrCodeMutationFailed:           "MUTATION_FAILED",
	ErrCodeSnoozeInvalid:            "SNOOZE_INVALID",
	ErrCodeSnoozeFailed:             "SNOOZE_FAILED",
	ErrCodeDatabaseConnectionFailed: "DATABASE_CONNECTION_FAILED",
	ErrCodeQueryExecutionFailed:     "QUERY_EXECUTION_FAILED",
	ErrCodeQueryTimeout:             "QUERY_TIMEOUT",
	ErrCodeCacheUnavailable:         "CACHE_UNAVAILABLE",
	ErrCodeUpstreamUnavailable:      "UPSTREAM_UNAVAILABLE",
	ErrCodeUpstreamRejected:         "UPSTREAM_REJECTED",
	ErrCodeUnauthorized:             "UNAUTHORIZED",
	ErrCodeInvalidInput:             "INVALID_INPUT",
	ErrCodeDigestSendFailed:         "DIGEST_SEND_FAILED",
}

// GetRetryCount returns the recommended retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeNotificationFetchFailed,
		ErrCodeMutationFailed,
		ErrCodeSnoozeFailed,
		ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeUpstreamUnavailable,
		ErrCodeDigestSendFailed:
		return 3

	case ErrCodeQueryTimeout,
		ErrCodeCacheUnavailable:
		return 2

	default:
		return 0 // business errors are not retried
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "UNAUTHORIZED"):
		return "AUTH"
	case strings.Contains(codeStr, "SNOOZE"):
		return "SNOOZE"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY") || strings.Contains(codeStr, "CACHE"):
		return "STORAGE"
	case strings.Contains(codeStr, "UPSTREAM"):
		return "UPSTREAM"
	case strings.Contains(codeStr, "DIGEST"):
		return "DELIVERY"
	case strings.Contains(codeStr, "NOTIFICATION") || strings.Contains(codeStr, "MUTATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "MALFORMED"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
