// Package errors provides the standardized error taxonomy shared by the
// completion client, the CRM client and the turn orchestrator.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeTransport           ErrorCode = "TRANSPORT_ERROR"
	ErrCodeUpstreamStatus      ErrorCode = "UPSTREAM_STATUS_ERROR"
	ErrCodeMalformedResponse   ErrorCode = "MALFORMED_RESPONSE"
	ErrCodeClassificationParse ErrorCode = "CLASSIFICATION_PARSE_ERROR"
	ErrCodeParameterValidation ErrorCode = "PARAMETER_VALIDATION_ERROR"
)

// Services named on errors and in logs.
const (
	ServiceCompletion  = "completion"
	ServiceCRM         = "crm"
	ServiceClassifier  = "classifier"
	ServiceDispatcher  = "dispatcher"
	ServiceSynthesizer = "synthesizer"
)

const (
	metadataParam  = "param"
	metadataAction = "action"
)

// StandardError is the single error shape used across the assistant.
type StandardError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Retryable  bool                   `json:"retryable"`
	Service    string                 `json:"service,omitempty"`
	StatusCode int                    `json:"statusCode,omitempty"`
	Timeout    bool                   `json:"timeout,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "StandardError[%s]: %s", e.Code, e.Message)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Details != "" {
		b.WriteString(": ")
		b.WriteString(e.Details)
	}
	return b.String()
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// Param is the name of the offending parameter for validation errors.
func (e *StandardError) Param() string {
	if e.Metadata == nil {
		return ""
	}
	p, _ := e.Metadata[metadataParam].(string)
	return p
}

// ==========================
// 2. Constructors
// ==========================

// NewTransportError covers network-level failures of either upstream.
func NewTransportError(service string, err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &StandardError{
		Code:      ErrCodeTransport,
		Message:   fmt.Sprintf("Request to %s failed", service),
		Details:   details,
		Retryable: true,
		Service:   service,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewTimeoutError is a TransportError raised when a call exceeds its deadline.
func NewTimeoutError(service string, err error) *StandardError {
	e := NewTransportError(service, err)
	e.Message = fmt.Sprintf("Request to %s timed out", service)
	e.Timeout = true
	return e
}

// NewUpstreamStatusError reports a non-2xx response. message is the best-effort
// text extracted from the upstream body, if any.
func NewUpstreamStatusError(service string, statusCode int, message string) *StandardError {
	return &StandardError{
		Code:       ErrCodeUpstreamStatus,
		Message:    fmt.Sprintf("%s returned HTTP %d", service, statusCode),
		Details:    message,
		Retryable:  isRetryableStatus(statusCode),
		Service:    service,
		StatusCode: statusCode,
		Timestamp:  time.Now().UTC(),
	}
}

func NewMalformedResponseError(service, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMalformedResponse,
		Message:   fmt.Sprintf("Malformed response from %s", service),
		Details:   details,
		Retryable: false,
		Service:   service,
		Timestamp: time.Now().UTC(),
	}
}

func NewClassificationParseError(details string, err error) *StandardError {
	if err != nil {
		if details == "" {
			details = err.Error()
		} else {
			details = details + ": " + err.Error()
		}
	}
	return &StandardError{
		Code:      ErrCodeClassificationParse,
		Message:   "Completion reply is not a recognized action descriptor",
		Details:   details,
		Retryable: false,
		Service:   ServiceClassifier,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewParameterValidationError names the action and the parameter at fault.
func NewParameterValidationError(action, param, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeParameterValidation,
		Message:   fmt.Sprintf("Invalid parameters for %s", action),
		Details:   details,
		Retryable: false,
		Service:   ServiceDispatcher,
		Metadata: map[string]interface{}{
			metadataAction: action,
			metadataParam:  param,
		},
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Helpers
// ==========================

// As extracts a *StandardError from an error chain.
func As(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	stdErr, ok := As(err)
	return ok && stdErr.Code == code
}

// Normalize turns any error into a *StandardError. Anything unanticipated is
// treated as a TransportError; an exceeded deadline becomes a timeout.
func Normalize(service string, err error) *StandardError {
	if err == nil {
		return nil
	}
	if stdErr, ok := As(err); ok {
		return stdErr
	}
	if IsTimeout(err) {
		return NewTimeoutError(service, err)
	}
	return NewTransportError(service, err)
}

// IsTimeout reports whether err stems from an exceeded deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if stdErr, ok := As(err); ok && stdErr.Timeout {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isRetryableStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}

// IsRetryable reports whether the orchestrator may repeat the failed call.
func IsRetryable(err error) bool {
	stdErr, ok := As(err)
	if !ok {
		return true
	}
	return stdErr.Retryable && GetRetryCount(stdErr.Code) > 0
}

// GetRetryCount is the upper bound of retries per error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeTransport:
		return 2
	case ErrCodeUpstreamStatus:
		return 1
	default:
		return 0
	}
}

func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeTransport, ErrCodeUpstreamStatus:
		return "UPSTREAM"
	case ErrCodeMalformedResponse, ErrCodeClassificationParse:
		return "PARSING"
	case ErrCodeParameterValidation:
		return "VALIDATION"
	default:
		return "OTHER"
	}
}

// UserMessage returns the apology shown to the user. It never includes
// upstream text.
func UserMessage(err error) string {
	stdErr, ok := As(err)
	if !ok {
		stdErr = Normalize("", err)
	}
	switch stdErr.Code {
	case ErrCodeTransport:
		if stdErr.Timeout {
			return "Sorry, that took too long to answer. Please try again in a moment."
		}
		return "Sorry, I couldn't reach the service right now. Please try again in a moment."
	case ErrCodeUpstreamStatus:
		if stdErr.Service == ServiceCRM {
			return "Sorry, the CRM couldn't complete that request right now. Please try again later."
		}
		return "Sorry, the assistant service is unavailable right now. Please try again later."
	case ErrCodeMalformedResponse:
		return "Sorry, I received a response I couldn't read. Please try again."
	case ErrCodeClassificationParse:
		return "Sorry, I couldn't work out what you were asking. Could you rephrase that?"
	case ErrCodeParameterValidation:
		if stdErr.Details != "" {
			return fmt.Sprintf("Sorry, I couldn't run that request: %s.", stdErr.Details)
		}
		return "Sorry, that request is missing some details."
	default:
		return "Sorry, something went wrong while handling your request."
	}
}
