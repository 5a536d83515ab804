package errors

// ErrorHandler turns pipeline failures into logged, user-facing messages.
type ErrorHandler struct {
	logger Logger
}

// Logger interface to avoid circular dependency
type Logger interface {
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleTurnError normalizes err, logs it with the turn fields and returns the
// message to show the user together with the normalized error.
func (h *ErrorHandler) HandleTurnError(service string, fields map[string]interface{}, err error) (string, *StandardError) {
	stdErr := Normalize(service, err)
	h.logError(fields, stdErr)
	return UserMessage(stdErr), stdErr
}

func (h *ErrorHandler) logError(fields map[string]interface{}, stdErr *StandardError) {
	if h.logger == nil {
		return
	}
	logFields := make(map[string]interface{}, len(fields)+8)
	for k, v := range fields {
		logFields[k] = v
	}
	logFields["errorCode"] = string(stdErr.Code)
	logFields["message"] = stdErr.Message
	logFields["details"] = stdErr.Details
	logFields["service"] = stdErr.Service
	logFields["retryable"] = stdErr.Retryable
	logFields["retries"] = GetRetryCount(stdErr.Code)
	logFields["errorCategory"] = GetErrorCategory(stdErr.Code)
	if stdErr.StatusCode != 0 {
		logFields["statusCode"] = stdErr.StatusCode
	}
	if stdErr.Timeout {
		logFields["timeout"] = true
	}
	h.logger.Error("Turn failed", logFields)
}
