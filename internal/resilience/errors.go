// Copyright 2024 Call Insights Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrorResponse represents the standard error response format across all APIs
type ErrorResponse struct {
	Error       string    `json:"error"`
	Code        string    `json:"code,omitempty"`
	Diagnosis   string    `json:"diagnosis,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`
	Details     string    `json:"details,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ErrorCode represents standard error codes used across the system
type ErrorCode string

const (
	// Client errors (4xx)
	ErrorCodeBadRequest       ErrorCode = "BAD_REQUEST"
	ErrorCodeInsufficientData ErrorCode = "INSUFFICIENT_DATA"
	ErrorCodeContextTooLarge  ErrorCode = "CONTEXT_TOO_LARGE"
	ErrorCodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrorCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrorCodeTimeout          ErrorCode = "TIMEOUT"
	ErrorCodeTooManyRequests  ErrorCode = "TOO_MANY_REQUESTS"

	// Server errors (5xx)
	ErrorCodeInternalError     ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDeadlineExceeded  ErrorCode = "DEADLINE_EXCEEDED"
	ErrorCodeDependencyFailure ErrorCode = "DEPENDENCY_FAILURE"
)

// defaultSuggestions are attached when an error carries none of its own
var defaultSuggestions = map[ErrorCode][]string{
	ErrorCodeBadRequest: {
		"Check that the question is not empty",
		"Rephrase the question and try again",
	},
	ErrorCodeInsufficientData: {
		"Widen the time range or remove filters",
		"Load the full record set instead of a sample",
		"Ask a broader question",
	},
	ErrorCodeContextTooLarge: {
		"Narrow the time range or filter by agent",
		"Ask about a specific disposition or queue",
		"Split the question into smaller questions",
	},
	ErrorCodeUnauthorized: {
		"Check the completion service API key",
		"Contact an administrator",
	},
	ErrorCodeTimeout: {
		"Narrow the filters to fetch fewer records",
		"Try again in a moment",
	},
	ErrorCodeTooManyRequests: {
		"Wait a minute and try again",
		"Reduce how often questions are sent",
	},
	ErrorCodeDeadlineExceeded: {
		"Ask a narrower question",
		"Try again in a moment",
	},
	ErrorCodeDependencyFailure: {
		"Try again in a moment",
		"Rephrase or simplify the question",
	},
	ErrorCodeInternalError: {
		"Try again",
		"Rephrase the question",
		"Contact support if the problem persists",
	},
}

// ServiceError represents an error with additional context for proper handling
type ServiceError struct {
	Message     string
	Code        ErrorCode
	StatusCode  int
	Internal    error
	Diagnosis   string
	Suggestions []string
	Context     map[string]interface{}
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Internal
}

// WithDiagnosis sets a short diagnosis and optional next steps
func (e *ServiceError) WithDiagnosis(diagnosis string, suggestions ...string) *ServiceError {
	e.Diagnosis = diagnosis
	if len(suggestions) > 0 {
		e.Suggestions = suggestions
	}
	return e
}

// ToErrorResponse converts a ServiceError to an ErrorResponse
func (e *ServiceError) ToErrorResponse(requestID string) ErrorResponse {
	suggestions := e.Suggestions
	if len(suggestions) == 0 {
		suggestions = defaultSuggestions[e.Code]
	}
	return ErrorResponse{
		Error:       e.Message,
		Code:        string(e.Code),
		Diagnosis:   e.Diagnosis,
		Suggestions: suggestions,
		RequestID:   requestID,
		Timestamp:   time.Now(),
	}
}

// NewServiceError creates a new ServiceError with the given parameters
func NewServiceError(message string, code ErrorCode, statusCode int, internal error) *ServiceError {
	return &ServiceError{
		Message:    message,
		Code:       code,
		StatusCode: statusCode,
		Internal:   internal,
		Context:    make(map[string]interface{}),
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeBadRequest, http.StatusBadRequest, internal)
}

// NewInsufficientDataError reports a record set too small for the analysis
func NewInsufficientDataError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeInsufficientData, http.StatusBadRequest, internal)
}

// NewContextTooLargeError reports a prompt the completion service rejected for length
func NewContextTooLargeError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeContextTooLarge, http.StatusBadRequest, internal)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeNotFound, http.StatusNotFound, internal)
}

// NewInternalError creates a new internal server error
func NewInternalError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeInternalError, http.StatusInternalServerError, internal)
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeTimeout, http.StatusRequestTimeout, internal)
}

// NewDependencyFailureError reports an upstream failure. It surfaces as a
// plain 500 since callers only distinguish the documented upstream modes.
func NewDependencyFailureError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeDependencyFailure, http.StatusInternalServerError, internal)
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeUnauthorized, http.StatusUnauthorized, internal)
}

// NewTooManyRequestsError creates a new too many requests error
func NewTooManyRequestsError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeTooManyRequests, http.StatusTooManyRequests, internal)
}

// ErrorHandler provides utilities for handling and formatting errors
type ErrorHandler struct {
	logger *zap.Logger
	debug  bool
}

// NewErrorHandler creates a new error handler with the given logger
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{logger: logger}
}

// WithDebug makes error responses echo the internal error text
func (eh *ErrorHandler) WithDebug(debug bool) *ErrorHandler {
	eh.debug = debug
	return eh
}

// WrapError wraps an error with user-friendly message and proper error code
func (eh *ErrorHandler) WrapError(err error, operation string) *ServiceError {
	if err == nil {
		return nil
	}

	if eh == nil {
		return NewInternalError(fmt.Sprintf("An error occurred while %s", operation), err)
	}

	var serviceErr *ServiceError
	if AsServiceError(err, &serviceErr) {
		return serviceErr
	}

	userMessage := eh.getUserFriendlyMessage(err, operation)
	code, statusCode := eh.categorizeError(err)

	eh.logger.Error("Error occurred during operation",
		zap.String("operation", operation),
		zap.Error(err),
		zap.String("user_message", userMessage),
		zap.String("error_code", string(code)))

	return NewServiceError(userMessage, code, statusCode, err)
}

// AsServiceError finds the first ServiceError in err's chain
func AsServiceError(err error, target **ServiceError) bool {
	if err == nil {
		return false
	}
	return errors.As(err, target)
}

// getUserFriendlyMessage converts technical errors to user-friendly messages
func (eh *ErrorHandler) getUserFriendlyMessage(err error, operation string) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded"):
		return "The operation is taking longer than expected. Please try again."
	case strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "connection reset"):
		return "Unable to connect to the service. Please try again later."
	case strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "too many requests"):
		return "Too many requests. Please wait a moment and try again."
	case strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "authentication"):
		return "Authentication failed. Please check your credentials."
	case strings.Contains(errStr, "not found") || strings.Contains(errStr, "does not exist"):
		return "The requested resource was not found."
	case strings.Contains(errStr, "bad request") || strings.Contains(errStr, "invalid"):
		return "The request is invalid. Please check your input and try again."
	default:
		return fmt.Sprintf("An error occurred while %s. Please try again.", operation)
	}
}

// categorizeError determines the appropriate error code and HTTP status code.
// Storage timeouts arrive as TIMEOUT ServiceErrors, so any other deadline is
// a server-side failure.
func (eh *ErrorHandler) categorizeError(err error) (ErrorCode, int) {
	errStr := strings.ToLower(err.Error())

	switch {
	case errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded"):
		return ErrorCodeDeadlineExceeded, http.StatusInternalServerError
	case strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "too many requests"):
		return ErrorCodeTooManyRequests, http.StatusTooManyRequests
	case strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "authentication"):
		return ErrorCodeUnauthorized, http.StatusUnauthorized
	case strings.Contains(errStr, "not found"):
		return ErrorCodeNotFound, http.StatusNotFound
	case strings.Contains(errStr, "bad request") || strings.Contains(errStr, "invalid"):
		return ErrorCodeBadRequest, http.StatusBadRequest
	default:
		return ErrorCodeInternalError, http.StatusInternalServerError
	}
}

// Response resolves err to a status code and response body
func (eh *ErrorHandler) Response(err error, requestID string) (int, ErrorResponse) {
	var serviceErr *ServiceError
	if !AsServiceError(err, &serviceErr) {
		if eh == nil {
			serviceErr = NewInternalError("An error occurred while processing request", err)
		} else {
			serviceErr = eh.WrapError(err, "processing request")
		}
	}

	response := serviceErr.ToErrorResponse(requestID)
	if eh != nil && eh.debug && serviceErr.Internal != nil {
		response.Details = serviceErr.Internal.Error()
	}
	return serviceErr.StatusCode, response
}

// LogError logs an error with appropriate context
func (eh *ErrorHandler) LogError(err error, operation string, fields ...zap.Field) {
	if err == nil {
		return
	}

	if eh == nil || eh.logger == nil {
		return
	}

	logFields := []zap.Field{
		zap.String("operation", operation),
		zap.Error(err),
	}
	logFields = append(logFields, fields...)

	var serviceErr *ServiceError
	if AsServiceError(err, &serviceErr) {
		logFields = append(logFields,
			zap.String("error_code", string(serviceErr.Code)),
			zap.Int("status_code", serviceErr.StatusCode))
	}

	eh.logger.Error("Operation failed", logFields...)
}
