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
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestServiceErrorConvenience(t *testing.T) {
	internal := errors.New("internal")

	tests := []struct {
		name         string
		err          *ServiceError
		expectCode   ErrorCode
		expectStatus int
	}{
		{"bad request", NewBadRequestError("bad request", internal), ErrorCodeBadRequest, http.StatusBadRequest},
		{"insufficient data", NewInsufficientDataError("too few", internal), ErrorCodeInsufficientData, http.StatusBadRequest},
		{"context too large", NewContextTooLargeError("too long", internal), ErrorCodeContextTooLarge, http.StatusBadRequest},
		{"unauthorized", NewUnauthorizedError("auth", internal), ErrorCodeUnauthorized, http.StatusUnauthorized},
		{"timeout", NewTimeoutError("slow", internal), ErrorCodeTimeout, http.StatusRequestTimeout},
		{"too many requests", NewTooManyRequestsError("slow down", internal), ErrorCodeTooManyRequests, http.StatusTooManyRequests},
		{"dependency failure", NewDependencyFailureError("upstream", internal), ErrorCodeDependencyFailure, http.StatusInternalServerError},
		{"internal error", NewInternalError("internal error", internal), ErrorCodeInternalError, http.StatusInternalServerError},
		{"not found", NewNotFoundError("missing", internal), ErrorCodeNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.expectCode {
				t.Errorf("Expected code %s, got %s", tt.expectCode, tt.err.Code)
			}
			if tt.err.StatusCode != tt.expectStatus {
				t.Errorf("Expected status %d, got %d", tt.expectStatus, tt.err.StatusCode)
			}
			if tt.err.Unwrap() != internal {
				t.Errorf("Expected unwrapped error to be internal error")
			}
		})
	}
}

func TestServiceErrorToErrorResponse(t *testing.T) {
	serviceErr := NewInsufficientDataError("Not enough calls", nil)

	response := serviceErr.ToErrorResponse("request-123")

	if response.Error != "Not enough calls" {
		t.Errorf("Expected 'Not enough calls', got %s", response.Error)
	}
	if response.Code != string(ErrorCodeInsufficientData) {
		t.Errorf("Expected '%s', got %s", ErrorCodeInsufficientData, response.Code)
	}
	if response.RequestID != "request-123" {
		t.Errorf("Expected 'request-123', got %s", response.RequestID)
	}
	if response.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
	if n := len(response.Suggestions); n < 2 || n > 4 {
		t.Errorf("Expected 2-4 default suggestions, got %d", n)
	}
}

func TestDefaultSuggestionsCoverEveryCode(t *testing.T) {
	codes := []ErrorCode{
		ErrorCodeBadRequest, ErrorCodeInsufficientData, ErrorCodeContextTooLarge, ErrorCodeUnauthorized,
		ErrorCodeTimeout, ErrorCodeTooManyRequests, ErrorCodeDependencyFailure, ErrorCodeDeadlineExceeded,
		ErrorCodeInternalError,
	}
	for _, code := range codes {
		if n := len(defaultSuggestions[code]); n < 2 || n > 4 {
			t.Errorf("Expected 2-4 suggestions for %s, got %d", code, n)
		}
	}
}

func TestServiceErrorWithDiagnosis(t *testing.T) {
	serviceErr := NewContextTooLargeError("Too much data", nil).
		WithDiagnosis("The selected calls exceed the model context", "Filter by agent", "Pick a shorter date range")

	response := serviceErr.ToErrorResponse("")

	if response.Diagnosis != "The selected calls exceed the model context" {
		t.Errorf("Unexpected diagnosis %q", response.Diagnosis)
	}
	if len(response.Suggestions) != 2 || response.Suggestions[0] != "Filter by agent" {
		t.Errorf("Expected custom suggestions, got %v", response.Suggestions)
	}
}

func TestErrorHandler_WrapError(t *testing.T) {
	handler := NewErrorHandler(zap.NewNop())

	tests := []struct {
		name            string
		inputError      error
		operation       string
		expectedCode    ErrorCode
		expectedStatus  int
		expectedMessage string
	}{
		{
			name:            "timeout error",
			inputError:      errors.New("timeout exceeded"),
			operation:       "processing request",
			expectedCode:    ErrorCodeDeadlineExceeded,
			expectedStatus:  http.StatusInternalServerError,
			expectedMessage: "The operation is taking longer than expected. Please try again.",
		},
		{
			name:            "request deadline",
			inputError:      fmt.Errorf("completion: %w", context.DeadlineExceeded),
			operation:       "answering question",
			expectedCode:    ErrorCodeDeadlineExceeded,
			expectedStatus:  http.StatusInternalServerError,
			expectedMessage: "The operation is taking longer than expected. Please try again.",
		},
		{
			name:            "connection error",
			inputError:      errors.New("connection refused"),
			operation:       "connecting to database",
			expectedCode:    ErrorCodeInternalError,
			expectedStatus:  http.StatusInternalServerError,
			expectedMessage: "Unable to connect to the service. Please try again later.",
		},
		{
			name:            "rate limit error",
			inputError:      errors.New("rate limit exceeded"),
			operation:       "making API call",
			expectedCode:    ErrorCodeTooManyRequests,
			expectedStatus:  http.StatusTooManyRequests,
			expectedMessage: "Too many requests. Please wait a moment and try again.",
		},
		{
			name:            "generic error",
			inputError:      errors.New("some random error"),
			operation:       "processing data",
			expectedCode:    ErrorCodeInternalError,
			expectedStatus:  http.StatusInternalServerError,
			expectedMessage: "An error occurred while processing data. Please try again.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serviceErr := handler.WrapError(tt.inputError, tt.operation)

			if serviceErr == nil {
				t.Fatal("Expected ServiceError, got nil")
			}
			if serviceErr.Code != tt.expectedCode {
				t.Errorf("Expected code %s, got %s", tt.expectedCode, serviceErr.Code)
			}
			if serviceErr.StatusCode != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, serviceErr.StatusCode)
			}
			if serviceErr.Message != tt.expectedMessage {
				t.Errorf("Expected message %s, got %s", tt.expectedMessage, serviceErr.Message)
			}
			if serviceErr.Unwrap() != tt.inputError {
				t.Errorf("Expected unwrapped error to be original error")
			}
		})
	}
}

func TestErrorHandler_WrapError_Nil(t *testing.T) {
	handler := NewErrorHandler(zap.NewNop())

	if result := handler.WrapError(nil, "test operation"); result != nil {
		t.Errorf("Expected nil for nil input, got %v", result)
	}
}

func TestErrorHandler_WrapError_WrappedServiceError(t *testing.T) {
	handler := NewErrorHandler(zap.NewNop())

	original := NewTooManyRequestsError("slow down", errors.New("429"))
	result := handler.WrapError(fmt.Errorf("completion: %w", original), "test operation")

	if result != original {
		t.Errorf("Expected wrapped ServiceError to be returned as is")
	}
}

func TestAsServiceError(t *testing.T) {
	serviceErr := NewInternalError("message", errors.New("internal"))

	var target *ServiceError
	if !AsServiceError(serviceErr, &target) || target != serviceErr {
		t.Error("Expected AsServiceError to find the ServiceError")
	}

	target = nil
	if AsServiceError(errors.New("regular error"), &target) || target != nil {
		t.Error("Expected AsServiceError to return false for regular error")
	}

	if AsServiceError(nil, &target) {
		t.Error("Expected AsServiceError to return false for nil error")
	}
}

func TestErrorHandler_ResponseKeepsTimeoutForStorage(t *testing.T) {
	handler := NewErrorHandler(zap.NewNop())

	status, body := handler.Response(NewTimeoutError("The call records query timed out", context.DeadlineExceeded), "request-123")
	if status != http.StatusRequestTimeout || body.Code != string(ErrorCodeTimeout) {
		t.Errorf("Expected storage timeout to stay 408 TIMEOUT, got %d %s", status, body.Code)
	}

	status, body = handler.Response(context.DeadlineExceeded, "request-123")
	if status != http.StatusInternalServerError || body.Code != string(ErrorCodeDeadlineExceeded) {
		t.Errorf("Expected request deadline to be 500 DEADLINE_EXCEEDED, got %d %s", status, body.Code)
	}
	if body.RequestID != "request-123" || len(body.Suggestions) == 0 {
		t.Errorf("Expected request id and suggestions, got %+v", body)
	}
}

func TestErrorHandler_LogError(_ *testing.T) {
	handler := NewErrorHandler(zap.NewNop())

	handler.LogError(NewBadRequestError("bad request", errors.New("internal")), "test operation")
	handler.LogError(errors.New("regular error"), "test operation")
	handler.LogError(nil, "test operation")

	var nilHandler *ErrorHandler
	nilHandler.LogError(errors.New("ignored"), "test operation")
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 20*time.Millisecond, nil, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !IsTimeout(err) {
		t.Errorf("Expected timeout ServiceError, got %v", err)
	}

	err = WithTimeout(context.Background(), time.Second, nil, func(_ context.Context) error {
		return errors.New("query failed")
	})
	if err == nil || IsTimeout(err) {
		t.Errorf("Expected plain error, got %v", err)
	}

	if err := WithTimeout(context.Background(), time.Second, nil, func(_ context.Context) error { return nil }); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = WithTimeout(ctx, time.Second, nil, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if IsTimeout(err) || !errors.Is(err, context.Canceled) {
		t.Errorf("Expected caller cancellation to pass through, got %v", err)
	}
}
