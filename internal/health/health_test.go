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

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func okPing(_ context.Context) error { return nil }

func failPing(_ context.Context) error { return errors.New("connection refused") }

func TestManagerCheck(t *testing.T) {
	tests := []struct {
		name     string
		checkers map[string]Checker
		expected string
	}{
		{
			name:     "no checkers",
			checkers: map[string]Checker{},
			expected: StatusHealthy,
		},
		{
			name: "all healthy",
			checkers: map[string]Checker{
				"store":      StoreChecker("sqlite3", okPing),
				"cache":      CacheChecker("memory", nil),
				"completion": CompletionChecker("key", "gpt-4o", "gpt-4o-mini"),
			},
			expected: StatusHealthy,
		},
		{
			name: "cache down is degraded",
			checkers: map[string]Checker{
				"store": StoreChecker("sqlite3", okPing),
				"cache": CacheChecker("redis", failPing),
			},
			expected: StatusDegraded,
		},
		{
			name: "store down is unhealthy",
			checkers: map[string]Checker{
				"store": StoreChecker("pgx", failPing),
				"cache": CacheChecker("redis", failPing),
			},
			expected: StatusUnhealthy,
		},
		{
			name: "missing api key is unhealthy",
			checkers: map[string]Checker{
				"completion": CompletionChecker("", "gpt-4o", ""),
			},
			expected: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager("call-insights", "1.0.0", "test", zap.NewNop())
			for name, checker := range tt.checkers {
				manager.AddChecker(name, checker)
			}

			result := manager.Check(context.Background())

			if result.Status != tt.expected {
				t.Errorf("Expected status %s, got %s", tt.expected, result.Status)
			}
			if len(result.Dependencies) != len(tt.checkers) {
				t.Errorf("Expected %d dependencies, got %d", len(tt.checkers), len(result.Dependencies))
			}
			if result.Service != "call-insights" || result.Environment != "test" {
				t.Errorf("Unexpected service metadata %s/%s", result.Service, result.Environment)
			}
			if result.Metadata["go_version"] == nil {
				t.Error("Expected go_version in metadata")
			}
		})
	}
}

func TestManagerCheckTimeout(t *testing.T) {
	manager := NewManager("call-insights", "1.0.0", "test", zap.NewNop())
	manager.SetTimeout(20 * time.Millisecond)
	manager.AddChecker("store", StoreChecker("sqlite3", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	result := manager.Check(context.Background())

	if result.Status != StatusUnhealthy {
		t.Errorf("Expected slow store to be unhealthy, got %s", result.Status)
	}
}

func TestCompletionCheckerWithoutFallback(t *testing.T) {
	result := CompletionChecker("key", "gpt-4o", "").Check(context.Background())
	if result.Status != StatusDegraded {
		t.Errorf("Expected degraded, got %s", result.Status)
	}
	if result.Metadata["model"] != "gpt-4o" {
		t.Errorf("Expected model metadata, got %v", result.Metadata)
	}
}

func TestHTTPHandler(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		ping           func(ctx context.Context) error
		expectedStatus int
	}{
		{"healthy", http.MethodGet, okPing, http.StatusOK},
		{"unhealthy", http.MethodGet, failPing, http.StatusServiceUnavailable},
		{"wrong method", http.MethodPost, okPing, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager("call-insights", "1.0.0", "test", zap.NewNop())
			manager.AddChecker("store", StoreChecker("sqlite3", tt.ping))

			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()
			manager.HTTPHandler()(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if tt.method != http.MethodGet {
				return
			}

			var response Response
			if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if _, ok := response.Dependencies["store"]; !ok {
				t.Error("Expected store dependency in response")
			}
		})
	}
}

func TestStatusCode(t *testing.T) {
	if StatusCode(StatusDegraded) != http.StatusOK {
		t.Error("Expected degraded to map to 200")
	}
	if StatusCode(StatusUnhealthy) != http.StatusServiceUnavailable {
		t.Error("Expected unhealthy to map to 503")
	}
}
