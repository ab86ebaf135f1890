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

// Package health reports whether the record store, response cache and
// completion service configuration are usable
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// StatusHealthy represents healthy status
	StatusHealthy = "healthy"
	// StatusUnhealthy represents unhealthy status
	StatusUnhealthy = "unhealthy"
	// StatusDegraded represents degraded status
	StatusDegraded = "degraded"
	// DefaultTimeout is the default timeout for health checks
	DefaultTimeout = 5 * time.Second
)

// CheckResult represents the result of a health check
type CheckResult struct {
	Status    string                 `json:"status"`
	Latency   time.Duration          `json:"latency"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Response represents the complete health check response
type Response struct {
	Status       string                 `json:"status"`
	Service      string                 `json:"service"`
	Version      string                 `json:"version"`
	Environment  string                 `json:"environment"`
	Uptime       time.Duration          `json:"uptime"`
	Dependencies map[string]CheckResult `json:"dependencies"`
	Metadata     map[string]interface{} `json:"metadata"`
	Timestamp    time.Time              `json:"timestamp"`
}

// Checker interface for health checks
type Checker interface {
	Check(ctx context.Context) CheckResult
}

// CheckerFunc is a function adapter for the Checker interface
type CheckerFunc func(ctx context.Context) CheckResult

// Check implements the Checker interface
func (f CheckerFunc) Check(ctx context.Context) CheckResult {
	return f(ctx)
}

// Manager runs the registered checks
type Manager struct {
	serviceName string
	version     string
	environment string
	startTime   time.Time
	mu          sync.RWMutex
	checkers    map[string]Checker
	timeout     time.Duration
	logger      *zap.Logger
}

// NewManager creates a new health check manager
func NewManager(serviceName, version, environment string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if environment == "" {
		environment = os.Getenv("ENVIRONMENT")
	}
	if environment == "" {
		environment = "unknown"
	}
	return &Manager{
		serviceName: serviceName,
		version:     version,
		environment: environment,
		startTime:   time.Now(),
		checkers:    make(map[string]Checker),
		timeout:     DefaultTimeout,
		logger:      logger,
	}
}

// SetTimeout sets the timeout for health checks
func (m *Manager) SetTimeout(timeout time.Duration) {
	m.timeout = timeout
}

// AddChecker registers a named check
func (m *Manager) AddChecker(name string, checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = checker
}

// Check runs every check concurrently under the manager timeout
func (m *Manager) Check(ctx context.Context) Response {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.mu.RLock()
	checkers := make(map[string]Checker, len(m.checkers))
	for name, checker := range m.checkers {
		checkers[name] = checker
	}
	m.mu.RUnlock()

	var resultsMu sync.Mutex
	dependencies := make(map[string]CheckResult, len(checkers))

	var g errgroup.Group
	for name, checker := range checkers {
		name, checker := name, checker
		g.Go(func() error {
			start := time.Now()
			result := checker.Check(ctx)
			result.Latency = time.Since(start)
			result.Timestamp = time.Now()

			resultsMu.Lock()
			dependencies[name] = result
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	overallStatus := StatusHealthy
	for name, result := range dependencies {
		switch result.Status {
		case StatusUnhealthy:
			overallStatus = StatusUnhealthy
			m.logger.Warn("Dependency unhealthy", zap.String("dependency", name), zap.String("error", result.Error))
		case StatusDegraded:
			if overallStatus != StatusUnhealthy {
				overallStatus = StatusDegraded
			}
		}
	}

	return Response{
		Status:       overallStatus,
		Service:      m.serviceName,
		Version:      m.version,
		Environment:  m.environment,
		Uptime:       time.Since(m.startTime),
		Dependencies: dependencies,
		Metadata:     systemMetadata(),
		Timestamp:    time.Now(),
	}
}

// StatusCode maps an overall status to an HTTP status. Degraded stays 200.
func StatusCode(status string) int {
	if status == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// HTTPHandler returns a HTTP handler for health checks
func (m *Manager) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		result := m.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(StatusCode(result.Status))
		if err := json.NewEncoder(w).Encode(result); err != nil {
			m.logger.Error("Failed to write health check response", zap.Error(err))
		}
	}
}

func systemMetadata() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return map[string]interface{}{
		"go_version":   runtime.Version(),
		"goroutines":   runtime.NumGoroutine(),
		"memory_alloc": memStats.Alloc,
		"hostname":     hostname,
	}
}

// StoreChecker reports the record store unhealthy when its ping fails
func StoreChecker(driver string, ping func(ctx context.Context) error) Checker {
	return CheckerFunc(func(ctx context.Context) CheckResult {
		if err := ping(ctx); err != nil {
			return CheckResult{
				Status: StatusUnhealthy,
				Error:  fmt.Sprintf("record store ping failed: %v", err),
			}
		}
		return CheckResult{
			Status:   StatusHealthy,
			Metadata: map[string]interface{}{"driver": driver},
		}
	})
}

// CacheChecker reports a failing shared cache as degraded since answers
// can still be generated without it
func CacheChecker(backend string, ping func(ctx context.Context) error) Checker {
	return CheckerFunc(func(ctx context.Context) CheckResult {
		if ping != nil {
			if err := ping(ctx); err != nil {
				return CheckResult{
					Status:   StatusDegraded,
					Error:    fmt.Sprintf("cache ping failed: %v", err),
					Metadata: map[string]interface{}{"backend": backend},
				}
			}
		}
		return CheckResult{
			Status:   StatusHealthy,
			Metadata: map[string]interface{}{"backend": backend},
		}
	})
}

// CompletionChecker validates the completion service configuration without
// spending a request
func CompletionChecker(apiKey, model, fallbackModel string) Checker {
	return CheckerFunc(func(_ context.Context) CheckResult {
		metadata := map[string]interface{}{
			"model":          model,
			"fallback_model": fallbackModel,
		}
		if strings.TrimSpace(apiKey) == "" {
			return CheckResult{
				Status:   StatusUnhealthy,
				Error:    "completion API key is not configured",
				Metadata: metadata,
			}
		}
		if fallbackModel == "" {
			return CheckResult{Status: StatusDegraded, Error: "no fallback model configured", Metadata: metadata}
		}
		return CheckResult{Status: StatusHealthy, Metadata: metadata}
	})
}
