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

// Package resilience provides retry with exponential backoff, timeouts and
// the typed service errors shared by the call insights services.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// BackoffConfig holds configuration for exponential backoff retry logic
type BackoffConfig struct {
	BaseDelay   time.Duration
	MaxRetries  int
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
	RetryOnFunc func(error) bool
	// Sleep waits between attempts; nil uses ContextSleep
	Sleep Sleeper
}

const (
	// DefaultMaxRetries is the default maximum number of retry attempts
	DefaultMaxRetries = 5
	// DefaultMaxDelaySeconds is the default maximum delay in seconds
	DefaultMaxDelaySeconds = 30
	// DefaultMultiplier is the default exponential backoff multiplier
	DefaultMultiplier = 2.0
	// JitterModulus is used for random jitter calculation
	JitterModulus = 1000
)

// Sleeper waits for d or until ctx is done, returning ctx.Err() in the
// latter case
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the default Sleeper
func ContextSleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DefaultBackoffConfig returns base 1s, doubling per retry, capped at 30s,
// at most 5 retries and no jitter
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:   1 * time.Second,
		MaxRetries:  DefaultMaxRetries,
		MaxDelay:    DefaultMaxDelaySeconds * time.Second,
		Multiplier:  DefaultMultiplier,
		RetryOnFunc: DefaultRetryOnFunc,
	}
}

// Delay returns the wait before retry n (0-based): min(base*mult^n, max)
func (c BackoffConfig) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	delay := time.Duration(float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(n)))
	if c.MaxDelay > 0 && (delay > c.MaxDelay || delay < 0) {
		delay = c.MaxDelay
	}
	if c.Jitter {
		jitter := time.Duration(float64(delay) * 0.1 * (2*float64(time.Now().UnixNano()%JitterModulus)/JitterModulus - 1))
		delay += jitter
	}
	return delay
}

// Wait sleeps for retry n using the configured Sleeper
func (c BackoffConfig) Wait(ctx context.Context, n int) error {
	sleep := c.Sleep
	if sleep == nil {
		sleep = ContextSleep
	}
	return sleep(ctx, c.Delay(n))
}

// DefaultRetryOnFunc determines if an error should trigger a retry
func DefaultRetryOnFunc(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// RetryFunc is a function that can be retried with exponential backoff
type RetryFunc func(ctx context.Context) error

// WithExponentialBackoff executes a function with exponential backoff retry logic
func WithExponentialBackoff(ctx context.Context, logger *zap.Logger, config BackoffConfig, fn RetryFunc) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	retryOn := config.RetryOnFunc
	if retryOn == nil {
		retryOn = DefaultRetryOnFunc
	}

	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("Operation succeeded after retry",
					zap.Int("attempt", attempt+1),
					zap.Int("total_attempts", config.MaxRetries+1))
			}
			return nil
		}

		lastErr = err

		if !retryOn(err) {
			logger.Debug("Error is not retryable, stopping attempts",
				zap.Error(err),
				zap.Int("attempt", attempt+1))
			return err
		}

		// Don't sleep on the last attempt
		if attempt == config.MaxRetries {
			break
		}

		logger.Debug("Retrying after delay",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", config.Delay(attempt)),
			zap.Int("max_retries", config.MaxRetries))

		if err := config.Wait(ctx, attempt); err != nil {
			return err
		}
	}

	logger.Error("All retry attempts exhausted",
		zap.Error(lastErr),
		zap.Int("total_attempts", config.MaxRetries+1))

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxRetries+1, lastErr)
}
