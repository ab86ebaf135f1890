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
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds operations that do not configure their own timeout
const DefaultTimeout = 30 * time.Second

// TimeoutFunc is a function that can be executed with a timeout
type TimeoutFunc func(ctx context.Context) error

// WithTimeout runs fn under a derived deadline. When the deadline passes
// first it returns a TIMEOUT ServiceError; fn keeps its context and is
// expected to return promptly once that context is done.
func WithTimeout(ctx context.Context, timeout time.Duration, logger *zap.Logger, fn TimeoutFunc) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(timeoutCtx)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			logger.Warn("Operation timed out",
				zap.Duration("timeout", timeout),
				zap.Error(err))
			return NewTimeoutError("Operation timed out", err)
		}
		return err
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("Operation timed out",
			zap.Duration("timeout", timeout),
			zap.Error(timeoutCtx.Err()))
		return NewTimeoutError("Operation timed out", timeoutCtx.Err())
	}
}

// IsTimeout reports whether err is a TIMEOUT ServiceError
func IsTimeout(err error) bool {
	var serviceErr *ServiceError
	return AsServiceError(err, &serviceErr) && serviceErr.Code == ErrorCodeTimeout
}
