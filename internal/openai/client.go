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

// Package openai invokes the chat completion service with rate-limit retry
// and a one-step model downgrade on context length errors.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/your-org/call-insights/internal/metrics"
	"github.com/your-org/call-insights/internal/resilience"
)

const (
	// DefaultModel is used when neither the request nor the config names one
	DefaultModel = "gpt-4o"
	// DefaultFallbackModel is tried once when the default model rejects a long context
	DefaultFallbackModel = "gpt-4o-mini"
	// DefaultMaxTokens bounds the generated answer
	DefaultMaxTokens = 1200
	// DefaultTemperature keeps answers close to the data
	DefaultTemperature = 0.2
)

// ChatAPI is the subset of the go-openai client used here
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config holds completion client settings
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	FallbackModel string
	MaxTokens     int
	Temperature   float32
	Backoff       resilience.BackoffConfig
	// RequestsPerSecond enables a client-side limiter when positive
	RequestsPerSecond float64
	Burst             int
}

// Client wraps the go-openai client with retry and fallback handling
type Client struct {
	api           ChatAPI
	logger        *zap.Logger
	model         string
	fallbackModel string
	maxTokens     int
	temperature   float32
	backoff       resilience.BackoffConfig
	limiter       *rate.Limiter
	metrics       *metrics.Metrics
}

// Option customizes a Client
type Option func(*Client)

// WithMetrics reports attempts, retries and downgrades to m
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithSleeper replaces the backoff sleeper, mainly for tests
func WithSleeper(s resilience.Sleeper) Option {
	return func(c *Client) {
		c.backoff.Sleep = s
	}
}

// NewClient creates a client against the OpenAI API or a compatible BaseURL
func NewClient(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	apiConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiConfig.BaseURL = cfg.BaseURL
	}
	return NewClientWithAPI(openai.NewClientWithConfig(apiConfig), cfg, logger, opts...), nil
}

// NewClientWithAPI creates a client around an existing ChatAPI
func NewClientWithAPI(api ChatAPI, cfg Config, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Backoff.BaseDelay <= 0 {
		sleep := cfg.Backoff.Sleep
		cfg.Backoff = resilience.DefaultBackoffConfig()
		cfg.Backoff.Sleep = sleep
	}

	c := &Client{
		api:           api,
		logger:        logger,
		model:         cfg.Model,
		fallbackModel: cfg.FallbackModel,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
		backoff:       cfg.Backoff,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger.Info("Completion client initialized",
		zap.String("model", c.model),
		zap.String("fallback_model", c.fallbackModel),
		zap.Int("max_retries", c.backoff.MaxRetries),
		zap.Bool("rate_limited", c.limiter != nil))
	return c
}

// Model returns the default model
func (c *Client) Model() string {
	return c.model
}

// ChatCompletionRequest represents a chat completion request
type ChatCompletionRequest struct {
	Messages    []openai.ChatCompletionMessage
	MaxTokens   int
	Temperature float32
	Model       string
}

// ChatCompletionResponse represents the response from a chat completion
type ChatCompletionResponse struct {
	Content      string
	FinishReason string
	Usage        openai.Usage
	// Model is the model that produced the answer, which differs from the
	// requested one after a downgrade
	Model      string
	Attempts   int
	Retries    int
	Downgraded bool
}

type failureKind int

const (
	failureOther failureKind = iota
	failureRateLimited
	failureContextLength
	failureUnauthorized
	failureBadRequest
	failureCanceled
)

// CreateChatCompletion runs the attempt loop. A 429 sleeps for
// backoff.Delay(n) and retries while n < MaxRetries. A context length 400
// retries once, immediately, on the fallback model. Anything else fails
// with a typed *resilience.ServiceError.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = c.temperature
	}

	retries := 0
	downgraded := false

	for attempt := 1; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		c.logger.Debug("Creating chat completion",
			zap.String("model", model),
			zap.Int("attempt", attempt),
			zap.Int("max_tokens", maxTokens),
			zap.Int("message_count", len(req.Messages)))

		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       model,
			Messages:    req.Messages,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		})
		if err == nil {
			if len(resp.Choices) == 0 {
				c.metrics.CompletionAttempt(model, "empty")
				return nil, resilience.NewDependencyFailureError("The completion service returned no answer",
					fmt.Errorf("no choices returned from OpenAI"))
			}
			c.metrics.CompletionAttempt(model, "success")
			c.logger.Debug("Chat completion successful",
				zap.String("model", model),
				zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
				zap.Int("total_tokens", resp.Usage.TotalTokens),
				zap.Int("attempts", attempt))
			return &ChatCompletionResponse{
				Content:      resp.Choices[0].Message.Content,
				FinishReason: string(resp.Choices[0].FinishReason),
				Usage:        resp.Usage,
				Model:        model,
				Attempts:     attempt,
				Retries:      retries,
				Downgraded:   downgraded,
			}, nil
		}

		kind := classify(err)
		switch kind {
		case failureRateLimited:
			c.metrics.CompletionAttempt(model, "rate_limited")
			if retries >= c.backoff.MaxRetries {
				c.logger.Error("Rate limit retries exhausted",
					zap.Int("retries", retries),
					zap.Error(err))
				return nil, resilience.NewTooManyRequestsError(
					"The completion service is rate limiting requests", err)
			}
			delay := c.backoff.Delay(retries)
			c.logger.Warn("Rate limited, retrying chat completion",
				zap.Int("retry", retries+1),
				zap.Duration("delay", delay))
			if err := c.backoff.Wait(ctx, retries); err != nil {
				return nil, err
			}
			retries++
			c.metrics.CompletionRetry()

		case failureContextLength:
			c.metrics.CompletionAttempt(model, "context_length")
			if !downgraded && c.fallbackModel != "" && model != c.fallbackModel {
				c.logger.Warn("Context too large, retrying on fallback model",
					zap.String("model", model),
					zap.String("fallback_model", c.fallbackModel))
				model = c.fallbackModel
				downgraded = true
				c.metrics.ModelDowngrade()
				continue
			}
			return nil, resilience.NewContextTooLargeError(
				"The question needs more call data than the model can read at once", err).
				WithDiagnosis("The assembled call data exceeded the model context window")

		case failureUnauthorized:
			c.metrics.CompletionAttempt(model, "unauthorized")
			c.logger.Error("Completion service rejected credentials", zap.Error(err))
			return nil, resilience.NewUnauthorizedError("The completion service rejected the API key", err)

		case failureBadRequest:
			c.metrics.CompletionAttempt(model, "bad_request")
			return nil, resilience.NewBadRequestError("The completion service rejected the request", err)

		case failureCanceled:
			return nil, err

		default:
			c.metrics.CompletionAttempt(model, "error")
			c.logger.Error("Chat completion failed", zap.Error(err))
			return nil, resilience.NewDependencyFailureError("The completion service failed to answer", err)
		}
	}
}

func classify(err error) failureKind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return failureCanceled
	}

	status := 0
	message := err.Error()
	code := ""

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		message = apiErr.Message
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch status {
	case http.StatusTooManyRequests:
		return failureRateLimited
	case http.StatusUnauthorized:
		return failureUnauthorized
	case http.StatusBadRequest:
		if isContextLengthError(code, message) {
			return failureContextLength
		}
		return failureBadRequest
	default:
		return failureOther
	}
}

func isContextLengthError(code, message string) bool {
	if code == "context_length_exceeded" {
		return true
	}
	lowered := strings.ToLower(message)
	return strings.Contains(lowered, "context length") ||
		strings.Contains(lowered, "context_length") ||
		strings.Contains(lowered, "maximum context") ||
		strings.Contains(lowered, "too many tokens")
}
