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

// Package app wires configuration into the service dependencies shared by
// the server and the CLI
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/your-org/call-insights/internal/analytics"
	"github.com/your-org/call-insights/internal/cache"
	"github.com/your-org/call-insights/internal/classifier"
	"github.com/your-org/call-insights/internal/config"
	"github.com/your-org/call-insights/internal/health"
	"github.com/your-org/call-insights/internal/keywords"
	"github.com/your-org/call-insights/internal/metrics"
	"github.com/your-org/call-insights/internal/openai"
	"github.com/your-org/call-insights/internal/pipeline"
	"github.com/your-org/call-insights/internal/resilience"
	"github.com/your-org/call-insights/internal/search"
	"github.com/your-org/call-insights/internal/store"
	"github.com/your-org/call-insights/internal/synth"
)

// Cache backends
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// App holds initialized service dependencies
type App struct {
	Config     *config.Config
	Store      *store.Store
	Cache      cache.Cache
	Completion *openai.Client
	Pipeline   *pipeline.Service
	Metrics    *metrics.Metrics
	Health     *health.Manager
	logger     *zap.Logger
	closers    []func() error
}

// New initializes the store, cache, completion client and pipeline
func New(ctx context.Context, cfg *config.Config, version string, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Initializing service dependencies")

	a := &App{
		Config:  cfg,
		Metrics: metrics.New(nil),
		logger:  logger,
	}

	recordStore, err := store.Open(ctx, StoreConfig(cfg.Database), logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize record store: %w", err)
	}
	a.Store = recordStore
	a.closers = append(a.closers, recordStore.Close)

	responseCache, cachePing, err := NewCache(ctx, cfg.Cache, logger.Named("cache"))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to initialize response cache: %w", err)
	}
	a.Cache = responseCache
	if closer, ok := responseCache.(interface{ Close() error }); ok {
		a.closers = append(a.closers, closer.Close)
	}

	client, err := openai.NewClient(CompletionConfig(cfg.OpenAI), logger.Named("openai"), openai.WithMetrics(a.Metrics))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to initialize completion client: %w", err)
	}
	a.Completion = client

	options := []pipeline.Option{
		pipeline.WithRecordSource(recordStore),
		pipeline.WithMetrics(a.Metrics),
	}
	if responseCache != nil {
		options = append(options, pipeline.WithCache(responseCache))
	}
	service, err := pipeline.NewService(PipelineOptions(cfg.Pipeline), client, logger.Named("pipeline"), options...)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to initialize query pipeline: %w", err)
	}
	a.Pipeline = service

	a.Health = health.NewManager("call-insights", version, "", logger)
	a.Health.AddChecker("store", health.StoreChecker(recordStore.Driver(), recordStore.Ping))
	a.Health.AddChecker("cache", health.CacheChecker(cfg.Cache.Backend, cachePing))
	a.Health.AddChecker("completion", health.CompletionChecker(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.FallbackModel))

	return a, nil
}

// Close releases the store and cache connections
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewCache builds the configured response cache. The returned cache is nil
// for the "none" backend; the ping is nil unless the backend is remote.
func NewCache(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) (cache.Cache, func(context.Context) error, error) {
	switch cfg.Backend {
	case "", CacheMemory:
		return cache.NewMemoryCache(cfg.TTL, cfg.MaxEntries, nil), nil, nil
	case CacheRedis:
		redisCache, err := cache.NewRedisCache(ctx, cfg.RedisURL, cfg.TTL, logger)
		if err != nil {
			return nil, nil, err
		}
		return redisCache, redisCache.Ping, nil
	case CacheNone:
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// StoreConfig maps database settings to the record store
func StoreConfig(cfg config.DatabaseConfig) store.Config {
	return store.Config{
		Driver:         cfg.Driver,
		DSN:            cfg.DSN,
		QueryTimeout:   cfg.QueryTimeout,
		MaxPageSize:    cfg.MaxPageSize,
		BatchSize:      cfg.BatchSize,
		MaxBatches:     cfg.MaxBatches,
		ConnectRetries: 3,
	}
}

// CompletionConfig maps OpenAI settings to the completion client
func CompletionConfig(cfg config.OpenAIConfig) openai.Config {
	backoff := resilience.DefaultBackoffConfig()
	if cfg.BaseDelay > 0 {
		backoff.BaseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		backoff.MaxDelay = cfg.MaxDelay
	}
	backoff.MaxRetries = cfg.MaxRetries

	return openai.Config{
		APIKey:            cfg.APIKey,
		BaseURL:           cfg.Endpoint,
		Model:             cfg.Model,
		FallbackModel:     cfg.FallbackModel,
		MaxTokens:         cfg.MaxTokens,
		Temperature:       float32(cfg.Temperature),
		Backoff:           backoff,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}
}

// PipelineOptions maps pipeline settings to the stage options
func PipelineOptions(cfg config.PipelineConfig) pipeline.Options {
	domains := make([]classifier.DomainConfig, 0, len(cfg.Domains))
	for _, d := range cfg.Domains {
		domains = append(domains, classifier.DomainConfig{
			Name:                d.Name,
			Patterns:            d.Patterns,
			Keywords:            d.Keywords,
			DispositionContains: d.DispositionContains,
			KeywordSearch:       d.KeywordSearch,
		})
	}

	patterns := make([]keywords.StructuredPattern, 0, len(cfg.StructuredPatterns))
	for _, p := range cfg.StructuredPatterns {
		patterns = append(patterns, keywords.StructuredPattern{
			Name:      p.Name,
			Pattern:   p.Pattern,
			Templates: p.Templates,
		})
	}

	// an empty table keeps the built-in synonyms
	var synonyms map[string][]string
	if len(cfg.Synonyms) > 0 {
		synonyms = cfg.Synonyms
	}

	synthOpts := synth.DefaultOptions()
	if cfg.TokenBudget > 0 {
		synthOpts.TokenBudget = cfg.TokenBudget
	}
	if cfg.MaxKeywordMatches > 0 {
		synthOpts.MaxKeywordMatches = cfg.MaxKeywordMatches
	}
	if cfg.ExampleCount > 0 {
		synthOpts.ExampleCount = cfg.ExampleCount
	}

	return pipeline.Options{
		Classifier: classifier.Options{
			Domains:    domains,
			Vocabulary: cfg.Vocabulary,
			MaxTerms:   cfg.MaxTerms,
		},
		Keywords: keywords.Options{
			Synonyms: synonyms,
			Patterns: patterns,
		},
		Search: search.DefaultOptions(),
		Analytics: analytics.Options{
			LongCallSeconds:  cfg.LongCallSeconds,
			ShortCallSeconds: cfg.ShortCallSeconds,
			HighHoldSeconds:  cfg.HighHoldSeconds,
		},
		Synth:          synthOpts,
		MinTranscripts: cfg.MinTranscripts,
	}
}
