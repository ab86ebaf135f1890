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

// Package main provides the call insights HTTP service. It answers
// analytics questions about call records and serves record listings.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/your-org/call-insights/internal/api"
	"github.com/your-org/call-insights/internal/app"
	"github.com/your-org/call-insights/internal/config"
	"github.com/your-org/call-insights/internal/resilience"
)

const (
	// ServiceVersion is reported by the health endpoint
	ServiceVersion = "1.0.0"
	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout = 15 * time.Second
	// InitTimeout bounds dependency initialization
	InitTimeout = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// Load configuration first to get logging settings
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Logging.BuildLogger("call-insights")
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// Log configuration with masked sensitive values
	masked := cfg.MaskSensitiveValues()
	logger.Info("Configuration loaded successfully",
		zap.String("environment", os.Getenv("ENVIRONMENT")),
		zap.String("database_driver", masked.Database.Driver),
		zap.String("database_dsn", masked.Database.DSN),
		zap.String("cache_backend", masked.Cache.Backend),
		zap.String("openai_endpoint", masked.OpenAI.Endpoint),
		zap.String("openai_model", masked.OpenAI.Model),
		zap.String("openai_fallback_model", masked.OpenAI.FallbackModel),
		zap.String("openai_api_key", masked.OpenAI.APIKey),
		zap.Int("token_budget", masked.Pipeline.TokenBudget),
	)

	initCtx, cancel := context.WithTimeout(context.Background(), InitTimeout)
	deps, err := app.New(initCtx, cfg, ServiceVersion, logger)
	cancel()
	if err != nil {
		logger.Fatal("Failed to initialize dependencies", zap.Error(err))
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("Failed to close dependencies", zap.Error(err))
		}
	}()

	if *configPath != "" || os.Getenv("CONFIG_PATH") != "" {
		if err := config.WatchConfig(*configPath, logger, func(updated *config.Config) {
			logger.Info("Configuration changed; restart the service to apply pipeline settings",
				zap.String("log_level", updated.Logging.Level),
				zap.Int("token_budget", updated.Pipeline.TokenBudget))
		}); err != nil {
			logger.Warn("Config hot reload disabled", zap.Error(err))
		}
	}

	// Set Gin mode based on log level
	if cfg.Server.Debug || cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	errorHandler := resilience.NewErrorHandler(logger).WithDebug(cfg.Server.Debug)
	handler := api.NewAPIHandler(deps.Pipeline, deps.Store, errorHandler, logger.Named("api"))
	handler.SetRequestTimeout(cfg.Server.RequestTimeout)
	router := api.NewRouter(handler, deps.Health, deps.Metrics, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("Starting call insights service",
			zap.Int("port", cfg.Server.Port),
			zap.String("database_driver", cfg.Database.Driver),
			zap.String("cache_backend", cfg.Cache.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
}
