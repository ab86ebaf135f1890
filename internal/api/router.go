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

package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/your-org/call-insights/internal/health"
	"github.com/your-org/call-insights/internal/metrics"
)

// NewRouter assembles the service routes: the API group, /health and
// /metrics
func NewRouter(handler *APIHandler, healthManager *health.Manager, m *metrics.Metrics, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), RequestLogger(logger))

	if healthManager != nil {
		router.GET("/health", gin.WrapH(healthManager.HTTPHandler()))
	}
	router.GET("/metrics", gin.WrapH(m.Handler()))

	handler.RegisterRoutes(router)
	return router
}
