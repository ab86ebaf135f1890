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

// Package api exposes the query pipeline and the record store over HTTP
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/call-insights/internal/pipeline"
	"github.com/your-org/call-insights/internal/records"
	"github.com/your-org/call-insights/internal/resilience"
	"github.com/your-org/call-insights/internal/store"
)

const (
	// RequestIDHeader carries the request id in both directions
	RequestIDHeader = "X-Request-ID"
	// DefaultRequestTimeout bounds one question end to end
	DefaultRequestTimeout = 2 * time.Minute

	requestIDKey = "request_id"
	dateLayout   = "2006-01-02"
)

// Querier answers questions
type Querier interface {
	Query(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
}

// RecordStore serves record listings
type RecordStore interface {
	List(ctx context.Context, f store.Filter, p store.Page) (*store.ListResult, error)
	Count(ctx context.Context, f store.Filter) (int, error)
	FilterOptions(ctx context.Context) (*store.FilterOptions, error)
}

// APIHandler handles the query and record endpoints
type APIHandler struct {
	querier        Querier
	records        RecordStore
	errors         *resilience.ErrorHandler
	logger         *zap.Logger
	requestTimeout time.Duration
}

// NewAPIHandler creates a handler. records may be nil, in which case the
// record listing routes are not registered.
func NewAPIHandler(querier Querier, records RecordStore, errors *resilience.ErrorHandler, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if errors == nil {
		errors = resilience.NewErrorHandler(logger)
	}
	return &APIHandler{
		querier:        querier,
		records:        records,
		errors:         errors,
		logger:         logger,
		requestTimeout: DefaultRequestTimeout,
	}
}

// SetRequestTimeout bounds each query request
func (h *APIHandler) SetRequestTimeout(timeout time.Duration) {
	if timeout > 0 {
		h.requestTimeout = timeout
	}
}

// RegisterRoutes registers the API routes with the Gin router
func (h *APIHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/query-calls", h.queryCalls)
		if h.records != nil {
			api.GET("/calls", h.listCalls)
			api.GET("/calls/count", h.countCalls)
			api.GET("/calls/filter-options", h.filterOptions)
		}
	}
	router.NoRoute(h.notFound)
}

// notFound answers unknown routes, including the record routes when no
// record store is configured
func (h *APIHandler) notFound(c *gin.Context) {
	h.writeError(c, resilience.NewNotFoundError("Route not found", nil).
		WithDiagnosis(fmt.Sprintf("No route matches %s %s", c.Request.Method, c.Request.URL.Path),
			"Check the request path and method",
			"Record routes need a configured record store"), "not-found")
}

// FilterRequest is the wire form of store.Filter. Dates are YYYY-MM-DD or
// RFC 3339. Dispositions arrive as a JSON array or as repeated disposition
// query parameters.
type FilterRequest struct {
	TimeWindow     string   `json:"timeWindow" form:"timeWindow"`
	From           string   `json:"from" form:"from"`
	To             string   `json:"to" form:"to"`
	Agent          string   `json:"agent" form:"agent"`
	Dispositions   []string `json:"dispositions" form:"disposition"`
	Queue          string   `json:"queue" form:"queue"`
	WithTranscript bool     `json:"withTranscript" form:"withTranscript"`
}

// QueryRequest is the body of POST /api/v1/query-calls
type QueryRequest struct {
	Query      string              `json:"query"`
	Records    []records.RawRecord `json:"records,omitempty"`
	IntentHint string              `json:"intentHint,omitempty"`
	Filters    *FilterRequest      `json:"filters,omitempty"`
}

type pageQuery struct {
	Page  int `form:"page"`
	Limit int `form:"limit"`
}

// CountResponse is the body of GET /api/v1/calls/count
type CountResponse struct {
	Count int `json:"count"`
}

// ToFilter validates the request and converts it to a store filter
func (f FilterRequest) ToFilter() (store.Filter, error) {
	window, err := store.ParseTimeWindow(f.TimeWindow)
	if err != nil {
		return store.Filter{}, err
	}
	filter := store.Filter{
		Window:         window,
		Agent:          strings.TrimSpace(f.Agent),
		Dispositions:   trimAll(f.Dispositions),
		Queue:          strings.TrimSpace(f.Queue),
		WithTranscript: f.WithTranscript,
	}
	if filter.From, err = parseDate(f.From); err != nil {
		return store.Filter{}, fmt.Errorf("invalid from date: %w", err)
	}
	if filter.To, err = parseDate(f.To); err != nil {
		return store.Filter{}, fmt.Errorf("invalid to date: %w", err)
	}
	return filter, nil
}

func trimAll(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// queryCalls handles POST /api/v1/query-calls
func (h *APIHandler) queryCalls(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, resilience.NewBadRequestError("Invalid request format", err).
			WithDiagnosis("The request body is not valid JSON for a query",
				"Send a JSON object with a query field",
				"Check that records is an array of call records"), "query-calls")
		return
	}

	var filter store.Filter
	if req.Filters != nil {
		var err error
		if filter, err = req.Filters.ToFilter(); err != nil {
			h.writeError(c, resilience.NewBadRequestError(err.Error(), err), "query-calls")
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.requestTimeout)
	defer cancel()

	h.logger.Info("Query request received",
		zap.String("request_id", requestID(c)),
		zap.String("client_ip", c.ClientIP()),
		zap.Int("records", len(req.Records)),
		zap.String("intent_hint", req.IntentHint))

	resp, err := h.querier.Query(ctx, pipeline.Request{
		Query:      req.Query,
		Records:    req.Records,
		IntentHint: req.IntentHint,
		Filter:     filter,
	})
	if err != nil {
		h.writeError(c, err, "query-calls")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// listCalls handles GET /api/v1/calls
func (h *APIHandler) listCalls(c *gin.Context) {
	filter, ok := h.bindFilter(c, "list-calls")
	if !ok {
		return
	}
	var page pageQuery
	if err := c.ShouldBindQuery(&page); err != nil {
		h.writeError(c, resilience.NewBadRequestError("page and limit must be numbers", err), "list-calls")
		return
	}

	result, err := h.records.List(c.Request.Context(), filter, store.Page{Page: page.Page, Limit: page.Limit})
	if err != nil {
		h.writeError(c, err, "list-calls")
		return
	}
	c.JSON(http.StatusOK, result)
}

// countCalls handles GET /api/v1/calls/count
func (h *APIHandler) countCalls(c *gin.Context) {
	filter, ok := h.bindFilter(c, "count-calls")
	if !ok {
		return
	}

	count, err := h.records.Count(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err, "count-calls")
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: count})
}

// filterOptions handles GET /api/v1/calls/filter-options
func (h *APIHandler) filterOptions(c *gin.Context) {
	opts, err := h.records.FilterOptions(c.Request.Context())
	if err != nil {
		h.writeError(c, err, "filter-options")
		return
	}
	c.JSON(http.StatusOK, opts)
}

func (h *APIHandler) bindFilter(c *gin.Context, operation string) (store.Filter, bool) {
	var req FilterRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.writeError(c, resilience.NewBadRequestError("Invalid filter parameters", err), operation)
		return store.Filter{}, false
	}
	filter, err := req.ToFilter()
	if err != nil {
		h.writeError(c, resilience.NewBadRequestError(err.Error(), err), operation)
		return store.Filter{}, false
	}
	return filter, true
}

func (h *APIHandler) writeError(c *gin.Context, err error, operation string) {
	id := requestID(c)
	h.errors.LogError(err, operation, zap.String("request_id", id))
	status, body := h.errors.Response(err, id)
	c.AbortWithStatusJSON(status, body)
}

// RequestID tags each request with an id, reusing the caller's when sent
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// RequestLogger logs each request once it completes
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("Request completed",
			zap.String("request_id", requestID(c)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
