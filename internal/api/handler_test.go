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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/call-insights/internal/health"
	"github.com/your-org/call-insights/internal/metrics"
	"github.com/your-org/call-insights/internal/pipeline"
	"github.com/your-org/call-insights/internal/records"
	"github.com/your-org/call-insights/internal/resilience"
	"github.com/your-org/call-insights/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeQuerier struct {
	last pipeline.Request
	err  error
}

func (f *fakeQuerier) Query(_ context.Context, req pipeline.Request) (*pipeline.Response, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Response{
		Response: "Six of ten calls were resolved.",
		Metadata: pipeline.Metadata{
			Model:      "gpt-4o",
			TokensUsed: 512,
			DataPoints: len(req.Records),
			QueryType:  "disposition",
		},
	}, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), store.Config{
		Driver: store.DriverSQLite,
		DSN:    ":memory:",
		Now:    func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC) },
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	var recs []records.RawRecord
	for i := 0; i < 30; i++ {
		agent := "alice"
		if i%3 == 0 {
			agent = "bob"
		}
		disposition := "Resolved"
		switch i % 5 {
		case 0:
			disposition = "Escalated"
		case 1:
			disposition = "Callback"
		}
		recs = append(recs, records.RawRecord{
			ID:                  fmt.Sprintf("call-%02d", i),
			Agent:               agent,
			QueueName:           "Support",
			Disposition:         disposition,
			InitiationTimestamp: time.Date(2024, 3, 1+i%14, 9, 0, 0, 0, time.UTC).Format(time.RFC3339),
			CallDuration:        records.RawJSON("120"),
		})
	}
	_, err = s.Insert(context.Background(), recs)
	require.NoError(t, err)
	return s
}

func newTestRouter(t *testing.T, querier Querier, records RecordStore) *gin.Engine {
	t.Helper()
	handler := NewAPIHandler(querier, records, resilience.NewErrorHandler(zap.NewNop()), zap.NewNop())
	manager := health.NewManager("call-insights", "test", "test", zap.NewNop())
	return NewRouter(handler, manager, metrics.New(nil), zap.NewNop())
}

func perform(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) resilience.ErrorResponse {
	t.Helper()
	var resp resilience.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestQueryCalls(t *testing.T) {
	querier := &fakeQuerier{}
	router := newTestRouter(t, querier, nil)

	w := perform(router, http.MethodPost, "/api/v1/query-calls",
		`{"query": "What are the dispositions?", "intentHint": "disposition", "records": [{"id": "a", "call_duration": {"minutes": 2}}, {"id": "b"}]}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	var resp pipeline.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Six of ten calls were resolved.", resp.Response)
	assert.Equal(t, "disposition", resp.Metadata.QueryType)
	assert.Equal(t, 2, resp.Metadata.DataPoints)

	assert.Equal(t, "What are the dispositions?", querier.last.Query)
	assert.Equal(t, "disposition", querier.last.IntentHint)
	require.Len(t, querier.last.Records, 2)
	assert.Equal(t, 120.0, records.Normalize(querier.last.Records[0]).DurationSeconds)
}

func TestQueryCallsFilters(t *testing.T) {
	querier := &fakeQuerier{}
	router := newTestRouter(t, querier, nil)

	w := perform(router, http.MethodPost, "/api/v1/query-calls",
		`{"query": "q", "filters": {"timeWindow": "dateRange", "from": "2024-03-01", "to": "2024-03-10", "agent": " alice ", "dispositions": ["Resolved", " Escalated ", ""], "withTranscript": true}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	filter := querier.last.Filter
	assert.Equal(t, store.WindowDateRange, filter.Window)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), filter.From)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), filter.To)
	assert.Equal(t, "alice", filter.Agent)
	assert.Equal(t, []string{"Resolved", "Escalated"}, filter.Dispositions)
	assert.True(t, filter.WithTranscript)
}

func TestQueryCallsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"query": `},
		{"records not an array", `{"query": "q", "records": "all"}`},
		{"unknown time window", `{"query": "q", "filters": {"timeWindow": "fortnight"}}`},
		{"bad date", `{"query": "q", "filters": {"timeWindow": "dateRange", "from": "03/01/2024"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, &fakeQuerier{}, nil)
			w := perform(router, http.MethodPost, "/api/v1/query-calls", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, string(resilience.ErrorCodeBadRequest), resp.Code)
			assert.NotEmpty(t, resp.RequestID)
			assert.NotEmpty(t, resp.Suggestions)
		})
	}
}

func TestQueryCallsErrorMapping(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   resilience.ErrorCode
	}{
		{"empty question", resilience.NewBadRequestError("Query is required", nil), http.StatusBadRequest, resilience.ErrorCodeBadRequest},
		{"insufficient data", resilience.NewInsufficientDataError("No calls", nil), http.StatusBadRequest, resilience.ErrorCodeInsufficientData},
		{"context too large", resilience.NewContextTooLargeError("Too much data", nil), http.StatusBadRequest, resilience.ErrorCodeContextTooLarge},
		{"upstream auth", resilience.NewUnauthorizedError("Bad key", nil), http.StatusUnauthorized, resilience.ErrorCodeUnauthorized},
		{"rate limited", resilience.NewTooManyRequestsError("Slow down", nil), http.StatusTooManyRequests, resilience.ErrorCodeTooManyRequests},
		{"storage timeout", resilience.NewTimeoutError("Timed out", context.DeadlineExceeded), http.StatusRequestTimeout, resilience.ErrorCodeTimeout},
		{"dependency failure", resilience.NewDependencyFailureError("Upstream broke", nil), http.StatusInternalServerError, resilience.ErrorCodeDependencyFailure},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, resilience.ErrorCodeInternalError},
		{"request deadline", fmt.Errorf("completion failed: %w", context.DeadlineExceeded), http.StatusInternalServerError, resilience.ErrorCodeDeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, &fakeQuerier{err: tt.err}, nil)
			w := perform(router, http.MethodPost, "/api/v1/query-calls", `{"query": "q"}`)

			assert.Equal(t, tt.expectedStatus, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, string(tt.expectedCode), resp.Code)
			assert.Equal(t, w.Header().Get(RequestIDHeader), resp.RequestID)
			assert.NotEmpty(t, resp.Error)
			assert.Empty(t, resp.Details, "internal details stay hidden outside debug mode")
		})
	}
}

func TestQueryCallsDebugDetails(t *testing.T) {
	querier := &fakeQuerier{err: resilience.NewInternalError("failed", errors.New("disk full"))}
	handler := NewAPIHandler(querier, nil, resilience.NewErrorHandler(zap.NewNop()).WithDebug(true), nil)
	router := NewRouter(handler, nil, nil, nil)

	w := perform(router, http.MethodPost, "/api/v1/query-calls", `{"query": "q"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "disk full", decodeError(t, w).Details)
}

func TestRequestIDIsReused(t *testing.T) {
	router := newTestRouter(t, &fakeQuerier{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/query-calls", strings.NewReader(`{"query": "q"}`))
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
}

func TestListCalls(t *testing.T) {
	router := newTestRouter(t, &fakeQuerier{}, newTestStore(t))

	w := perform(router, http.MethodGet, "/api/v1/calls?page=2&limit=10", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result store.ListResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Len(t, result.Data, 10)
	assert.Equal(t, store.Pagination{Page: 2, Limit: 10, Total: 30, TotalPages: 3, HasNext: true, HasPrev: true}, result.Pagination)

	w = perform(router, http.MethodGet, "/api/v1/calls?agent=bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 10, result.Pagination.Total)
	for _, rec := range result.Data {
		assert.Equal(t, "bob", rec.Agent)
	}
}

func TestListCallsBadParameters(t *testing.T) {
	router := newTestRouter(t, &fakeQuerier{}, newTestStore(t))

	for _, path := range []string{
		"/api/v1/calls?page=abc",
		"/api/v1/calls?timeWindow=forever",
		"/api/v1/calls?timeWindow=dateRange",
		"/api/v1/calls/count?from=yesterday",
	} {
		w := perform(router, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Equal(t, string(resilience.ErrorCodeBadRequest), decodeError(t, w).Code, path)
	}
}

func TestCountCalls(t *testing.T) {
	router := newTestRouter(t, &fakeQuerier{}, newTestStore(t))

	tests := []struct {
		query    string
		expected int
	}{
		{"", 30},
		{"?agent=alice", 20},
		{"?timeWindow=today", 0},
		{"?timeWindow=dateRange&from=2024-03-01&to=2024-03-02", 6},
		{"?disposition=Escalated", 6},
		{"?disposition=Escalated&disposition=Callback", 12},
		{"?agent=bob&disposition=Escalated", 2},
		{"?disposition=Unknown", 0},
	}
	for _, tt := range tests {
		w := perform(router, http.MethodGet, "/api/v1/calls/count"+tt.query, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp CountResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, tt.expected, resp.Count, tt.query)
	}
}

func TestFilterOptions(t *testing.T) {
	router := newTestRouter(t, &fakeQuerier{}, newTestStore(t))

	w := perform(router, http.MethodGet, "/api/v1/calls/filter-options", "")
	require.Equal(t, http.StatusOK, w.Code)

	var opts store.FilterOptions
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &opts))
	assert.Equal(t, []string{"alice", "bob"}, opts.Agents)
	assert.Equal(t, []string{"Callback", "Escalated", "Resolved"}, opts.Dispositions)
	assert.Equal(t, []string{"Support"}, opts.Queues)
}

func TestRecordRoutesNeedStore(t *testing.T) {
	router := newTestRouter(t, &fakeQuerier{}, nil)
	w := perform(router, http.MethodGet, "/api/v1/calls", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	resp := decodeError(t, w)
	assert.Equal(t, string(resilience.ErrorCodeNotFound), resp.Code)
	assert.Contains(t, resp.Diagnosis, "GET /api/v1/calls")
}

func TestUnknownRoute(t *testing.T) {
	router := newTestRouter(t, &fakeQuerier{}, newTestStore(t))

	w := perform(router, http.MethodGet, "/api/v1/agents", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	resp := decodeError(t, w)
	assert.Equal(t, string(resilience.ErrorCodeNotFound), resp.Code)
	assert.Equal(t, w.Header().Get(RequestIDHeader), resp.RequestID)
	assert.NotEmpty(t, resp.Suggestions)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	router := newTestRouter(t, &fakeQuerier{}, nil)

	w := perform(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	w = perform(router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
