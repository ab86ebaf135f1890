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

// Package metrics exposes Prometheus instrumentation for the query pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "call_insights"

// Metrics holds the pipeline collectors
type Metrics struct {
	registry           *prometheus.Registry
	queries            *prometheus.CounterVec
	queryDuration      *prometheus.HistogramVec
	completionAttempts *prometheus.CounterVec
	completionRetries  prometheus.Counter
	modelDowngrades    prometheus.Counter
	cacheLookups       *prometheus.CounterVec
	truncations        prometheus.Counter
	recordsScanned     prometheus.Histogram
}

// New registers the pipeline collectors on reg, or on a fresh registry
// when reg is nil
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: reg,
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Questions answered by intent and outcome",
		}, []string{"intent", "outcome"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End to end query pipeline duration by intent",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"intent"}),
		completionAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_attempts_total",
			Help:      "Completion service calls by model and result",
		}, []string{"model", "result"}),
		completionRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_retries_total",
			Help:      "Completion calls retried after rate limiting",
		}),
		modelDowngrades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_model_downgrades_total",
			Help:      "Completion calls retried on the fallback model after a context length error",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_cache_lookups_total",
			Help:      "Response cache lookups by result",
		}, []string{"result"}),
		truncations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_truncations_total",
			Help:      "Context documents cut to the token budget",
		}),
		recordsScanned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "records_scanned",
			Help:      "Records examined per question",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
		}),
	}

	reg.MustRegister(
		m.queries,
		m.queryDuration,
		m.completionAttempts,
		m.completionRetries,
		m.modelDowngrades,
		m.cacheLookups,
		m.truncations,
		m.recordsScanned,
	)
	return m
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveQuery records one finished question
func (m *Metrics) ObserveQuery(intent, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(intent, outcome).Inc()
	m.queryDuration.WithLabelValues(intent).Observe(d.Seconds())
}

// CompletionAttempt records one call to the completion service
func (m *Metrics) CompletionAttempt(model, result string) {
	if m == nil {
		return
	}
	m.completionAttempts.WithLabelValues(model, result).Inc()
}

// CompletionRetry records a rate-limit retry
func (m *Metrics) CompletionRetry() {
	if m == nil {
		return
	}
	m.completionRetries.Inc()
}

// ModelDowngrade records a switch to the fallback model
func (m *Metrics) ModelDowngrade() {
	if m == nil {
		return
	}
	m.modelDowngrades.Inc()
}

// CacheLookup records a response cache hit or miss
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ContextTruncated records a truncated context document
func (m *Metrics) ContextTruncated() {
	if m == nil {
		return
	}
	m.truncations.Inc()
}

// RecordsScanned records how many records a question examined
func (m *Metrics) RecordsScanned(n int) {
	if m == nil {
		return
	}
	m.recordsScanned.Observe(float64(n))
}
