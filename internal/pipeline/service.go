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

// Package pipeline answers analytics questions about call records: classify
// the question, search transcripts and aggregate metrics, assemble a bounded
// context and ask the completion service.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/call-insights/internal/analytics"
	"github.com/your-org/call-insights/internal/cache"
	"github.com/your-org/call-insights/internal/classifier"
	"github.com/your-org/call-insights/internal/keywords"
	"github.com/your-org/call-insights/internal/metrics"
	"github.com/your-org/call-insights/internal/openai"
	"github.com/your-org/call-insights/internal/records"
	"github.com/your-org/call-insights/internal/resilience"
	"github.com/your-org/call-insights/internal/search"
	"github.com/your-org/call-insights/internal/store"
	"github.com/your-org/call-insights/internal/synth"
)

// Query outcomes reported to metrics
const (
	outcomeAnswered = "answered"
	outcomeCached   = "cached"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

// Completer is the completion call the pipeline depends on
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error)
}

// RecordSource supplies records when a request carries none
type RecordSource interface {
	FetchAll(ctx context.Context, f store.Filter) ([]records.RawRecord, bool, error)
}

// Options configures the pipeline stages
type Options struct {
	Classifier classifier.Options
	Keywords   keywords.Options
	Search     search.Options
	Analytics  analytics.Options
	Synth      synth.Options

	// MinTranscripts is the fewest transcribed calls a keyword search
	// will count over. Zero means DefaultMinTranscripts.
	MinTranscripts int
}

// DefaultMinTranscripts accepts any record set with a transcript
const DefaultMinTranscripts = 1

// Request is one question about a record set
type Request struct {
	Query string
	// Records are analysed as given. When empty the record source is
	// queried with Filter.
	Records    []records.RawRecord
	IntentHint string
	Filter     store.Filter
}

// KeywordSearchSummary reports transcript search totals
type KeywordSearchSummary struct {
	Terms                []string `json:"terms"`
	ExpandedVariants     int      `json:"expandedVariants"`
	TotalMatches         int      `json:"totalMatches"`
	MatchingCalls        int      `json:"matchingCalls"`
	CallsSearched        int      `json:"callsSearched"`
	CallsWithTranscripts int      `json:"callsWithTranscripts"`
	MatchPercentage      float64  `json:"matchPercentage"`
	PercentageOfTotal    float64  `json:"percentageOfTotal"`
}

// Metadata describes how an answer was produced
type Metadata struct {
	Model                string                `json:"model"`
	TokensUsed           int                   `json:"tokensUsed"`
	DataPoints           int                   `json:"dataPoints"`
	ProcessingTime       int64                 `json:"processingTime"`
	QueryType            string                `json:"queryType"`
	KeywordSearchSummary *KeywordSearchSummary `json:"keywordSearchSummary,omitempty"`
	Cached               bool                  `json:"cached"`
	ContextTruncated     bool                  `json:"contextTruncated"`
	// DataCapped is set when the record source held more records than one
	// question may fetch
	DataCapped bool   `json:"dataCapped,omitempty"`
	Domain     string `json:"domain,omitempty"`
}

// Response is the answer to a Request
type Response struct {
	Response string   `json:"response"`
	Metadata Metadata `json:"metadata"`
}

// Service runs the query pipeline
type Service struct {
	classifier    *classifier.QueryClassifier
	expander      *keywords.Expander
	engine        *search.Engine
	assembler     *synth.Assembler
	analyticsOpts analytics.Options
	minTranscript int
	completer     Completer
	source        RecordSource
	cache         cache.Cache
	metrics       *metrics.Metrics
	logger        *zap.Logger
	now           func() time.Time
}

// Option customizes a Service
type Option func(*Service)

// WithRecordSource lets requests without records fetch them
func WithRecordSource(source RecordSource) Option {
	return func(s *Service) {
		s.source = source
	}
}

// WithCache reuses answers for repeated questions over the same record set
func WithCache(c cache.Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithMetrics reports query outcomes to m
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock replaces time.Now for processing time measurement
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService builds the pipeline stages from opts
func NewService(opts Options, completer Completer, logger *zap.Logger, options ...Option) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if opts.Search == (search.Options{}) {
		opts.Search = search.DefaultOptions()
	}
	if opts.MinTranscripts <= 0 {
		opts.MinTranscripts = DefaultMinTranscripts
	}

	qc, err := classifier.NewQueryClassifier(opts.Classifier, logger.Named("classifier"))
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}
	expander, err := keywords.NewExpander(opts.Keywords, logger.Named("keywords"))
	if err != nil {
		return nil, fmt.Errorf("failed to create keyword expander: %w", err)
	}

	s := &Service{
		classifier:    qc,
		expander:      expander,
		engine:        search.NewEngine(opts.Search, logger.Named("search")),
		assembler:     synth.NewAssembler(opts.Synth, logger.Named("synth")),
		analyticsOpts: opts.Analytics,
		minTranscript: opts.MinTranscripts,
		completer:     completer,
		logger:        logger,
		now:           time.Now,
	}
	for _, o := range options {
		o(s)
	}
	return s, nil
}

// Query answers one question. Errors are *resilience.ServiceError values
// except for context cancellation.
func (s *Service) Query(ctx context.Context, req Request) (*Response, error) {
	start := s.now()
	question := strings.TrimSpace(req.Query)
	if question == "" {
		s.metrics.ObserveQuery(string(classifier.IntentGeneral), outcomeRejected, 0)
		return nil, resilience.NewBadRequestError("Query is required", nil).
			WithDiagnosis("The request did not include a question",
				"Type a question about the calls, for example \"What are the most common dispositions?\"",
				"Check that the request body has a non-empty query field")
	}

	raws, capped, err := s.loadRecords(ctx, req)
	if err != nil {
		s.metrics.ObserveQuery(string(classifier.IntentGeneral), outcomeFailed, s.now().Sub(start))
		return nil, err
	}

	intent := s.classifier.ApplyHint(s.classifier.Classify(question), req.IntentHint)
	calls := records.NormalizeAll(raws)
	calls = applyDomainFilter(calls, intent.Domain)

	if err := checkSufficient(intent, calls, len(raws), capped, s.minTranscript); err != nil {
		s.metrics.ObserveQuery(string(intent.Type), outcomeRejected, s.now().Sub(start))
		return nil, err
	}
	s.metrics.RecordsScanned(len(calls))

	s.logger.Info("Processing query",
		zap.String("intent", string(intent.Type)),
		zap.Bool("keyword_search", intent.IsKeywordSearch),
		zap.Int("terms", len(intent.Terms)),
		zap.Int("records", len(calls)),
		zap.Bool("records_supplied", len(req.Records) > 0))

	// search and aggregation are independent until assembly
	var (
		m      analytics.Metrics
		result *search.Result
		g      errgroup.Group
	)
	g.Go(func() error {
		m = analytics.Aggregate(calls, s.analyticsOpts)
		return nil
	})
	if intent.IsKeywordSearch {
		g.Go(func() error {
			r := s.engine.Search(calls, s.expander.ExpandAll(intent.Terms))
			result = &r
			return nil
		})
	}
	_ = g.Wait()

	doc, truncated := s.assembler.Assemble(intent, m, calls, result)
	if truncated {
		s.metrics.ContextTruncated()
	}

	metadata := Metadata{
		DataPoints:       len(calls),
		QueryType:        string(intent.Type),
		ContextTruncated: truncated,
		DataCapped:       capped,
	}
	if intent.Domain != nil {
		metadata.Domain = intent.Domain.Name
	}
	if result != nil {
		metadata.KeywordSearchSummary = summarize(result)
	}

	key := cache.Key(question, string(intent.Type), len(raws))
	if entry := s.lookup(ctx, key); entry != nil {
		metadata.Model = entry.Model
		metadata.TokensUsed = entry.TokensUsed
		metadata.Cached = true
		metadata.ProcessingTime = s.now().Sub(start).Milliseconds()
		s.metrics.ObserveQuery(string(intent.Type), outcomeCached, s.now().Sub(start))
		return &Response{Response: entry.Response, Metadata: metadata}, nil
	}

	completion, err := s.completer.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Messages: synth.BuildMessages(intent, doc),
	})
	if err != nil {
		s.metrics.ObserveQuery(string(intent.Type), outcomeFailed, s.now().Sub(start))
		return nil, err
	}

	metadata.Model = completion.Model
	metadata.TokensUsed = completion.Usage.TotalTokens
	s.store(ctx, key, &cache.Entry{
		Response:         completion.Content,
		Model:            completion.Model,
		TokensUsed:       completion.Usage.TotalTokens,
		QueryType:        string(intent.Type),
		ContextTruncated: truncated,
	})

	elapsed := s.now().Sub(start)
	metadata.ProcessingTime = elapsed.Milliseconds()
	s.metrics.ObserveQuery(string(intent.Type), outcomeAnswered, elapsed)

	s.logger.Info("Query answered",
		zap.String("intent", string(intent.Type)),
		zap.String("model", completion.Model),
		zap.Int("tokens_used", completion.Usage.TotalTokens),
		zap.Bool("downgraded", completion.Downgraded),
		zap.Int("retries", completion.Retries),
		zap.Duration("elapsed", elapsed))

	return &Response{Response: completion.Content, Metadata: metadata}, nil
}

func (s *Service) loadRecords(ctx context.Context, req Request) ([]records.RawRecord, bool, error) {
	if len(req.Records) > 0 {
		return req.Records, false, nil
	}
	if s.source == nil {
		return nil, false, nil
	}

	raws, capped, err := s.source.FetchAll(ctx, req.Filter)
	if err != nil {
		s.logger.Error("Failed to fetch records", zap.Error(err))
		return nil, false, err
	}
	return raws, capped, nil
}

func (s *Service) lookup(ctx context.Context, key string) *cache.Entry {
	if s.cache == nil {
		return nil
	}
	entry, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Response cache lookup failed", zap.Error(err))
		return nil
	}
	s.metrics.CacheLookup(ok)
	if !ok {
		return nil
	}
	return entry
}

func (s *Service) store(ctx context.Context, key string, entry *cache.Entry) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, entry); err != nil {
		s.logger.Warn("Failed to cache response", zap.Error(err))
	}
}

// applyDomainFilter keeps calls whose disposition contains the domain's
// configured text, case-insensitively
func applyDomainFilter(calls []records.Call, domain *classifier.DomainFilter) []records.Call {
	if domain == nil || domain.DispositionContains == "" {
		return calls
	}
	needle := strings.ToLower(domain.DispositionContains)
	filtered := make([]records.Call, 0, len(calls))
	for _, c := range calls {
		if strings.Contains(strings.ToLower(c.Disposition), needle) {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

func checkSufficient(intent classifier.Intent, calls []records.Call, supplied int, capped bool, minTranscripts int) error {
	if supplied == 0 {
		return resilience.NewInsufficientDataError("No call records are available for this question", nil).
			WithDiagnosis("The selected filters returned no calls")
	}
	if len(calls) == 0 {
		return resilience.NewInsufficientDataError(
			fmt.Sprintf("No calls match the %s filter", intent.Domain.Name), nil).
			WithDiagnosis(fmt.Sprintf("None of the %d calls has a disposition containing %q", supplied, intent.Domain.DispositionContains),
				"Widen the time range to include more calls",
				"Rephrase the question without the domain term")
	}
	if !intent.IsKeywordSearch {
		return nil
	}

	// match counts over a partial fetch would understate the totals
	if capped {
		return resilience.NewInsufficientDataError("Transcript search needs the complete record set", nil).
			WithDiagnosis(fmt.Sprintf("Only the first %d matching calls could be loaded, so mention counts would be incomplete", supplied),
				"Narrow the time range so every call can be searched",
				"Filter by agent or disposition to reduce the record set")
	}

	transcribed := 0
	for _, c := range calls {
		if c.HasTranscript() {
			transcribed++
		}
	}
	if transcribed >= minTranscripts {
		return nil
	}
	diagnosis := fmt.Sprintf("None of the %d calls has a transcript", len(calls))
	if transcribed > 0 {
		diagnosis = fmt.Sprintf("Only %d of the %d calls have transcripts; at least %d are needed for reliable counts",
			transcribed, len(calls), minTranscripts)
	}
	return resilience.NewInsufficientDataError("Transcript search needs calls with transcripts", nil).
		WithDiagnosis(diagnosis,
			"Load the full record set instead of a sample",
			"Widen the time range to include transcribed calls",
			"Ask about dispositions or durations instead")
}

func summarize(r *search.Result) *KeywordSearchSummary {
	return &KeywordSearchSummary{
		Terms:                r.Terms(),
		ExpandedVariants:     r.VariantCount(),
		TotalMatches:         r.TotalMatches,
		MatchingCalls:        r.MatchingRecords,
		CallsSearched:        r.RecordsSearched,
		CallsWithTranscripts: r.RecordsWithTranscripts,
		MatchPercentage:      r.MatchPercentage,
		PercentageOfTotal:    r.PercentageOfTotal,
	}
}
