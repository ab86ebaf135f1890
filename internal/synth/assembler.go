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

// Package synth renders classified questions, metrics and search results
// into the bounded context document sent to the completion service.
package synth

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/your-org/call-insights/internal/analytics"
	"github.com/your-org/call-insights/internal/classifier"
	"github.com/your-org/call-insights/internal/keywords"
	"github.com/your-org/call-insights/internal/records"
	"github.com/your-org/call-insights/internal/search"
)

// Assembler defaults
const (
	DefaultTokenBudget       = 6000
	DefaultMaxKeywordMatches = 10
	DefaultExpansionPreview  = 30
	DefaultLeaderboardSize   = 10
)

// Options configures an Assembler
type Options struct {
	TokenBudget       int
	MaxKeywordMatches int
	ExpansionPreview  int
	LeaderboardSize   int
	ExampleCount      int
	ExcerptChars      int
}

// DefaultOptions returns the standard assembler settings
func DefaultOptions() Options {
	return Options{
		TokenBudget:       DefaultTokenBudget,
		MaxKeywordMatches: DefaultMaxKeywordMatches,
		ExpansionPreview:  DefaultExpansionPreview,
		LeaderboardSize:   DefaultLeaderboardSize,
		ExampleCount:      DefaultExampleCount,
		ExcerptChars:      DefaultExcerptChars,
	}
}

// Assembler builds context documents
type Assembler struct {
	opts     Options
	selector *Selector
	logger   *zap.Logger
}

// NewAssembler creates an assembler, filling unset options with defaults
func NewAssembler(opts Options, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultOptions()
	if opts.TokenBudget <= 0 {
		opts.TokenBudget = defaults.TokenBudget
	}
	if opts.MaxKeywordMatches <= 0 {
		opts.MaxKeywordMatches = defaults.MaxKeywordMatches
	}
	if opts.ExpansionPreview <= 0 {
		opts.ExpansionPreview = defaults.ExpansionPreview
	}
	if opts.LeaderboardSize <= 0 {
		opts.LeaderboardSize = defaults.LeaderboardSize
	}
	return &Assembler{
		opts:     opts,
		selector: NewSelector(opts.ExampleCount, opts.ExcerptChars),
		logger:   logger,
	}
}

// TokenBudget returns the configured budget
func (a *Assembler) TokenBudget() int {
	return a.opts.TokenBudget
}

// Assemble renders the context document: summary header, then either the
// keyword search section or the intent-specific section, with transcript
// examples in between. result may be nil for non-search intents. The bool
// reports whether the document was truncated to the token budget.
func (a *Assembler) Assemble(intent classifier.Intent, m analytics.Metrics, calls []records.Call, result *search.Result) (string, bool) {
	var b strings.Builder

	a.writeHeader(&b, intent, m)

	var expansions []keywords.Expansion
	exampleSource := calls
	if intent.IsKeywordSearch && result != nil {
		a.writeKeywordSection(&b, intent, result)
		expansions = result.Expansions
		exampleSource = matchedCalls(result)
	}

	a.writeExamples(&b, a.selector.Select(intent, exampleSource, expansions))

	if !intent.IsKeywordSearch {
		a.writeIntentSection(&b, intent.Type, m)
	}

	doc, truncated := TruncateToTokenLimit(b.String(), a.opts.TokenBudget)
	if truncated {
		a.logger.Warn("Context truncated to token budget",
			zap.Int("token_budget", a.opts.TokenBudget),
			zap.Int("estimated_tokens", EstimateTokens(b.String())))
	}
	a.logger.Debug("Context assembled",
		zap.String("intent", string(intent.Type)),
		zap.Bool("keyword_search", intent.IsKeywordSearch),
		zap.Int("estimated_tokens", EstimateTokens(doc)),
		zap.Bool("truncated", truncated))

	return doc, truncated
}

func (a *Assembler) writeHeader(b *strings.Builder, intent classifier.Intent, m analytics.Metrics) {
	b.WriteString("CALL DATA SUMMARY\n")
	fmt.Fprintf(b, "Total calls: %d\n", m.TotalCalls)
	fmt.Fprintf(b, "Calls with transcripts: %d\n", m.CallsWithTranscripts)
	fmt.Fprintf(b, "Average call duration: %s\n", FormatDuration(m.AvgDurationSeconds))
	fmt.Fprintf(b, "Average hold time: %s\n", FormatDuration(m.AvgHoldSeconds))
	if intent.Domain != nil {
		fmt.Fprintf(b, "Filter: %s", intent.Domain.Name)
		if intent.Domain.DispositionContains != "" {
			fmt.Fprintf(b, " (disposition contains %q)", intent.Domain.DispositionContains)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func (a *Assembler) writeKeywordSection(b *strings.Builder, intent classifier.Intent, r *search.Result) {
	b.WriteString("KEYWORD SEARCH RESULTS\n")
	if len(intent.Terms) == 0 {
		b.WriteString("No searchable terms could be extracted from the question.\n")
	} else {
		quoted := make([]string, len(intent.Terms))
		for i, t := range intent.Terms {
			quoted[i] = fmt.Sprintf("%q", t)
		}
		fmt.Fprintf(b, "Search terms: %s\n", strings.Join(quoted, ", "))
	}

	var all []string
	for _, exp := range r.Expansions {
		all = append(all, exp.Variants...)
	}
	if len(all) > 0 {
		preview := all
		if len(preview) > a.opts.ExpansionPreview {
			preview = preview[:a.opts.ExpansionPreview]
		}
		fmt.Fprintf(b, "Variants searched (%d): %s", len(all), strings.Join(preview, ", "))
		if extra := len(all) - len(preview); extra > 0 {
			fmt.Fprintf(b, " (+%d more)", extra)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(b, "Total keyword matches: %d\n", r.TotalMatches)
	fmt.Fprintf(b, "Matching calls: %d of %d searched (%d with transcripts)\n",
		r.MatchingRecords, r.RecordsSearched, r.RecordsWithTranscripts)
	fmt.Fprintf(b, "Percentage of all calls: %.1f%%\n", r.PercentageOfTotal)
	fmt.Fprintf(b, "Percentage of calls with transcripts: %.1f%%\n", r.MatchPercentage)

	if len(r.Matches) > 0 {
		b.WriteString("\nTop matching calls:\n")
		for i, match := range r.Matches {
			if i >= a.opts.MaxKeywordMatches {
				break
			}
			c := match.Call
			fmt.Fprintf(b, "%d. Call %s | Agent: %s | Disposition: %s | Sentiment: %s | Matches: %d | Variants: %s\n",
				i+1, orUnknown(match.CallID), orUnknown(c.Agent), orUnknown(c.Disposition), orUnknown(c.Sentiment),
				match.MatchCount, strings.Join(match.MatchedVariants, ", "))
			for _, s := range match.Snippets {
				fmt.Fprintf(b, "   - %s\n", s)
			}
		}
	}
	b.WriteString("\n")
}

func (a *Assembler) writeExamples(b *strings.Builder, examples []Example) {
	if len(examples) == 0 {
		return
	}
	b.WriteString("TRANSCRIPT EXAMPLES\n")
	for i, ex := range examples {
		c := ex.Call
		fmt.Fprintf(b, "Example %d (call %s, agent %s, %s, %s):\n%s\n\n",
			i+1, orUnknown(c.ID), orUnknown(c.Agent), orUnknown(c.Disposition), orUnknown(c.Sentiment), ex.Excerpt)
	}
}

func (a *Assembler) writeIntentSection(b *strings.Builder, intent classifier.IntentType, m analytics.Metrics) {
	switch intent {
	case classifier.IntentDisposition:
		writeBreakdown(b, "DISPOSITION BREAKDOWN", m.Dispositions)
	case classifier.IntentSentiment:
		writeBreakdown(b, "SENTIMENT BREAKDOWN", m.Sentiments)
	case classifier.IntentAgentPerformance:
		writeGroups(b, "AGENT PERFORMANCE", m.Agents, a.opts.LeaderboardSize)
	case classifier.IntentQueueAnalysis:
		writeGroups(b, "QUEUE ANALYSIS", m.Queues, a.opts.LeaderboardSize)
	case classifier.IntentTiming:
		writeTiming(b, m)
		writeHourly(b, m)
	case classifier.IntentTrends:
		writeDaily(b, m)
		writeBreakdown(b, "SENTIMENT BREAKDOWN", m.Sentiments)
	default:
		writeBreakdown(b, "DISPOSITION BREAKDOWN", m.Dispositions)
		writeBreakdown(b, "SENTIMENT BREAKDOWN", m.Sentiments)
		writeGroups(b, "TOP AGENTS", m.Agents, 5)
		writeGroups(b, "TOP QUEUES", m.Queues, 5)
		writeTiming(b, m)
	}
}

func writeBreakdown(b *strings.Builder, title string, breakdown map[string]analytics.Breakdown) {
	b.WriteString(title + "\n")
	for _, entry := range analytics.Ranked(breakdown) {
		fmt.Fprintf(b, "- %s: %d (%.1f%%)\n", entry.Label, entry.Count, entry.Percentage)
	}
	b.WriteString("\n")
}

func writeGroups(b *strings.Builder, title string, groups []analytics.GroupStats, limit int) {
	b.WriteString(title + "\n")
	for i, g := range groups {
		if i >= limit {
			fmt.Fprintf(b, "(%d more not shown)\n", len(groups)-limit)
			break
		}
		fmt.Fprintf(b, "- %s: %d calls, avg duration %s, avg hold %s, avg wait %s, positive %d, negative %d",
			g.Name, g.Calls, FormatDuration(g.AvgDuration), FormatDuration(g.AvgHold), FormatDuration(g.AvgQueueWait),
			g.PositiveCalls, g.NegativeCalls)
		if len(g.TopDispositions) > 0 {
			parts := make([]string, len(g.TopDispositions))
			for j, d := range g.TopDispositions {
				parts[j] = fmt.Sprintf("%s (%d)", d.Label, d.Count)
			}
			fmt.Fprintf(b, ", top outcomes: %s", strings.Join(parts, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeTiming(b *strings.Builder, m analytics.Metrics) {
	b.WriteString("TIMING\n")
	fmt.Fprintf(b, "- Median duration: %s\n", FormatDuration(m.MedianDurationSeconds))
	fmt.Fprintf(b, "- 90th percentile duration: %s\n", FormatDuration(m.P90DurationSeconds))
	fmt.Fprintf(b, "- Median hold: %s\n", FormatDuration(m.MedianHoldSeconds))
	fmt.Fprintf(b, "- 90th percentile hold: %s\n", FormatDuration(m.P90HoldSeconds))
	fmt.Fprintf(b, "- Average queue wait: %s\n", FormatDuration(m.AvgQueueWaitSeconds))
	fmt.Fprintf(b, "- Calls over %s: %d (%.1f%%)\n",
		FormatDuration(m.Options.LongCallSeconds), m.Indicators.LongCalls, m.Indicators.LongCallRate)
	fmt.Fprintf(b, "- Calls under %s: %d (%.1f%%)\n",
		FormatDuration(m.Options.ShortCallSeconds), m.Indicators.ShortCalls, m.Indicators.ShortCallRate)
	fmt.Fprintf(b, "- Calls with hold over %s: %d (%.1f%%)\n",
		FormatDuration(m.Options.HighHoldSeconds), m.Indicators.HighHoldCalls, m.Indicators.HighHoldRate)
	b.WriteString("\n")
}

func writeHourly(b *strings.Builder, m analytics.Metrics) {
	b.WriteString("CALLS BY HOUR\n")
	for hour, count := range m.Hourly {
		if count == 0 {
			continue
		}
		fmt.Fprintf(b, "- %02d:00: %d\n", hour, count)
	}
	b.WriteString("\n")
}

func writeDaily(b *strings.Builder, m analytics.Metrics) {
	days := make([]string, 0, len(m.Daily))
	for day := range m.Daily {
		days = append(days, day)
	}
	sort.Strings(days)

	b.WriteString("CALLS BY DAY\n")
	for _, day := range days {
		fmt.Fprintf(b, "- %s: %d\n", day, m.Daily[day])
	}
	b.WriteString("\n")
}

// FormatDuration renders seconds as "Xm Ys"
func FormatDuration(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = 0
	}
	total := int(math.Round(seconds))
	return fmt.Sprintf("%dm %ds", total/60, total%60)
}

func matchedCalls(r *search.Result) []records.Call {
	calls := make([]records.Call, len(r.Matches))
	for i, m := range r.Matches {
		calls[i] = m.Call
	}
	return calls
}

func orUnknown(s string) string {
	if s == "" {
		return analytics.UnknownLabel
	}
	return s
}
