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

package synth

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/call-insights/internal/analytics"
	"github.com/your-org/call-insights/internal/classifier"
	"github.com/your-org/call-insights/internal/keywords"
	"github.com/your-org/call-insights/internal/records"
	"github.com/your-org/call-insights/internal/search"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 2, EstimateTokens("abcdefghi"))
	assert.Equal(t, 1, EstimateTokens("éééé"))
}

func TestTruncateToTokenLimit(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		budget    int
		truncated bool
		wantRunes int
	}{
		{"under budget", strings.Repeat("a", 399), 100, false, 399},
		{"exactly at budget", strings.Repeat("a", 400), 100, false, 400},
		{"one over budget", strings.Repeat("a", 401), 100, true, 400 + len(TruncationMarker)},
		{"far over budget", strings.Repeat("a", 10000), 100, true, 400 + len(TruncationMarker)},
		{"multibyte", strings.Repeat("é", 1000), 50, true, 200 + len(TruncationMarker)},
		{"no budget", strings.Repeat("a", 1000), 0, false, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, truncated := TruncateToTokenLimit(tt.text, tt.budget)
			assert.Equal(t, tt.truncated, truncated)
			assert.Equal(t, tt.wantRunes, utf8.RuneCountInString(got))
			if tt.truncated {
				assert.True(t, strings.HasSuffix(got, TruncationMarker))
			} else {
				assert.Equal(t, tt.text, got)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "3m 5s", FormatDuration(185))
	assert.Equal(t, "0m 0s", FormatDuration(0))
	assert.Equal(t, "1m 0s", FormatDuration(59.6))
	assert.Equal(t, "0m 0s", FormatDuration(-10))
}

func dispositionCalls() []records.Call {
	var calls []records.Call
	for i := 0; i < 10; i++ {
		disposition := "Resolved"
		if i >= 6 {
			disposition = "Escalated"
		}
		calls = append(calls, records.Call{
			ID:              fmt.Sprintf("c%d", i),
			Agent:           fmt.Sprintf("agent-%d", i%3),
			Disposition:     disposition,
			DurationSeconds: 185,
			HoldSeconds:     30,
			Transcript:      "Thanks for calling, the issue is resolved now.",
		})
	}
	return calls
}

func TestAssembleDispositionIntent(t *testing.T) {
	a := NewAssembler(Options{}, zaptest.NewLogger(t))
	calls := dispositionCalls()
	intent := classifier.Intent{Type: classifier.IntentDisposition, Question: "What are the call outcomes?"}

	doc, truncated := a.Assemble(intent, analytics.Aggregate(calls, analytics.DefaultOptions()), calls, nil)

	assert.False(t, truncated)
	assert.True(t, strings.HasPrefix(doc, "CALL DATA SUMMARY\n"))
	assert.Contains(t, doc, "Total calls: 10")
	assert.Contains(t, doc, "Average call duration: 3m 5s")
	assert.Contains(t, doc, "Average hold time: 0m 30s")
	assert.Contains(t, doc, "DISPOSITION BREAKDOWN\n- Resolved: 6 (60.0%)\n- Escalated: 4 (40.0%)")
	assert.Contains(t, doc, "TRANSCRIPT EXAMPLES")
	assert.NotContains(t, doc, "KEYWORD SEARCH RESULTS")
}

func TestAssembleIntentSections(t *testing.T) {
	a := NewAssembler(Options{}, nil)
	calls := dispositionCalls()
	m := analytics.Aggregate(calls, analytics.DefaultOptions())

	tests := []struct {
		intent   classifier.IntentType
		contains []string
	}{
		{classifier.IntentSentiment, []string{"SENTIMENT BREAKDOWN"}},
		{classifier.IntentAgentPerformance, []string{"AGENT PERFORMANCE", "- agent-0: 4 calls"}},
		{classifier.IntentQueueAnalysis, []string{"QUEUE ANALYSIS"}},
		{classifier.IntentTiming, []string{"TIMING", "Median duration: 3m 5s", "90th percentile hold: 0m 30s"}},
		{classifier.IntentTrends, []string{"CALLS BY DAY"}},
		{classifier.IntentGeneral, []string{"DISPOSITION BREAKDOWN", "SENTIMENT BREAKDOWN", "TOP AGENTS", "TOP QUEUES", "TIMING"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.intent), func(t *testing.T) {
			doc, _ := a.Assemble(classifier.Intent{Type: tt.intent}, m, calls, nil)
			for _, c := range tt.contains {
				assert.Contains(t, doc, c)
			}
		})
	}
}

func TestAssembleKeywordSearch(t *testing.T) {
	calls := []records.Call{
		{ID: "1", Agent: "alice", Disposition: "Resolved", Transcript: "I would like a refund please."},
		{ID: "2", Agent: "bob", Disposition: "Escalated", Transcript: "Refund was promised, still no refund."},
		{ID: "3", Agent: "carol", Disposition: "Resolved", Transcript: "Just updating my address."},
		{ID: "4"},
	}
	expander, err := keywords.NewExpander(keywords.Options{}, nil)
	require.NoError(t, err)
	result := search.NewEngine(search.DefaultOptions(), nil).Search(calls, expander.ExpandAll([]string{"refund"}))

	intent := classifier.Intent{
		Type:            classifier.IntentKeywordSearch,
		Question:        "How many calls mention refund?",
		IsKeywordSearch: true,
		Terms:           []string{"refund"},
	}
	a := NewAssembler(Options{}, nil)
	doc, truncated := a.Assemble(intent, analytics.Aggregate(calls, analytics.DefaultOptions()), calls, &result)

	assert.False(t, truncated)
	assert.Contains(t, doc, "KEYWORD SEARCH RESULTS")
	assert.Contains(t, doc, `Search terms: "refund"`)
	assert.Contains(t, doc, "Total keyword matches: 3")
	assert.Contains(t, doc, "Matching calls: 2 of 4 searched (3 with transcripts)")
	assert.Contains(t, doc, "Percentage of all calls: 50.0%")
	assert.Contains(t, doc, "Percentage of calls with transcripts: 66.7%")
	assert.Contains(t, doc, "1. Call 2 | Agent: bob")
	assert.Contains(t, doc, "**refund**")
	assert.NotContains(t, doc, "DISPOSITION BREAKDOWN")
	assert.NotContains(t, doc, "Just updating my address")
}

func TestAssembleKeywordSearchBounds(t *testing.T) {
	var calls []records.Call
	for i := 0; i < 12; i++ {
		calls = append(calls, records.Call{ID: fmt.Sprintf("k%02d", i), Transcript: "refund"})
	}
	variants := []string{"refund"}
	for i := 0; i < 39; i++ {
		variants = append(variants, fmt.Sprintf("variant%02d", i))
	}
	result := search.NewEngine(search.DefaultOptions(), nil).Search(calls, []keywords.Expansion{{Term: "refund", Variants: variants}})

	intent := classifier.Intent{Type: classifier.IntentKeywordSearch, IsKeywordSearch: true, Terms: []string{"refund"}}
	doc, _ := NewAssembler(Options{}, nil).Assemble(intent, analytics.Aggregate(calls, analytics.Options{}), calls, &result)

	assert.Contains(t, doc, "Variants searched (40):")
	assert.Contains(t, doc, "(+10 more)")
	assert.Contains(t, doc, "10. Call")
	assert.NotContains(t, doc, "11. Call")
}

func TestAssembleKeywordSearchWithoutTerms(t *testing.T) {
	calls := []records.Call{{ID: "1", Transcript: "hello"}}
	result := search.NewEngine(search.DefaultOptions(), nil).Search(calls, nil)
	intent := classifier.Intent{Type: classifier.IntentKeywordSearch, IsKeywordSearch: true, Terms: []string{}}

	doc, _ := NewAssembler(Options{}, nil).Assemble(intent, analytics.Aggregate(calls, analytics.Options{}), calls, &result)

	assert.Contains(t, doc, "No searchable terms could be extracted from the question.")
	assert.Contains(t, doc, "Total keyword matches: 0")
	assert.Contains(t, doc, "Percentage of calls with transcripts: 0.0%")
}

func TestAssembleTruncatesToBudget(t *testing.T) {
	a := NewAssembler(Options{TokenBudget: 20}, nil)
	calls := dispositionCalls()
	intent := classifier.Intent{Type: classifier.IntentGeneral}

	doc, truncated := a.Assemble(intent, analytics.Aggregate(calls, analytics.DefaultOptions()), calls, nil)

	assert.True(t, truncated)
	assert.True(t, strings.HasSuffix(doc, TruncationMarker))
	assert.Equal(t, 80+len(TruncationMarker), utf8.RuneCountInString(doc))
	assert.Equal(t, 20, a.TokenBudget())
}

func TestAssembleDomainFilterHeader(t *testing.T) {
	intent := classifier.Intent{
		Type:   classifier.IntentDomainFilteredSearch,
		Domain: &classifier.DomainFilter{Name: "mobile_fitting", DispositionContains: "MTF"},
	}
	doc, _ := NewAssembler(Options{}, nil).Assemble(intent, analytics.Aggregate(nil, analytics.Options{}), nil, nil)

	assert.Contains(t, doc, `Filter: mobile_fitting (disposition contains "MTF")`)
	assert.NotContains(t, doc, "TRANSCRIPT EXAMPLES")
}

func TestBuildMessages(t *testing.T) {
	intent := classifier.Intent{Type: classifier.IntentKeywordSearch, Question: "Who mentioned refunds?", IsKeywordSearch: true}

	messages := BuildMessages(intent, "CALL DATA SUMMARY\nTotal calls: 3")

	require.Len(t, messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, messages[0].Role)
	assert.Contains(t, messages[0].Content, TruncationMarker)
	assert.Equal(t, openai.ChatMessageRoleUser, messages[1].Role)
	assert.Contains(t, messages[1].Content, "Question: Who mentioned refunds?")
	assert.Contains(t, messages[1].Content, "Total calls: 3")
	assert.Contains(t, messages[1].Content, "transcript search")
}
