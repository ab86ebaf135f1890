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

package classifier

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClassifier(t *testing.T, opts Options) *QueryClassifier {
	t.Helper()
	qc, err := NewQueryClassifier(opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	return qc
}

func tyreDomains() []DomainConfig {
	return []DomainConfig{
		{
			Name:          "tyre_size",
			Patterns:      []string{`\b\d{3}/\d{2}\s?r?\d{2}\b`},
			KeywordSearch: true,
		},
		{
			Name:                "mobile_fitting",
			Keywords:            []string{"mobile fitting", "mtf"},
			DispositionContains: "MTF",
		},
	}
}

func TestNewQueryClassifier(t *testing.T) {
	qc := newTestClassifier(t, Options{})
	assert.Equal(t, DefaultMaxTerms, qc.maxTerms)
	assert.Equal(t, DefaultMinWordLength, qc.minWordLength)
	assert.Len(t, qc.matchers, len(topicMatchers)+1)

	_, err := NewQueryClassifier(Options{Domains: []DomainConfig{{Name: "broken", Patterns: []string{"("}}}}, nil)
	assert.Error(t, err)

	_, err = NewQueryClassifier(Options{Domains: []DomainConfig{{Name: "empty"}}}, nil)
	assert.Error(t, err)

	_, err = NewQueryClassifier(Options{Domains: []DomainConfig{{Keywords: []string{"x"}}}}, nil)
	assert.Error(t, err)
}

func TestClassifyTopics(t *testing.T) {
	qc := newTestClassifier(t, Options{})

	testCases := []struct {
		question string
		expected IntentType
	}{
		{"What is the breakdown of call dispositions?", IntentDisposition},
		{"How many calls were escalated last week", IntentDisposition},
		{"How do customers feel overall?", IntentSentiment},
		{"Which agents handle the most calls?", IntentAgentPerformance},
		{"What is the average hold duration?", IntentTiming},
		{"When are we busiest during the day?", IntentTiming},
		{"Compare the billing queue with support", IntentQueueAnalysis},
		{"Give me an overview of this data", IntentSummary},
		{"Is volume trending up?", IntentTrends},
		{"Hello there", IntentGeneral},
		{"", IntentGeneral},
	}

	for _, tc := range testCases {
		t.Run(tc.question, func(t *testing.T) {
			intent := qc.Classify(tc.question)
			assert.Equal(t, tc.expected, intent.Type)
			assert.False(t, intent.IsKeywordSearch)
			assert.Empty(t, intent.Terms)
		})
	}
}

func TestClassifyKeywordSearchTakesPriorityOverTopics(t *testing.T) {
	qc := newTestClassifier(t, Options{})

	// "feel" would match the sentiment matcher, but the search verb wins.
	intent := qc.Classify("How many callers who feel upset mentioned refunds?")
	assert.Equal(t, IntentKeywordSearch, intent.Type)
	assert.True(t, intent.IsKeywordSearch)
	require.NotEmpty(t, intent.Terms)
	assert.Equal(t, "refunds", intent.Terms[0])
}

func TestClassifyQuotedTerms(t *testing.T) {
	qc := newTestClassifier(t, Options{Vocabulary: []string{"refund", "delivery"}})

	intent := qc.Classify(`How many calls mention "late delivery" or refunds?`)
	require.True(t, intent.IsKeywordSearch)
	assert.Equal(t, IntentKeywordSearch, intent.Type)
	assert.Equal(t, []string{"late delivery", "delivery", "refunds", "late"}, intent.Terms)
}

func TestClassifySmartQuotes(t *testing.T) {
	qc := newTestClassifier(t, Options{})

	intent := qc.Classify("Find “cancel my order” in the transcripts")
	require.True(t, intent.IsKeywordSearch)
	require.NotEmpty(t, intent.Terms)
	assert.Equal(t, "cancel my order", intent.Terms[0])
	assert.Contains(t, intent.Terms, "cancel")
	assert.Contains(t, intent.Terms, "order")
}

func TestClassifyVocabularyPhrases(t *testing.T) {
	qc := newTestClassifier(t, Options{Vocabulary: []string{"refund"}})

	intent := qc.Classify("Which calls talk about refund delays?")
	require.True(t, intent.IsKeywordSearch)
	assert.Equal(t, []string{"refund delays", "refund", "delays"}, intent.Terms)
}

func TestClassifyKeywordSearchWithoutTerms(t *testing.T) {
	qc := newTestClassifier(t, Options{})

	intent := qc.Classify("What did they say about it?")
	assert.Equal(t, IntentKeywordSearch, intent.Type)
	assert.True(t, intent.IsKeywordSearch)
	assert.Empty(t, intent.Terms)
}

func TestClassifyDomainMatchers(t *testing.T) {
	qc := newTestClassifier(t, Options{Domains: tyreDomains()})

	t.Run("tyre size captured as priority term", func(t *testing.T) {
		intent := qc.Classify("How many customers asked for 205/55 R16 tyres?")
		assert.Equal(t, IntentDomainFilteredSearch, intent.Type)
		assert.Equal(t, "tyre_size", intent.Matcher)
		require.True(t, intent.IsKeywordSearch)
		require.NotEmpty(t, intent.Terms)
		assert.Equal(t, "205/55 R16", intent.Terms[0])
		assert.Contains(t, intent.Terms, "tyres")
		assert.Nil(t, intent.Domain)
	})

	t.Run("mobile fitting filter", func(t *testing.T) {
		intent := qc.Classify("What is the sentiment on mobile fitting jobs?")
		assert.Equal(t, IntentDomainFilteredSearch, intent.Type)
		require.NotNil(t, intent.Domain)
		assert.Equal(t, "MTF", intent.Domain.DispositionContains)
		assert.False(t, intent.IsKeywordSearch)
	})

	t.Run("mobile fitting with content search", func(t *testing.T) {
		intent := qc.Classify("Which MTF calls mention parking?")
		require.NotNil(t, intent.Domain)
		assert.True(t, intent.IsKeywordSearch)
		assert.Contains(t, intent.Terms, "parking")
	})
}

func TestExtractTermsCapAndOrder(t *testing.T) {
	qc := newTestClassifier(t, Options{MaxTerms: 4})

	var words []string
	for i := 0; i < 10; i++ {
		words = append(words, fmt.Sprintf("word%s", strings.Repeat("x", i)))
	}
	terms := qc.ExtractTerms("search for " + strings.Join(words, " "))
	require.Len(t, terms, 4)
	assert.Equal(t, "wordxxxxxxxxx", terms[0])
	for i := 1; i < len(terms); i++ {
		assert.GreaterOrEqual(t, len(terms[i-1]), len(terms[i]))
	}
}

func TestExtractTermsDeduplicatesCaseInsensitively(t *testing.T) {
	qc := newTestClassifier(t, Options{})

	terms := qc.ExtractTerms(`"Refund" refund REFUND`)
	assert.Equal(t, []string{"Refund"}, terms)
}

func TestApplyHint(t *testing.T) {
	qc := newTestClassifier(t, Options{})

	general := qc.Classify("Tell me something interesting")
	require.Equal(t, IntentGeneral, general.Type)

	hinted := qc.ApplyHint(general, "sentiment")
	assert.Equal(t, IntentSentiment, hinted.Type)
	assert.Equal(t, "hint", hinted.Matcher)

	assert.Equal(t, IntentGeneral, qc.ApplyHint(general, "nonsense").Type)
	assert.Equal(t, IntentGeneral, qc.ApplyHint(general, "domain_filtered_search").Type)

	keyword := qc.ApplyHint(qc.Classify("Anything about warranty claims"), "keyword_search")
	assert.True(t, keyword.IsKeywordSearch)
	assert.Contains(t, keyword.Terms, "warranty")

	specific := qc.Classify("Which agents perform best?")
	assert.Equal(t, IntentAgentPerformance, qc.ApplyHint(specific, "timing").Type)
}

func TestParseIntentType(t *testing.T) {
	it, ok := ParseIntentType(" Queue_Analysis ")
	assert.True(t, ok)
	assert.Equal(t, IntentQueueAnalysis, it)

	_, ok = ParseIntentType("weather")
	assert.False(t, ok)
}
