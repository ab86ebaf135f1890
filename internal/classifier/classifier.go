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

// Package classifier maps free-text analytics questions to an intent and
// extracts transcript search terms for content searches.
package classifier

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// IntentType tags the kind of analysis a question asks for
type IntentType string

// Supported intents
const (
	IntentDisposition          IntentType = "disposition"
	IntentSentiment            IntentType = "sentiment"
	IntentAgentPerformance     IntentType = "agent_performance"
	IntentTiming               IntentType = "timing"
	IntentQueueAnalysis        IntentType = "queue_analysis"
	IntentSummary              IntentType = "summary"
	IntentTrends               IntentType = "trends"
	IntentKeywordSearch        IntentType = "keyword_search"
	IntentDomainFilteredSearch IntentType = "domain_filtered_search"
	IntentGeneral              IntentType = "general"
)

const (
	// DefaultMaxTerms caps the number of extracted search terms
	DefaultMaxTerms = 15
	// DefaultMinWordLength is the shortest leftover word kept as a term
	DefaultMinWordLength = 3
)

var allIntents = []IntentType{
	IntentDisposition, IntentSentiment, IntentAgentPerformance, IntentTiming,
	IntentQueueAnalysis, IntentSummary, IntentTrends, IntentKeywordSearch,
	IntentDomainFilteredSearch, IntentGeneral,
}

// ParseIntentType returns the intent named by s, if any
func ParseIntentType(s string) (IntentType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, it := range allIntents {
		if string(it) == s {
			return it, true
		}
	}
	return "", false
}

// DomainFilter restricts the record set before analysis
type DomainFilter struct {
	Name                string `json:"name"`
	DispositionContains string `json:"disposition_contains,omitempty"`
}

// Intent is the classification of one question
type Intent struct {
	Type            IntentType    `json:"type"`
	Question        string        `json:"question"`
	IsKeywordSearch bool          `json:"is_keyword_search"`
	Terms           []string      `json:"terms,omitempty"`
	Domain          *DomainFilter `json:"domain,omitempty"`
	Matcher         string        `json:"matcher"`
}

// Options configures a QueryClassifier
type Options struct {
	Domains       []DomainConfig
	Vocabulary    []string
	MaxTerms      int
	MinWordLength int
}

// QueryClassifier runs an ordered list of matchers over a question.
// Domain matchers come first, then generic keyword-search patterns, then
// topic matchers; anything unmatched is general.
type QueryClassifier struct {
	matchers      []Matcher
	vocabulary    map[string]struct{}
	maxTerms      int
	minWordLength int
	logger        *zap.Logger
}

// NewQueryClassifier creates a classifier with configured domain matchers
// registered ahead of the built-in ones
func NewQueryClassifier(opts Options, logger *zap.Logger) (*QueryClassifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxTerms <= 0 {
		opts.MaxTerms = DefaultMaxTerms
	}
	if opts.MinWordLength <= 0 {
		opts.MinWordLength = DefaultMinWordLength
	}

	matchers := make([]Matcher, 0, len(opts.Domains)+len(topicMatchers)+1)
	for _, domain := range opts.Domains {
		m, err := newDomainMatcher(domain)
		if err != nil {
			return nil, fmt.Errorf("domain matcher %q: %w", domain.Name, err)
		}
		matchers = append(matchers, m)
	}
	matchers = append(matchers, keywordSearchMatcher{})
	for _, tm := range topicMatchers {
		matchers = append(matchers, tm)
	}

	vocabulary := make(map[string]struct{}, len(opts.Vocabulary))
	for _, term := range opts.Vocabulary {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" {
			vocabulary[term] = struct{}{}
		}
	}

	return &QueryClassifier{
		matchers:      matchers,
		vocabulary:    vocabulary,
		maxTerms:      opts.MaxTerms,
		minWordLength: opts.MinWordLength,
		logger:        logger,
	}, nil
}

// Classify maps a question to an intent
func (qc *QueryClassifier) Classify(question string) Intent {
	question = strings.TrimSpace(question)
	lowered := strings.ToLower(question)

	intent := Intent{
		Type:     IntentGeneral,
		Question: question,
		Matcher:  string(IntentGeneral),
	}
	if lowered == "" {
		return intent
	}

	for _, m := range qc.matchers {
		match, ok := m.Match(question, lowered)
		if !ok {
			continue
		}
		intent.Type = match.Type
		intent.Matcher = m.Name()
		intent.Domain = match.Domain
		intent.IsKeywordSearch = match.KeywordSearch
		if match.Type == IntentDomainFilteredSearch && !match.KeywordSearch {
			// A domain question can still ask about transcript content.
			_, intent.IsKeywordSearch = keywordSearchMatcher{}.Match(question, lowered)
		}
		if intent.IsKeywordSearch {
			intent.Terms = qc.ExtractTerms(question, match.PriorityTerms...)
		}
		break
	}

	qc.logger.Debug("Classified question",
		zap.String("intent", string(intent.Type)),
		zap.String("matcher", intent.Matcher),
		zap.Bool("keyword_search", intent.IsKeywordSearch),
		zap.Int("term_count", len(intent.Terms)))

	return intent
}

// ApplyHint lets a caller-supplied intent override a general classification
func (qc *QueryClassifier) ApplyHint(intent Intent, hint string) Intent {
	if intent.Type != IntentGeneral || hint == "" {
		return intent
	}
	hinted, ok := ParseIntentType(hint)
	if !ok || hinted == IntentGeneral || hinted == IntentDomainFilteredSearch {
		return intent
	}

	intent.Type = hinted
	intent.Matcher = "hint"
	if hinted == IntentKeywordSearch {
		intent.IsKeywordSearch = true
		intent.Terms = qc.ExtractTerms(intent.Question)
	}
	return intent
}
