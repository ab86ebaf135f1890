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
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Match is what a matcher reports for a question it recognizes
type Match struct {
	Type          IntentType
	KeywordSearch bool
	Domain        *DomainFilter
	// PriorityTerms are verbatim codes captured from the question, ranked
	// alongside quoted phrases.
	PriorityTerms []string
}

// Matcher recognizes one family of questions
type Matcher interface {
	Name() string
	Match(question, lowered string) (Match, bool)
}

// DomainConfig describes a deployment-specific matcher, for example tyre
// sizes or mobile fitting jobs
type DomainConfig struct {
	Name                string
	Patterns            []string
	Keywords            []string
	DispositionContains string
	KeywordSearch       bool
}

type domainMatcher struct {
	name          string
	patterns      []*regexp.Regexp
	keywords      []string
	filter        *DomainFilter
	keywordSearch bool
}

func newDomainMatcher(cfg DomainConfig) (*domainMatcher, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, errors.New("name is required")
	}
	if len(cfg.Patterns) == 0 && len(cfg.Keywords) == 0 {
		return nil, errors.New("at least one pattern or keyword is required")
	}

	m := &domainMatcher{
		name:          cfg.Name,
		keywordSearch: cfg.KeywordSearch,
	}
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		m.patterns = append(m.patterns, re)
	}
	for _, k := range cfg.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			m.keywords = append(m.keywords, k)
		}
	}
	if cfg.DispositionContains != "" {
		m.filter = &DomainFilter{Name: cfg.Name, DispositionContains: cfg.DispositionContains}
	}
	return m, nil
}

func (m *domainMatcher) Name() string { return m.name }

func (m *domainMatcher) Match(question, lowered string) (Match, bool) {
	var captured []string
	for _, re := range m.patterns {
		captured = append(captured, re.FindAllString(question, -1)...)
	}
	matched := len(captured) > 0
	if !matched {
		for _, k := range m.keywords {
			if strings.Contains(lowered, k) {
				matched = true
				break
			}
		}
	}
	if !matched {
		return Match{}, false
	}

	match := Match{
		Type:          IntentDomainFilteredSearch,
		KeywordSearch: m.keywordSearch,
		PriorityTerms: captured,
	}
	if m.filter != nil {
		filter := *m.filter
		match.Domain = &filter
	}
	return match, true
}

var keywordSearchPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"[^"]+"|“[^”]+”`),
	regexp.MustCompile(`\b(?:mention(?:s|ed|ing)?|said|says?|saying|talk(?:s|ed|ing)? about|discuss(?:es|ed|ing)?|contain(?:s|ed|ing)?|search(?:es|ed|ing)? for|look(?:ing)? for|complain(?:s|ed|ing)? about|ask(?:s|ed|ing)? about|brought up|bring(?:s|ing)? up|refer(?:s|red|ring)? to|keywords?|phrases?)\b`),
	regexp.MustCompile(`\b(?:word|term)s? .+ (?:in|from) (?:the )?(?:calls?|transcripts?)\b`),
}

type keywordSearchMatcher struct{}

func (keywordSearchMatcher) Name() string { return string(IntentKeywordSearch) }

func (keywordSearchMatcher) Match(_, lowered string) (Match, bool) {
	for _, re := range keywordSearchPatterns {
		if re.MatchString(lowered) {
			return Match{Type: IntentKeywordSearch, KeywordSearch: true}, true
		}
	}
	return Match{}, false
}

type topicMatcher struct {
	intent  IntentType
	pattern *regexp.Regexp
}

func (m topicMatcher) Name() string { return string(m.intent) }

func (m topicMatcher) Match(_, lowered string) (Match, bool) {
	if !m.pattern.MatchString(lowered) {
		return Match{}, false
	}
	return Match{Type: m.intent}, true
}

var topicMatchers = []topicMatcher{
	{IntentDisposition, regexp.MustCompile(`\b(?:dispositions?|outcomes?|resolved|resolutions?|resolve|escalat\w*|transferr?\w*|results? of)\b`)},
	{IntentSentiment, regexp.MustCompile(`\b(?:sentiments?|feel(?:s|ing|ings)?|mood|emotions?|emotional|happy|unhappy|angry|upset|satisf\w*|dissatisf\w*|frustrat\w*|positive|negative)\b`)},
	{IntentAgentPerformance, regexp.MustCompile(`\b(?:agents?|reps?|representatives?|staff|performers?|performance|leaderboard|best|worst|coaching)\b`)},
	{IntentTiming, regexp.MustCompile(`\b(?:durations?|how long|hold(?:s|ing)?|wait(?:s|ing)?|handle time|aht|peak|busiest|hours?|minutes?|seconds?|length)\b`)},
	{IntentQueueAnalysis, regexp.MustCompile(`\b(?:queues?|departments?|teams?|lines?|routing)\b`)},
	{IntentSummary, regexp.MustCompile(`\b(?:summary|summari[sz]e|overview|overall|insights?|report|highlights?|breakdown)\b`)},
	{IntentTrends, regexp.MustCompile(`\b(?:trends?|trending|over time|daily|weekly|monthly|per day|by day|increas\w*|decreas\w*|changes?|patterns?)\b`)},
}
