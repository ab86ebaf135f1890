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

// Package search scans call transcripts for expanded search terms.
package search

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/your-org/call-insights/internal/keywords"
	"github.com/your-org/call-insights/internal/records"
)

const (
	// DefaultMaxSnippets is the number of context snippets kept per call
	DefaultMaxSnippets = 3
	// DefaultSnippetWidth is the approximate snippet length in characters
	DefaultSnippetWidth = 120
	// DefaultMaxGap is how many words may sit between the words of a phrase
	DefaultMaxGap = 2
	// ShortTermLength is the longest term matched only as a whole word
	ShortTermLength = 3
)

// Options configures the engine
type Options struct {
	MaxSnippets  int
	SnippetWidth int
	MaxGap       int
}

// DefaultOptions returns the standard snippet and phrase settings
func DefaultOptions() Options {
	return Options{
		MaxSnippets:  DefaultMaxSnippets,
		SnippetWidth: DefaultSnippetWidth,
		MaxGap:       DefaultMaxGap,
	}
}

// Match is one call with at least one hit
type Match struct {
	Call            records.Call `json:"-"`
	CallID          string       `json:"call_id"`
	MatchCount      int          `json:"match_count"`
	MatchedVariants []string     `json:"matched_variants"`
	Snippets        []string     `json:"snippets"`
}

// Result aggregates a search over a record set. MatchPercentage is relative
// to calls with transcripts, PercentageOfTotal to every call searched.
type Result struct {
	Expansions             []keywords.Expansion `json:"expansions"`
	Matches                []Match              `json:"matches"`
	TotalMatches           int                  `json:"total_matches"`
	RecordsSearched        int                  `json:"records_searched"`
	RecordsWithTranscripts int                  `json:"records_with_transcripts"`
	MatchingRecords        int                  `json:"matching_records"`
	MatchPercentage        float64              `json:"match_percentage"`
	PercentageOfTotal      float64              `json:"percentage_of_total"`
}

// Terms returns the original search terms in order
func (r Result) Terms() []string {
	terms := make([]string, len(r.Expansions))
	for i, exp := range r.Expansions {
		terms[i] = exp.Term
	}
	return terms
}

// VariantCount returns the size of the full expansion set
func (r Result) VariantCount() int {
	n := 0
	for _, exp := range r.Expansions {
		n += len(exp.Variants)
	}
	return n
}

// Engine runs transcript searches
type Engine struct {
	opts   Options
	logger *zap.Logger
}

// NewEngine creates a search engine, filling unset options with defaults
func NewEngine(opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultOptions()
	if opts.MaxSnippets <= 0 {
		opts.MaxSnippets = defaults.MaxSnippets
	}
	if opts.SnippetWidth <= 0 {
		opts.SnippetWidth = defaults.SnippetWidth
	}
	if opts.MaxGap < 0 {
		opts.MaxGap = defaults.MaxGap
	}
	return &Engine{opts: opts, logger: logger}
}

type variantPattern struct {
	variant string
	re      *regexp.Regexp
}

type span struct {
	start, end int
}

// Search scans every call with a transcript. Calls without any hit are
// left out of Matches but still count as searched.
func (e *Engine) Search(calls []records.Call, expansions []keywords.Expansion) Result {
	result := Result{
		Expansions:      expansions,
		Matches:         []Match{},
		RecordsSearched: len(calls),
	}

	patterns := e.compileAll(expansions)

	for _, call := range calls {
		if !call.HasTranscript() {
			continue
		}
		result.RecordsWithTranscripts++
		if len(patterns) == 0 {
			continue
		}
		if match, ok := e.searchCall(call, patterns); ok {
			result.Matches = append(result.Matches, match)
			result.TotalMatches += match.MatchCount
		}
	}

	sort.SliceStable(result.Matches, func(i, j int) bool {
		a, b := result.Matches[i], result.Matches[j]
		if a.MatchCount != b.MatchCount {
			return a.MatchCount > b.MatchCount
		}
		return len(a.MatchedVariants) > len(b.MatchedVariants)
	})

	result.MatchingRecords = len(result.Matches)
	result.MatchPercentage = percentage(result.MatchingRecords, result.RecordsWithTranscripts)
	result.PercentageOfTotal = percentage(result.MatchingRecords, result.RecordsSearched)

	e.logger.Debug("Transcript search completed",
		zap.Int("records_searched", result.RecordsSearched),
		zap.Int("records_with_transcripts", result.RecordsWithTranscripts),
		zap.Int("matching_records", result.MatchingRecords),
		zap.Int("total_matches", result.TotalMatches),
		zap.Int("pattern_count", len(patterns)))

	return result
}

func (e *Engine) compileAll(expansions []keywords.Expansion) []variantPattern {
	seen := make(map[string]struct{})
	var patterns []variantPattern
	for _, exp := range expansions {
		for _, variant := range exp.Variants {
			key := strings.ToLower(strings.TrimSpace(variant))
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			re, err := regexp.Compile(BuildPattern(key, e.opts.MaxGap))
			if err != nil {
				e.logger.Warn("Skipping search variant with invalid pattern",
					zap.String("variant", variant),
					zap.Error(err))
				continue
			}
			patterns = append(patterns, variantPattern{variant: variant, re: re})
		}
	}
	return patterns
}

func (e *Engine) searchCall(call records.Call, patterns []variantPattern) (Match, bool) {
	text := call.Transcript
	spans := make(map[span]struct{})
	var ordered []span
	var matched []string

	for _, p := range patterns {
		locs := p.re.FindAllStringIndex(text, -1)
		if len(locs) == 0 {
			continue
		}
		matched = append(matched, p.variant)
		for _, loc := range locs {
			s := span{start: loc[0], end: loc[1]}
			if _, dup := spans[s]; dup {
				continue
			}
			spans[s] = struct{}{}
			ordered = append(ordered, s)
		}
	}
	if len(ordered) == 0 {
		return Match{}, false
	}

	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].start != ordered[j].start {
			return ordered[i].start < ordered[j].start
		}
		return ordered[i].end > ordered[j].end
	})

	return Match{
		Call:            call,
		CallID:          call.ID,
		MatchCount:      len(ordered),
		MatchedVariants: matched,
		Snippets:        e.snippets(text, ordered),
	}, true
}

// snippets cuts windows around matches, skipping any match that falls in a
// window already reported
func (e *Engine) snippets(text string, spans []span) []string {
	var windows []span
	var out []string

	for _, s := range spans {
		if len(out) >= e.opts.MaxSnippets {
			break
		}
		covered := false
		for _, w := range windows {
			if s.start >= w.start && s.end <= w.end {
				covered = true
				break
			}
		}
		if covered {
			continue
		}

		pad := (e.opts.SnippetWidth - (s.end - s.start)) / 2
		if pad < 0 {
			pad = 0
		}
		// stray continuation bytes can push the boundaries past the match
		start := min(runeStart(text, s.start-pad), s.start)
		end := max(runeEnd(text, s.end+pad), s.end)
		windows = append(windows, span{start: start, end: end})

		var b strings.Builder
		if start > 0 {
			b.WriteString("...")
		}
		b.WriteString(collapseSpace(text[start:s.start]))
		b.WriteString("**")
		b.WriteString(text[s.start:s.end])
		b.WriteString("**")
		b.WriteString(collapseSpace(text[s.end:end]))
		if end < len(text) {
			b.WriteString("...")
		}
		out = append(out, strings.TrimSpace(b.String()))
	}
	return out
}

// BuildPattern returns the case-insensitive pattern used for a variant.
// Phrases tolerate up to maxGap words between their words, short terms
// match whole words only, and longer words also match with one extra
// character inserted.
func BuildPattern(variant string, maxGap int) string {
	words := strings.Fields(strings.ToLower(variant))
	if len(words) == 0 {
		return `(?i)$^`
	}

	var body string
	switch {
	case len(words) > 1:
		quoted := make([]string, len(words))
		for i, w := range words {
			quoted[i] = regexp.QuoteMeta(w)
		}
		gap := fmt.Sprintf(`(?:\W+\w+){0,%d}?\W+`, maxGap)
		body = strings.Join(quoted, gap)
	case utf8.RuneCountInString(words[0]) <= ShortTermLength:
		body = regexp.QuoteMeta(words[0])
	default:
		runes := []rune(words[0])
		alternatives := []string{regexp.QuoteMeta(words[0])}
		for i := 1; i < len(runes); i++ {
			alternatives = append(alternatives,
				regexp.QuoteMeta(string(runes[:i]))+`\w`+regexp.QuoteMeta(string(runes[i:])))
		}
		body = "(?:" + strings.Join(alternatives, "|") + ")"
	}

	first, _ := utf8.DecodeRuneInString(words[0])
	last, _ := utf8.DecodeLastRuneInString(words[len(words)-1])
	pattern := "(?i)"
	if isWordRune(first) {
		pattern += `\b`
	}
	pattern += body
	if isWordRune(last) {
		pattern += `\b`
	}
	return pattern
}

func isWordRune(r rune) bool {
	return r == '_' || (r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r)))
}

func runeStart(text string, i int) int {
	if i <= 0 {
		return 0
	}
	for i < len(text) && !utf8.RuneStart(text[i]) {
		i++
	}
	return i
}

func runeEnd(text string, i int) int {
	if i >= len(text) {
		return len(text)
	}
	for i > 0 && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

func collapseSpace(s string) string {
	if s == "" {
		return s
	}
	collapsed := strings.Join(strings.Fields(s), " ")
	if unicode.IsSpace(rune(s[0])) {
		collapsed = " " + collapsed
	}
	if unicode.IsSpace(rune(s[len(s)-1])) && collapsed != " " {
		collapsed += " "
	}
	return collapsed
}

func percentage(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) * 100 / float64(whole)
}
