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

// Package keywords expands search terms into the surface forms they are
// likely to take in informal call transcripts.
package keywords

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// DefaultMinRootLength is the shortest suffix-stripped root that is kept
const DefaultMinRootLength = 4

var (
	verbSuffixes = []string{"ing", "ed", "er", "est"}
	rootSuffixes = []string{"tion", "sion", "ness", "ment", "ing", "est", "ed", "er", "ly"}
)

var phraseStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "of": {}, "to": {}, "for": {}, "my": {}, "and": {},
	"or": {}, "in": {}, "on": {}, "with": {}, "is": {}, "it": {}, "at": {}, "your": {},
}

// DefaultSynonyms returns the synonym table used when none is configured
func DefaultSynonyms() map[string][]string {
	return map[string][]string{
		"refund":    {"reimbursement", "money back", "repayment"},
		"cancel":    {"cancellation", "terminate"},
		"complaint": {"complain", "grievance"},
		"price":     {"cost", "charge", "fee"},
		"delivery":  {"shipping", "shipment"},
		"late":      {"delayed", "overdue"},
		"broken":    {"damaged", "faulty", "defective"},
		"rude":      {"impolite", "unprofessional"},
		"manager":   {"supervisor"},
		"booking":   {"appointment", "reservation"},
	}
}

// StructuredPattern recognizes a rigid code such as a tyre size and lists
// the notations it is written in. Templates use regexp expansion syntax.
type StructuredPattern struct {
	Name      string
	Pattern   string
	Templates []string
}

// Options configures an Expander
type Options struct {
	Synonyms      map[string][]string
	Patterns      []StructuredPattern
	MinRootLength int
}

// Expansion is the variant set of one original term, original first
type Expansion struct {
	Term     string   `json:"term"`
	Variants []string `json:"variants"`
}

type compiledPattern struct {
	name      string
	re        *regexp.Regexp
	templates []string
}

// Expander produces deterministic variant sets for search terms
type Expander struct {
	synonyms      map[string][]string
	patterns      []compiledPattern
	minRootLength int
	logger        *zap.Logger
}

// NewExpander builds an expander. Synonyms are looked up in both directions.
func NewExpander(opts Options, logger *zap.Logger) (*Expander, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Synonyms == nil {
		opts.Synonyms = DefaultSynonyms()
	}
	if opts.MinRootLength <= 0 {
		opts.MinRootLength = DefaultMinRootLength
	}

	e := &Expander{
		synonyms:      make(map[string][]string),
		minRootLength: opts.MinRootLength,
		logger:        logger,
	}

	for key, values := range opts.Synonyms {
		key = strings.ToLower(strings.TrimSpace(key))
		for _, v := range values {
			v = strings.ToLower(strings.TrimSpace(v))
			if key == "" || v == "" || v == key {
				continue
			}
			e.synonyms[key] = appendUnique(e.synonyms[key], v)
			e.synonyms[v] = appendUnique(e.synonyms[v], key)
		}
	}

	for _, p := range opts.Patterns {
		re, err := regexp.Compile("(?i)^" + strings.TrimSuffix(strings.TrimPrefix(p.Pattern, "^"), "$") + "$")
		if err != nil {
			return nil, fmt.Errorf("structured pattern %q: %w", p.Name, err)
		}
		e.patterns = append(e.patterns, compiledPattern{name: p.Name, re: re, templates: p.Templates})
	}

	return e, nil
}

// ExpandAll expands each term, preserving term order
func (e *Expander) ExpandAll(terms []string) []Expansion {
	expansions := make([]Expansion, 0, len(terms))
	for _, term := range terms {
		variants := e.Expand(term)
		if len(variants) == 0 {
			continue
		}
		expansions = append(expansions, Expansion{Term: term, Variants: variants})
	}
	return expansions
}

// Expand returns the original term followed by its variants in sorted order
func (e *Expander) Expand(term string) []string {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil
	}
	lower := strings.ToLower(term)
	variants := make(map[string]struct{})

	if !e.expandStructured(term, variants) {
		words := strings.Fields(lower)
		if len(words) > 1 {
			e.expandPhrase(words, variants)
		} else {
			e.expandWord(lower, variants)
		}
	}

	delete(variants, lower)
	delete(variants, term)
	out := make([]string, 0, len(variants)+1)
	out = append(out, term)
	for v := range variants {
		if utf8.RuneCountInString(v) > 1 {
			out = append(out, v)
		}
	}
	sort.Strings(out[1:])

	e.logger.Debug("Expanded search term",
		zap.String("term", term),
		zap.Int("variant_count", len(out)))
	return out
}

func (e *Expander) expandStructured(term string, variants map[string]struct{}) bool {
	for _, p := range e.patterns {
		match := p.re.FindStringSubmatchIndex(term)
		if match == nil {
			continue
		}
		add := func(s string) {
			variants[s] = struct{}{}
			variants[strings.ToUpper(s)] = struct{}{}
			variants[strings.ToLower(s)] = struct{}{}
		}
		add(term)
		for _, tmpl := range p.templates {
			add(string(p.re.ExpandString(nil, tmpl, term, match)))
		}
		return true
	}
	return false
}

func (e *Expander) expandPhrase(words []string, variants map[string]struct{}) {
	variants[strings.Join(words, "-")] = struct{}{}
	variants[strings.Join(words, "")] = struct{}{}
	if len(words) >= 3 {
		for i := 0; i+1 < len(words); i++ {
			variants[words[i]+" "+words[i+1]] = struct{}{}
		}
	}
	for _, w := range words {
		if _, stop := phraseStopwords[w]; stop {
			continue
		}
		e.expandWord(w, variants)
	}
}

// expandWord adds inflections, roots and synonyms of a single word. Every
// form is derived from the word's uninflected base, so expanding a variant
// again stays inside the same family.
func (e *Expander) expandWord(word string, variants map[string]struct{}) {
	variants[word] = struct{}{}

	base := word
	if singular, ok := singularize(word); ok {
		base = singular
		variants[singular] = struct{}{}
	} else {
		variants[pluralize(word)] = struct{}{}
	}

	if !hasAnySuffix(base, verbSuffixes) {
		for _, form := range verbForms(base) {
			variants[form] = struct{}{}
		}
	}

	lookups := []string{word, base}
	for _, root := range e.roots(base) {
		variants[root] = struct{}{}
		lookups = append(lookups, root)
	}

	for _, key := range lookups {
		for _, syn := range e.synonyms[key] {
			variants[syn] = struct{}{}
			if !strings.Contains(syn, " ") {
				variants[pluralize(syn)] = struct{}{}
			}
		}
	}
}

func (e *Expander) roots(word string) []string {
	var roots []string
	for _, suffix := range rootSuffixes {
		if !strings.HasSuffix(word, suffix) {
			continue
		}
		root := strings.TrimSuffix(word, suffix)
		if utf8.RuneCountInString(root) >= e.minRootLength {
			roots = append(roots, root)
		}
	}
	return roots
}

func singularize(w string) (string, bool) {
	n := len(w)
	switch {
	case n > 4 && strings.HasSuffix(w, "ies"):
		return w[:n-3] + "y", true
	case n > 4 && (strings.HasSuffix(w, "sses") || strings.HasSuffix(w, "shes") ||
		strings.HasSuffix(w, "ches") || strings.HasSuffix(w, "xes") || strings.HasSuffix(w, "zes")):
		return w[:n-2], true
	case n > 3 && strings.HasSuffix(w, "s") &&
		!strings.HasSuffix(w, "ss") && !strings.HasSuffix(w, "us") && !strings.HasSuffix(w, "is"):
		return w[:n-1], true
	default:
		return w, false
	}
}

func pluralize(w string) string {
	switch {
	case endsWithConsonantY(w):
		return w[:len(w)-1] + "ies"
	case strings.HasSuffix(w, "s") || strings.HasSuffix(w, "x") || strings.HasSuffix(w, "z") ||
		strings.HasSuffix(w, "ch") || strings.HasSuffix(w, "sh"):
		return w + "es"
	default:
		return w + "s"
	}
}

func verbForms(base string) []string {
	switch {
	case strings.HasSuffix(base, "e"):
		stem := base[:len(base)-1]
		return []string{stem + "ing", base + "d", base + "r", base + "st"}
	case endsWithConsonantY(base):
		stem := base[:len(base)-1]
		return []string{base + "ing", stem + "ied", stem + "ier", stem + "iest"}
	default:
		forms := make([]string, len(verbSuffixes))
		for i, s := range verbSuffixes {
			forms[i] = base + s
		}
		return forms
	}
}

func endsWithConsonantY(w string) bool {
	n := len(w)
	if n < 2 || w[n-1] != 'y' {
		return false
	}
	return !strings.ContainsRune("aeiou", rune(w[n-2]))
}

func hasAnySuffix(w string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(w, s) {
			return true
		}
	}
	return false
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
