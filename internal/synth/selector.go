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
	"regexp"
	"sort"
	"strings"

	"github.com/your-org/call-insights/internal/classifier"
	"github.com/your-org/call-insights/internal/keywords"
	"github.com/your-org/call-insights/internal/records"
)

// Example scoring weights
const (
	QuestionWordWeight  = 2
	IntentWordWeight    = 3
	ValencedBonus       = 1
	OriginalTermWeight  = 10
	ExpansionWeight     = 5
	HighScoreThreshold  = 50
	DefaultExampleCount = 3
	DefaultExcerptChars = 400
)

// intentBonusWords favour transcripts that illustrate the asked-about topic
var intentBonusWords = map[classifier.IntentType][]string{
	classifier.IntentDisposition: {
		"resolved", "fixed", "sorted", "escalate", "transfer", "callback", "cancel", "complete",
	},
	classifier.IntentSentiment: {
		"happy", "thank", "great", "excellent", "angry", "upset", "frustrated", "disappointed", "terrible",
	},
	classifier.IntentAgentPerformance: {
		"help", "understand", "apologise", "apologize", "explain", "sorry", "assist",
	},
	classifier.IntentTiming: {
		"wait", "hold", "long", "minutes", "quick", "delay",
	},
	classifier.IntentQueueAnalysis: {
		"transfer", "department", "queue", "wait", "hold",
	},
}

var questionWordPattern = regexp.MustCompile(`[\p{L}\p{N}']+`)

var questionStopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "were": {}, "what": {}, "which": {},
	"who": {}, "how": {}, "many": {}, "much": {}, "did": {}, "does": {}, "with": {}, "about": {},
	"that": {}, "this": {}, "from": {}, "have": {}, "has": {}, "our": {}, "their": {}, "there": {},
	"calls": {}, "call": {}, "customers": {}, "customer": {}, "show": {}, "tell": {}, "give": {},
}

// Example is a transcript excerpt chosen to illustrate the answer
type Example struct {
	Call    records.Call
	Score   int
	Excerpt string
}

// Selector picks a small diverse set of transcript examples
type Selector struct {
	target       int
	excerptChars int
}

// NewSelector creates a selector; non-positive arguments use the defaults
func NewSelector(target, excerptChars int) *Selector {
	if target <= 0 {
		target = DefaultExampleCount
	}
	if excerptChars <= 0 {
		excerptChars = DefaultExcerptChars
	}
	return &Selector{target: target, excerptChars: excerptChars}
}

type scored struct {
	call  records.Call
	score int
}

// Select scores every transcript-bearing call and walks the ranking,
// preferring calls that add a new agent, disposition or sentiment. Slots
// left open by the walk are backfilled by score.
func (s *Selector) Select(intent classifier.Intent, calls []records.Call, expansions []keywords.Expansion) []Example {
	questionWords := significantWords(intent.Question)

	candidates := make([]scored, 0, len(calls))
	for _, c := range calls {
		if !c.HasTranscript() {
			continue
		}
		candidates = append(candidates, scored{call: c, score: score(intent, c, questionWords, expansions)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	taken := make([]bool, len(candidates))
	agents := make(map[string]struct{})
	dispositions := make(map[string]struct{})
	sentiments := make(map[string]struct{})
	var picked []int

	for i, c := range candidates {
		if len(picked) >= s.target {
			break
		}
		_, seenAgent := agents[c.call.Agent]
		_, seenDisposition := dispositions[c.call.Disposition]
		_, seenSentiment := sentiments[c.call.Sentiment]
		diverse := !seenAgent || !seenDisposition || !seenSentiment
		if len(picked) == 0 || diverse || c.score > HighScoreThreshold {
			taken[i] = true
			picked = append(picked, i)
			agents[c.call.Agent] = struct{}{}
			dispositions[c.call.Disposition] = struct{}{}
			sentiments[c.call.Sentiment] = struct{}{}
		}
	}
	for i := range candidates {
		if len(picked) >= s.target {
			break
		}
		if !taken[i] {
			taken[i] = true
			picked = append(picked, i)
		}
	}

	examples := make([]Example, 0, len(picked))
	for _, i := range picked {
		c := candidates[i]
		examples = append(examples, Example{
			Call:    c.call,
			Score:   c.score,
			Excerpt: Excerpt(c.call.Transcript, s.excerptChars),
		})
	}
	return examples
}

// Score rates how well a call illustrates the intent
func Score(intent classifier.Intent, c records.Call, expansions []keywords.Expansion) int {
	return score(intent, c, significantWords(intent.Question), expansions)
}

func score(intent classifier.Intent, c records.Call, questionWords []string, expansions []keywords.Expansion) int {
	text := strings.ToLower(c.Transcript)
	total := 0

	for _, w := range questionWords {
		if strings.Contains(text, w) {
			total += QuestionWordWeight
		}
	}
	for _, w := range intentBonusWords[intent.Type] {
		if strings.Contains(text, w) {
			total += IntentWordWeight
		}
	}
	if c.Sentiment == records.SentimentPositive || c.Sentiment == records.SentimentNegative {
		total += ValencedBonus
	}

	if intent.IsKeywordSearch {
		for _, exp := range expansions {
			original := strings.ToLower(exp.Term)
			if original != "" {
				total += strings.Count(text, original) * OriginalTermWeight
			}
			for _, v := range exp.Variants {
				v = strings.ToLower(v)
				if v == "" || v == original {
					continue
				}
				total += strings.Count(text, v) * ExpansionWeight
			}
		}
	}
	return total
}

func significantWords(question string) []string {
	seen := make(map[string]struct{})
	var words []string
	for _, w := range questionWordPattern.FindAllString(strings.ToLower(question), -1) {
		if len([]rune(w)) < 3 {
			continue
		}
		if _, stop := questionStopwords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		words = append(words, w)
	}
	return words
}

// Excerpt bounds a transcript to limit characters. It cuts at the last
// sentence end when that falls in the final 40% of the window, otherwise at
// the last space, otherwise mid-word. The last two add "...".
func Excerpt(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	window := runes[:limit]

	lastSentence := -1
	lastSpace := -1
	for i, r := range window {
		switch r {
		case '.', '!', '?':
			lastSentence = i
		case ' ':
			lastSpace = i
		}
	}

	if lastSentence >= 0 && lastSentence+1 >= limit*6/10 {
		return string(window[:lastSentence+1])
	}
	if lastSpace > 0 {
		return string(window[:lastSpace]) + "..."
	}
	return string(window) + "..."
}
