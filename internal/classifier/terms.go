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
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

var (
	quotedPattern = regexp.MustCompile(`"([^"]+)"|“([^”]+)”`)
	wordPattern   = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}'/\-]*`)
)

// stopwords are dropped before phrase windows and leftover words are
// considered. Besides ordinary function words they include the verbs that
// mark a question as a search, which are never what the user is looking for.
var stopwords = toSet(
	"a", "about", "above", "after", "all", "also", "am", "an", "and", "any", "are", "as", "at",
	"be", "been", "before", "being", "between", "both", "but", "by", "can", "could", "did", "do",
	"does", "doing", "during", "each", "few", "for", "from", "get", "got", "had", "has", "have",
	"having", "he", "her", "here", "him", "his", "how", "i", "if", "in", "into", "is", "it", "its",
	"just", "many", "me", "more", "most", "much", "my", "no", "not", "of", "on", "once", "only",
	"or", "other", "our", "out", "over", "own", "same", "she", "should", "show", "so", "some",
	"such", "than", "that", "the", "their", "them", "then", "there", "these", "they", "this",
	"those", "through", "to", "too", "under", "until", "up", "very", "was", "we", "were", "what",
	"when", "where", "which", "while", "who", "whom", "why", "will", "with", "would", "you",
	"your", "find", "list", "give", "tell", "count", "number", "percentage", "percent",
	"mention", "mentions", "mentioned", "mentioning", "said", "say", "says", "saying", "talk",
	"talked", "talking", "talks", "discuss", "discussed", "discusses", "discussing", "contain",
	"contains", "containing", "contained", "search", "searching", "searched", "look", "looking",
	"complain", "complained", "complaining", "complains", "ask", "asked", "asking", "asks",
	"brought", "bring", "bringing", "refer", "referred", "referring", "keyword", "keywords",
	"phrase", "phrases", "word", "words", "term", "terms",
	"call", "calls", "transcript", "transcripts", "record", "records", "conversation",
	"conversations", "customer", "customers", "caller", "callers", "people", "anyone", "anybody",
)

func toSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

type candidate struct {
	text   string
	quoted bool
	words  int
	order  int
}

// ExtractTerms pulls ranked search terms out of a question. Quoted phrases
// and priority terms rank first, then longer phrases, then longer words.
func (qc *QueryClassifier) ExtractTerms(question string, priority ...string) []string {
	var candidates []candidate
	seen := make(map[string]struct{})
	add := func(text string, quoted bool) {
		text = strings.TrimSpace(text)
		key := strings.ToLower(text)
		if text == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		candidates = append(candidates, candidate{
			text:   text,
			quoted: quoted,
			words:  len(strings.Fields(text)),
			order:  len(candidates),
		})
	}

	for _, p := range priority {
		add(p, true)
	}

	remainder := question
	for _, m := range quotedPattern.FindAllStringSubmatch(question, -1) {
		phrase := m[1]
		if phrase == "" {
			phrase = m[2]
		}
		add(phrase, true)
		for _, w := range wordPattern.FindAllString(strings.ToLower(phrase), -1) {
			if qc.keepWord(w) {
				add(w, false)
			}
		}
		remainder = strings.Replace(remainder, m[0], " ", 1)
	}
	for _, p := range priority {
		remainder = strings.ReplaceAll(remainder, p, " ")
	}

	var content []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(remainder), -1) {
		if _, stop := stopwords[w]; !stop {
			content = append(content, w)
		}
	}

	consumed := make([]bool, len(content))
	for i := 0; i < len(content); {
		size := qc.vocabularyWindow(content, i)
		if size == 0 {
			i++
			continue
		}
		window := content[i : i+size]
		add(strings.Join(window, " "), false)
		for j, w := range window {
			consumed[i+j] = true
			if qc.keepWord(w) {
				add(w, false)
			}
		}
		i += size
	}

	for i, w := range content {
		if !consumed[i] && qc.keepWord(w) {
			add(w, false)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.quoted != b.quoted {
			return a.quoted
		}
		if a.words != b.words {
			return a.words > b.words
		}
		la, lb := utf8.RuneCountInString(a.text), utf8.RuneCountInString(b.text)
		if la != lb {
			return la > lb
		}
		return a.order < b.order
	})

	if len(candidates) > qc.maxTerms {
		candidates = candidates[:qc.maxTerms]
	}
	terms := make([]string, len(candidates))
	for i, c := range candidates {
		terms[i] = c.text
	}
	return terms
}

// vocabularyWindow returns the size of the longest window (3, then 2 words)
// starting at i that contains a vocabulary term, or 0
func (qc *QueryClassifier) vocabularyWindow(words []string, i int) int {
	if len(qc.vocabulary) == 0 {
		return 0
	}
	for size := 3; size >= 2; size-- {
		if i+size > len(words) {
			continue
		}
		window := words[i : i+size]
		if _, ok := qc.vocabulary[strings.Join(window, " ")]; ok {
			return size
		}
		for _, w := range window {
			if _, ok := qc.vocabulary[w]; ok {
				return size
			}
		}
	}
	return 0
}

func (qc *QueryClassifier) keepWord(w string) bool {
	if utf8.RuneCountInString(w) < qc.minWordLength {
		return false
	}
	_, stop := stopwords[w]
	return !stop
}
