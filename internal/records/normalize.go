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

package records

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// maxDecodeDepth bounds how many layers of JSON-in-a-string are unwrapped
const maxDecodeDepth = 4

// NormalizeDuration converts a stored duration into seconds. It accepts
// numbers, numeric strings, {minutes, seconds} objects and JSON strings of
// any of those. Malformed, non-finite or negative input yields 0.
func NormalizeDuration(v any) float64 {
	return normalizeDuration(v, 0)
}

func normalizeDuration(v any, depth int) float64 {
	if depth > maxDecodeDepth {
		return 0
	}

	switch x := v.(type) {
	case nil:
		return 0
	case float64:
		return nonNegative(x)
	case float32:
		return nonNegative(float64(x))
	case int:
		return nonNegative(float64(x))
	case int64:
		return nonNegative(float64(x))
	case int32:
		return nonNegative(float64(x))
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0
		}
		return nonNegative(f)
	case json.RawMessage:
		return normalizeDuration([]byte(x), depth)
	case []byte:
		decoded, ok := decodeJSON(x)
		if !ok {
			return 0
		}
		return normalizeDuration(decoded, depth+1)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return nonNegative(f)
		}
		decoded, ok := decodeJSON([]byte(s))
		if !ok {
			return 0
		}
		return normalizeDuration(decoded, depth+1)
	case map[string]any:
		return durationFromObject(x)
	default:
		return 0
	}
}

func durationFromObject(m map[string]any) float64 {
	minutesRaw, hasMinutes := m["minutes"]
	secondsRaw, hasSeconds := m["seconds"]
	if !hasMinutes && !hasSeconds {
		return 0
	}

	var minutes, seconds float64
	var ok bool
	if hasMinutes {
		if minutes, ok = durationComponent(minutesRaw); !ok {
			return 0
		}
	}
	if hasSeconds {
		if seconds, ok = durationComponent(secondsRaw); !ok {
			return 0
		}
	}
	return nonNegative(minutes*60 + seconds)
}

// durationComponent reads one numeric field of a duration object. A null
// field counts as zero; anything negative or non-numeric is rejected.
func durationComponent(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, true
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func nonNegative(f float64) float64 {
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// NormalizeSentimentLabel maps a stored sentiment value to Positive,
// Negative, Neutral or Unknown. Arrays use their first element, objects their
// "sentiment" field, and JSON-encoded strings are decoded first.
func NormalizeSentimentLabel(v any) string {
	return normalizeSentiment(v, 0)
}

func normalizeSentiment(v any, depth int) string {
	if depth > maxDecodeDepth {
		return SentimentUnknown
	}

	switch x := v.(type) {
	case nil:
		return SentimentUnknown
	case json.RawMessage:
		return normalizeSentiment([]byte(x), depth)
	case []byte:
		decoded, ok := decodeJSON(x)
		if !ok {
			return SentimentUnknown
		}
		return normalizeSentiment(decoded, depth+1)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return SentimentUnknown
		}
		if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") || strings.HasPrefix(s, `"`) {
			if decoded, ok := decodeJSON([]byte(s)); ok {
				return normalizeSentiment(decoded, depth+1)
			}
			return SentimentUnknown
		}
		return canonicalSentiment(s)
	case []any:
		if len(x) == 0 {
			return SentimentUnknown
		}
		return normalizeSentiment(x[0], depth+1)
	case []SentimentEntry:
		if len(x) == 0 {
			return SentimentUnknown
		}
		return canonicalSentiment(x[0].Sentiment)
	case SentimentEntry:
		return canonicalSentiment(x.Sentiment)
	case map[string]any:
		label, ok := x["sentiment"].(string)
		if !ok {
			return SentimentUnknown
		}
		return canonicalSentiment(label)
	default:
		return SentimentUnknown
	}
}

func canonicalSentiment(label string) string {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "positive":
		return SentimentPositive
	case "negative":
		return SentimentNegative
	case "neutral":
		return SentimentNeutral
	default:
		return SentimentUnknown
	}
}

// ParseSentimentEntries decodes a sentiment timeline. Entries that are not
// objects are skipped; labels are canonicalized.
func ParseSentimentEntries(raw json.RawMessage) []SentimentEntry {
	decoded, ok := unwrapJSON(raw)
	if !ok {
		return nil
	}

	var items []any
	switch x := decoded.(type) {
	case []any:
		items = x
	case map[string]any:
		items = []any{x}
	default:
		return nil
	}

	entries := make([]SentimentEntry, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		entry := SentimentEntry{
			Sentiment:  canonicalSentiment(stringField(m, "sentiment")),
			Speaker:    stringField(m, "speaker"),
			Text:       stringField(m, "text"),
			Confidence: numberField(m, "confidence"),
			Start:      numberField(m, "start"),
			End:        numberField(m, "end"),
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return nil
	}
	return entries
}

// ParseStringList decodes entity and category lists. It accepts arrays of
// strings, arrays of objects carrying a name-like field, JSON-encoded
// arrays, and comma separated text.
func ParseStringList(raw json.RawMessage) []string {
	decoded, ok := unwrapJSON(raw)
	if !ok {
		return nil
	}

	var out []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}

	switch x := decoded.(type) {
	case string:
		for _, part := range strings.Split(x, ",") {
			add(part)
		}
	case []any:
		for _, item := range x {
			switch v := item.(type) {
			case string:
				add(v)
			case map[string]any:
				for _, key := range []string{"text", "name", "entity", "category", "label", "value"} {
					if s := stringField(v, key); s != "" {
						add(s)
						break
					}
				}
			}
		}
	}
	return out
}

// unwrapJSON decodes a raw value and keeps decoding while the result is a
// string that itself looks like JSON.
func unwrapJSON(raw json.RawMessage) (any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	decoded, ok := decodeJSON(raw)
	if !ok {
		return nil, false
	}
	for depth := 0; depth < maxDecodeDepth; depth++ {
		s, isString := decoded.(string)
		if !isString {
			break
		}
		trimmed := strings.TrimSpace(s)
		if !strings.HasPrefix(trimmed, "[") && !strings.HasPrefix(trimmed, "{") {
			break
		}
		next, ok := decodeJSON([]byte(trimmed))
		if !ok {
			break
		}
		decoded = next
	}
	return decoded, decoded != nil
}

func decodeJSON(b []byte) (any, bool) {
	var decoded any
	if err := json.Unmarshal(b, &decoded); err != nil {
		return nil, false
	}
	return decoded, true
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func numberField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
