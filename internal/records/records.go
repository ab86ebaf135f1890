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

// Package records defines the call record shapes and the normalization
// boundary that turns stored, loosely typed fields into canonical values.
package records

import (
	"encoding/json"
	"strings"
	"time"
)

// Canonical sentiment labels
const (
	SentimentPositive = "Positive"
	SentimentNegative = "Negative"
	SentimentNeutral  = "Neutral"
	SentimentUnknown  = "Unknown"
)

// RawRecord is a call record as it arrives from storage or the API.
// Durations, sentiment and tag lists are kept raw because upstream
// ingestion stores them as objects, JSON strings or plain numbers.
type RawRecord struct {
	ID                  string          `json:"id"`
	Agent               string          `json:"agent"`
	QueueName           string          `json:"queue_name"`
	Disposition         string          `json:"disposition"`
	Campaign            string          `json:"campaign"`
	CustomerID          string          `json:"customer_id"`
	PrimaryCategory     string          `json:"primary_category"`
	Summary             string          `json:"summary"`
	InitiationTimestamp string          `json:"initiation_timestamp"`
	ProcessedAt         string          `json:"processed_at"`
	CallDuration        json.RawMessage `json:"call_duration,omitempty"`
	HoldTime            json.RawMessage `json:"hold_time,omitempty"`
	QueueWaitTime       json.RawMessage `json:"queue_wait_time,omitempty"`
	Transcript          string          `json:"transcript"`
	SentimentAnalysis   json.RawMessage `json:"sentiment_analysis,omitempty"`
	Entities            json.RawMessage `json:"entities,omitempty"`
	Categories          json.RawMessage `json:"categories,omitempty"`
}

// SentimentEntry is one timestamped sentiment observation within a call
type SentimentEntry struct {
	Sentiment  string  `json:"sentiment"`
	Speaker    string  `json:"speaker,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Text       string  `json:"text,omitempty"`
	Start      float64 `json:"start,omitempty"`
	End        float64 `json:"end,omitempty"`
}

// Call is the canonical record every analysis component reads
type Call struct {
	ID               string
	Agent            string
	Queue            string
	Disposition      string
	Campaign         string
	CustomerID       string
	PrimaryCategory  string
	Summary          string
	InitiatedAt      time.Time
	ProcessedAt      time.Time
	DurationSeconds  float64
	HoldSeconds      float64
	QueueWaitSeconds float64
	Transcript       string
	Sentiment        string
	SentimentEntries []SentimentEntry
	Entities         []string
	Categories       []string
}

// HasTranscript reports whether the call carries any transcript text
func (c Call) HasTranscript() bool {
	return strings.TrimSpace(c.Transcript) != ""
}

// Normalize converts a raw record into its canonical form. It never fails:
// malformed fields fall back to zero values or SentimentUnknown.
func Normalize(raw RawRecord) Call {
	return Call{
		ID:               strings.TrimSpace(raw.ID),
		Agent:            strings.TrimSpace(raw.Agent),
		Queue:            strings.TrimSpace(raw.QueueName),
		Disposition:      strings.TrimSpace(raw.Disposition),
		Campaign:         strings.TrimSpace(raw.Campaign),
		CustomerID:       strings.TrimSpace(raw.CustomerID),
		PrimaryCategory:  strings.TrimSpace(raw.PrimaryCategory),
		Summary:          raw.Summary,
		InitiatedAt:      ParseTimestamp(raw.InitiationTimestamp),
		ProcessedAt:      ParseTimestamp(raw.ProcessedAt),
		DurationSeconds:  NormalizeDuration(raw.CallDuration),
		HoldSeconds:      NormalizeDuration(raw.HoldTime),
		QueueWaitSeconds: NormalizeDuration(raw.QueueWaitTime),
		Transcript:       raw.Transcript,
		Sentiment:        NormalizeSentimentLabel(raw.SentimentAnalysis),
		SentimentEntries: ParseSentimentEntries(raw.SentimentAnalysis),
		Entities:         ParseStringList(raw.Entities),
		Categories:       ParseStringList(raw.Categories),
	}
}

// NormalizeAll normalizes a batch of raw records, preserving order
func NormalizeAll(raws []RawRecord) []Call {
	calls := make([]Call, len(raws))
	for i, raw := range raws {
		calls[i] = Normalize(raw)
	}
	return calls
}

// RawJSON turns a stored text column into a raw JSON value. Text that is not
// valid JSON is kept as a JSON string so it still round-trips through the API.
func RawJSON(s string) json.RawMessage {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	encoded, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	return encoded
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses the timestamp formats seen in stored records.
// Unparsable input yields the zero time.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
