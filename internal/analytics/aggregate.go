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

// Package analytics computes corpus-wide and grouped call metrics.
package analytics

import (
	"math"
	"sort"

	"github.com/your-org/call-insights/internal/records"
)

// UnknownLabel replaces empty group keys
const UnknownLabel = "Unknown"

// Options holds the thresholds behind the performance indicators
type Options struct {
	LongCallSeconds  float64
	ShortCallSeconds float64
	HighHoldSeconds  float64
	TopN             int
}

// DefaultOptions returns the standard thresholds
func DefaultOptions() Options {
	return Options{
		LongCallSeconds:  600,
		ShortCallSeconds: 60,
		HighHoldSeconds:  120,
		TopN:             3,
	}
}

// Breakdown is a count and its share of all calls
type Breakdown struct {
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// LabeledBreakdown is a Breakdown with its label, used for ordered output
type LabeledBreakdown struct {
	Label string `json:"label"`
	Breakdown
}

// LabelCount pairs a label with a count
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// GroupStats is the rollup for one agent or queue
type GroupStats struct {
	Name            string       `json:"name"`
	Calls           int          `json:"calls"`
	AvgDuration     float64      `json:"avg_duration_seconds"`
	AvgHold         float64      `json:"avg_hold_seconds"`
	AvgQueueWait    float64      `json:"avg_queue_wait_seconds"`
	PositiveCalls   int          `json:"positive_calls"`
	NegativeCalls   int          `json:"negative_calls"`
	TopDispositions []LabelCount `json:"top_dispositions"`
}

// Indicators are threshold-based performance counters
type Indicators struct {
	LongCalls     int     `json:"long_calls"`
	LongCallRate  float64 `json:"long_call_rate"`
	ShortCalls    int     `json:"short_calls"`
	ShortCallRate float64 `json:"short_call_rate"`
	HighHoldCalls int     `json:"high_hold_calls"`
	HighHoldRate  float64 `json:"high_hold_rate"`
}

// Metrics is the aggregate view of a record set
type Metrics struct {
	TotalCalls            int                  `json:"total_calls"`
	CallsWithTranscripts  int                  `json:"calls_with_transcripts"`
	TotalDurationSeconds  float64              `json:"total_duration_seconds"`
	AvgDurationSeconds    float64              `json:"avg_duration_seconds"`
	MedianDurationSeconds float64              `json:"median_duration_seconds"`
	P90DurationSeconds    float64              `json:"p90_duration_seconds"`
	AvgHoldSeconds        float64              `json:"avg_hold_seconds"`
	MedianHoldSeconds     float64              `json:"median_hold_seconds"`
	P90HoldSeconds        float64              `json:"p90_hold_seconds"`
	AvgQueueWaitSeconds   float64              `json:"avg_queue_wait_seconds"`
	Dispositions          map[string]Breakdown `json:"dispositions"`
	Sentiments            map[string]Breakdown `json:"sentiments"`
	Agents                []GroupStats         `json:"agents"`
	Queues                []GroupStats         `json:"queues"`
	Hourly                [24]int              `json:"hourly"`
	Daily                 map[string]int       `json:"daily"`
	Indicators            Indicators           `json:"indicators"`
	Options               Options              `json:"-"`
}

type groupAccumulator struct {
	calls        int
	duration     float64
	hold         float64
	queueWait    float64
	positive     int
	negative     int
	dispositions map[string]int
}

func (g *groupAccumulator) add(c records.Call, disposition string) {
	g.calls++
	g.duration += c.DurationSeconds
	g.hold += c.HoldSeconds
	g.queueWait += c.QueueWaitSeconds
	switch c.Sentiment {
	case records.SentimentPositive:
		g.positive++
	case records.SentimentNegative:
		g.negative++
	}
	if g.dispositions == nil {
		g.dispositions = make(map[string]int)
	}
	g.dispositions[disposition]++
}

// Aggregate computes metrics in a single pass over calls
func Aggregate(calls []records.Call, opts Options) Metrics {
	defaults := DefaultOptions()
	if opts.TopN <= 0 {
		opts.TopN = defaults.TopN
	}
	if opts.LongCallSeconds <= 0 {
		opts.LongCallSeconds = defaults.LongCallSeconds
	}
	if opts.ShortCallSeconds <= 0 {
		opts.ShortCallSeconds = defaults.ShortCallSeconds
	}
	if opts.HighHoldSeconds <= 0 {
		opts.HighHoldSeconds = defaults.HighHoldSeconds
	}

	m := Metrics{
		TotalCalls: len(calls),
		Daily:      make(map[string]int),
		Options:    opts,
	}

	dispositions := make(map[string]int)
	sentiments := make(map[string]int)
	agents := make(map[string]*groupAccumulator)
	queues := make(map[string]*groupAccumulator)
	durations := make([]float64, 0, len(calls))
	holds := make([]float64, 0, len(calls))
	var totalHold, totalQueueWait float64

	for _, c := range calls {
		disposition := labelOrUnknown(c.Disposition)
		dispositions[disposition]++
		sentiments[labelOrUnknown(c.Sentiment)]++

		group(agents, labelOrUnknown(c.Agent)).add(c, disposition)
		group(queues, labelOrUnknown(c.Queue)).add(c, disposition)

		m.TotalDurationSeconds += c.DurationSeconds
		totalHold += c.HoldSeconds
		totalQueueWait += c.QueueWaitSeconds
		durations = append(durations, c.DurationSeconds)
		holds = append(holds, c.HoldSeconds)

		if c.HasTranscript() {
			m.CallsWithTranscripts++
		}
		if !c.InitiatedAt.IsZero() {
			m.Hourly[c.InitiatedAt.Hour()]++
			m.Daily[c.InitiatedAt.Format("2006-01-02")]++
		}

		if c.DurationSeconds > opts.LongCallSeconds {
			m.Indicators.LongCalls++
		}
		if c.DurationSeconds < opts.ShortCallSeconds {
			m.Indicators.ShortCalls++
		}
		if c.HoldSeconds > opts.HighHoldSeconds {
			m.Indicators.HighHoldCalls++
		}
	}

	m.AvgDurationSeconds = average(m.TotalDurationSeconds, m.TotalCalls)
	m.AvgHoldSeconds = average(totalHold, m.TotalCalls)
	m.AvgQueueWaitSeconds = average(totalQueueWait, m.TotalCalls)

	sort.Float64s(durations)
	m.MedianDurationSeconds = median(durations)
	m.P90DurationSeconds = percentile(durations, 0.9)
	sort.Float64s(holds)
	m.MedianHoldSeconds = median(holds)
	m.P90HoldSeconds = percentile(holds, 0.9)

	m.Dispositions = breakdowns(dispositions, m.TotalCalls)
	m.Sentiments = breakdowns(sentiments, m.TotalCalls)
	m.Agents = rollups(agents, opts.TopN)
	m.Queues = rollups(queues, opts.TopN)

	m.Indicators.LongCallRate = Percentage(m.Indicators.LongCalls, m.TotalCalls)
	m.Indicators.ShortCallRate = Percentage(m.Indicators.ShortCalls, m.TotalCalls)
	m.Indicators.HighHoldRate = Percentage(m.Indicators.HighHoldCalls, m.TotalCalls)

	return m
}

// Ranked returns breakdown entries by count descending, then label
func Ranked(b map[string]Breakdown) []LabeledBreakdown {
	out := make([]LabeledBreakdown, 0, len(b))
	for label, v := range b {
		out = append(out, LabeledBreakdown{Label: label, Breakdown: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// Percentage returns part/whole as a percentage, or 0 for an empty whole
func Percentage(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) * 100 / float64(whole)
}

func group(groups map[string]*groupAccumulator, key string) *groupAccumulator {
	g, ok := groups[key]
	if !ok {
		g = &groupAccumulator{}
		groups[key] = g
	}
	return g
}

func breakdowns(counts map[string]int, total int) map[string]Breakdown {
	out := make(map[string]Breakdown, len(counts))
	for label, count := range counts {
		out[label] = Breakdown{Count: count, Percentage: Percentage(count, total)}
	}
	return out
}

func rollups(groups map[string]*groupAccumulator, topN int) []GroupStats {
	out := make([]GroupStats, 0, len(groups))
	for name, g := range groups {
		out = append(out, GroupStats{
			Name:            name,
			Calls:           g.calls,
			AvgDuration:     average(g.duration, g.calls),
			AvgHold:         average(g.hold, g.calls),
			AvgQueueWait:    average(g.queueWait, g.calls),
			PositiveCalls:   g.positive,
			NegativeCalls:   g.negative,
			TopDispositions: topLabels(g.dispositions, topN),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Calls != out[j].Calls {
			return out[i].Calls > out[j].Calls
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func topLabels(counts map[string]int, n int) []LabelCount {
	out := make([]LabelCount, 0, len(counts))
	for label, count := range counts {
		out = append(out, LabelCount{Label: label, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func labelOrUnknown(s string) string {
	if s == "" {
		return UnknownLabel
	}
	return s
}

func average(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// median expects sorted input
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// percentile uses the nearest-rank method on sorted input
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(n))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= n {
		rank = n - 1
	}
	return sorted[rank]
}
