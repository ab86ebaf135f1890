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

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/call-insights/internal/records"
	"github.com/your-org/call-insights/internal/resilience"
)

// TimeWindow selects records by initiation time
type TimeWindow string

// Supported time windows
const (
	WindowAll       TimeWindow = "all"
	WindowToday     TimeWindow = "today"
	WindowYesterday TimeWindow = "yesterday"
	WindowLast7Days TimeWindow = "last7days"
	WindowLastMonth TimeWindow = "lastMonth"
	WindowDateRange TimeWindow = "dateRange"
)

// ParseTimeWindow validates a window name. An empty name means all.
func ParseTimeWindow(s string) (TimeWindow, error) {
	switch w := TimeWindow(strings.TrimSpace(s)); w {
	case "":
		return WindowAll, nil
	case WindowAll, WindowToday, WindowYesterday, WindowLast7Days, WindowLastMonth, WindowDateRange:
		return w, nil
	default:
		return "", fmt.Errorf("invalid time window %q", s)
	}
}

// Filter narrows the record set
type Filter struct {
	Window TimeWindow `json:"timeWindow,omitempty"`
	// From and To are inclusive calendar days for WindowDateRange
	From  time.Time `json:"from,omitempty"`
	To    time.Time `json:"to,omitempty"`
	Agent string    `json:"agent,omitempty"`
	// Dispositions keeps records whose disposition is any of the labels
	Dispositions []string `json:"dispositions,omitempty"`
	Queue        string   `json:"queue,omitempty"`
	// WithTranscript keeps only records that carry transcript text
	WithTranscript bool `json:"withTranscript,omitempty"`
}

// Bounds returns the half-open [from, to) interval the window covers
// relative to now. ok is false when the window is unbounded.
func (f Filter) Bounds(now time.Time) (from, to time.Time, ok bool, err error) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch f.Window {
	case "", WindowAll:
		return time.Time{}, time.Time{}, false, nil
	case WindowToday:
		return day, day.AddDate(0, 0, 1), true, nil
	case WindowYesterday:
		return day.AddDate(0, 0, -1), day, true, nil
	case WindowLast7Days:
		return day.AddDate(0, 0, -6), day.AddDate(0, 0, 1), true, nil
	case WindowLastMonth:
		firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return firstOfMonth.AddDate(0, -1, 0), firstOfMonth, true, nil
	case WindowDateRange:
		if f.From.IsZero() || f.To.IsZero() {
			return time.Time{}, time.Time{}, false, fmt.Errorf("dateRange requires from and to")
		}
		start := time.Date(f.From.Year(), f.From.Month(), f.From.Day(), 0, 0, 0, 0, f.From.Location())
		end := time.Date(f.To.Year(), f.To.Month(), f.To.Day(), 0, 0, 0, 0, f.To.Location()).AddDate(0, 0, 1)
		if !start.Before(end) {
			return time.Time{}, time.Time{}, false, fmt.Errorf("dateRange from must not be after to")
		}
		return start, end, true, nil
	default:
		return time.Time{}, time.Time{}, false, fmt.Errorf("invalid time window %q", f.Window)
	}
}

func (s *Store) where(f Filter) (string, []any, error) {
	var conditions []string
	var args []any

	from, to, bounded, err := f.Bounds(s.cfg.Now())
	if err != nil {
		return "", nil, resilience.NewBadRequestError(err.Error(), err)
	}
	if bounded {
		conditions = append(conditions, "initiation_timestamp >= ?", "initiation_timestamp < ?")
		args = append(args, formatTimestamp(from), formatTimestamp(to))
	}
	if f.Agent != "" {
		conditions = append(conditions, "agent = ?")
		args = append(args, f.Agent)
	}
	if labels := nonEmpty(f.Dispositions); len(labels) > 0 {
		conditions = append(conditions,
			"disposition IN ("+strings.TrimSuffix(strings.Repeat("?, ", len(labels)), ", ")+")")
		for _, label := range labels {
			args = append(args, label)
		}
	}
	if f.Queue != "" {
		conditions = append(conditions, "queue_name = ?")
		args = append(args, f.Queue)
	}
	if f.WithTranscript {
		conditions = append(conditions, "TRIM(transcript) <> ''")
	}

	if len(conditions) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args, nil
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Page selects a slice of the listing, 1-based
type Page struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// Pagination describes the returned page
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// ListResult is one page of records
type ListResult struct {
	Data       []records.RawRecord `json:"data"`
	Pagination Pagination          `json:"pagination"`
}

// NewPagination computes page metadata for total rows
func NewPagination(page, limit, total int) Pagination {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}

func (s *Store) normalizePage(p Page) Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > s.cfg.MaxPageSize {
		p.Limit = s.cfg.MaxPageSize
	}
	return p
}

const orderBy = " ORDER BY initiation_timestamp DESC, id ASC"

// List returns one page of records, newest first
func (s *Store) List(ctx context.Context, f Filter, p Page) (*ListResult, error) {
	p = s.normalizePage(p)
	where, args, err := s.where(f)
	if err != nil {
		return nil, err
	}

	total, err := s.count(ctx, where, args)
	if err != nil {
		return nil, s.storageError("Failed to count call records", err)
	}

	var data []records.RawRecord
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var qerr error
		data, qerr = s.query(ctx, where, args, p.Limit, (p.Page-1)*p.Limit)
		return qerr
	})
	if err != nil {
		return nil, s.storageError("Failed to list call records", err)
	}
	if data == nil {
		data = []records.RawRecord{}
	}

	return &ListResult{
		Data:       data,
		Pagination: NewPagination(p.Page, p.Limit, total),
	}, nil
}

// Count returns how many records match f without loading them
func (s *Store) Count(ctx context.Context, f Filter) (int, error) {
	where, args, err := s.where(f)
	if err != nil {
		return 0, err
	}
	total, err := s.count(ctx, where, args)
	if err != nil {
		return 0, s.storageError("Failed to count call records", err)
	}
	return total, nil
}

func (s *Store) count(ctx context.Context, where string, args []any) (int, error) {
	var total int
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM call_records"+where), args...).Scan(&total)
	})
	return total, err
}

// FetchAll loads every matching record in batches, stopping at the batch
// cap. capped reports whether rows were left behind.
func (s *Store) FetchAll(ctx context.Context, f Filter) (recs []records.RawRecord, capped bool, err error) {
	where, args, err := s.where(f)
	if err != nil {
		return nil, false, err
	}

	for batch := 0; batch < s.cfg.MaxBatches; batch++ {
		var rows []records.RawRecord
		err := s.withTimeout(ctx, func(ctx context.Context) error {
			var qerr error
			rows, qerr = s.query(ctx, where, args, s.cfg.BatchSize, batch*s.cfg.BatchSize)
			return qerr
		})
		if err != nil {
			return nil, false, s.storageError("Failed to load call records", err)
		}
		recs = append(recs, rows...)
		if len(rows) < s.cfg.BatchSize {
			return recs, false, nil
		}
	}

	// a full final batch may still be the last one
	total, err := s.count(ctx, where, args)
	if err != nil {
		return nil, false, s.storageError("Failed to count call records", err)
	}
	capped = total > len(recs)
	if capped {
		s.logger.Warn("Record fetch capped",
			zap.Int("loaded", len(recs)),
			zap.Int("total", total),
			zap.Int("max_batches", s.cfg.MaxBatches))
	}
	return recs, capped, nil
}

func (s *Store) query(ctx context.Context, where string, args []any, limit, offset int) ([]records.RawRecord, error) {
	query := s.rebind("SELECT " + strings.Join(recordColumns, ", ") + " FROM call_records" +
		where + orderBy + " LIMIT ? OFFSET ?")

	queryArgs := append(append([]any(nil), args...), limit, offset)
	rows, err := s.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []records.RawRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating call records: %w", err)
	}
	return out, nil
}

func scanRecord(rows *sql.Rows) (records.RawRecord, error) {
	var rec records.RawRecord
	var duration, hold, queueWait, sentiment, entities, categories string
	err := rows.Scan(
		&rec.ID, &rec.Agent, &rec.QueueName, &rec.Disposition, &rec.Campaign, &rec.CustomerID,
		&rec.PrimaryCategory, &rec.Summary, &rec.InitiationTimestamp, &rec.ProcessedAt,
		&duration, &hold, &queueWait, &rec.Transcript,
		&sentiment, &entities, &categories,
	)
	if err != nil {
		return rec, err
	}
	rec.CallDuration = records.RawJSON(duration)
	rec.HoldTime = records.RawJSON(hold)
	rec.QueueWaitTime = records.RawJSON(queueWait)
	rec.SentimentAnalysis = records.RawJSON(sentiment)
	rec.Entities = records.RawJSON(entities)
	rec.Categories = records.RawJSON(categories)
	return rec, nil
}

// FilterOptions lists the values the UI can filter on
type FilterOptions struct {
	Agents       []string `json:"agents"`
	Dispositions []string `json:"dispositions"`
	Queues       []string `json:"queues"`
}

// FilterOptions returns the distinct non-empty agents, dispositions and
// queues, sorted
func (s *Store) FilterOptions(ctx context.Context) (*FilterOptions, error) {
	opts := &FilterOptions{}
	targets := []struct {
		column string
		dest   *[]string
	}{
		{"agent", &opts.Agents},
		{"disposition", &opts.Dispositions},
		{"queue_name", &opts.Queues},
	}

	for _, target := range targets {
		err := s.withTimeout(ctx, func(ctx context.Context) error {
			values, err := s.distinct(ctx, target.column)
			*target.dest = values
			return err
		})
		if err != nil {
			return nil, s.storageError("Failed to load filter options", err)
		}
	}
	return opts, nil
}

func (s *Store) distinct(ctx context.Context, column string) ([]string, error) {
	query := fmt.Sprintf("SELECT DISTINCT %[1]s FROM call_records WHERE TRIM(%[1]s) <> '' ORDER BY %[1]s", column)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, rows.Err()
}
