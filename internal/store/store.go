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

// Package store persists call records in SQLite or Postgres and serves the
// paginated, filtered reads the query pipeline and API need.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver
	"go.uber.org/zap"

	"github.com/your-org/call-insights/internal/records"
	"github.com/your-org/call-insights/internal/resilience"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

const (
	// DefaultPageSize is used when a list request does not give a limit
	DefaultPageSize = 25
	// DefaultMaxPageSize caps list requests
	DefaultMaxPageSize = 100
	// DefaultBatchSize is the row count per FetchAll batch
	DefaultBatchSize = 500
	// DefaultMaxBatches caps FetchAll at DefaultBatchSize*DefaultMaxBatches rows
	DefaultMaxBatches = 20
	// DefaultQueryTimeout bounds each storage query
	DefaultQueryTimeout = 10 * time.Second
)

// Config configures the record store
type Config struct {
	Driver       string
	DSN          string
	QueryTimeout time.Duration
	MaxPageSize  int
	BatchSize    int
	MaxBatches   int
	// ConnectRetries is the number of extra ping attempts on Open
	ConnectRetries int
	// Now is the clock used for relative time windows
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = DefaultMaxPageSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxBatches <= 0 {
		c.MaxBatches = DefaultMaxBatches
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Store reads and writes call records
type Store struct {
	db     *sql.DB
	cfg    Config
	logger *zap.Logger
}

// Open connects to the database, retrying the initial ping with backoff,
// and creates the schema when missing
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	if cfg.Driver != DriverSQLite && cfg.Driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Driver == DriverSQLite {
		// every sqlite connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	err = resilience.WithExponentialBackoff(ctx, logger, connectBackoff(cfg.ConnectRetries), func(ctx context.Context) error {
		return db.PingContext(ctx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db, cfg: cfg, logger: logger}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Record store opened",
		zap.String("driver", cfg.Driver),
		zap.Duration("query_timeout", cfg.QueryTimeout))
	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the configured driver name
func (s *Store) Driver() string {
	return s.cfg.Driver
}

var recordColumns = []string{
	"id", "agent", "queue_name", "disposition", "campaign", "customer_id",
	"primary_category", "summary", "initiation_timestamp", "processed_at",
	"call_duration", "hold_time", "queue_wait_time", "transcript",
	"sentiment_analysis", "entities", "categories",
}

func (s *Store) initSchema(ctx context.Context) error {
	columns := make([]string, 0, len(recordColumns))
	for _, column := range recordColumns {
		if column == "id" {
			columns = append(columns, "id TEXT PRIMARY KEY")
			continue
		}
		columns = append(columns, column+" TEXT NOT NULL DEFAULT ''")
	}

	statements := []string{
		"CREATE TABLE IF NOT EXISTS call_records (\n\t" + strings.Join(columns, ",\n\t") + "\n)",
		"CREATE INDEX IF NOT EXISTS idx_call_records_initiated ON call_records (initiation_timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_call_records_agent ON call_records (agent)",
		"CREATE INDEX IF NOT EXISTS idx_call_records_disposition ON call_records (disposition)",
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Insert upserts records by id and returns how many were written. Records
// without an id are skipped.
func (s *Store) Insert(ctx context.Context, recs []records.RawRecord) (int, error) {
	updates := make([]string, 0, len(recordColumns)-1)
	for _, column := range recordColumns[1:] {
		updates = append(updates, column+" = excluded."+column)
	}
	query := s.rebind(fmt.Sprintf(
		"INSERT INTO call_records (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		strings.Join(recordColumns, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(recordColumns)), ", "),
		strings.Join(updates, ", ")))

	written := 0
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, rec := range recs {
			if strings.TrimSpace(rec.ID) == "" {
				continue
			}
			if _, err := stmt.ExecContext(ctx, recordArgs(rec)...); err != nil {
				return fmt.Errorf("failed to insert record %s: %w", rec.ID, err)
			}
			written++
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, s.storageError("Failed to save call records", err)
	}

	s.logger.Info("Inserted call records",
		zap.Int("written", written),
		zap.Int("skipped", len(recs)-written))
	return written, nil
}

func recordArgs(rec records.RawRecord) []any {
	return []any{
		strings.TrimSpace(rec.ID),
		rec.Agent,
		rec.QueueName,
		rec.Disposition,
		rec.Campaign,
		rec.CustomerID,
		rec.PrimaryCategory,
		rec.Summary,
		storedTimestamp(rec.InitiationTimestamp),
		rec.ProcessedAt,
		string(rec.CallDuration),
		string(rec.HoldTime),
		string(rec.QueueWaitTime),
		rec.Transcript,
		string(rec.SentimentAnalysis),
		string(rec.Entities),
		string(rec.Categories),
	}
}

// storedTimestamp writes parsable timestamps as UTC RFC 3339 so time
// windows can compare them as text
func storedTimestamp(s string) string {
	t := records.ParseTimestamp(s)
	if t.IsZero() {
		return strings.TrimSpace(s)
	}
	return formatTimestamp(t)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// rebind rewrites ? placeholders to $n for Postgres
func (s *Store) rebind(query string) string {
	if s.cfg.Driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) withTimeout(ctx context.Context, fn resilience.TimeoutFunc) error {
	return resilience.WithTimeout(ctx, s.cfg.QueryTimeout, s.logger, fn)
}

// connectBackoff spaces out the initial pings. Replicas started together
// retry at jittered intervals.
func connectBackoff(retries int) resilience.BackoffConfig {
	backoff := resilience.DefaultBackoffConfig()
	backoff.BaseDelay = 200 * time.Millisecond
	backoff.MaxDelay = 2 * time.Second
	backoff.MaxRetries = retries
	backoff.Jitter = true
	return backoff
}

// storageError keeps timeouts and caller cancellation as they are and turns
// everything else into an internal error
func (s *Store) storageError(message string, err error) error {
	if resilience.IsTimeout(err) {
		s.logger.Warn("Storage query timed out", zap.String("operation", message))
		return resilience.NewTimeoutError("The call records query timed out", err).
			WithDiagnosis("The record store did not answer within the query timeout")
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s.logger.Error(message, zap.Error(err))
	return resilience.NewInternalError(message, err)
}
