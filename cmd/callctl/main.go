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

// Package main provides callctl, a command line client for importing call
// records, printing aggregate statistics and asking questions.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/your-org/call-insights/internal/analytics"
	"github.com/your-org/call-insights/internal/api"
	"github.com/your-org/call-insights/internal/app"
	"github.com/your-org/call-insights/internal/config"
	"github.com/your-org/call-insights/internal/dataset"
	"github.com/your-org/call-insights/internal/pipeline"
	"github.com/your-org/call-insights/internal/records"
	"github.com/your-org/call-insights/internal/store"
)

// CommandTimeout bounds a single command
const CommandTimeout = 5 * time.Minute

type globalOptions struct {
	configPath string
	dsn        string
	driver     string
	filter     api.FilterRequest
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "callctl",
		Short:         "Import call records and ask analytics questions about them",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "Record store DSN (overrides configuration)")
	rootCmd.PersistentFlags().StringVar(&opts.driver, "driver", "", "Record store driver: sqlite3 or pgx")

	rootCmd.AddCommand(newImportCmd(opts), newStatsCmd(opts), newAskCmd(opts))
	return rootCmd
}

func addFilterFlags(cmd *cobra.Command, opts *globalOptions) {
	cmd.Flags().StringVar(&opts.filter.TimeWindow, "window", "all", "Time window: all, today, yesterday, last7days, lastMonth, dateRange")
	cmd.Flags().StringVar(&opts.filter.From, "from", "", "First day of a dateRange window (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.filter.To, "to", "", "Last day of a dateRange window (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.filter.Agent, "agent", "", "Only calls handled by this agent")
	cmd.Flags().StringSliceVar(&opts.filter.Dispositions, "disposition", nil, "Only calls with one of these dispositions (repeatable)")
	cmd.Flags().StringVar(&opts.filter.Queue, "queue", "", "Only calls from this queue")
}

// loadConfig reads configuration for a command. Only ask needs the
// completion API key.
func loadConfig(opts *globalOptions, requireKey bool) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadWithOptions(config.LoadOptions{
		ConfigPath:       opts.configPath,
		EnvFiles:         []string{".env"},
		ValidateRequired: requireKey,
	})
	if err != nil {
		return nil, nil, err
	}
	if opts.dsn != "" {
		cfg.Database.DSN = opts.dsn
	}
	if opts.driver != "" {
		cfg.Database.Driver = opts.driver
	}

	// command output owns stdout
	cfg.Logging.Output = "stderr"
	logger, err := cfg.Logging.BuildLogger("callctl")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*store.Store, error) {
	return store.Open(ctx, app.StoreConfig(cfg.Database), logger.Named("store"))
}

func newImportCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.xlsx|file.json>...",
		Short: "Load call records from spreadsheet or JSON exports into the record store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(opts, false)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), CommandTimeout)
			defer cancel()

			recordStore, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = recordStore.Close() }()

			total := 0
			for _, path := range args {
				recs, err := dataset.Load(path)
				if err != nil {
					return fmt.Errorf("failed to load %s: %w", path, err)
				}
				n, err := recordStore.Insert(ctx, recs)
				if err != nil {
					return fmt.Errorf("failed to import %s: %w", path, err)
				}
				logger.Info("Imported records", zap.String("file", path), zap.Int("records", n))
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d records from %s\n", n, path)
				total += n
			}

			count, err := recordStore.Count(ctx, store.Filter{})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Record store now holds %d calls (%d imported)\n", count, total)
			return nil
		},
	}
}

// StatsOutput is the JSON printed by the stats command
type StatsOutput struct {
	Capped  bool              `json:"capped"`
	Metrics analytics.Metrics `json:"metrics"`
}

func newStatsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print aggregate metrics for the stored calls as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(opts, false)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			filter, err := opts.filter.ToFilter()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), CommandTimeout)
			defer cancel()

			recordStore, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = recordStore.Close() }()

			raws, capped, err := recordStore.FetchAll(ctx, filter)
			if err != nil {
				return err
			}

			m := analytics.Aggregate(records.NormalizeAll(raws), app.PipelineOptions(cfg.Pipeline).Analytics)
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(StatsOutput{Capped: capped, Metrics: m})
		},
	}
	addFilterFlags(cmd, opts)
	return cmd
}

func newAskCmd(opts *globalOptions) *cobra.Command {
	var (
		recordsFile string
		intentHint  string
		showMeta    bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask an analytics question about the stored calls or a records file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(opts, true)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			filter, err := opts.filter.ToFilter()
			if err != nil {
				return err
			}

			var raws []records.RawRecord
			if recordsFile != "" {
				if raws, err = dataset.Load(recordsFile); err != nil {
					return fmt.Errorf("failed to load %s: %w", recordsFile, err)
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), CommandTimeout)
			defer cancel()

			deps, err := app.New(ctx, cfg, "cli", logger)
			if err != nil {
				return err
			}
			defer func() { _ = deps.Close() }()

			resp, err := deps.Pipeline.Query(ctx, pipeline.Request{
				Query:      args[0],
				Records:    raws,
				IntentHint: intentHint,
				Filter:     filter,
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), resp.Response)
			if showMeta {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(resp.Metadata)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&recordsFile, "records", "", "Analyse records from this .xlsx or .json file instead of the store")
	cmd.Flags().StringVar(&intentHint, "intent", "", "Intent to use when the question is not recognised")
	cmd.Flags().BoolVar(&showMeta, "metadata", false, "Print response metadata as JSON")
	addFilterFlags(cmd, opts)
	return cmd
}
