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

// Package config loads service configuration from YAML, .env files and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every automatic environment override
const EnvPrefix = "CALL_INSIGHTS"

var (
	// ErrMissingRequiredField is returned when a required configuration field is missing
	ErrMissingRequiredField = errors.New("missing required configuration field")
	// ErrInvalidConfigValue is returned when a configuration value is invalid
	ErrInvalidConfigValue = errors.New("invalid configuration value")
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Debug          bool          `mapstructure:"debug"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// OpenAIConfig contains completion service settings
type OpenAIConfig struct {
	APIKey            string        `mapstructure:"apikey"`
	Endpoint          string        `mapstructure:"endpoint"`
	Model             string        `mapstructure:"model"`
	FallbackModel     string        `mapstructure:"fallback_model"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Temperature       float64       `mapstructure:"temperature"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// DatabaseConfig contains record store settings
type DatabaseConfig struct {
	Driver       string        `mapstructure:"driver"`
	DSN          string        `mapstructure:"dsn"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	MaxPageSize  int           `mapstructure:"max_page_size"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxBatches   int           `mapstructure:"max_batches"`
}

// CacheConfig contains response cache settings
type CacheConfig struct {
	Backend    string        `mapstructure:"backend"`
	RedisURL   string        `mapstructure:"redis_url"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}

// DomainConfig describes a configured domain matcher
type DomainConfig struct {
	Name                string   `mapstructure:"name"`
	Patterns            []string `mapstructure:"patterns"`
	Keywords            []string `mapstructure:"keywords"`
	DispositionContains string   `mapstructure:"disposition_contains"`
	KeywordSearch       bool     `mapstructure:"keyword_search"`
}

// PatternConfig describes a structured search term such as a part number
type PatternConfig struct {
	Name      string   `mapstructure:"name"`
	Pattern   string   `mapstructure:"pattern"`
	Templates []string `mapstructure:"templates"`
}

// PipelineConfig contains query pipeline tuning
type PipelineConfig struct {
	TokenBudget        int                 `mapstructure:"token_budget"`
	MaxKeywordMatches  int                 `mapstructure:"max_keyword_matches"`
	ExampleCount       int                 `mapstructure:"example_count"`
	MaxTerms           int                 `mapstructure:"max_terms"`
	LongCallSeconds    float64             `mapstructure:"long_call_seconds"`
	ShortCallSeconds   float64             `mapstructure:"short_call_seconds"`
	HighHoldSeconds    float64             `mapstructure:"high_hold_seconds"`
	MinTranscripts     int                 `mapstructure:"min_keyword_transcripts"`
	Vocabulary         []string            `mapstructure:"vocabulary"`
	Synonyms           map[string][]string `mapstructure:"synonyms"`
	Domains            []DomainConfig      `mapstructure:"domains"`
	StructuredPatterns []PatternConfig     `mapstructure:"structured_patterns"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed for field '%s': %s", e.Field, e.Message)
}

// LoadOptions contains options for configuration loading
type LoadOptions struct {
	ConfigPath string
	// EnvFiles are loaded with godotenv before reading the environment.
	// Variables already set are not overridden.
	EnvFiles         []string
	ValidateRequired bool
}

// Load loads configuration from file and environment variables.
// Environment variables take precedence over config file values.
func Load(configPath string) (*Config, error) {
	return LoadWithOptions(LoadOptions{
		ConfigPath:       configPath,
		EnvFiles:         []string{".env"},
		ValidateRequired: true,
	})
}

// LoadWithOptions loads configuration with additional options
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	if err := loadEnvFiles(opts.EnvFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	found, err := setConfigFile(v, opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to set config file: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if found {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	setEnvironmentMappings(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config, opts.ValidateRequired); err != nil {
		return nil, err
	}
	return &config, nil
}

func loadEnvFiles(files []string) error {
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", file, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.request_timeout", 2*time.Minute)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 3*time.Minute)

	v.SetDefault("openai.apikey", "")
	v.SetDefault("openai.endpoint", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.fallback_model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 1200)
	v.SetDefault("openai.temperature", 0.2)
	v.SetDefault("openai.max_retries", 5)
	v.SetDefault("openai.base_delay", time.Second)
	v.SetDefault("openai.max_delay", 30*time.Second)
	v.SetDefault("openai.requests_per_second", 0)
	v.SetDefault("openai.burst", 1)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "./call_insights.db")
	v.SetDefault("database.query_timeout", 10*time.Second)
	v.SetDefault("database.max_page_size", 100)
	v.SetDefault("database.batch_size", 500)
	v.SetDefault("database.max_batches", 20)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("cache.max_entries", 500)

	v.SetDefault("pipeline.token_budget", 6000)
	v.SetDefault("pipeline.max_keyword_matches", 10)
	v.SetDefault("pipeline.example_count", 3)
	v.SetDefault("pipeline.max_terms", 15)
	v.SetDefault("pipeline.long_call_seconds", 600)
	v.SetDefault("pipeline.short_call_seconds", 60)
	v.SetDefault("pipeline.high_hold_seconds", 120)
	v.SetDefault("pipeline.min_keyword_transcripts", 5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// setConfigFile picks CONFIG_PATH, then configPath, then the default
// locations. A missing default file is not an error; the service can run
// from defaults and environment alone.
func setConfigFile(v *viper.Viper, configPath string) (bool, error) {
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return false, fmt.Errorf("config file specified by CONFIG_PATH does not exist: %s", envPath)
		}
		v.SetConfigFile(envPath)
		return true, nil
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return false, fmt.Errorf("config file does not exist: %s", configPath)
		}
		v.SetConfigFile(configPath)
		return true, nil
	}

	for _, path := range []string{"./configs/config.yaml", "./config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			return true, nil
		}
	}
	return false, nil
}

func setEnvironmentMappings(v *viper.Viper) {
	envMappings := map[string]string{
		"OPENAI_API_KEY":      "openai.apikey",
		"OPENAI_ENDPOINT":     "openai.endpoint",
		"OPENAI_MODEL":        "openai.model",
		"OPENAI_FALLBACK":     "openai.fallback_model",
		"DATABASE_DRIVER":     "database.driver",
		"DATABASE_URL":        "database.dsn",
		"REDIS_URL":           "cache.redis_url",
		"CACHE_BACKEND":       "cache.backend",
		"LOG_LEVEL":           "logging.level",
		"LOG_FORMAT":          "logging.format",
		"LOG_OUTPUT":          "logging.output",
		"PORT":                "server.port",
		"CALL_INSIGHTS_DEBUG": "server.debug",
	}

	for envVar, configKey := range envMappings {
		if value := os.Getenv(envVar); value != "" {
			v.Set(configKey, value)
		}
	}

	// a Postgres URL implies the pgx driver unless one was named
	if os.Getenv("DATABASE_DRIVER") == "" {
		dsn := v.GetString("database.dsn")
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			v.Set("database.driver", "pgx")
		}
	}
	// a Redis URL from the environment switches the cache backend
	if os.Getenv("REDIS_URL") != "" && os.Getenv("CACHE_BACKEND") == "" {
		v.Set("cache.backend", "redis")
	}
}

func validateConfig(config *Config, requireSecrets bool) error {
	var errs []ValidationError
	add := func(field, message string) {
		errs = append(errs, ValidationError{Field: field, Message: message})
	}

	if requireSecrets && config.OpenAI.APIKey == "" {
		add("openai.apikey", "OpenAI API key is required. Set via config file or OPENAI_API_KEY environment variable")
	}
	if config.OpenAI.Model == "" {
		add("openai.model", "model is required")
	}
	if config.OpenAI.MaxTokens <= 0 {
		add("openai.max_tokens", "max_tokens must be greater than 0")
	}
	if config.OpenAI.Temperature < 0 || config.OpenAI.Temperature > 2 {
		add("openai.temperature", "temperature must be between 0 and 2")
	}
	if config.OpenAI.MaxRetries < 0 {
		add("openai.max_retries", "max_retries must be greater than or equal to 0")
	}
	if config.OpenAI.BaseDelay <= 0 || config.OpenAI.MaxDelay < config.OpenAI.BaseDelay {
		add("openai.base_delay", "base_delay must be positive and not above max_delay")
	}
	if config.OpenAI.RequestsPerSecond < 0 {
		add("openai.requests_per_second", "requests_per_second must be greater than or equal to 0")
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		add("server.port", "port must be between 1 and 65535")
	}

	if !contains([]string{"sqlite3", "pgx"}, config.Database.Driver) {
		add("database.driver", "driver must be one of: sqlite3, pgx")
	}
	if config.Database.DSN == "" {
		add("database.dsn", "database DSN is required. Set via config file or DATABASE_URL environment variable")
	}
	if config.Database.MaxPageSize <= 0 || config.Database.BatchSize <= 0 || config.Database.MaxBatches <= 0 {
		add("database", "max_page_size, batch_size and max_batches must be greater than 0")
	}

	if !contains([]string{"memory", "redis", "none"}, config.Cache.Backend) {
		add("cache.backend", "cache backend must be one of: memory, redis, none")
	}
	if config.Cache.Backend == "redis" && config.Cache.RedisURL == "" {
		add("cache.redis_url", "redis_url is required when the cache backend is redis")
	}

	p := config.Pipeline
	if p.TokenBudget <= 0 {
		add("pipeline.token_budget", "token_budget must be greater than 0")
	}
	if p.ShortCallSeconds < 0 || p.LongCallSeconds <= p.ShortCallSeconds {
		add("pipeline.long_call_seconds", "long_call_seconds must be greater than short_call_seconds")
	}
	if p.HighHoldSeconds <= 0 {
		add("pipeline.high_hold_seconds", "high_hold_seconds must be greater than 0")
	}
	if p.MinTranscripts < 0 {
		add("pipeline.min_keyword_transcripts", "min_keyword_transcripts must be greater than or equal to 0")
	}
	for i, domain := range p.Domains {
		if domain.Name == "" {
			add(fmt.Sprintf("pipeline.domains[%d].name", i), "domain name is required")
		}
		for _, pattern := range domain.Patterns {
			if _, err := regexp.Compile("(?i)" + pattern); err != nil {
				add(fmt.Sprintf("pipeline.domains[%d].patterns", i), fmt.Sprintf("invalid pattern %q: %v", pattern, err))
			}
		}
	}
	for i, sp := range p.StructuredPatterns {
		if _, err := regexp.Compile(sp.Pattern); err != nil {
			add(fmt.Sprintf("pipeline.structured_patterns[%d].pattern", i), fmt.Sprintf("invalid pattern %q: %v", sp.Pattern, err))
		}
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, config.Logging.Level) {
		add("logging.level", fmt.Sprintf("log level must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, config.Logging.Format) {
		add("logging.format", fmt.Sprintf("log format must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errs) == 0 {
		return nil
	}
	messages := make([]string, 0, len(errs))
	for _, err := range errs {
		messages = append(messages, err.Error())
	}
	return fmt.Errorf("%w:\n%s", ErrInvalidConfigValue, strings.Join(messages, "\n"))
}

// MaskSensitiveValues returns a copy of the config with sensitive values masked
func (c *Config) MaskSensitiveValues() *Config {
	masked := *c
	if masked.OpenAI.APIKey != "" {
		masked.OpenAI.APIKey = maskValue(masked.OpenAI.APIKey)
	}
	if masked.Cache.RedisURL != "" {
		masked.Cache.RedisURL = maskValue(masked.Cache.RedisURL)
	}
	if masked.Database.Driver == "pgx" && masked.Database.DSN != "" {
		masked.Database.DSN = maskValue(masked.Database.DSN)
	}
	return &masked
}

// maskValue masks sensitive values, showing only the first 8 characters
func maskValue(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:8] + strings.Repeat("*", len(value)-8)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// BuildLogger creates the service logger: json format uses the production
// encoder, text the development one
func (l LoggingConfig) BuildLogger(service string) (*zap.Logger, error) {
	var zapConfig zap.Config
	if l.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	switch l.Level {
	case "debug":
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "warn":
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	switch l.Output {
	case "", "stdout":
		zapConfig.OutputPaths = []string{"stdout"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	case "file":
		zapConfig.OutputPaths = []string{service + ".log"}
		zapConfig.ErrorOutputPaths = []string{service + ".log"}
	default:
		zapConfig.OutputPaths = []string{l.Output}
		zapConfig.ErrorOutputPaths = []string{l.Output}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", service)), nil
}

// WatchConfig reloads the configuration whenever the file changes and
// passes each valid result to callback. Invalid edits are logged and
// ignored.
func WatchConfig(configPath string, logger *zap.Logger, callback func(*Config)) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	v := viper.New()
	found, err := setConfigFile(v, configPath)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: no config file to watch", ErrMissingRequiredField)
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		logger.Info("Config file changed", zap.String("file", e.Name))

		config, err := LoadWithOptions(LoadOptions{
			ConfigPath:       v.ConfigFileUsed(),
			ValidateRequired: true,
		})
		if err != nil {
			logger.Warn("Failed to reload config", zap.Error(err))
			return
		}
		callback(config)
	})
	v.WatchConfig()
	return nil
}
