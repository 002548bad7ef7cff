// Package config defines the top-level configuration for the feature builder
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CFBFEAT_* environment variables.
type Config struct {
	Source   SourceConfig   `toml:"source"`
	Features FeaturesConfig `toml:"features"`
	Output   OutputConfig   `toml:"output"`
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Schedule ScheduleConfig `toml:"schedule"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// SourceConfig selects where raw game records come from and how the raw CSV
// is laid out.
type SourceConfig struct {
	// Backend is "blob" (CSV object in the configured storage) or "postgres".
	Backend       string   `toml:"backend"`
	InputKey      string   `toml:"input_key"`
	TeamColumn    string   `toml:"team_column"`
	DateColumn    string   `toml:"date_column"`
	ScoreColumn   string   `toml:"score_column"`
	FixtureColumn string   `toml:"fixture_column"`
	SideColumn    string   `toml:"side_column"`
	StatColumns   []string `toml:"stat_columns"`
}

// Schema returns the raw table layout described by the source section.
func (s SourceConfig) Schema() domain.Schema {
	return domain.Schema{
		TeamColumn:    s.TeamColumn,
		DateColumn:    s.DateColumn,
		ScoreColumn:   s.ScoreColumn,
		FixtureColumn: s.FixtureColumn,
		SideColumn:    s.SideColumn,
		StatColumns:   append([]string(nil), s.StatColumns...),
	}
}

// FeaturesConfig holds the transform parameters.
type FeaturesConfig struct {
	Span          int      `toml:"span"`
	Places        int      `toml:"places"`
	LabelColumn   string   `toml:"label_column"`
	ImputeColumns []string `toml:"impute_columns"`
}

// OutputConfig controls where the feature table is written.
type OutputConfig struct {
	Key           string  `toml:"key"`
	TrainFraction float64 `toml:"train_fraction"`
	// MultipartThresholdMB switches uploads to multipart above this size.
	MultipartThresholdMB int `toml:"multipart_threshold_mb"`
	PartSizeMB           int `toml:"part_size_mb"`
}

// StorageConfig selects the blob backend.
type StorageConfig struct {
	// Backend is "s3" or "local".
	Backend  string `toml:"backend"`
	LocalDir string `toml:"local_dir"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	LockTTL    duration `toml:"lock_ttl"`
	CacheTTL   duration `toml:"cache_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ScheduleConfig controls periodic rebuilds in serve mode. ArchiveCron copies
// build runs older than RetentionDays from Postgres to S3; it only runs when
// both are enabled.
type ScheduleConfig struct {
	Enabled       bool     `toml:"enabled"`
	Cron          string   `toml:"cron"`
	RunOnStart    bool     `toml:"run_on_start"`
	Timeout       duration `toml:"timeout"`
	ArchiveCron   string   `toml:"archive_cron"`
	RetentionDays int      `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters. An empty APIKey leaves the
// trigger endpoint unauthenticated. TriggerLimit manual rebuilds are allowed
// per client per TriggerWindow when Redis is enabled.
type ServerConfig struct {
	Enabled       bool     `toml:"enabled"`
	Port          int      `toml:"port"`
	CORSOrigins   []string `toml:"cors_origins"`
	APIKey        string   `toml:"api_key"`
	TriggerLimit  int      `toml:"trigger_limit"`
	TriggerWindow duration `toml:"trigger_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	schema := domain.DefaultSchema()
	return Config{
		Source: SourceConfig{
			Backend:       "blob",
			InputKey:      "raw/games_data_2021_26.csv",
			TeamColumn:    schema.TeamColumn,
			DateColumn:    schema.DateColumn,
			ScoreColumn:   schema.ScoreColumn,
			FixtureColumn: schema.FixtureColumn,
			SideColumn:    schema.SideColumn,
			StatColumns:   schema.StatColumns,
		},
		Features: FeaturesConfig{
			Span:          5,
			Places:        4,
			LabelColumn:   domain.DefaultLabelColumn,
			ImputeColumns: []string{"Average"},
		},
		Output: OutputConfig{
			Key:                  "processed/processed_game_data_2021-26.csv",
			TrainFraction:        0.8,
			MultipartThresholdMB: 16,
			PartSizeMB:           8,
		},
		Storage: StorageConfig{
			Backend:  "local",
			LocalDir: "Data",
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "cfbfeatures",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   10,
			MaxRetries: 3,
			TLSEnabled: false,
			LockTTL:    duration{10 * time.Minute},
			CacheTTL:   duration{24 * time.Hour},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "cfb-features",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Schedule: ScheduleConfig{
			Enabled:       true,
			Cron:          "0 6 * * 1",
			RunOnStart:    false,
			Timeout:       duration{5 * time.Minute},
			ArchiveCron:   "0 3 1 * *",
			RetentionDays: 180,
		},
		Server: ServerConfig{
			Enabled:       true,
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			TriggerLimit:  5,
			TriggerWindow: duration{time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"build_failed"},
		},
		Mode:     "build",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"build": true,
	"serve": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: build, serve)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Source
	switch c.Source.Backend {
	case "blob":
		if c.Source.InputKey == "" {
			errs = append(errs, "source: input_key must not be empty for the blob backend")
		}
	case "postgres":
		if !c.Postgres.Enabled {
			errs = append(errs, "source: backend postgres requires postgres.enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("source: unknown backend %q (valid: blob, postgres)", c.Source.Backend))
	}
	if c.Source.TeamColumn == "" {
		errs = append(errs, "source: team_column must not be empty")
	}
	if c.Source.ScoreColumn == "" {
		errs = append(errs, "source: score_column must not be empty")
	}
	if len(c.Source.StatColumns) == 0 {
		errs = append(errs, "source: stat_columns must not be empty")
	}
	seen := make(map[string]bool, len(c.Source.StatColumns))
	for _, col := range c.Source.StatColumns {
		if seen[col] {
			errs = append(errs, fmt.Sprintf("source: duplicate stat column %q", col))
		}
		seen[col] = true
	}

	// Features
	if c.Features.Span < 1 {
		errs = append(errs, "features: span must be >= 1")
	}
	if c.Features.Places < 0 || c.Features.Places > 10 {
		errs = append(errs, fmt.Sprintf("features: places must be 0-10, got %d", c.Features.Places))
	}
	if c.Features.LabelColumn == "" {
		errs = append(errs, "features: label_column must not be empty")
	}
	if seen[c.Features.LabelColumn] {
		errs = append(errs, fmt.Sprintf("features: label_column %q collides with a stat column", c.Features.LabelColumn))
	}
	for _, col := range c.Features.ImputeColumns {
		if !seen[col] {
			errs = append(errs, fmt.Sprintf("features: impute column %q is not a stat column", col))
		}
	}

	// Output
	if c.Output.Key == "" {
		errs = append(errs, "output: key must not be empty")
	}
	if c.Output.TrainFraction < 0 || c.Output.TrainFraction >= 1 {
		errs = append(errs, "output: train_fraction must be in [0, 1)")
	}
	if c.Output.PartSizeMB < 5 {
		errs = append(errs, "output: part_size_mb must be >= 5")
	}

	// Storage
	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalDir == "" {
			errs = append(errs, "storage: local_dir must not be empty for the local backend")
		}
	case "s3":
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: local, s3)", c.Storage.Backend))
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration <= 0 {
			errs = append(errs, "redis: lock_ttl must be > 0")
		}
	}

	// Schedule
	if c.Schedule.Enabled {
		if n := len(strings.Fields(c.Schedule.Cron)); n != 5 {
			errs = append(errs, fmt.Sprintf("schedule: cron must have 5 fields, got %d", n))
		}
	}
	if c.Schedule.Timeout.Duration <= 0 {
		errs = append(errs, "schedule: timeout must be > 0")
	}
	if c.Schedule.ArchiveCron != "" {
		if n := len(strings.Fields(c.Schedule.ArchiveCron)); n != 5 {
			errs = append(errs, fmt.Sprintf("schedule: archive_cron must have 5 fields, got %d", n))
		}
		if c.Schedule.RetentionDays < 1 {
			errs = append(errs, "schedule: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.TriggerLimit < 1 {
			errs = append(errs, "server: trigger_limit must be >= 1")
		}
		if c.Server.TriggerWindow.Duration <= 0 {
			errs = append(errs, "server: trigger_window must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
