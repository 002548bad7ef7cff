package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CFBFEAT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CFBFEAT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Source ──
	setStr(&cfg.Source.Backend, "CFBFEAT_SOURCE_BACKEND")
	setStr(&cfg.Source.InputKey, "CFBFEAT_SOURCE_INPUT_KEY")
	setStr(&cfg.Source.TeamColumn, "CFBFEAT_SOURCE_TEAM_COLUMN")
	setStr(&cfg.Source.DateColumn, "CFBFEAT_SOURCE_DATE_COLUMN")
	setStr(&cfg.Source.ScoreColumn, "CFBFEAT_SOURCE_SCORE_COLUMN")
	setStr(&cfg.Source.FixtureColumn, "CFBFEAT_SOURCE_FIXTURE_COLUMN")
	setStr(&cfg.Source.SideColumn, "CFBFEAT_SOURCE_SIDE_COLUMN")
	setStringSlice(&cfg.Source.StatColumns, "CFBFEAT_SOURCE_STAT_COLUMNS")

	// ── Features ──
	setInt(&cfg.Features.Span, "CFBFEAT_FEATURES_SPAN")
	setInt(&cfg.Features.Places, "CFBFEAT_FEATURES_PLACES")
	setStr(&cfg.Features.LabelColumn, "CFBFEAT_FEATURES_LABEL_COLUMN")
	setStringSlice(&cfg.Features.ImputeColumns, "CFBFEAT_FEATURES_IMPUTE_COLUMNS")

	// ── Output ──
	setStr(&cfg.Output.Key, "CFBFEAT_OUTPUT_KEY")
	setFloat64(&cfg.Output.TrainFraction, "CFBFEAT_OUTPUT_TRAIN_FRACTION")
	setInt(&cfg.Output.MultipartThresholdMB, "CFBFEAT_OUTPUT_MULTIPART_THRESHOLD_MB")
	setInt(&cfg.Output.PartSizeMB, "CFBFEAT_OUTPUT_PART_SIZE_MB")

	// ── Storage ──
	setStr(&cfg.Storage.Backend, "CFBFEAT_STORAGE_BACKEND")
	setStr(&cfg.Storage.LocalDir, "CFBFEAT_STORAGE_LOCAL_DIR")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "CFBFEAT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "CFBFEAT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "CFBFEAT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CFBFEAT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CFBFEAT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CFBFEAT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CFBFEAT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CFBFEAT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CFBFEAT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CFBFEAT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CFBFEAT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CFBFEAT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CFBFEAT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CFBFEAT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CFBFEAT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CFBFEAT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CFBFEAT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CFBFEAT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LockTTL, "CFBFEAT_REDIS_LOCK_TTL")
	setDuration(&cfg.Redis.CacheTTL, "CFBFEAT_REDIS_CACHE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CFBFEAT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CFBFEAT_S3_REGION")
	setStr(&cfg.S3.Bucket, "CFBFEAT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CFBFEAT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CFBFEAT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CFBFEAT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CFBFEAT_S3_FORCE_PATH_STYLE")

	// ── Schedule ──
	setBool(&cfg.Schedule.Enabled, "CFBFEAT_SCHEDULE_ENABLED")
	setStr(&cfg.Schedule.Cron, "CFBFEAT_SCHEDULE_CRON")
	setBool(&cfg.Schedule.RunOnStart, "CFBFEAT_SCHEDULE_RUN_ON_START")
	setDuration(&cfg.Schedule.Timeout, "CFBFEAT_SCHEDULE_TIMEOUT")
	setStr(&cfg.Schedule.ArchiveCron, "CFBFEAT_SCHEDULE_ARCHIVE_CRON")
	setInt(&cfg.Schedule.RetentionDays, "CFBFEAT_SCHEDULE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CFBFEAT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CFBFEAT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CFBFEAT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CFBFEAT_SERVER_API_KEY")
	setInt(&cfg.Server.TriggerLimit, "CFBFEAT_SERVER_TRIGGER_LIMIT")
	setDuration(&cfg.Server.TriggerWindow, "CFBFEAT_SERVER_TRIGGER_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CFBFEAT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CFBFEAT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CFBFEAT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CFBFEAT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CFBFEAT_MODE")
	setStr(&cfg.LogLevel, "CFBFEAT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
