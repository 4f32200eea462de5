// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/quizforge/question-harvester/internal/harvest"
)

// Config captures every service knob loaded via Viper.
type Config struct {
	Server     ServerConfig           `mapstructure:"server"`
	Auth       AuthConfig             `mapstructure:"auth"`
	Logging    LoggingConfig          `mapstructure:"logging"`
	Jobs       JobsConfig             `mapstructure:"jobs"`
	Crawl      CrawlConfig            `mapstructure:"crawl"`
	HTTP       HTTPConfig             `mapstructure:"http"`
	Headless   HeadlessConfig         `mapstructure:"headless"`
	RateLimit  RateLimitConfig        `mapstructure:"ratelimit"`
	AntiDetect AntiDetectConfig       `mapstructure:"antidetect"`
	Quality    QualityConfig          `mapstructure:"quality"`
	Dedup      DedupConfig            `mapstructure:"dedup"`
	Storage    StorageConfig          `mapstructure:"storage"`
	Archive    ArchiveConfig          `mapstructure:"archive"`
	PubSub     PubSubConfig           `mapstructure:"pubsub"`
	Progress   ProgressConfig         `mapstructure:"progress"`
	Sources    []harvest.SourceConfig `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// JobsConfig governs the orchestration engine.
type JobsConfig struct {
	MaxConcurrent         int `mapstructure:"max_concurrent"`
	MaxRetries            int `mapstructure:"max_retries"`
	RetryBaseMs           int `mapstructure:"retry_base_ms"`
	RetryMaxMs            int `mapstructure:"retry_max_ms"`
	TimeoutSeconds        int `mapstructure:"timeout_seconds"`
	RetentionHours        int `mapstructure:"retention_hours"`
	RetentionSweepMinutes int `mapstructure:"retention_sweep_minutes"`
}

// CrawlConfig governs the crawl execution engine.
type CrawlConfig struct {
	MaxFetchRetries   int `mapstructure:"max_fetch_retries"`
	EmptyPageLimit    int `mapstructure:"empty_page_limit"`
	ExtractErrorLimit int `mapstructure:"extract_error_limit"`
}

// HTTPConfig configures the plain HTTP driver.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the browser driver and render promotion.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	MinBodyBytes  int  `mapstructure:"min_body_bytes"`
}

// RateLimitConfig tunes adaptive per-source pacing.
type RateLimitConfig struct {
	DefaultDelayMs int     `mapstructure:"default_delay_ms"`
	MaxDelayMs     int     `mapstructure:"max_delay_ms"`
	DecayFactor    float64 `mapstructure:"decay_factor"`
	ResetStreak    int     `mapstructure:"reset_streak"`
}

// AntiDetectConfig tunes risk scoring, identity rotation, and cooldowns.
type AntiDetectConfig struct {
	WindowSize           int     `mapstructure:"window_size"`
	BlockWeight          float64 `mapstructure:"block_weight"`
	ErrorWeight          float64 `mapstructure:"error_weight"`
	RotationThreshold    float64 `mapstructure:"rotation_threshold"`
	RotateAfter          int     `mapstructure:"rotate_after"`
	CooldownThreshold    float64 `mapstructure:"cooldown_threshold"`
	CooldownMinutes      int     `mapstructure:"cooldown_minutes"`
	MaxJitter            float64 `mapstructure:"max_jitter"`
	MaxBackoffMultiplier float64 `mapstructure:"max_backoff_multiplier"`
}

// QualityConfig holds scoring and gate thresholds.
type QualityConfig struct {
	MinQuestionLen  int     `mapstructure:"min_question_len"`
	MinOptions      int     `mapstructure:"min_options"`
	AcceptThreshold float64 `mapstructure:"accept_threshold"`
	RejectThreshold float64 `mapstructure:"reject_threshold"`
}

// DedupConfig tunes the duplicate detector.
type DedupConfig struct {
	Threshold  float64 `mapstructure:"threshold"`
	WindowSize int     `mapstructure:"window_size"`
}

// StorageConfig selects and configures the job/item store backend.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"` // memory | postgres
	Postgres PostgresConfig `mapstructure:"postgres"`
	// ItemBackend overrides the item store only; empty follows Backend.
	ItemBackend string      `mapstructure:"item_backend"` // memory | postgres | mongo
	Mongo       MongoConfig `mapstructure:"mongo"`
}

// PostgresConfig controls the pgx connection pool.
type PostgresConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int    `mapstructure:"max_conns"`
	MinConns           int    `mapstructure:"min_conns"`
	MaxConnLifetimeMin int    `mapstructure:"max_conn_lifetime_minutes"`
}

// MongoConfig controls the mongo item store.
type MongoConfig struct {
	URI            string `mapstructure:"uri"`
	Database       string `mapstructure:"database"`
	Collection     string `mapstructure:"collection"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxPoolSize    int    `mapstructure:"max_pool_size"`
}

// ArchiveConfig selects and configures raw page snapshot storage.
type ArchiveConfig struct {
	Backend     string `mapstructure:"backend"` // memory | local | gcs
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for accepted-item notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ProgressConfig tunes the progress event hub.
type ProgressConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	LogEnabled    bool `mapstructure:"log_enabled"`
	BufferSize    int  `mapstructure:"buffer_size"`
	MaxEvents     int  `mapstructure:"max_events"`
	MaxWaitMs     int  `mapstructure:"max_wait_ms"`
	SinkTimeoutMs int  `mapstructure:"sink_timeout_ms"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("jobs.max_concurrent", 4)
	v.SetDefault("jobs.max_retries", 2)
	v.SetDefault("jobs.retry_base_ms", 250)
	v.SetDefault("jobs.retry_max_ms", 30000)
	v.SetDefault("jobs.timeout_seconds", 1800)
	v.SetDefault("jobs.retention_hours", 72)
	v.SetDefault("jobs.retention_sweep_minutes", 5)
	v.SetDefault("crawl.max_fetch_retries", 2)
	v.SetDefault("crawl.empty_page_limit", 3)
	v.SetDefault("crawl.extract_error_limit", 3)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.min_body_bytes", 512)
	v.SetDefault("ratelimit.default_delay_ms", 1000)
	v.SetDefault("ratelimit.max_delay_ms", 120000)
	v.SetDefault("ratelimit.decay_factor", 0.75)
	v.SetDefault("ratelimit.reset_streak", 5)
	v.SetDefault("antidetect.window_size", 20)
	v.SetDefault("antidetect.rotation_threshold", 0.5)
	v.SetDefault("antidetect.rotate_after", 50)
	v.SetDefault("antidetect.cooldown_threshold", 0.85)
	v.SetDefault("antidetect.cooldown_minutes", 5)
	v.SetDefault("quality.min_question_len", 10)
	v.SetDefault("quality.min_options", 2)
	v.SetDefault("quality.accept_threshold", 0.75)
	v.SetDefault("quality.reject_threshold", 0.4)
	v.SetDefault("dedup.threshold", 0.8)
	v.SetDefault("dedup.window_size", 5000)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.postgres.max_conns", 8)
	v.SetDefault("storage.postgres.min_conns", 1)
	v.SetDefault("storage.postgres.max_conn_lifetime_minutes", 30)
	v.SetDefault("storage.mongo.database", "harvester")
	v.SetDefault("storage.mongo.collection", "items")
	v.SetDefault("storage.mongo.timeout_seconds", 10)
	v.SetDefault("archive.backend", "memory")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_events", 256)
	v.SetDefault("progress.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 10000)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Jobs.MaxConcurrent <= 0 {
		return fmt.Errorf("jobs.max_concurrent must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Quality.AcceptThreshold < c.Quality.RejectThreshold {
		return fmt.Errorf("quality.accept_threshold must be >= quality.reject_threshold")
	}
	if c.Dedup.Threshold <= 0 || c.Dedup.Threshold > 1 {
		return fmt.Errorf("dedup.threshold must be in (0, 1]")
	}
	switch c.Storage.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown storage.backend: %s", c.Storage.Backend)
	}
	if c.Storage.Backend == "postgres" && c.Storage.Postgres.DSN == "" {
		return fmt.Errorf("storage.postgres.dsn must be set when storage.backend is postgres")
	}
	switch c.Storage.ItemBackend {
	case "", "memory", "postgres":
	case "mongo":
		if c.Storage.Mongo.URI == "" {
			return fmt.Errorf("storage.mongo.uri must be set when storage.item_backend is mongo")
		}
	default:
		return fmt.Errorf("unknown storage.item_backend: %s", c.Storage.ItemBackend)
	}
	switch c.Archive.Backend {
	case "memory":
	case "local":
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set when archive.backend is local")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.backend is gcs")
		}
	default:
		return fmt.Errorf("unknown archive.backend: %s", c.Archive.Backend)
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for _, src := range c.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[].id must be set")
		}
		if _, dup := seen[src.ID]; dup {
			return fmt.Errorf("duplicate source id: %s", src.ID)
		}
		seen[src.ID] = struct{}{}
	}
	return nil
}

// JobTimeout converts the configured per-job budget to a duration.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Jobs.TimeoutSeconds) * time.Second
}

// RequestTimeout converts the HTTP driver timeout to a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
