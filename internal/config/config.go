// Package config loads and validates comicfeed configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// KnownSources lists the adapters the binary ships with.
var KnownSources = []string{"mangadex", "comick", "asura"}

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Updater  UpdaterConfig  `mapstructure:"updater"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Progress ProgressConfig `mapstructure:"progress"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	DB       DBConfig       `mapstructure:"db"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Server   ServerConfig   `mapstructure:"server"`
	Session  SessionConfig  `mapstructure:"session"`
	Render   RenderConfig   `mapstructure:"render"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Sources  SourcesConfig  `mapstructure:"sources"`
}

// TelegramConfig holds bot credentials.
type TelegramConfig struct {
	Token       string   `mapstructure:"token"`
	APIEndpoint string   `mapstructure:"api_endpoint"`
	Debug       bool     `mapstructure:"debug"`
	Admins      []string `mapstructure:"admins"`
	Concurrency int      `mapstructure:"concurrency"`
	MaxResults  int      `mapstructure:"max_results"`
}

// UpdaterConfig controls the update loop.
type UpdaterConfig struct {
	PeriodSeconds  int `mapstructure:"period_seconds"`
	MaxNewChapters int `mapstructure:"max_new_chapters"`
	// FullWalkEvery forces a full walk on every Nth pass. Zero disables it.
	FullWalkEvery int `mapstructure:"full_walk_every"`
}

// DeliveryConfig sizes the worker pool.
type DeliveryConfig struct {
	Workers             int `mapstructure:"workers"`
	ChapterDelaySeconds int `mapstructure:"chapter_delay_seconds"`
	QueueCapacity       int `mapstructure:"queue_capacity"`
	ImageParallelism    int `mapstructure:"image_parallelism"`
	FloodRetries        int `mapstructure:"flood_retries"`
}

// ProgressConfig sizes the delivery event hub and the recent-deliveries history.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
	Recent         int `mapstructure:"recent"`
}

// HTTPConfig configures the source client.
type HTTPConfig struct {
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	UserAgent        string  `mapstructure:"user_agent"`
	RatePerHost      float64 `mapstructure:"rate_per_host"`
	Burst            int     `mapstructure:"burst"`
	MaxBodyBytes     int     `mapstructure:"max_body_bytes"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// DBConfig selects and sizes the persistence backend.
type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// CacheConfig locates the page image cache.
type CacheConfig struct {
	Dir string `mapstructure:"dir"`
}

// ArchiveConfig controls where rendered documents are archived.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Dir      string `mapstructure:"dir"`
}

// PubSubConfig holds metadata for chapter event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the admin HTTP server. APIKey guards the /v1 routes when set.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// SessionConfig bounds the inline button caches.
type SessionConfig struct {
	Size       int `mapstructure:"size"`
	TTLMinutes int `mapstructure:"ttl_minutes"`
}

// RenderConfig bounds rendered page sizes.
type RenderConfig struct {
	MaxWidth    int `mapstructure:"max_width"`
	JPEGQuality int `mapstructure:"jpeg_quality"`
}

// LoggingConfig toggles zap development features. Level is a zap level name.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SourcesConfig enables adapters and overrides their hosts.
type SourcesConfig struct {
	Enabled          []string `mapstructure:"enabled"`
	MangaDexLanguage string   `mapstructure:"mangadex_language"`
	MangaDexAPI      string   `mapstructure:"mangadex_api"`
	ComickBaseURL    string   `mapstructure:"comick_base_url"`
	AsuraBaseURL     string   `mapstructure:"asura_base_url"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COMICFEED")
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
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.api_endpoint", "")
	v.SetDefault("telegram.debug", false)
	v.SetDefault("telegram.admins", []string{})
	v.SetDefault("telegram.concurrency", 8)
	v.SetDefault("telegram.max_results", 10)
	v.SetDefault("updater.period_seconds", 1800)
	v.SetDefault("updater.max_new_chapters", 20)
	v.SetDefault("updater.full_walk_every", 12)
	v.SetDefault("delivery.workers", 4)
	v.SetDefault("delivery.chapter_delay_seconds", 1)
	v.SetDefault("delivery.queue_capacity", 0)
	v.SetDefault("delivery.image_parallelism", 8)
	v.SetDefault("delivery.flood_retries", 5)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("progress.recent", 100)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.user_agent", "comicfeed/0.1")
	v.SetDefault("http.rate_per_host", 2.0)
	v.SetDefault("http.burst", 2)
	v.SetDefault("http.max_body_bytes", 32<<20)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 60)
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "comicfeed.db")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("cache.dir", "cache")
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "documents")
	v.SetDefault("archive.dir", "archive")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("session.size", 4096)
	v.SetDefault("session.ttl_minutes", 1440)
	v.SetDefault("render.max_width", 1600)
	v.SetDefault("render.jpeg_quality", 85)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("sources.enabled", KnownSources)
	v.SetDefault("sources.mangadex_language", "en")
	v.SetDefault("sources.mangadex_api", "")
	v.SetDefault("sources.comick_base_url", "")
	v.SetDefault("sources.asura_base_url", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Updater.PeriodSeconds <= 0 {
		return fmt.Errorf("updater.period_seconds must be > 0")
	}
	if c.Updater.MaxNewChapters <= 0 {
		return fmt.Errorf("updater.max_new_chapters must be > 0")
	}
	if c.Delivery.Workers <= 0 {
		return fmt.Errorf("delivery.workers must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.DB.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("db.driver %q must be one of memory, sqlite, postgres", c.DB.Driver)
	}
	switch c.Archive.Provider {
	case "none", "":
	case "local":
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir must be set for the local provider")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("archive.provider %q must be one of none, local, gcs", c.Archive.Provider)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}
	if len(c.Sources.Enabled) == 0 {
		return fmt.Errorf("sources.enabled must list at least one source")
	}
	for _, name := range c.Sources.Enabled {
		if !slices.Contains(KnownSources, name) {
			return fmt.Errorf("sources.enabled: unknown source %q", name)
		}
	}
	return nil
}

// RequireTelegram reports whether the bot credentials needed by `run` are present.
func (c Config) RequireTelegram() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token must be set (COMICFEED_TELEGRAM_TOKEN)")
	}
	return nil
}

// Period is the start-to-start interval of update passes.
func (c Config) Period() time.Duration {
	return time.Duration(c.Updater.PeriodSeconds) * time.Second
}

// HTTPTimeout bounds a single source request.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ChapterDelay is the pause between deliveries on one worker.
func (c Config) ChapterDelay() time.Duration {
	return time.Duration(c.Delivery.ChapterDelaySeconds) * time.Second
}

// SessionTTL is how long inline buttons stay valid.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}
