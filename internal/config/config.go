// Package config loads server configuration from environment variables,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all tunables for the pixel canvas server.
//
// Tags:
//
//	env: environment variable name
//	envDefault: value used when the variable is unset
type Config struct {
	// Server basics
	Addr string `env:"PX_ADDR" envDefault:":8080"`

	// Canvas dimensions
	CanvasWidth  int `env:"PX_CANVAS_WIDTH" envDefault:"900"`
	CanvasHeight int `env:"PX_CANVAS_HEIGHT" envDefault:"900"`

	// Empty-canvas fill color, see DESIGN.md Open Questions.
	// "black" -> (0,0,0), "white" -> (255,255,255)
	EmptyCanvasColor string `env:"PX_EMPTY_CANVAS_COLOR" envDefault:"black"`

	// Batcher
	FlushIntervalMs int `env:"PX_FLUSH_INTERVAL_MS" envDefault:"50"`
	MaxBatchSize    int `env:"PX_MAX_BATCH_SIZE" envDefault:"100000"`

	// TokenBucketLimiter (per-user burst limiter)
	BucketCapacity     float64 `env:"PX_BUCKET_CAPACITY" envDefault:"20"`
	BucketRefillPerSec float64 `env:"PX_BUCKET_REFILL_PER_SEC" envDefault:"10"`
	IdleBucketTTLSec   int     `env:"PX_IDLE_BUCKET_TTL_SEC" envDefault:"300"`

	// WindowCounterLimiter (per-user minute window, via Cache)
	MinuteWindowMax int `env:"PX_MINUTE_WINDOW_MAX" envDefault:"100"`

	// Broadcaster
	SubscriberQueueCap int `env:"PX_SUBSCRIBER_QUEUE_CAP" envDefault:"64"`

	// LockIndex / Cache freshness
	LockCacheTTLSec   int `env:"PX_LOCK_CACHE_TTL_SEC" envDefault:"300"`
	CanvasCacheTTLSec int `env:"PX_CANVAS_CACHE_TTL_SEC" envDefault:"3600"`

	// Cache backend (redis). Empty address disables the Cache tier; callers
	// then rely on fail-open windowed limiting and Persistence-only reads.
	RedisAddr     string `env:"PX_REDIS_ADDR" envDefault:""`
	RedisPassword string `env:"PX_REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"PX_REDIS_DB" envDefault:"0"`

	// Persistence backend (embedded bbolt store)
	DataPath string `env:"PX_DATA_PATH" envDefault:"./data/pixelboard.db"`

	// ClusterRelay (optional NATS fan-out across sibling processes)
	NATSURL     string `env:"PX_NATS_URL" envDefault:""`
	NATSSubject string `env:"PX_NATS_SUBJECT" envDefault:"pixels.applied"`

	// Auth (verification only, see internal/auth)
	JWTSecret string `env:"PX_JWT_SECRET" envDefault:""`

	// Connection admission (per-IP burst protection at WS upgrade)
	ConnRateLimitIPBurst int     `env:"PX_CONN_RATE_IP_BURST" envDefault:"10"`
	ConnRateLimitIPRate  float64 `env:"PX_CONN_RATE_IP_PER_SEC" envDefault:"1.0"`

	// Monitoring
	MetricsInterval   time.Duration `env:"PX_METRICS_INTERVAL" envDefault:"15s"`
	AlertSlackWebhook string        `env:"PX_ALERT_SLACK_WEBHOOK" envDefault:""`

	// Logging
	LogLevel  string `env:"PX_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"PX_LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from a .env file (if present) and the process
// environment, validates it, and returns the result. Priority: env vars >
// .env file > struct defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for internally inconsistent or
// out-of-range values.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("PX_ADDR is required")
	}
	if c.CanvasWidth <= 0 || c.CanvasHeight <= 0 {
		return fmt.Errorf("PX_CANVAS_WIDTH/PX_CANVAS_HEIGHT must be > 0")
	}
	if c.FlushIntervalMs <= 0 {
		return fmt.Errorf("PX_FLUSH_INTERVAL_MS must be > 0")
	}
	if c.BucketCapacity <= 0 || c.BucketRefillPerSec <= 0 {
		return fmt.Errorf("bucket capacity and refill rate must be > 0")
	}
	if c.MinuteWindowMax <= 0 {
		return fmt.Errorf("PX_MINUTE_WINDOW_MAX must be > 0")
	}
	if c.SubscriberQueueCap <= 0 {
		return fmt.Errorf("PX_SUBSCRIBER_QUEUE_CAP must be > 0")
	}

	switch c.EmptyCanvasColor {
	case "black", "white":
	default:
		return fmt.Errorf("PX_EMPTY_CANVAS_COLOR must be one of: black, white (got %q)", c.EmptyCanvasColor)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("PX_LOG_LEVEL must be one of: debug, info, warn, error (got %q)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("PX_LOG_FORMAT must be one of: json, pretty (got %q)", c.LogFormat)
	}

	return nil
}

// LogFields logs the loaded configuration using structured fields.
func (c *Config) LogFields(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Addr).
		Int("canvas_width", c.CanvasWidth).
		Int("canvas_height", c.CanvasHeight).
		Str("empty_canvas_color", c.EmptyCanvasColor).
		Int("flush_interval_ms", c.FlushIntervalMs).
		Float64("bucket_capacity", c.BucketCapacity).
		Float64("bucket_refill_per_sec", c.BucketRefillPerSec).
		Int("minute_window_max", c.MinuteWindowMax).
		Int("subscriber_queue_cap", c.SubscriberQueueCap).
		Bool("redis_enabled", c.RedisAddr != "").
		Bool("nats_enabled", c.NATSURL != "").
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
