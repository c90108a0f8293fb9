package config

import (
	"os"
	"strconv"
	"time"
)

// Defaults for the engine tunables. Each one can be overridden through the
// environment variable named next to it in Load.
const (
	DefaultPageSize      = 5
	DefaultMaxRetries    = 3
	DefaultBackoffBase   = 2 * time.Second
	DefaultMaxFileSize   = 500 * 1024 * 1024 // bytes
	DefaultMaxDuration   = 180 * time.Second
	DefaultURLRetries    = 3
	DefaultSettleDelay   = 1 * time.Second
	DefaultFeedSortKey   = "engagement_score"
	DefaultVideoBucket   = "videos"
	DefaultWatchInterval = 3 * time.Second
)

// Config carries the tunables shared by the feed synchronizer and the upload
// pipeline.
type Config struct {
	// PageSize is the feed page size P; the live subscription tracks the
	// same first-page window.
	PageSize int
	// MaxRetries bounds one upload attempt set.
	MaxRetries int
	// BackoffBase is doubled per attempt: base, 2*base, ...
	BackoffBase time.Duration
	// MaxFileSize caps the local file in bytes before any transfer starts.
	MaxFileSize int64
	// MaxDuration caps the probed media duration.
	MaxDuration time.Duration
	// URLRetries bounds public URL issuance, independent of MaxRetries.
	URLRetries int
	// SettleDelay is inserted before the post-transfer verification read.
	SettleDelay time.Duration
	// FeedSortKey selects the feed ordering column: engagement_score,
	// like_count, or created_at.
	FeedSortKey string
	// VideoBucket is the object-storage bucket for uploaded media.
	VideoBucket string
	// WatchInterval is the poll interval of the live subscriptions.
	WatchInterval time.Duration
}

// Default returns the built-in tunables without consulting the environment.
func Default() Config {
	return Config{
		PageSize:      DefaultPageSize,
		MaxRetries:    DefaultMaxRetries,
		BackoffBase:   DefaultBackoffBase,
		MaxFileSize:   DefaultMaxFileSize,
		MaxDuration:   DefaultMaxDuration,
		URLRetries:    DefaultURLRetries,
		SettleDelay:   DefaultSettleDelay,
		FeedSortKey:   DefaultFeedSortKey,
		VideoBucket:   DefaultVideoBucket,
		WatchInterval: DefaultWatchInterval,
	}
}

// Load builds a Config from the defaults plus environment overrides.
func Load() Config {
	cfg := Default()
	cfg.PageSize = envInt("FEED_PAGE_SIZE", cfg.PageSize)
	cfg.MaxRetries = envInt("UPLOAD_MAX_RETRIES", cfg.MaxRetries)
	cfg.BackoffBase = envDuration("UPLOAD_BACKOFF_BASE", cfg.BackoffBase)
	cfg.MaxFileSize = envInt64("UPLOAD_MAX_FILE_SIZE", cfg.MaxFileSize)
	cfg.MaxDuration = envDuration("UPLOAD_MAX_DURATION", cfg.MaxDuration)
	cfg.URLRetries = envInt("UPLOAD_URL_RETRIES", cfg.URLRetries)
	cfg.SettleDelay = envDuration("UPLOAD_SETTLE_DELAY", cfg.SettleDelay)
	cfg.FeedSortKey = envString("FEED_SORT_KEY", cfg.FeedSortKey)
	cfg.VideoBucket = envString("VIDEO_BUCKET", cfg.VideoBucket)
	cfg.WatchInterval = envDuration("FEED_WATCH_INTERVAL", cfg.WatchInterval)
	return cfg
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
