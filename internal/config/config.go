// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

// Package config provides layered configuration for Segue using Koanf v2.
// Precedence: environment variables > YAML config file > built-in defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Segue engine.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Pipeline    PipelineConfig    `koanf:"pipeline"`
	Enrich      EnrichConfig      `koanf:"enrich"`
	Transitions TransitionsConfig `koanf:"transitions"`
	Coordinator CoordinatorConfig `koanf:"coordinator"`
	DeadLetter  DeadLetterConfig  `koanf:"dead_letter"`
	API         APIConfig         `koanf:"api"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// PipelineConfig holds stream-processing settings.
type PipelineConfig struct {
	// Workers is the size of the partitioned worker pool. All records for
	// one show hash to the same worker; different shows run in parallel.
	Workers int `koanf:"workers"`

	// BufferSize bounds each worker's input channel (backpressure point).
	BufferSize int `koanf:"buffer_size"`

	// OrderingTimeout is how long an out-of-order entry may wait for its
	// gap to fill before it is processed anyway and flagged.
	OrderingTimeout time.Duration `koanf:"ordering_timeout"`

	// Router retry/poison settings (Watermill middleware).
	RetryMaxRetries      int           `koanf:"retry_max_retries"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval"`
	PoisonTopic          string        `koanf:"poison_topic"`
	CloseTimeout         time.Duration `koanf:"close_timeout"`

	// DedupTTL bounds the window for dropping exact message replays.
	DedupTTL time.Duration `koanf:"dedup_ttl"`
	// DedupCapacity bounds the replay-detection cache.
	DedupCapacity int `koanf:"dedup_capacity"`
}

// EnrichConfig holds duration bucketing and jam inference thresholds.
type EnrichConfig struct {
	// Bucket thresholds in seconds: (0, Short] short, (Short, Medium] medium,
	// (Medium, Long] long, above Long epic. Missing duration is "unknown".
	BucketShortSeconds  int `koanf:"bucket_short_seconds"`
	BucketMediumSeconds int `koanf:"bucket_medium_seconds"`
	BucketLongSeconds   int `koanf:"bucket_long_seconds"`

	// JamAbsoluteSeconds marks any performance at least this long a jam.
	JamAbsoluteSeconds int `koanf:"jam_absolute_seconds"`

	// JamAvgRatio marks a performance a jam when its duration exceeds this
	// multiple of the song's historical average (read from a SongStat
	// snapshot; a stale or missing snapshot degrades the inference, it
	// never blocks).
	JamAvgRatio float64 `koanf:"jam_avg_ratio"`

	// JamMinHistory is the minimum timed plays before ratio inference applies.
	JamMinHistory int `koanf:"jam_min_history"`
}

// TransitionsConfig makes the marker vocabulary configurable; the source
// conventions vary, so nothing is hard-coded.
type TransitionsConfig struct {
	// SegueMarkers lists raw markers that denote a performed segue.
	SegueMarkers []string `koanf:"segue_markers"`

	// BreakMarkers lists raw markers that denote an explicit break.
	BreakMarkers []string `koanf:"break_markers"`

	// GapPositions is the position delta at or above which a break is
	// inferred when no marker is present.
	GapPositions int `koanf:"gap_positions"`
}

// CoordinatorConfig holds dedup/upsert settings.
type CoordinatorConfig struct {
	// LockStripes sizes the per-key mutex striping.
	LockStripes int `koanf:"lock_stripes"`

	// PendingTimeout bounds how long an entry may wait for its show to
	// arrive before UnknownShowReference demotes it to the dead letter.
	PendingTimeout time.Duration `koanf:"pending_timeout"`

	// PendingCapacity bounds the pending-reference buffer.
	PendingCapacity int `koanf:"pending_capacity"`
}

// DeadLetterConfig holds dead-letter sink settings.
type DeadLetterConfig struct {
	// Path is the badger directory; empty disables persistence (in-memory only).
	Path string `koanf:"path"`

	// MaxEntries bounds the in-memory window served to the query layer.
	MaxEntries int `koanf:"max_entries"`

	// Retention is how long persisted entries are kept.
	Retention time.Duration `koanf:"retention"`

	// JanitorInterval is how often expired entries are cleaned up.
	JanitorInterval time.Duration `koanf:"janitor_interval"`

	// Breaker settings guard persistence writes.
	BreakerMaxFailures  int           `koanf:"breaker_max_failures"`
	BreakerOpenInterval time.Duration `koanf:"breaker_open_interval"`
}

// APIConfig holds query-layer settings.
type APIConfig struct {
	DefaultPageSize int           `koanf:"default_page_size"`
	MaxPageSize     int           `koanf:"max_page_size"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// Validate checks cross-field constraints the type system cannot express.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.BufferSize <= 0 {
		return fmt.Errorf("pipeline.buffer_size must be positive, got %d", c.Pipeline.BufferSize)
	}
	if c.Enrich.BucketShortSeconds >= c.Enrich.BucketMediumSeconds ||
		c.Enrich.BucketMediumSeconds >= c.Enrich.BucketLongSeconds {
		return fmt.Errorf("enrich bucket thresholds must be strictly increasing: %d, %d, %d",
			c.Enrich.BucketShortSeconds, c.Enrich.BucketMediumSeconds, c.Enrich.BucketLongSeconds)
	}
	if c.Enrich.JamAvgRatio < 1 {
		return fmt.Errorf("enrich.jam_avg_ratio must be >= 1, got %v", c.Enrich.JamAvgRatio)
	}
	if c.Coordinator.PendingTimeout <= 0 {
		return fmt.Errorf("coordinator.pending_timeout must be positive")
	}
	if c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("api.max_page_size %d below api.default_page_size %d",
			c.API.MaxPageSize, c.API.DefaultPageSize)
	}
	return nil
}
