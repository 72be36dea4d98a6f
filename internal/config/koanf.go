// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/segue/config.yaml",
	"/etc/segue/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "SEGUE_CONFIG_PATH"

// defaultConfig returns a Config with all defaults applied. These are layered
// first, then overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8710,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Pipeline: PipelineConfig{
			Workers:              4,
			BufferSize:           256,
			OrderingTimeout:      5 * time.Second,
			RetryMaxRetries:      3,
			RetryInitialInterval: 100 * time.Millisecond,
			RetryMaxInterval:     5 * time.Second,
			PoisonTopic:          "setlist.poison",
			CloseTimeout:         30 * time.Second,
			DedupTTL:             5 * time.Minute,
			DedupCapacity:        10000,
		},
		Enrich: EnrichConfig{
			BucketShortSeconds:  300,  // 5 minutes
			BucketMediumSeconds: 600,  // 10 minutes
			BucketLongSeconds:   1200, // 20 minutes
			JamAbsoluteSeconds:  1200, // 20 minutes, matching source conventions
			JamAvgRatio:         1.5,
			JamMinHistory:       3,
		},
		Transitions: TransitionsConfig{
			SegueMarkers: []string{">", "->", ">>"},
			BreakMarkers: []string{","},
			GapPositions: 2,
		},
		Coordinator: CoordinatorConfig{
			LockStripes:     64,
			PendingTimeout:  30 * time.Second,
			PendingCapacity: 10000,
		},
		DeadLetter: DeadLetterConfig{
			Path:                "", // in-memory only unless configured
			MaxEntries:          10000,
			Retention:           7 * 24 * time.Hour,
			JanitorInterval:     time.Hour,
			BreakerMaxFailures:  5,
			BreakerOpenInterval: time.Minute,
		},
		API: APIConfig{
			DefaultPageSize: 50,
			MaxPageSize:     500,
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
	}
}

// Load builds configuration from layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	// SEGUE_PIPELINE_WORKERS -> pipeline.workers, etc.
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices when
// they arrive through the environment.
var sliceConfigPaths = []string{
	"api.cors_origins",
	"transitions.segue_markers",
	"transitions.break_markers",
}

// processSliceFields converts comma-separated env strings to slices for the
// known slice fields. YAML-provided slices pass through untouched.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables return "" and are skipped, so arbitrary environment
// variables never pollute the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server
		"segue_http_host":        "server.host",
		"segue_http_port":        "server.port",
		"segue_http_timeout":     "server.timeout",
		"segue_shutdown_timeout": "server.shutdown_timeout",

		// Logging
		"segue_log_level":  "logging.level",
		"segue_log_format": "logging.format",
		"segue_log_caller": "logging.caller",

		// Pipeline
		"segue_pipeline_workers":          "pipeline.workers",
		"segue_pipeline_buffer_size":      "pipeline.buffer_size",
		"segue_pipeline_ordering_timeout": "pipeline.ordering_timeout",
		"segue_pipeline_retry_max":        "pipeline.retry_max_retries",
		"segue_pipeline_retry_interval":   "pipeline.retry_initial_interval",
		"segue_pipeline_poison_topic":     "pipeline.poison_topic",
		"segue_pipeline_dedup_ttl":        "pipeline.dedup_ttl",
		"segue_pipeline_dedup_capacity":   "pipeline.dedup_capacity",

		// Enrichment
		"segue_bucket_short":         "enrich.bucket_short_seconds",
		"segue_bucket_medium":        "enrich.bucket_medium_seconds",
		"segue_bucket_long":          "enrich.bucket_long_seconds",
		"segue_jam_absolute_seconds": "enrich.jam_absolute_seconds",
		"segue_jam_avg_ratio":        "enrich.jam_avg_ratio",
		"segue_jam_min_history":      "enrich.jam_min_history",

		// Transitions
		"segue_segue_markers": "transitions.segue_markers",
		"segue_break_markers": "transitions.break_markers",
		"segue_gap_positions": "transitions.gap_positions",

		// Coordinator
		"segue_lock_stripes":     "coordinator.lock_stripes",
		"segue_pending_timeout":  "coordinator.pending_timeout",
		"segue_pending_capacity": "coordinator.pending_capacity",

		// Dead letter
		"segue_deadletter_path":      "dead_letter.path",
		"segue_deadletter_max":       "dead_letter.max_entries",
		"segue_deadletter_retention": "dead_letter.retention",
		"segue_deadletter_janitor":   "dead_letter.janitor_interval",

		// API
		"segue_api_default_page_size": "api.default_page_size",
		"segue_api_max_page_size":     "api.max_page_size",
		"segue_rate_limit_requests":   "api.rate_limit_reqs",
		"segue_rate_limit_window":     "api.rate_limit_window",
		"segue_cors_origins":          "api.cors_origins",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	return ""
}
