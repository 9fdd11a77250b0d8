// Package config loads and holds all elastic-queue configuration.
// Settings are layered: defaults → queue-config.json → environment
// variables (env vars win).
package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds the full elastic-queue subsystem configuration.
type Config struct {
	// StorePath is "transient.data.store": the root directory under which
	// the holding area (and, in cloud mode, the shared KV store itself)
	// lives. Default /tmp/reactive.
	StorePath string `json:"storePath"`

	// RunningInCloud is "running.in.cloud": when true the holding area
	// IS StorePath rather than a per-instance subdirectory of it.
	RunningInCloud bool `json:"runningInCloud"`

	// HeartbeatInterval is how often the holding-area RUNNING marker is
	// rewritten. Default 20s.
	HeartbeatInterval time.Duration `json:"-"`

	// StaleAfter is how old a RUNNING marker must be before its holding
	// area is considered abandoned and reclaimed. Default 60s.
	StaleAfter time.Duration `json:"-"`

	// CheckpointInterval is the KV store's periodic checkpoint cadence.
	// Default 1 minute.
	CheckpointInterval time.Duration `json:"-"`

	// MaxConsecutiveReadMisses is how many consecutive disk reads at the
	// same offset may miss (missing or mismatched key) before the queue
	// surfaces a terminal read error through LastReadError. Default 5;
	// elasticqueue.New treats 0 or a negative value as 5.
	MaxConsecutiveReadMisses int `json:"maxConsecutiveReadMisses"`

	LogLevel string `json:"logLevel"`

	// StatusPort, if non-zero, starts the read-only status/metrics HTTP
	// endpoint (internal/statusapi) on this port.
	StatusPort int `json:"statusPort"`
}

// Load returns config with defaults overridden by queue-config.json and
// environment variables.
func Load() *Config {
	cfg := defaults()
	loadFile(cfg, "queue-config.json")
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		StorePath:                "/tmp/reactive",
		RunningInCloud:           false,
		HeartbeatInterval:        20 * time.Second,
		StaleAfter:               60 * time.Second,
		CheckpointInterval:       time.Minute,
		MaxConsecutiveReadMisses: 5,
		LogLevel:                 "info",
		StatusPort:               0,
	}
}

// fileFields mirrors Config for JSON decoding, expressing durations as
// plain seconds so queue-config.json stays human-editable.
type fileFields struct {
	StorePath                 *string `json:"storePath"`
	RunningInCloud            *bool   `json:"runningInCloud"`
	HeartbeatIntervalSeconds  *int    `json:"heartbeatIntervalSeconds"`
	StaleAfterSeconds         *int    `json:"staleAfterSeconds"`
	CheckpointIntervalSeconds *int    `json:"checkpointIntervalSeconds"`
	MaxConsecutiveReadMisses  *int    `json:"maxConsecutiveReadMisses"`
	LogLevel                  *string `json:"logLevel"`
	StatusPort                *int    `json:"statusPort"`
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path) //nolint:gosec // G703: path is a controlled config file path, not user input
	if err != nil {
		return // file is optional
	}

	var raw fileFields
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
		return
	}

	if raw.StorePath != nil {
		cfg.StorePath = *raw.StorePath
	}
	if raw.RunningInCloud != nil {
		cfg.RunningInCloud = *raw.RunningInCloud
	}
	if raw.HeartbeatIntervalSeconds != nil {
		cfg.HeartbeatInterval = time.Duration(*raw.HeartbeatIntervalSeconds) * time.Second
	}
	if raw.StaleAfterSeconds != nil {
		cfg.StaleAfter = time.Duration(*raw.StaleAfterSeconds) * time.Second
	}
	if raw.CheckpointIntervalSeconds != nil {
		cfg.CheckpointInterval = time.Duration(*raw.CheckpointIntervalSeconds) * time.Second
	}
	if raw.MaxConsecutiveReadMisses != nil {
		cfg.MaxConsecutiveReadMisses = *raw.MaxConsecutiveReadMisses
	}
	if raw.LogLevel != nil {
		cfg.LogLevel = *raw.LogLevel
	}
	if raw.StatusPort != nil {
		cfg.StatusPort = *raw.StatusPort
	}

	log.Printf("[CONFIG] Loaded %s", path)
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("QUEUE_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("QUEUE_RUNNING_IN_CLOUD"); v != "" {
		cfg.RunningInCloud = v == "true"
	}
	if v := os.Getenv("QUEUE_HEARTBEAT_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HeartbeatInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("QUEUE_STALE_AFTER_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.StaleAfter = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("QUEUE_CHECKPOINT_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CheckpointInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("QUEUE_MAX_CONSECUTIVE_READ_MISSES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxConsecutiveReadMisses = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("QUEUE_STATUS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.StatusPort = n
		}
	}
}
