package config

import (
	"encoding/json"
	"os"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.StorePath != "/tmp/reactive" {
		t.Errorf("StorePath: got %s, want /tmp/reactive", cfg.StorePath)
	}
	if cfg.RunningInCloud {
		t.Error("RunningInCloud should default to false")
	}
	if cfg.HeartbeatInterval != 20*time.Second {
		t.Errorf("HeartbeatInterval: got %v, want 20s", cfg.HeartbeatInterval)
	}
	if cfg.StaleAfter != 60*time.Second {
		t.Errorf("StaleAfter: got %v, want 60s", cfg.StaleAfter)
	}
	if cfg.CheckpointInterval != time.Minute {
		t.Errorf("CheckpointInterval: got %v, want 1m", cfg.CheckpointInterval)
	}
	if cfg.MaxConsecutiveReadMisses != 5 {
		t.Errorf("MaxConsecutiveReadMisses: got %d, want 5", cfg.MaxConsecutiveReadMisses)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel: got %s", cfg.LogLevel)
	}
	if cfg.StatusPort != 0 {
		t.Errorf("StatusPort: got %d, want 0", cfg.StatusPort)
	}
}

func TestLoadEnv_StorePath(t *testing.T) {
	t.Setenv("QUEUE_STORE_PATH", "/var/lib/queue")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.StorePath != "/var/lib/queue" {
		t.Errorf("StorePath: got %s", cfg.StorePath)
	}
}

func TestLoadEnv_RunningInCloud(t *testing.T) {
	t.Setenv("QUEUE_RUNNING_IN_CLOUD", "true")
	cfg := defaults()
	loadEnv(cfg)
	if !cfg.RunningInCloud {
		t.Error("RunningInCloud should be true")
	}
}

func TestLoadEnv_HeartbeatInterval(t *testing.T) {
	t.Setenv("QUEUE_HEARTBEAT_INTERVAL_SECONDS", "5")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.HeartbeatInterval != 5*time.Second {
		t.Errorf("HeartbeatInterval: got %v, want 5s", cfg.HeartbeatInterval)
	}
}

func TestLoadEnv_StaleAfter(t *testing.T) {
	t.Setenv("QUEUE_STALE_AFTER_SECONDS", "120")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.StaleAfter != 120*time.Second {
		t.Errorf("StaleAfter: got %v, want 120s", cfg.StaleAfter)
	}
}

func TestLoadEnv_MaxConsecutiveReadMisses(t *testing.T) {
	t.Setenv("QUEUE_MAX_CONSECUTIVE_READ_MISSES", "0")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.MaxConsecutiveReadMisses != 0 {
		t.Errorf("MaxConsecutiveReadMisses: got %d, want 0 (explicit zero allowed)", cfg.MaxConsecutiveReadMisses)
	}
}

func TestLoadEnv_InvalidHeartbeat_Ignored(t *testing.T) {
	t.Setenv("QUEUE_HEARTBEAT_INTERVAL_SECONDS", "not-a-number")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.HeartbeatInterval != 20*time.Second {
		t.Errorf("HeartbeatInterval: got %v, want unchanged 20s", cfg.HeartbeatInterval)
	}
}

func TestLoadEnv_LogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel: got %s", cfg.LogLevel)
	}
}

func TestLoadEnv_StatusPort(t *testing.T) {
	t.Setenv("QUEUE_STATUS_PORT", "9200")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.StatusPort != 9200 {
		t.Errorf("StatusPort: got %d, want 9200", cfg.StatusPort)
	}
}

func TestLoadFile_ValidJSON(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-*.json")
	if err != nil {
		t.Fatal(err)
	}

	data, marshalErr := json.Marshal(map[string]any{
		"storePath":                "/data/queue",
		"runningInCloud":           true,
		"heartbeatIntervalSeconds": 10,
		"maxConsecutiveReadMisses": 3,
	})
	if marshalErr != nil {
		t.Fatal(marshalErr)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	cfg := defaults()
	loadFile(cfg, f.Name())

	if cfg.StorePath != "/data/queue" {
		t.Errorf("StorePath: got %s, want /data/queue", cfg.StorePath)
	}
	if !cfg.RunningInCloud {
		t.Error("RunningInCloud should be true after file load")
	}
	if cfg.HeartbeatInterval != 10*time.Second {
		t.Errorf("HeartbeatInterval: got %v, want 10s", cfg.HeartbeatInterval)
	}
	if cfg.MaxConsecutiveReadMisses != 3 {
		t.Errorf("MaxConsecutiveReadMisses: got %d, want 3", cfg.MaxConsecutiveReadMisses)
	}
}

func TestLoadFile_Missing_IsNoOp(t *testing.T) {
	cfg := defaults()
	loadFile(cfg, "/nonexistent/path/config.json")
	if cfg.StorePath != "/tmp/reactive" {
		t.Errorf("StorePath changed unexpectedly: %s", cfg.StorePath)
	}
}

func TestLoadFile_InvalidJSON_PreservesDefaults(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-bad-*.json")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{this is not json}"); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	cfg := defaults()
	loadFile(cfg, f.Name())
	if cfg.StorePath != "/tmp/reactive" {
		t.Errorf("StorePath changed on bad JSON: %s", cfg.StorePath)
	}
}

func TestLoad_ReturnsNonNil(t *testing.T) {
	cfg := Load()
	if cfg == nil {
		t.Fatal("Load() returned nil")
	}
	if cfg.StorePath == "" {
		t.Error("StorePath should not be empty")
	}
}
