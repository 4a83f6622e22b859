package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
server:
  port: 4100
  max_connections: 128
  read_timeout: 90s
store:
  uri: mongodb://db.internal:27017
pool:
  initial_size: 4
  max_connections: 32
  idle_ttl: 2m
history:
  database: audit
  collection: versions
metrics:
  enabled: true
  sink: ilp
  endpoint: tsdb.internal:9009
  batch_size: 250
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" || cfg.Logging.Format != "json" {
		t.Errorf("Unexpected logging config: %+v", cfg.Logging)
	}
	if cfg.Server.Port != 4100 || cfg.Server.MaxConnections != 128 {
		t.Errorf("Unexpected server config: %+v", cfg.Server)
	}
	if cfg.Server.ReadTimeout != 90*time.Second {
		t.Errorf("Expected read_timeout 90s, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Store.URI != "mongodb://db.internal:27017" {
		t.Errorf("Unexpected store URI: %q", cfg.Store.URI)
	}
	if cfg.Pool.InitialSize != 4 || cfg.Pool.MaxConnections != 32 {
		t.Errorf("Unexpected pool config: %+v", cfg.Pool)
	}
	if cfg.Pool.IdleTTL != 2*time.Minute {
		t.Errorf("Expected idle_ttl 2m, got %v", cfg.Pool.IdleTTL)
	}
	if cfg.History.Database != "audit" || cfg.History.Collection != "versions" {
		t.Errorf("Unexpected history location: %+v", cfg.History)
	}
	if cfg.Metrics.Sink != "ilp" || cfg.Metrics.Endpoint != "tsdb.internal:9009" {
		t.Errorf("Unexpected metrics config: %+v", cfg.Metrics)
	}
	if cfg.Metrics.BatchSize != 250 {
		t.Errorf("Expected batch_size 250, got %d", cfg.Metrics.BatchSize)
	}

	// defaults fill the rest
	if cfg.Metrics.QueueSize != 4096 {
		t.Errorf("Expected default queue_size, got %d", cfg.Metrics.QueueSize)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout, got %v", cfg.ShutdownTimeout)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Expected default port, got %d", cfg.Server.Port)
	}
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: loud
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Expected validation failure for bad log level")
	}
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: info
`)
	t.Setenv("DOCBROKER_LOGGING_LEVEL", "ERROR")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected env override to win, got %q", cfg.Logging.Level)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	original := GetDefaultConfig()
	original.Server.Port = 4100

	if err := SaveConfig(original, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600 permissions, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Server.Port != 4100 {
		t.Errorf("Expected round-tripped port 4100, got %d", loaded.Server.Port)
	}
}

func TestMustLoad_MissingExplicitFile(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err == nil {
		t.Fatal("Expected error for missing explicit config file")
	}
}

func TestLoadWithFlags_Overrides(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: info
server:
  port: 4100
store:
  uri: mongodb://db.internal:27017
`)

	flags := pflag.NewFlagSet("start", pflag.ContinueOnError)
	flags.Int("port", 0, "")
	flags.String("log-level", "", "")
	flags.String("store-uri", "", "")
	if err := flags.Parse([]string{"--port", "4200", "--log-level", "DEBUG"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := LoadWithFlags(path, flags)
	if err != nil {
		t.Fatalf("LoadWithFlags: %v", err)
	}

	if cfg.Server.Port != 4200 {
		t.Errorf("Expected flag to override port, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected flag to override log level, got %q", cfg.Logging.Level)
	}
	// unset flags leave the file value alone
	if cfg.Store.URI != "mongodb://db.internal:27017" {
		t.Errorf("Expected file store URI to survive, got %q", cfg.Store.URI)
	}
}
