package config_test

import (
	"os"
	"testing"

	"github.com/relaycore/edgehost/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{
		"EDGEHOST_LISTEN_ADDR", "EDGEHOST_EVENT_QUEUE_SIZE", "EDGEHOST_WORKER_THREADS",
		"EDGEHOST_LOG_LEVEL", "EDGEHOST_LOG_FILE",
	} {
		os.Unsetenv(k)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:7000" {
		t.Errorf("ListenAddr default = %q", cfg.ListenAddr)
	}
	if cfg.EventQueueSize != 1024 {
		t.Errorf("EventQueueSize default = %d", cfg.EventQueueSize)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel default = %q", cfg.LogLevel)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("EDGEHOST_LISTEN_ADDR", "127.0.0.1:9999")
	t.Setenv("EDGEHOST_EVENT_QUEUE_SIZE", "64")
	t.Setenv("EDGEHOST_LOG_LEVEL", "debug")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.EventQueueSize != 64 {
		t.Errorf("EventQueueSize = %d", cfg.EventQueueSize)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestNewLogger_RejectsBadLevel(t *testing.T) {
	cfg := config.Config{LogLevel: "not-a-level"}
	if _, err := config.NewLogger(cfg); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestNewLogger_WithFileRotation(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{
		LogLevel:          "info",
		LogFile:           dir + "/edgehost.log",
		LogFileMaxSizeMB:  1,
		LogFileMaxBackups: 1,
	}
	log, err := config.NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer log.Sync()
	log.Info("hello")

	if _, err := os.Stat(cfg.LogFile); err != nil {
		t.Errorf("expected log file to exist: %v", err)
	}
}
