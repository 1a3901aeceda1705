package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("WATCHMAN_STORE", "")
	t.Setenv("WATCHMAN_SOCKET", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Archiver.Command != "7z" {
		t.Fatalf("expected default archiver 7z, got %q", cfg.Archiver.Command)
	}
	d, err := cfg.TickDuration()
	if err != nil || d != time.Second {
		t.Fatalf("TickDuration = %v, %v; want 1s", d, err)
	}
}

func TestLoadOverridesAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("store_path: " + filepath.Join(dir, "jobs.ini") + "\ntick: 5s\narchiver:\n  command: zip\n  args: [\"-r\", \"{archive}\", \"{source}\"]\nhistory:\n  driver: none\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("WATCHMAN_SOCKET", filepath.Join(dir, "w.sock"))
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.StorePath != filepath.Join(dir, "jobs.ini") {
		t.Fatalf("StorePath = %q", cfg.StorePath)
	}
	if d, _ := cfg.TickDuration(); d != 5*time.Second {
		t.Fatalf("tick = %v, want 5s", d)
	}
	if cfg.Archiver.Command != "zip" || len(cfg.Archiver.Args) != 3 {
		t.Fatalf("unexpected archiver: %+v", cfg.Archiver)
	}
	if cfg.SocketPath != filepath.Join(dir, "w.sock") {
		t.Fatalf("env override for socket not applied: %q", cfg.SocketPath)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("env override for log level not applied: %q", cfg.Logging.Level)
	}
	// Untouched sections keep defaults.
	if cfg.LogLines != 1000 {
		t.Fatalf("LogLines = %d, want 1000", cfg.LogLines)
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "sub-second tick", mutate: func(c *Config) { c.Tick = "500ms" }},
		{name: "bad tick", mutate: func(c *Config) { c.Tick = "soon" }},
		{name: "empty store", mutate: func(c *Config) { c.StorePath = " " }},
		{name: "empty archiver", mutate: func(c *Config) { c.Archiver.Command = "" }},
		{name: "unknown history driver", mutate: func(c *Config) { c.History.Driver = "postgres" }},
		{name: "sqlite without path", mutate: func(c *Config) { c.History.Path = "" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSaveThenParse(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Tick = "3s"
	cfg.History.Driver = "none"
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	got, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if got.Tick != "3s" || got.History.Driver != "none" {
		t.Fatalf("unexpected round trip: tick=%q driver=%q", got.Tick, got.History.Driver)
	}
}

func TestWatchAppliesChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("tick: 1s\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, zerolog.Nop(), func(c *Config) {
			select {
			case got <- c:
			default:
			}
		})
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("tick: 7s\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case c := <-got:
		if c.Tick != "7s" {
			t.Fatalf("reloaded tick = %q, want 7s", c.Tick)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
}
