package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero queue timeout", func(c *Config) { c.Queue.TimeoutSec = 0 }},
		{"negative restarts", func(c *Config) { c.Session.ICERestarts = -1 }},
		{"no ice servers", func(c *Config) { c.Session.ICEServers = nil }},
		{"bad ice url", func(c *Config) { c.Session.ICEServers = []string{"http://x"} }},
		{"frame rate too low", func(c *Config) { c.Pipeline.FrameRate = 10 }},
		{"bad relay mode", func(c *Config) { c.Relay.Mode = "carrier-pigeon" }},
		{"ws mode without url", func(c *Config) { c.Relay.Mode = "ws"; c.Relay.WSURL = "" }},
		{"bad user id", func(c *Config) { c.Identity.UserID = "a/b" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"queue":{"timeout_seconds":5}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Queue.TimeoutSec != 5 {
		t.Fatalf("timeout = %d, want 5", cfg.Queue.TimeoutSec)
	}
	// Unspecified fields keep their defaults.
	if cfg.Pipeline.FrameRate != 30 || cfg.Relay.Mode != "pubsub" {
		t.Fatalf("defaults not merged: %+v", cfg)
	}
}

func TestLoadStripsBOM(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"queue":{"timeout_seconds":7}}`)...)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Queue.TimeoutSec != 7 {
		t.Fatalf("timeout = %d, want 7", cfg.Queue.TimeoutSec)
	}
}

func TestEnsureCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg, created, err := Ensure(path)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected a new file")
	}
	if cfg.Queue.TimeoutSec != 30 {
		t.Fatalf("unexpected default: %+v", cfg.Queue)
	}

	// Second call loads the existing file.
	_, created, err = Ensure(path)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("second Ensure must not recreate")
	}
}
