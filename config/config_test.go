package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "empty backend url",
			mutate: func(cfg *Config) {
				cfg.BackendURL = ""
			},
			wantErr: "backend URL",
		},
		{
			name: "invalid url format",
			mutate: func(cfg *Config) {
				cfg.BackendURL = "http://"
			},
			wantErr: "backend URL",
		},
		{
			name: "unknown origin mode",
			mutate: func(cfg *Config) {
				cfg.OriginMode = "ftp"
			},
			wantErr: "origin mode",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "zero batch size",
			mutate: func(cfg *Config) {
				cfg.BatchSize = 0
			},
			wantErr: "batch size",
		},
		{
			name: "soft ttl above hard ttl",
			mutate: func(cfg *Config) {
				cfg.SoftTTL = 48 * time.Hour
			},
			wantErr: "soft TTL",
		},
		{
			name: "postgres without url",
			mutate: func(cfg *Config) {
				cfg.StoreDriver = DriverPostgres
			},
			wantErr: "database URL",
		},
		{
			name: "unknown driver",
			mutate: func(cfg *Config) {
				cfg.StoreDriver = "mongo"
			},
			wantErr: "store driver",
		},
		{
			name: "backoff above max",
			mutate: func(cfg *Config) {
				cfg.RetryBackoff = 5 * time.Second
			},
			wantErr: "retry backoff",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
	if cfg.BatchSize != 5 || cfg.BatchDelay != 2*time.Second {
		t.Fatalf("refresh batching = %d/%s, want 5/2s", cfg.BatchSize, cfg.BatchDelay)
	}
	if cfg.MaxRetries != 2 || cfg.Timeout != 30*time.Second {
		t.Fatalf("origin retry budget = %d/%s, want 2/30s", cfg.MaxRetries, cfg.Timeout)
	}
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wishmirror.yaml")
	doc := "backend_url: http://origin.test:9000\nbatch_delay: 500ms\nstore_driver: memory\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := DefaultConfig()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.BackendURL != "http://origin.test:9000" {
		t.Fatalf("backend url = %q", cfg.BackendURL)
	}
	if cfg.BatchDelay != 500*time.Millisecond {
		t.Fatalf("batch delay = %s, want 500ms", cfg.BatchDelay)
	}
	if cfg.StoreDriver != DriverMemory {
		t.Fatalf("store driver = %q", cfg.StoreDriver)
	}
	if cfg.BatchSize != 5 {
		t.Fatalf("batch size should keep its default, got %d", cfg.BatchSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("overlaid config should validate: %v", err)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("WISHMIRROR_TEST_INT", "42")
	t.Setenv("WISHMIRROR_TEST_BAD_INT", "forty")
	t.Setenv("WISHMIRROR_TEST_DURATION", "3s")
	t.Setenv("WISHMIRROR_TEST_BLANK", "   ")

	if v, ok, err := EnvInt("WISHMIRROR_TEST_INT"); err != nil || !ok || v != 42 {
		t.Fatalf("EnvInt = %d, %v, %v", v, ok, err)
	}
	if _, _, err := EnvInt("WISHMIRROR_TEST_BAD_INT"); err == nil {
		t.Fatalf("expected parse error for non-numeric value")
	}
	if v, ok, err := EnvDuration("WISHMIRROR_TEST_DURATION"); err != nil || !ok || v != 3*time.Second {
		t.Fatalf("EnvDuration = %s, %v, %v", v, ok, err)
	}
	if _, ok := EnvString("WISHMIRROR_TEST_BLANK"); ok {
		t.Fatalf("blank values should be treated as unset")
	}
}
