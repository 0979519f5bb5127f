package config

import (
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
			name: "negative parallelism",
			mutate: func(cfg *Config) {
				cfg.Parallelism = -1
			},
			wantErr: "parallelism",
		},
		{
			name: "zero max printers",
			mutate: func(cfg *Config) {
				cfg.MaxPrinters = 0
			},
			wantErr: "max printers",
		},
		{
			name: "empty base url",
			mutate: func(cfg *Config) {
				cfg.BaseURL = ""
			},
			wantErr: "base URL",
		},
		{
			name: "invalid url format",
			mutate: func(cfg *Config) {
				cfg.BaseURL = "http://"
			},
			wantErr: "base URL",
		},
		{
			name: "no category paths",
			mutate: func(cfg *Config) {
				cfg.CategoryPaths = nil
			},
			wantErr: "category path",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "negative delay",
			mutate: func(cfg *Config) {
				cfg.Delay = -1 * time.Second
			},
			wantErr: "delay",
		},
		{
			name: "backoff exceeds max",
			mutate: func(cfg *Config) {
				cfg.RetryBackoff = 10 * time.Second
				cfg.RetryBackoffMax = 1 * time.Second
			},
			wantErr: "retry backoff",
		},
		{
			name: "empty output dir",
			mutate: func(cfg *Config) {
				cfg.OutputDir = ""
			},
			wantErr: "output directory",
		},
		{
			name: "tiny dedupe cache",
			mutate: func(cfg *Config) {
				cfg.DedupeMaxSize = 1
			},
			wantErr: "dedupe max size",
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
}

func TestEnvInt(t *testing.T) {
	t.Setenv("SCRAPER_TEST_INT", "42")
	value, ok, err := EnvInt("SCRAPER_TEST_INT")
	if err != nil || !ok || value != 42 {
		t.Fatalf("EnvInt = (%d, %v, %v), want (42, true, nil)", value, ok, err)
	}

	t.Setenv("SCRAPER_TEST_INT", "not-a-number")
	if _, _, err := EnvInt("SCRAPER_TEST_INT"); err == nil {
		t.Fatalf("expected error for non-numeric value")
	}

	t.Setenv("SCRAPER_TEST_INT", "")
	if _, ok, _ := EnvInt("SCRAPER_TEST_INT"); ok {
		t.Fatalf("empty value should read as unset")
	}
}

func TestEnvString(t *testing.T) {
	t.Setenv("SCRAPER_TEST_STR", "  output/dir  ")
	value, ok := EnvString("SCRAPER_TEST_STR")
	if !ok || value != "output/dir" {
		t.Fatalf("EnvString = (%q, %v), want (\"output/dir\", true)", value, ok)
	}

	if _, ok := EnvString("SCRAPER_TEST_STR_MISSING"); ok {
		t.Fatalf("missing variable should read as unset")
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("SCRAPER_TEST_BOOL", "true")
	value, ok, err := EnvBool("SCRAPER_TEST_BOOL")
	if err != nil || !ok || !value {
		t.Fatalf("EnvBool = (%v, %v, %v), want (true, true, nil)", value, ok, err)
	}

	t.Setenv("SCRAPER_TEST_BOOL", "maybe")
	if _, _, err := EnvBool("SCRAPER_TEST_BOOL"); err == nil {
		t.Fatalf("expected error for invalid boolean")
	}
}
