package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/medtrack_test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.ArchiveInterval != 15*time.Minute {
		t.Errorf("expected default archive interval 15m, got %s", cfg.ArchiveInterval)
	}
	if cfg.ArchiveWorkers != 8 {
		t.Errorf("expected default 8 workers, got %d", cfg.ArchiveWorkers)
	}
	if !cfg.IsDev() {
		t.Error("expected development mode by default")
	}
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Error("expected error when DATABASE_URL is missing")
	}
}

func TestResolvedAuthMode(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"explicit wins", Config{Env: "development", AuthMode: "jwt"}, "jwt"},
		{"dev infers development", Config{Env: "development"}, "development"},
		{"production infers jwt", Config{Env: "production"}, "jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.ResolvedAuthMode(); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		Env:             "production",
		AuthSecret:      "secret",
		ArchiveInterval: 15 * time.Minute,
		MidnightWindow:  15 * time.Minute,
		ArchiveWorkers:  4,
	}

	if err := base.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	noSecret := base
	noSecret.AuthSecret = ""
	if err := noSecret.Validate(); err == nil {
		t.Error("expected error for missing AUTH_SECRET in production")
	}

	wideInterval := base
	wideInterval.ArchiveInterval = time.Hour
	if err := wideInterval.Validate(); err == nil {
		t.Error("expected error when interval exceeds twice the midnight window")
	}

	noWorkers := base
	noWorkers.ArchiveWorkers = 0
	if err := noWorkers.Validate(); err == nil {
		t.Error("expected error for zero workers")
	}
}
