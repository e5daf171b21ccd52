package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("SESSION_TTL_MINUTES", "")
	t.Setenv("THUMBNAIL_MAX_BYTES", "")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "")
	t.Setenv("MAX_BODY_BYTES", "")

	cfg := Load()

	if cfg.Database.Driver != "sqlite" {
		t.Errorf("expected sqlite driver by default, got %s", cfg.Database.Driver)
	}
	if cfg.Session.TTL != 24*time.Hour {
		t.Errorf("expected 24h session TTL, got %v", cfg.Session.TTL)
	}
	if cfg.Session.MaxFailed != 10 {
		t.Errorf("expected 10 failed logins, got %d", cfg.Session.MaxFailed)
	}
	if cfg.Session.FailedWindow != time.Hour {
		t.Errorf("expected 1h failed window, got %v", cfg.Session.FailedWindow)
	}
	if cfg.Thumbnail.MaxBytes != 70000 {
		t.Errorf("expected 70000 thumbnail ceiling, got %d", cfg.Thumbnail.MaxBytes)
	}
	if cfg.Server.RateLimitPerMinute != 120 || cfg.Server.MaxBodyBytes != 2<<20 {
		t.Errorf("unexpected server limits %+v", cfg.Server)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SESSION_TTL_MINUTES", "5")
	t.Setenv("LOGIN_MAX_FAILED", "3")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("S3_USE_SSL", "yes")

	cfg := Load()

	if cfg.Session.TTL != 5*time.Minute {
		t.Errorf("expected 5m TTL, got %v", cfg.Session.TTL)
	}
	if cfg.Session.MaxFailed != 3 {
		t.Errorf("expected 3, got %d", cfg.Session.MaxFailed)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins %v", cfg.Server.CORSOrigins)
	}
	if !cfg.Storage.UseSSL {
		t.Error("expected UseSSL true")
	}
}

func TestDSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "pgx", Host: "db", Port: "5432", User: "u", Password: "p", DBName: "k", SSLMode: "disable"}
	if got := pg.DSN(); got != "postgres://u:p@db:5432/k?sslmode=disable" {
		t.Errorf("unexpected postgres DSN %s", got)
	}

	lite := DatabaseConfig{Driver: "sqlite", SQLitePath: "/tmp/x.db"}
	if got := lite.DSN(); !strings.HasPrefix(got, "file:/tmp/x.db?") {
		t.Errorf("unexpected sqlite DSN %s", got)
	}
}
