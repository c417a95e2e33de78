// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Security.JWTSecret = "test-secret"
	return cfg
}

func TestDefaultValidates(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "missing store path",
			mutate:  func(c *Config) { c.Store.Path = "" },
			wantErr: "store.path",
		},
		{
			name:    "auth without secret",
			mutate:  func(c *Config) { c.Security.JWTSecret = "" },
			wantErr: "jwt_secret",
		},
		{
			name:    "cache smaller than generation output",
			mutate:  func(c *Config) { c.Feed.MaxCacheSize = 100 },
			wantErr: "max_cache_size",
		},
		{
			name:    "shorts zero page size",
			mutate:  func(c *Config) { c.Shorts.PerPage = 0 },
			wantErr: "shorts.per_page",
		},
		{
			name:    "non-positive curated window",
			mutate:  func(c *Config) { c.Curated.WindowDays = 0 },
			wantErr: "window_days",
		},
		{
			name:    "no task workers",
			mutate:  func(c *Config) { c.Tasks.Workers = 0 },
			wantErr: "tasks.workers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAllowsInMemoryStoreWithoutPath(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Path = ""
	cfg.Store.InMemory = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("in-memory store without path rejected: %v", err)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ZAPFEED_SERVER_PORT", "server.port"},
		{"ZAPFEED_FEED_CACHE_TTL", "feed.cache_ttl"},
		{"ZAPFEED_SHORTS_REFRESH_THRESHOLD", "shorts.refresh_threshold"},
		{"ZAPFEED_SECURITY_JWT_SECRET", "security.jwt_secret"},
		{"ZAPFEED_CURATED_SHORTS_COUNT", "curated.shorts_count"},
		{"ZAPFEED_UNRELATED_THING", ""},
		{"PATH", ""},
	}
	for _, tt := range tests {
		if got := envTransformFunc(tt.in); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("ZAPFEED_SERVER_PORT", "9999")
	t.Setenv("ZAPFEED_SECURITY_JWT_SECRET", "env-secret")
	t.Setenv("ZAPFEED_FEED_CACHE_TTL", "2h")
	t.Setenv("ZAPFEED_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("server.port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Security.JWTSecret != "env-secret" {
		t.Errorf("security.jwt_secret = %q, want env-secret", cfg.Security.JWTSecret)
	}
	if cfg.Feed.CacheTTL != 2*time.Hour {
		t.Errorf("feed.cache_ttl = %v, want 2h", cfg.Feed.CacheTTL)
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.Server.CORSOrigins) != len(want) {
		t.Fatalf("cors_origins = %v, want %v", cfg.Server.CORSOrigins, want)
	}
	for i := range want {
		if cfg.Server.CORSOrigins[i] != want[i] {
			t.Errorf("cors_origins[%d] = %q, want %q", i, cfg.Server.CORSOrigins[i], want[i])
		}
	}
}

func TestLoadDefaultsWithoutOverrides(t *testing.T) {
	t.Setenv("ZAPFEED_SECURITY_JWT_SECRET", "env-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Feed.PerPage != 20 || cfg.Shorts.PerPage != 15 {
		t.Errorf("page defaults = %d/%d, want 20/15", cfg.Feed.PerPage, cfg.Shorts.PerPage)
	}
	if cfg.Feed.RefreshThreshold != 80 || cfg.Shorts.RefreshThreshold != 60 {
		t.Errorf("refresh thresholds = %d/%d, want 80/60",
			cfg.Feed.RefreshThreshold, cfg.Shorts.RefreshThreshold)
	}
	if cfg.Curated.Count != 100 || cfg.Curated.ShortsCount != 120 {
		t.Errorf("curated sizes = %d/%d, want 100/120", cfg.Curated.Count, cfg.Curated.ShortsCount)
	}
}
