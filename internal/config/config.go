// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

// Package config loads and validates the service configuration.
//
// Configuration is layered: struct defaults, then an optional YAML file,
// then ZAPFEED_* environment variables. Later layers win.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Store    StoreConfig    `koanf:"store"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
	Feed     FeedConfig     `koanf:"feed"`
	Shorts   FeedConfig     `koanf:"shorts"`
	Stories  StoriesConfig  `koanf:"stories"`
	Curated  CuratedConfig  `koanf:"curated"`
	Tasks    TasksConfig    `koanf:"tasks"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimit       int           `koanf:"rate_limit"`
	RateWindow      time.Duration `koanf:"rate_window"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StoreConfig holds the embedded document store settings.
type StoreConfig struct {
	// Path is the on-disk database directory. Ignored when InMemory is set.
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`

	// GCInterval is how often value-log garbage collection runs.
	GCInterval time.Duration `koanf:"gc_interval"`

	// BreakerMaxFailures trips the store circuit breaker after this many
	// consecutive failures.
	BreakerMaxFailures uint32 `koanf:"breaker_max_failures"`

	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration `koanf:"breaker_timeout"`
}

// SecurityConfig holds authentication settings.
type SecurityConfig struct {
	// JWTSecret is the HS256 signing secret for bearer tokens.
	JWTSecret string `koanf:"jwt_secret"`

	// RequireAuth disables the anonymous bypass used in development.
	RequireAuth bool `koanf:"require_auth"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// FeedConfig holds the tunables for one ranked-feed namespace. The post
// and short feeds share the shape but run with independent values.
type FeedConfig struct {
	// PerPage is the default page size; MaxPerPage caps client requests.
	PerPage    int `koanf:"per_page"`
	MaxPerPage int `koanf:"max_per_page"`

	// CacheTTL is the feed cache freshness window.
	CacheTTL time.Duration `koanf:"cache_ttl"`

	// MaxCacheSize bounds the cached ordered ID list per user.
	MaxCacheSize int `koanf:"max_cache_size"`

	// MaxFinal bounds a single generation's output.
	MaxFinal int `koanf:"max_final"`

	// RefreshThreshold is the pagination position at which a cache-hit
	// background refresh runs synchronously instead.
	RefreshThreshold int `koanf:"refresh_threshold"`

	// MinInteractions gates full personalization.
	MinInteractions int `koanf:"min_interactions"`

	// TopUpTimeout bounds the synchronous top-up when a page comes up short.
	TopUpTimeout time.Duration `koanf:"top_up_timeout"`

	// MinTopUp is the smallest shortfall worth a synchronous top-up.
	MinTopUp int `koanf:"min_top_up"`

	// Candidate source limits.
	TrendingLimit int `koanf:"trending_limit"`
	FollowedLimit int `koanf:"followed_limit"`
	FreshLimit    int `koanf:"fresh_limit"`
	AgedLimit     int `koanf:"aged_limit"`

	// FreshWindow bounds the fresh source; AgedWindow bounds the aged one.
	FreshWindow time.Duration `koanf:"fresh_window"`
	AgedWindow  time.Duration `koanf:"aged_window"`
}

// StoriesConfig holds the global story feed settings.
type StoriesConfig struct {
	// MaxResults bounds the cached story list.
	MaxResults int `koanf:"max_results"`

	// ExpiryWindow is how long a story stays eligible after creation.
	ExpiryWindow time.Duration `koanf:"expiry_window"`

	// CacheTTL is the story cache freshness window. A read older than
	// half of it also triggers a background refresh.
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// CuratedConfig holds the daily curated batch settings.
type CuratedConfig struct {
	// Count and ShortsCount size the daily lists per namespace.
	Count       int `koanf:"count"`
	ShortsCount int `koanf:"shorts_count"`

	// WindowDays is the primary recency window for curation.
	WindowDays int `koanf:"window_days"`

	// FetchLimit caps candidates scanned per window.
	FetchLimit int `koanf:"fetch_limit"`

	// RunOnStart builds today's lists at startup when absent.
	RunOnStart bool `koanf:"run_on_start"`
}

// TasksConfig holds the background task runner settings.
type TasksConfig struct {
	// Workers is the subscriber pool size.
	Workers int `koanf:"workers"`

	// Timeout bounds a single task execution.
	Timeout time.Duration `koanf:"timeout"`

	// RatePerSecond throttles task starts; 0 disables throttling.
	RatePerSecond float64 `koanf:"rate_per_second"`
}

// Default returns the configuration defaults. Values follow the
// production tuning of the original deployment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimit:       120,
			RateWindow:      time.Minute,
		},
		Store: StoreConfig{
			Path:               "./data/zapfeed",
			GCInterval:         10 * time.Minute,
			BreakerMaxFailures: 5,
			BreakerTimeout:     30 * time.Second,
		},
		Security: SecurityConfig{
			RequireAuth: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Feed: FeedConfig{
			PerPage:          20,
			MaxPerPage:       50,
			CacheTTL:         6 * time.Hour,
			MaxCacheSize:     1000,
			MaxFinal:         500,
			RefreshThreshold: 80,
			MinInteractions:  5,
			TopUpTimeout:     5 * time.Second,
			MinTopUp:         5,
			TrendingLimit:    200,
			FollowedLimit:    100,
			FreshLimit:       30,
			AgedLimit:        100,
			FreshWindow:      24 * time.Hour,
			AgedWindow:       7 * 24 * time.Hour,
		},
		Shorts: FeedConfig{
			PerPage:          15,
			MaxPerPage:       50,
			CacheTTL:         6 * time.Hour,
			MaxCacheSize:     1000,
			MaxFinal:         500,
			RefreshThreshold: 60,
			MinInteractions:  5,
			TopUpTimeout:     5 * time.Second,
			MinTopUp:         5,
			TrendingLimit:    200,
			FollowedLimit:    100,
			FreshLimit:       30,
			AgedLimit:        100,
			FreshWindow:      24 * time.Hour,
			AgedWindow:       7 * 24 * time.Hour,
		},
		Stories: StoriesConfig{
			MaxResults:   200,
			ExpiryWindow: 24 * time.Hour,
			CacheTTL:     6 * time.Hour,
		},
		Curated: CuratedConfig{
			Count:       100,
			ShortsCount: 120,
			WindowDays:  7,
			FetchLimit:  600,
			RunOnStart:  true,
		},
		Tasks: TasksConfig{
			Workers:       4,
			Timeout:       30 * time.Second,
			RatePerSecond: 20,
		},
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Store.Path == "" && !c.Store.InMemory {
		return fmt.Errorf("store.path required unless store.in_memory is set")
	}
	if c.Security.RequireAuth && c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret required when security.require_auth is set")
	}
	for name, fc := range map[string]FeedConfig{"feed": c.Feed, "shorts": c.Shorts} {
		if fc.PerPage < 1 {
			return fmt.Errorf("%s.per_page must be positive", name)
		}
		if fc.MaxPerPage < fc.PerPage {
			return fmt.Errorf("%s.max_per_page below %s.per_page", name, name)
		}
		if fc.MaxCacheSize < fc.MaxFinal {
			return fmt.Errorf("%s.max_cache_size below %s.max_final", name, name)
		}
		if fc.CacheTTL <= 0 {
			return fmt.Errorf("%s.cache_ttl must be positive", name)
		}
		if fc.RefreshThreshold < 1 {
			return fmt.Errorf("%s.refresh_threshold must be positive", name)
		}
	}
	if c.Stories.MaxResults < 1 {
		return fmt.Errorf("stories.max_results must be positive")
	}
	if c.Curated.Count < 1 || c.Curated.ShortsCount < 1 {
		return fmt.Errorf("curated list sizes must be positive")
	}
	if c.Curated.WindowDays < 1 {
		return fmt.Errorf("curated.window_days must be positive")
	}
	if c.Tasks.Workers < 1 {
		return fmt.Errorf("tasks.workers must be positive")
	}
	return nil
}
