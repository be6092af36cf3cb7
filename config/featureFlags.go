package config

import (
	"os"
	"strings"
	"time"
)

// SyncSettings tunes how hard the WooCommerce sync leans on a storefront.
// Woo installs behind shared hosting throttle aggressively, so the defaults are small.
type SyncSettings struct {
	PerPage          int
	MaxPages         int
	MaxOrders        int
	RequestDelay     time.Duration
	RateLimitBackoff time.Duration
	Lookback         time.Duration
	SiteConcurrency  int
	LockTTL          time.Duration
	HTTPTimeout      time.Duration
}

// LoadSyncSettings reads the WOO_SYNC_* variables.
//
//   - WOO_SYNC_PER_PAGE (default 20, capped at 100 by WooCommerce)
//   - WOO_SYNC_MAX_PAGES (default 10)
//   - WOO_SYNC_MAX_ORDERS (default 500)
//   - WOO_SYNC_REQUEST_DELAY_MS (default 1000)
//   - WOO_SYNC_RATE_LIMIT_BACKOFF_SECONDS (default 30)
//   - WOO_SYNC_LOOKBACK_DAYS (default 7)
//   - WOO_SYNC_SITE_CONCURRENCY (default 2)
//   - WOO_SYNC_LOCK_TTL_SECONDS (default 600)
//   - WOO_HTTP_TIMEOUT_SECONDS (default 30)
func LoadSyncSettings() SyncSettings {
	s := SyncSettings{
		PerPage:          intFromEnv("WOO_SYNC_PER_PAGE", 20),
		MaxPages:         intFromEnv("WOO_SYNC_MAX_PAGES", 10),
		MaxOrders:        intFromEnv("WOO_SYNC_MAX_ORDERS", 500),
		RequestDelay:     time.Duration(intFromEnv("WOO_SYNC_REQUEST_DELAY_MS", 1000)) * time.Millisecond,
		RateLimitBackoff: time.Duration(intFromEnv("WOO_SYNC_RATE_LIMIT_BACKOFF_SECONDS", 30)) * time.Second,
		Lookback:         time.Duration(intFromEnv("WOO_SYNC_LOOKBACK_DAYS", 7)) * 24 * time.Hour,
		SiteConcurrency:  intFromEnv("WOO_SYNC_SITE_CONCURRENCY", 2),
		LockTTL:          time.Duration(intFromEnv("WOO_SYNC_LOCK_TTL_SECONDS", 600)) * time.Second,
		HTTPTimeout:      time.Duration(intFromEnv("WOO_HTTP_TIMEOUT_SECONDS", 30)) * time.Second,
	}
	return s.Normalize()
}

// Normalize clamps zero or out-of-range values back to safe defaults.
func (s SyncSettings) Normalize() SyncSettings {
	if s.PerPage <= 0 {
		s.PerPage = 20
	}
	if s.PerPage > 100 {
		s.PerPage = 100
	}
	if s.MaxPages <= 0 {
		s.MaxPages = 10
	}
	if s.MaxOrders <= 0 {
		s.MaxOrders = 500
	}
	if s.RequestDelay < 0 {
		s.RequestDelay = 0
	}
	if s.RateLimitBackoff < 0 {
		s.RateLimitBackoff = 0
	}
	if s.Lookback <= 0 {
		s.Lookback = 7 * 24 * time.Hour
	}
	if s.SiteConcurrency <= 0 {
		s.SiteConcurrency = 1
	}
	if s.LockTTL <= 0 {
		s.LockTTL = 10 * time.Minute
	}
	if s.HTTPTimeout <= 0 {
		s.HTTPTimeout = 30 * time.Second
	}
	return s
}

// SkipMigrations disables AutoMigrate on startup (run cmd jobs instead).
func SkipMigrations() bool {
	return envBoolDefault("SKIP_MIGRATIONS", false)
}

// IsProduction is true when GO_ENV=production.
func IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production")
}
