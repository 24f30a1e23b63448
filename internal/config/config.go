package config

import "time"

// Config holds runtime settings for the sync engine.
//
// Fields:
//   - RestBaseURL: root of the remote data API (one endpoint per resource).
//   - IdentityURL: root of the identity endpoint (token grants).
//   - APIKey: static per-tenant API key sent on every request.
//   - TenantID: the active tenant identifier.
//   - Email: login used for password-grant re-authentication.
//   - DatabaseDSN: local SQLite database path.
//   - RequestTimeout: per-HTTP-call timeout.
//   - SyncInterval: delay between scheduled sync passes.
//   - MetricsAddr: listen address for the prometheus endpoint; empty disables it.
type Config struct {
	RestBaseURL    string
	IdentityURL    string
	APIKey         string
	TenantID       string
	Email          string
	DatabaseDSN    string
	RequestTimeout time.Duration
	SyncInterval   time.Duration
	MetricsAddr    string
	Login          bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.RestBaseURL = "http://127.0.0.1:3000/rest/v1"
	c.IdentityURL = "http://127.0.0.1:3000/auth/v1"
	c.DatabaseDSN = "possync.db"
	c.RequestTimeout = 15 * time.Second
	c.SyncInterval = 5 * time.Minute
	c.MetricsAddr = ""
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
