package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/tillworks/possync/internal/flagx"
	"github.com/tillworks/possync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "15s"
// or as integer nanoseconds.
type JsonConfig struct {
	RestBaseURL    string         `json:"rest_base_url"`
	IdentityURL    string         `json:"identity_url"`
	APIKey         string         `json:"api_key"`
	TenantID       string         `json:"tenant_id"`
	Email          string         `json:"email"`
	DatabaseDSN    string         `json:"database_dsn"`
	RequestTimeout timex.Duration `json:"request_timeout"`
	SyncInterval   timex.Duration `json:"sync_interval"`
	MetricsAddr    string         `json:"metrics_addr"`
}

// parseJson overlays Config with values loaded from a JSON file resolved via
// the -c/-config flags. Empty JSON fields keep their current values.
// Intended usage is: defaults -> parseJson -> parseFlags, where later stages
// override earlier ones.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.RestBaseURL != "" {
		cfg.RestBaseURL = jc.RestBaseURL
	}
	if jc.IdentityURL != "" {
		cfg.IdentityURL = jc.IdentityURL
	}
	if jc.APIKey != "" {
		cfg.APIKey = jc.APIKey
	}
	if jc.TenantID != "" {
		cfg.TenantID = jc.TenantID
	}
	if jc.Email != "" {
		cfg.Email = jc.Email
	}
	if jc.DatabaseDSN != "" {
		cfg.DatabaseDSN = jc.DatabaseDSN
	}
	if jc.RequestTimeout.Duration > 0 {
		cfg.RequestTimeout = time.Duration(jc.RequestTimeout.Duration)
	}
	if jc.SyncInterval.Duration > 0 {
		cfg.SyncInterval = time.Duration(jc.SyncInterval.Duration)
	}
	if jc.MetricsAddr != "" {
		cfg.MetricsAddr = jc.MetricsAddr
	}
}
