package config

import (
	"flag"
	"os"
	"time"

	"github.com/tillworks/possync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-r string   remote data API base URL
//	-u string   identity endpoint base URL
//	-k string   API key
//	-t string   tenant identifier
//	-e string   login email
//	-d string   local database DSN
//	-i int      sync interval in seconds
//	-m string   metrics listen address
//	-login      prompt for a password and (re-)authenticate, then exit
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-r", "-u", "-k", "-t", "-e", "-d", "-i", "-m", "-login"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.RestBaseURL, "r", cfg.RestBaseURL, "remote data API base URL")
	fs.StringVar(&cfg.IdentityURL, "u", cfg.IdentityURL, "identity endpoint base URL")
	fs.StringVar(&cfg.APIKey, "k", cfg.APIKey, "API key")
	fs.StringVar(&cfg.TenantID, "t", cfg.TenantID, "tenant identifier")
	fs.StringVar(&cfg.Email, "e", cfg.Email, "login email")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "local database DSN")
	syncInterval := fs.Int("i", int(cfg.SyncInterval.Seconds()), "sync interval (in seconds)")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "metrics listen address")
	fs.BoolVar(&cfg.Login, "login", false, "prompt for a password and authenticate, then exit")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.SyncInterval = time.Duration(*syncInterval) * time.Second
}
