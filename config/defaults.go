package config

import (
	"strings"
	"time"

	"github.com/mailkit/go-imapauth/auth"
)

// DefaultTimeout is the default connection timeout.
const DefaultTimeout = 30 * time.Second

// ApplyDefaults sets default values for any unspecified configuration
// fields. Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)

	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = DefaultCacheDir()
	}
	if len(cfg.Authenticators) == 0 {
		cfg.Authenticators = append([]string(nil), auth.DefaultAuthenticators...)
	}
	for i, name := range cfg.Authenticators {
		cfg.Authenticators[i] = strings.ToLower(strings.TrimSpace(name))
	}
	for i, name := range cfg.SASL.Mechanisms {
		cfg.SASL.Mechanisms[i] = strings.ToUpper(strings.TrimSpace(name))
	}
	if cfg.Kerberos.Service == "" {
		cfg.Kerberos.Service = "imap"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	cfg.Level = strings.ToLower(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	cfg.Format = strings.ToLower(cfg.Format)
}

// GetDefaultConfig returns a configuration with all defaults applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
