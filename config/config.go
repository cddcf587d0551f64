// Package config loads the imapauth configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (IMAPAUTH_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/mailkit/go-imapauth"
	"github.com/mailkit/go-imapauth/auth"
	"github.com/mailkit/go-imapauth/credential"
	"github.com/mailkit/go-imapauth/krb5"
)

// EnvPrefix is the prefix of environment variable overrides, for instance
// IMAPAUTH_LOGGING_LEVEL=debug.
const EnvPrefix = "IMAPAUTH"

// Config is the imapauth configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Cache configures the message body cache
	Cache CacheConfig `mapstructure:"cache"`

	// Authenticators is the ordered list of mechanisms to try, for instance
	// ["gssapi", "oauthbearer", "login"]. Empty means auth.DefaultAuthenticators.
	Authenticators []string `mapstructure:"authenticators" validate:"dive,authenticator"`

	// SASL configures the delegated SASL mechanism
	SASL SASLConfig `mapstructure:"sasl"`

	// Credentials holds the per-protocol imap, pop and smtp sections.
	Credentials credential.Config `mapstructure:",squash"`

	// Kerberos locates the Kerberos configuration for GSSAPI
	Kerberos krb5.Config `mapstructure:"kerberos"`

	// Timeout bounds connection establishment.
	// Default: 30s
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`

	// Account is the default account URL, such as "imaps://bob@imap.example.com"
	Account string `mapstructure:"account" validate:"omitempty,account"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: debug, info, warn, error (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
}

// CacheConfig configures the message body cache.
type CacheConfig struct {
	// Dir is the cache root directory. Empty disables the cache.
	// Default: $XDG_CACHE_HOME/imapauth
	Dir string `mapstructure:"dir"`
}

// SASLConfig configures the delegated SASL mechanism.
type SASLConfig struct {
	// Mechanisms is the SASL mechanism preference order.
	// Default: PLAIN, LOGIN
	Mechanisms []string `mapstructure:"mechanisms" validate:"dive,required"`
}

// keys lists every configuration key, so that environment variables are
// honoured even when the key is absent from the configuration file.
var keys = []string{
	"logging.level",
	"logging.format",
	"cache.dir",
	"authenticators",
	"sasl.mechanisms",
	"timeout",
	"account",
	"kerberos.krb5_conf",
	"kerberos.ccache",
	"kerberos.service",
}

var protocolKeys = []string{
	"user",
	"login",
	"pass",
	"oauth_refresh_command",
	"xoauth2_refresh_command",
}

func init() {
	for _, proto := range []string{"imap", "pop", "smtp"} {
		for _, k := range protocolKeys {
			keys = append(keys, proto+"."+k)
		}
	}
}

// Load loads configuration from file, environment, and defaults.
//
// An empty configPath means the default location. A missing file is not an
// error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	if err := setupViper(v, configPath); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "config: failed to read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, errors.Wrap(err, "config: failed to unmarshal config")
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return errors.Wrapf(err, "config: cannot bind %v", k)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(ConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	return nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook converts strings such as "30s" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("authenticator", func(fl validator.FieldLevel) bool {
		return auth.IsKnownName(fl.Field().String())
	})
	v.RegisterValidation("account", func(fl validator.FieldLevel) bool {
		_, err := imapauth.ParseAccountURL(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks the configuration. Errors match imapauth.ErrConfig.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return errors.Wrap(imapauth.ErrConfig, err.Error())
	}
	return nil
}

// ConfigDir returns the configuration directory: $XDG_CONFIG_HOME/imapauth,
// falling back to ~/.config/imapauth.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "imapauth")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "imapauth")
}

// DefaultCacheDir returns $XDG_CACHE_HOME/imapauth, falling back to
// ~/.cache/imapauth. It returns an empty string if neither can be
// determined.
func DefaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "imapauth")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cache", "imapauth")
}
