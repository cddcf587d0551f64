// Command imapauth authenticates against a mail server and manages the local
// message body cache.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mailkit/go-imapauth"
	"github.com/mailkit/go-imapauth/config"
)

var (
	configPath string
	accountURL string
	debug      bool

	cfg *config.Config
	log = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "imapauth",
	Short: "Mail server authentication and body cache tool",
	Long: `imapauth authenticates against an IMAP server with the first usable
mechanism (GSSAPI, OAUTHBEARER, XOAUTH2, SASL, LOGIN) and manages the
local cache of downloaded message bodies.

Accounts are designated with URLs such as imaps://bob@imap.example.com.

Environment Variables:
  All configuration options can be overridden using environment variables.
  Format: IMAPAUTH_<SECTION>_<KEY>, for instance IMAPAUTH_LOGGING_LEVEL=debug`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		return initLogger(&cfg.Logging)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: $XDG_CONFIG_HOME/imapauth/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&accountURL, "account", "a", "", "Account URL (default: account from the config file)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Print all commands and responses, secrets redacted")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(cacheCmd)
}

func initLogger(c *config.LoggingConfig) error {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return errors.Wrap(imapauth.ErrConfig, err.Error())
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	switch c.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// account returns the account designated on the command line or in the
// configuration file. Pre-configured users are applied, so that the
// account maps to the same cache directory whether or not it has been
// authenticated.
func account() (*imapauth.Account, error) {
	s := accountURL
	if s == "" {
		s = cfg.Account
	}
	if s == "" {
		return nil, imapauth.ConfigError("no account specified, use --account or the account configuration key")
	}

	a, err := imapauth.ParseAccountURL(s)
	if err != nil {
		return nil, err
	}
	if !a.HasUser() {
		a.User = cfg.Credentials.For(a.Type).User
	}
	return a, nil
}

func debugWriter() io.Writer {
	if debug {
		return os.Stderr
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
