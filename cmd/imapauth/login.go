package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mailkit/go-imapauth"
	"github.com/mailkit/go-imapauth/auth"
	"github.com/mailkit/go-imapauth/credential"
	"github.com/mailkit/go-imapauth/imapclient"
	"github.com/mailkit/go-imapauth/krb5"
	imapprom "github.com/mailkit/go-imapauth/metrics/prometheus"
)

var (
	loginStartTLS    bool
	loginMetricsFile string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against an IMAP server",
	Long: `Connect to the account's IMAP server and authenticate with the first
usable mechanism of the authenticators configuration key.

Missing credentials are prompted for on the terminal.

Examples:
  # Authenticate with the configured account
  imapauth login

  # Try OAUTHBEARER first, then LOGIN, over STARTTLS
  IMAPAUTH_AUTHENTICATORS=oauthbearer,login imapauth login -a imap://bob@imap.example.com --starttls`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().BoolVar(&loginStartTLS, "starttls", false, "Upgrade a cleartext connection with STARTTLS")
	loginCmd.Flags().StringVar(&loginMetricsFile, "metrics-file", "", "Write authentication metrics to this file in the Prometheus text format")
}

func runLogin(cmd *cobra.Command, args []string) error {
	acct, err := account()
	if err != nil {
		return err
	}
	if acct.Type != imapauth.AccountIMAP {
		return imapauth.ConfigError("login only supports IMAP accounts, got %v", acct.Type)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ch, err := connect(acct)
	if err != nil {
		return err
	}
	defer ch.Close()

	preauth, err := ch.ReadGreeting()
	if err != nil {
		return err
	}
	if preauth {
		fmt.Println("Already authenticated (PREAUTH)")
		return nil
	}

	if loginStartTLS && !acct.TLS {
		if err := ch.StartTLS(&tls.Config{ServerName: acct.Host}); err != nil {
			return err
		}
	}

	mechs, err := auth.FromNames(cfg.Authenticators, &auth.Options{
		GSSProvider:    krb5.NewProvider(cfg.Kerberos, log),
		GSSService:     cfg.Kerberos.Service,
		SASLMechanisms: cfg.SASL.Mechanisms,
	})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	neg := auth.NewNegotiator(mechs, &auth.NegotiatorOptions{
		Metrics: imapprom.NewAuthMetrics(reg),
		Logger:  log,
	})

	creds := credential.New(acct, &credential.Options{
		Config:   &cfg.Credentials,
		Prompter: credential.TerminalPrompter{},
		Logger:   log,
	})

	authErr := neg.Authenticate(ctx, ch, creds)

	if loginMetricsFile != "" {
		if err := prometheus.WriteToTextfile(loginMetricsFile, reg); err != nil {
			log.WithError(err).Warn("failed to write metrics file")
		}
	}

	if authErr != nil {
		if credential.IsAborted(authErr) {
			return errors.New("aborted")
		}
		return authErr
	}

	fmt.Printf("Authenticated as %v\n", acct.Login)

	if _, err := ch.Exec("LOGOUT"); err != nil {
		log.WithError(err).Debug("LOGOUT failed")
	}
	return nil
}

func connect(acct *imapauth.Account) (*imapclient.Channel, error) {
	options := &imapclient.Options{
		DebugWriter: debugWriter(),
		Logger:      log,
	}

	log.WithField("account", acct.Redacted()).Debug("connecting")
	if acct.TLS {
		return imapclient.DialTLS(acct.Addr(), cfg.Timeout, &tls.Config{ServerName: acct.Host}, options)
	}
	return imapclient.Dial(acct.Addr(), cfg.Timeout, options)
}
