// Package credential resolves the identity and secret of a remote mail
// account.
//
// Values come, in order, from the account itself, from per-protocol
// configuration, from an OAuth refresh command for bearer mechanisms, and
// finally from an interactive prompt.
package credential

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mailkit/go-imapauth"
	"github.com/mailkit/go-imapauth/internal"
)

// ProtocolConfig holds pre-configured credentials for one protocol.
type ProtocolConfig struct {
	User  string `mapstructure:"user"`
	Login string `mapstructure:"login"`
	Pass  string `mapstructure:"pass"`
	// OAuthRefreshCommand is a shell command printing an OAuth access token
	// on its first line of output.
	OAuthRefreshCommand string `mapstructure:"oauth_refresh_command"`
	// XOAuth2RefreshCommand overrides OAuthRefreshCommand for XOAUTH2.
	XOAuth2RefreshCommand string `mapstructure:"xoauth2_refresh_command"`
}

// Config holds pre-configured credentials for each protocol.
type Config struct {
	IMAP ProtocolConfig `mapstructure:"imap"`
	POP  ProtocolConfig `mapstructure:"pop"`
	SMTP ProtocolConfig `mapstructure:"smtp"`
}

// For returns the configuration for an account type. It never returns nil.
func (c *Config) For(t imapauth.AccountType) *ProtocolConfig {
	if c == nil {
		return &ProtocolConfig{}
	}
	switch t {
	case imapauth.AccountIMAP:
		return &c.IMAP
	case imapauth.AccountPOP:
		return &c.POP
	case imapauth.AccountSMTP:
		return &c.SMTP
	default:
		return &ProtocolConfig{}
	}
}

// Options contains options for Store.
type Options struct {
	Config *Config
	// Prompter is used when no pre-configured value exists. If nil,
	// resolution fails with imapauth.ErrNoInteractiveSurface.
	Prompter Prompter
	// RunCommand runs a refresh command and returns its first output line.
	// Defaults to RunShellCommand.
	RunCommand func(ctx context.Context, command string) (string, error)
	// Logger defaults to the logrus standard logger.
	Logger logrus.FieldLogger
}

// Store resolves the credentials of one account.
//
// Resolved values are stored in the account and never resolved again, until
// UnsetPass is called for the password.
type Store struct {
	account  *imapauth.Account
	config   *ProtocolConfig
	prompter Prompter
	run      func(ctx context.Context, command string) (string, error)
	log      logrus.FieldLogger
}

// New creates a credential store for account. The account is updated in
// place as values get resolved.
//
// A nil options pointer is equivalent to a zero options value.
func New(account *imapauth.Account, options *Options) *Store {
	if options == nil {
		options = &Options{}
	}

	log := options.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	run := options.RunCommand
	if run == nil {
		run = RunShellCommand
	}

	return &Store{
		account:  account,
		config:   options.Config.For(account.Type),
		prompter: options.Prompter,
		run:      run,
		log:      log.WithField("account", account.Redacted()),
	}
}

// Account returns the account backing the store.
func (s *Store) Account() *imapauth.Account {
	return s.account
}

func (s *Store) prompt(ctx context.Context, label string, secret bool) (string, error) {
	if s.prompter == nil {
		return "", errors.Wrapf(imapauth.ErrNoInteractiveSurface, "cannot prompt for %q", label)
	}
	v, err := s.prompter.Prompt(ctx, label, secret)
	if err != nil {
		return "", errors.Wrap(err, "credential: prompt")
	}
	return v, nil
}

func checkLen(field, v string, limit int) error {
	if len(v) > limit {
		return imapauth.ConfigError("%v exceeds %d bytes", field, limit)
	}
	return nil
}

// ResolveUser fills in the account user, if not already set.
func (s *Store) ResolveUser(ctx context.Context) (string, error) {
	a := s.account
	if a.HasUser() {
		return a.User, nil
	}

	if s.config.User != "" {
		if err := checkLen("user", s.config.User, imapauth.MaxUserLen); err != nil {
			return "", err
		}
		a.User = s.config.User
		return a.User, nil
	}

	user, err := s.prompt(ctx, fmt.Sprintf("Username at %v", a.Host), false)
	if err != nil {
		return "", err
	}
	if user == "" {
		return "", errors.New("credential: empty username")
	}
	if err := checkLen("user", user, imapauth.MaxUserLen); err != nil {
		return "", err
	}
	a.User = user
	return a.User, nil
}

// ResolveLogin fills in the account login, if not already set. The login
// defaults to the user when no explicit login is configured.
func (s *Store) ResolveLogin(ctx context.Context) (string, error) {
	a := s.account
	if a.HasLogin() {
		return a.Login, nil
	}

	if s.config.Login != "" {
		if err := checkLen("login", s.config.Login, imapauth.MaxUserLen); err != nil {
			return "", err
		}
		a.Login = s.config.Login
		return a.Login, nil
	}

	user, err := s.ResolveUser(ctx)
	if err != nil {
		return "", err
	}
	a.Login = user
	return a.Login, nil
}

// ResolvePass fills in the account password, if not already set.
func (s *Store) ResolvePass(ctx context.Context) (string, error) {
	a := s.account
	if a.HasPass() {
		return a.Pass, nil
	}

	if s.config.Pass != "" {
		if err := checkLen("password", s.config.Pass, imapauth.MaxPassLen); err != nil {
			return "", err
		}
		a.Pass = s.config.Pass
		a.PassIsToken = false
		return a.Pass, nil
	}

	login, err := s.ResolveLogin(ctx)
	if err != nil {
		return "", err
	}
	pass, err := s.prompt(ctx, fmt.Sprintf("Password for %v@%v", login, a.Host), true)
	if err != nil {
		return "", err
	}
	if err := checkLen("password", pass, imapauth.MaxPassLen); err != nil {
		return "", err
	}
	a.Pass = pass
	a.PassIsToken = false
	return a.Pass, nil
}

// ResolveBearerPass fills in the account password with an OAUTHBEARER
// message, for mechanisms sending a bearer token in place of a password.
//
// A previously resolved literal password is replaced.
func (s *Store) ResolveBearerPass(ctx context.Context) (string, error) {
	a := s.account
	if a.HasPass() && a.PassIsToken {
		return a.Pass, nil
	}

	if _, err := s.ResolveLogin(ctx); err != nil {
		return "", err
	}
	token, err := s.OAuthBearerToken(ctx)
	if err != nil {
		return "", err
	}
	a.Pass = token
	a.PassIsToken = true
	return a.Pass, nil
}

// UnsetPass forgets the password, so that the next resolution fetches it
// again. Other resolved fields are kept.
func (s *Store) UnsetPass() {
	s.account.Pass = ""
	s.account.PassIsToken = false
}

// OAuthBearerToken builds a base64-encoded OAUTHBEARER (RFC 7628) initial
// client response. The login must have been resolved.
func (s *Store) OAuthBearerToken(ctx context.Context) (string, error) {
	a := s.account
	if !a.HasLogin() {
		return "", errors.New("credential: login not resolved")
	}

	token, err := s.AccessToken(ctx)
	if err != nil {
		return "", err
	}

	msg := fmt.Sprintf("n,a=%s,\x01host=%s\x01port=%d\x01auth=Bearer %s\x01\x01",
		a.Login, a.Host, a.EffectivePort(), token)
	return internal.EncodeSASL([]byte(msg)), nil
}

// AccessToken runs the OAuth refresh command configured for the account
// type and returns the raw access token.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	return s.refreshToken(ctx, s.config.OAuthRefreshCommand)
}

// XOAuth2Token builds a base64-encoded XOAUTH2 initial client response. The
// login must have been resolved.
func (s *Store) XOAuth2Token(ctx context.Context) (string, error) {
	a := s.account
	if !a.HasLogin() {
		return "", errors.New("credential: login not resolved")
	}

	command := s.config.XOAuth2RefreshCommand
	if command == "" {
		command = s.config.OAuthRefreshCommand
	}
	token, err := s.refreshToken(ctx, command)
	if err != nil {
		return "", err
	}

	msg := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", a.Login, token)
	return internal.EncodeSASL([]byte(msg)), nil
}

func (s *Store) refreshToken(ctx context.Context, command string) (string, error) {
	if command == "" {
		return "", imapauth.ConfigError("no OAuth refresh command is defined for %v", s.account.Type)
	}

	s.log.Debug("credential: running OAuth refresh command")
	line, err := s.run(ctx, command)
	if err != nil {
		return "", &imapauth.RefreshCommandError{Command: command, Err: err}
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return "", &imapauth.RefreshCommandError{Command: command, Err: errors.New("empty token")}
	}
	return token, nil
}

// Match reports whether two accounts designate the same identity.
//
// Type, host (case-insensitive) and port must be equal. When only one
// account has a user, it is compared against the configured user for the
// account type, or else the local username.
func Match(a, b *imapauth.Account, config *Config) bool {
	if a.Type != b.Type || !strings.EqualFold(a.Host, b.Host) || a.Port != b.Port {
		return false
	}

	switch {
	case a.HasUser() && b.HasUser():
		return a.User == b.User
	case a.HasUser():
		return a.User == defaultUser(a.Type, config)
	case b.HasUser():
		return b.User == defaultUser(b.Type, config)
	default:
		return true
	}
}

func defaultUser(t imapauth.AccountType, config *Config) string {
	if user := config.For(t).User; user != "" {
		return user
	}
	return imapauth.LocalUsername()
}
