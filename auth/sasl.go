package auth

import (
	"context"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/pkg/errors"

	"github.com/mailkit/go-imapauth"
	"github.com/mailkit/go-imapauth/credential"
	"github.com/mailkit/go-imapauth/imapclient"
	"github.com/mailkit/go-imapauth/internal"
)

// DefaultSASLMechanisms is the preference order used by SASL when none is
// configured.
var DefaultSASLMechanisms = []string{sasl.Plain, sasl.Login}

// SASLClientFactory creates a local SASL session for a mechanism.
type SASLClientFactory func(ctx context.Context, mech string, creds *credential.Store) (sasl.Client, error)

// SASL delegates the exchange to a local SASL client library session.
type SASL struct {
	// Mechanisms is the preference order, e.g. ["PLAIN", "LOGIN"]. Empty
	// means DefaultSASLMechanisms.
	Mechanisms []string
	// NewClient defaults to NewSASLClient.
	NewClient SASLClientFactory
}

var _ Mechanism = (*SASL)(nil)

func (*SASL) Name() string { return "SASL" }

// Caps returns nil: the mechanism is selected against the advertised list
// when authenticating.
func (*SASL) Caps() []imapauth.Cap { return nil }

func (m *SASL) Authenticate(ctx context.Context, ch *imapclient.Channel, creds *credential.Store) (Result, error) {
	const name = "SASL"

	prefs := m.Mechanisms
	if len(prefs) == 0 {
		prefs = DefaultSASLMechanisms
	}
	newClient := m.NewClient
	if newClient == nil {
		newClient = NewSASLClient
	}

	caps := ch.Caps()
	var (
		client  sasl.Client
		lastErr error
	)
	for _, mech := range prefs {
		if !caps.Has(imapauth.AuthCap(mech)) {
			continue
		}
		c, err := newClient(ctx, strings.ToUpper(mech), creds)
		if err != nil {
			lastErr = errors.Wrapf(err, "%v", mech)
			continue
		}
		client = c
		break
	}
	if client == nil {
		if lastErr != nil {
			return unavailable(name, "cannot create session: %v", lastErr)
		}
		return unavailable(name, "no mechanism in common with server (want %v, server has %v)",
			prefs, caps.AuthMechanisms())
	}

	mech, ir, err := client.Start()
	if err != nil {
		return unavailable(name, "cannot start %v session: %v", mech, err)
	}
	mechName := name + " " + mech

	cmd := "AUTHENTICATE " + mech
	if ir != nil && caps.Has(imapauth.CapSASLIR) {
		cmd += " " + internal.EncodeSASL(ir)
		ir = nil
	}
	if err := ch.SendSecret(cmd); err != nil {
		return fail(mechName, "", err)
	}

	for {
		st, err := ch.Wait()
		if err != nil {
			return fail(mechName, "", err)
		}

		switch st {
		case imapclient.StatusOK:
			return Success, nil
		case imapclient.StatusNO, imapclient.StatusBAD:
			creds.UnsetPass()
			return fail(mechName, "", errors.New(serverReason(ch, st)))
		}

		// A pending initial response answers the first challenge, which is
		// empty for client-first mechanisms
		if ir != nil {
			if err := respond(ch, ir); err != nil {
				return fail(mechName, "", err)
			}
			ir = nil
			continue
		}

		challenge, err := internal.DecodeSASL(ch.Text())
		if err != nil {
			return abort(ch, mechName, "invalid challenge", err)
		}
		resp, err := client.Next(challenge)
		if err != nil {
			return abort(ch, mechName, "local step failed", err)
		}
		if err := respond(ch, resp); err != nil {
			return fail(mechName, "", err)
		}
	}
}

// NewSASLClient creates a go-sasl client for PLAIN, LOGIN, ANONYMOUS,
// EXTERNAL or OAUTHBEARER, resolving the credentials it needs.
func NewSASLClient(ctx context.Context, mech string, creds *credential.Store) (sasl.Client, error) {
	switch mech {
	case sasl.Plain, sasl.Login:
		login, err := creds.ResolveLogin(ctx)
		if err != nil {
			return nil, err
		}
		pass, err := creds.ResolvePass(ctx)
		if err != nil {
			return nil, err
		}
		if mech == sasl.Plain {
			return sasl.NewPlainClient("", login, pass), nil
		}
		return sasl.NewLoginClient(login, pass), nil
	case sasl.Anonymous:
		// The trace is optional
		trace, err := creds.ResolveUser(ctx)
		if errors.Is(err, imapauth.ErrNoInteractiveSurface) {
			trace = ""
		} else if err != nil {
			return nil, err
		}
		return sasl.NewAnonymousClient(trace), nil
	case sasl.External:
		return sasl.NewExternalClient(""), nil
	case sasl.OAuthBearer:
		login, err := creds.ResolveLogin(ctx)
		if err != nil {
			return nil, err
		}
		token, err := creds.AccessToken(ctx)
		if err != nil {
			return nil, err
		}
		acct := creds.Account()
		return sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: login,
			Token:    token,
			Host:     acct.Host,
			Port:     acct.EffectivePort(),
		}), nil
	default:
		return nil, errors.Errorf("unsupported SASL mechanism %q", mech)
	}
}
