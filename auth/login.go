package auth

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/mailkit/go-imapauth"
	"github.com/mailkit/go-imapauth/credential"
	"github.com/mailkit/go-imapauth/imapclient"
	"github.com/mailkit/go-imapauth/internal"
)

// Login authenticates with the plaintext IMAP LOGIN command.
type Login struct{}

var _ Mechanism = Login{}

func (Login) Name() string { return "LOGIN" }

func (Login) Caps() []imapauth.Cap { return nil }

func (m Login) Authenticate(ctx context.Context, ch *imapclient.Channel, creds *credential.Store) (Result, error) {
	const name = "LOGIN"

	if ch.Caps().Has(imapauth.CapLoginDisabled) {
		return unavailable(name, "LOGIN is disabled by the server")
	}

	login, err := creds.ResolveLogin(ctx)
	if err != nil {
		return fail(name, "cannot resolve login", err)
	}
	pass, err := creds.ResolvePass(ctx)
	if err != nil {
		return fail(name, "cannot resolve password", err)
	}

	lines, err := commandLines("LOGIN", login, pass)
	if err != nil {
		return fail(name, "", err)
	}

	st, err := execSecret(ch, lines)
	if err != nil {
		return fail(name, "", err)
	}
	switch st {
	case imapclient.StatusOK:
		return Success, nil
	case imapclient.StatusRespond:
		return abort(ch, name, "unexpected continuation request", nil)
	default:
		creds.UnsetPass()
		return fail(name, "", errors.New(serverReason(ch, st)))
	}
}

// commandLines encodes a command with string arguments. Arguments which
// can't be quoted are sent as synchronizing literals: every line but the
// last ends with a literal marker, and the next line starts with the
// literal data.
func commandLines(command string, args ...string) ([]string, error) {
	var lines []string
	cur := command
	for _, arg := range args {
		if internal.ValidQuoted(arg) {
			cur += " " + internal.Quote(arg)
			continue
		}
		if !internal.ValidLiteral(arg) {
			return nil, errors.Errorf("%v: argument contains a NUL byte", command)
		}
		cur += fmt.Sprintf(" {%d}", len(arg))
		lines = append(lines, cur)
		cur = arg
	}
	return append(lines, cur), nil
}

// execSecret sends a command split by commandLines, waiting for a
// continuation request before each literal.
func execSecret(ch *imapclient.Channel, lines []string) (imapclient.Status, error) {
	if err := ch.SendSecret(lines[0]); err != nil {
		return imapclient.StatusBAD, err
	}
	for _, line := range lines[1:] {
		st, err := ch.Wait()
		if err != nil || st != imapclient.StatusRespond {
			return st, err
		}
		if err := ch.SendLine(line); err != nil {
			return imapclient.StatusBAD, err
		}
	}
	return ch.Wait()
}
