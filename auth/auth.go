// Package auth negotiates authentication over an IMAP command channel.
//
// A Negotiator tries an ordered list of mechanisms against the capabilities
// advertised by the server. Each mechanism reports Success, Failure or
// Unavailable: unavailable mechanisms are skipped, the first failure stops
// negotiation.
package auth

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/pkg/errors"

	"github.com/mailkit/go-imapauth"
	"github.com/mailkit/go-imapauth/credential"
	"github.com/mailkit/go-imapauth/imapclient"
)

// Result is the outcome of one authentication attempt.
type Result int

const (
	Success Result = iota
	// Failure is terminal: no other mechanism is tried.
	Failure
	// Unavailable means a local prerequisite is missing, the next mechanism
	// is tried.
	Unavailable
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Unavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Mechanism is an authentication strategy.
type Mechanism interface {
	// Name returns the name of the mechanism, e.g. "GSSAPI".
	Name() string
	// Caps returns the capabilities the server must advertise for the
	// mechanism to be attempted.
	Caps() []imapauth.Cap
	// Authenticate runs the exchange over ch. ch must be idle or done. A
	// non-nil error describes a Failure or the reason a mechanism is
	// Unavailable.
	Authenticate(ctx context.Context, ch *imapclient.Channel, creds *credential.Store) (Result, error)
}

func fail(mech, reason string, err error) (Result, error) {
	return Failure, &imapauth.AuthError{Mechanism: mech, Reason: reason, Err: err}
}

func unavailable(mech, format string, args ...interface{}) (Result, error) {
	return Unavailable, errors.Wrapf(imapauth.ErrAuthUnavailable, "%v: %v", mech, fmt.Sprintf(format, args...))
}

// abort cancels an AUTHENTICATE exchange after a local error and reports a
// failure.
func abort(ch *imapclient.Channel, mech, reason string, err error) (Result, error) {
	if _, abortErr := ch.Abort(); abortErr != nil {
		return fail(mech, reason, errors.Wrap(abortErr, "abort"))
	}
	return fail(mech, reason, err)
}

// serverReason returns a short description of the last server reply.
func serverReason(ch *imapclient.Channel, st imapclient.Status) string {
	if text := ch.Text(); text != "" {
		return fmt.Sprintf("server replied %v: %v", st, text)
	}
	return fmt.Sprintf("server replied %v", st)
}

// respond sends a SASL response to a continuation request. Unlike an
// initial response, an empty response is an empty line.
func respond(ch *imapclient.Channel, b []byte) error {
	return ch.SendLine(base64.StdEncoding.EncodeToString(b))
}
