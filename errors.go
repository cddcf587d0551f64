package imapauth

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConfig indicates missing or invalid configuration, e.g. an account
	// without a host or a bearer mechanism without a refresh command.
	ErrConfig = errors.New("configuration error")
	// ErrNoInteractiveSurface is returned when a value has to be prompted for
	// but no prompt callback is available.
	ErrNoInteractiveSurface = errors.New("no interactive surface available")
	// ErrAuthUnavailable indicates that a mechanism cannot be attempted
	// because a local prerequisite is missing. The negotiator skips it.
	ErrAuthUnavailable = errors.New("authentication mechanism unavailable")
	// ErrAuthFailed indicates a terminal authentication failure.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrProtocol indicates an unexpected or malformed server reply.
	ErrProtocol = errors.New("protocol error")
)

// ConfigError returns an error wrapping ErrConfig.
func ConfigError(format string, args ...interface{}) error {
	return errors.Wrap(ErrConfig, fmt.Sprintf(format, args...))
}

// ProtocolError returns an error wrapping ErrProtocol.
func ProtocolError(format string, args ...interface{}) error {
	return errors.Wrap(ErrProtocol, fmt.Sprintf(format, args...))
}

// AuthError is a terminal authentication failure reported by a mechanism.
type AuthError struct {
	Mechanism string
	Reason    string
	Err       error
}

func (err *AuthError) Error() string {
	msg := fmt.Sprintf("%v authentication failed", err.Mechanism)
	if err.Reason != "" {
		msg += ": " + err.Reason
	}
	if err.Err != nil {
		msg += ": " + err.Err.Error()
	}
	return msg
}

func (err *AuthError) Unwrap() error {
	return err.Err
}

func (err *AuthError) Is(target error) bool {
	return target == ErrAuthFailed
}

// RefreshCommandError is returned when an OAuth refresh command cannot be
// started or doesn't print a token.
type RefreshCommandError struct {
	Command string
	Err     error
}

func (err *RefreshCommandError) Error() string {
	return fmt.Sprintf("refresh command %q: %v", err.Command, err.Err)
}

func (err *RefreshCommandError) Unwrap() error {
	return err.Err
}
