package auth

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mailkit/go-imapauth"
	"github.com/mailkit/go-imapauth/credential"
	"github.com/mailkit/go-imapauth/imapclient"
)

// ErrNegotiationInProgress is returned when Authenticate is called on a
// Negotiator which is already running.
var ErrNegotiationInProgress = errors.New("auth: negotiation already in progress")

// Metrics records authentication attempts.
type Metrics interface {
	// ObserveAttempt records an attempted mechanism and its outcome.
	ObserveAttempt(mechanism string, result Result, duration time.Duration)
	// RecordSkipped records a mechanism skipped because the server doesn't
	// advertise a required capability.
	RecordSkipped(mechanism string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveAttempt(string, Result, time.Duration) {}
func (noopMetrics) RecordSkipped(string)                         {}

// NegotiatorOptions contains options for Negotiator.
type NegotiatorOptions struct {
	Metrics Metrics
	// Logger defaults to the logrus standard logger.
	Logger logrus.FieldLogger
}

// Negotiator authenticates with the first usable mechanism of an ordered
// list.
type Negotiator struct {
	mechanisms []Mechanism
	metrics    Metrics
	log        logrus.FieldLogger

	running atomic.Bool
}

// NewNegotiator creates a negotiator trying mechanisms in order.
//
// A nil options pointer is equivalent to a zero options value.
func NewNegotiator(mechanisms []Mechanism, options *NegotiatorOptions) *Negotiator {
	if options == nil {
		options = &NegotiatorOptions{}
	}

	metrics := options.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	log := options.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Negotiator{
		mechanisms: mechanisms,
		metrics:    metrics,
		log:        log,
	}
}

// Mechanisms returns the names of the configured mechanisms, in order.
func (n *Negotiator) Mechanisms() []string {
	names := make([]string, len(n.mechanisms))
	for i, mech := range n.mechanisms {
		names[i] = mech.Name()
	}
	return names
}

// Authenticate authenticates creds over ch.
//
// If the channel doesn't know the server capabilities yet, a CAPABILITY
// command is sent first. Mechanisms whose required capabilities aren't
// advertised are skipped without running any local step.
//
// A terminal failure is returned as an *imapauth.AuthError. If no
// mechanism could be attempted, the returned error wraps
// imapauth.ErrAuthUnavailable.
func (n *Negotiator) Authenticate(ctx context.Context, ch *imapclient.Channel, creds *credential.Store) error {
	if !n.running.CompareAndSwap(false, true) {
		return ErrNegotiationInProgress
	}
	defer n.running.Store(false)

	log := n.log.WithField("account", creds.Account().Redacted())

	caps := ch.Caps()
	if caps == nil {
		var err error
		if caps, err = ch.Capability(); err != nil {
			return errors.Wrap(err, "auth: cannot fetch capabilities")
		}
	}

	var skipped []string
	for _, mech := range n.mechanisms {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := mech.Name()
		mlog := log.WithField("mechanism", name)
		if !caps.HasAll(mech.Caps()...) {
			mlog.Debug("auth: server doesn't advertise mechanism, skipping")
			n.metrics.RecordSkipped(name)
			skipped = append(skipped, name)
			continue
		}

		mlog.Info("auth: authenticating")
		start := time.Now()
		res, err := mech.Authenticate(ctx, ch, creds)
		n.metrics.ObserveAttempt(name, res, time.Since(start))

		switch res {
		case Success:
			mlog.Info("auth: authenticated")
			return nil
		case Unavailable:
			mlog.WithError(err).Info("auth: mechanism unavailable")
			skipped = append(skipped, name)
			continue
		default:
			if err == nil {
				err = &imapauth.AuthError{Mechanism: name}
			}
			mlog.WithError(err).Warn("auth: authentication failed")
			return err
		}
	}

	return errors.Wrapf(imapauth.ErrAuthUnavailable, "no authenticators available (tried: %v)", strings.Join(skipped, ", "))
}
