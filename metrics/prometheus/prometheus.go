// Package prometheus implements auth.Metrics and bodycache.Metrics with
// Prometheus collectors.
//
// All metrics use the "imapauth_" prefix. A nil *AuthMetrics or
// *CacheMetrics is a valid no-op.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mailkit/go-imapauth/auth"
	"github.com/mailkit/go-imapauth/bodycache"
)

// AuthMetrics tracks authentication attempts.
type AuthMetrics struct {
	// Attempts counts mechanism attempts.
	// Labels: mechanism, result=[success, failure, unavailable]
	Attempts *prometheus.CounterVec

	// Skipped counts mechanisms skipped because the server lacks a
	// capability they require.
	// Labels: mechanism
	Skipped *prometheus.CounterVec

	// Duration tracks the duration of each attempt.
	// Labels: mechanism
	Duration *prometheus.HistogramVec
}

var _ auth.Metrics = (*AuthMetrics)(nil)

// NewAuthMetrics creates and registers authentication metrics. If reg is
// nil, prometheus.DefaultRegisterer is used.
func NewAuthMetrics(reg prometheus.Registerer) *AuthMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	return &AuthMetrics{
		Attempts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "imapauth_auth_attempts_total",
				Help: "Total authentication attempts by mechanism and result",
			},
			[]string{"mechanism", "result"},
		),
		Skipped: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "imapauth_auth_skipped_total",
				Help: "Total mechanisms skipped for lack of server capabilities",
			},
			[]string{"mechanism"},
		),
		Duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "imapauth_auth_duration_seconds",
				Help: "Duration of authentication attempts in seconds",
				Buckets: []float64{
					0.01, // local failure
					0.05,
					0.1,
					0.25,
					0.5,
					1,
					2.5, // OAuth refresh command
					5,
					10,
				},
			},
			[]string{"mechanism"},
		),
	}
}

func (m *AuthMetrics) ObserveAttempt(mech string, result auth.Result, d time.Duration) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(mech, result.String()).Inc()
	m.Duration.WithLabelValues(mech).Observe(d.Seconds())
}

func (m *AuthMetrics) RecordSkipped(mech string) {
	if m == nil {
		return
	}
	m.Skipped.WithLabelValues(mech).Inc()
}

// CacheMetrics tracks body cache operations.
type CacheMetrics struct {
	// Gets counts lookups.
	// Labels: status=[hit, miss]
	Gets *prometheus.CounterVec

	// Operations counts writes.
	// Labels: op=[put, commit, delete]
	Operations *prometheus.CounterVec
}

var _ bodycache.Metrics = (*CacheMetrics)(nil)

// NewCacheMetrics creates and registers body cache metrics. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	return &CacheMetrics{
		Gets: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "imapauth_cache_gets_total",
				Help: "Total body cache lookups by status",
			},
			[]string{"status"},
		),
		Operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "imapauth_cache_operations_total",
				Help: "Total body cache write operations by type",
			},
			[]string{"op"},
		),
	}
}

func (m *CacheMetrics) ObserveGet(hit bool) {
	if m == nil {
		return
	}
	status := "miss"
	if hit {
		status = "hit"
	}
	m.Gets.WithLabelValues(status).Inc()
}

func (m *CacheMetrics) RecordPut()    { m.record("put") }
func (m *CacheMetrics) RecordCommit() { m.record("commit") }
func (m *CacheMetrics) RecordDelete() { m.record("delete") }

func (m *CacheMetrics) record(op string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op).Inc()
}
