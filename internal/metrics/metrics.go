package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "txsigner"

// Metrics holds the Prometheus collectors of the signing pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests          *prometheus.CounterVec
	signAttempts      prometheus.Counter
	nonCanonicalSigs  prometheus.Counter
	recoveryFailures  prometheus.Counter
	nonceRetries      prometheus.Counter
	nonceRaceFailures prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "JSON-RPC requests handled by the signing middleware, by method and outcome.",
		}, []string{"method", "outcome"}),
		signAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signer_calls_total",
			Help:      "Calls into external signers.",
		}),
		nonCanonicalSigs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "non_canonical_signatures_total",
			Help:      "Signatures rejected for a high S value.",
		}),
		recoveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_failures_total",
			Help:      "Signatures for which no recovery parameter matched the sender.",
		}),
		nonceRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonce_retries_total",
			Help:      "Attempts repeated after a nonce race.",
		}),
		nonceRaceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonce_race_failures_total",
			Help:      "Nonce races surfaced to the caller.",
		}),
	}

	reg.MustRegister(
		m.requests,
		m.signAttempts,
		m.nonCanonicalSigs,
		m.recoveryFailures,
		m.nonceRetries,
		m.nonceRaceFailures,
	)
	return m
}

func (m *Metrics) ObserveRequest(method, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) SignerCalled() {
	if m == nil {
		return
	}
	m.signAttempts.Inc()
}

func (m *Metrics) NonCanonicalSignature() {
	if m == nil {
		return
	}
	m.nonCanonicalSigs.Inc()
}

func (m *Metrics) RecoveryFailed() {
	if m == nil {
		return
	}
	m.recoveryFailures.Inc()
}

func (m *Metrics) NonceRetried() {
	if m == nil {
		return
	}
	m.nonceRetries.Inc()
}

func (m *Metrics) NonceRaceSurfaced() {
	if m == nil {
		return
	}
	m.nonceRaceFailures.Inc()
}
