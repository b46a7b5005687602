package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ccd_multisig"

// Metrics groups the wallet counters. A nil *Metrics is valid and records nothing,
// so components can be built without a registry in tests.
type Metrics struct {
	SignaturesAccepted *prometheus.CounterVec
	SignaturesRejected *prometheus.CounterVec
	DeviceErrors       *prometheus.CounterVec
	Submissions        *prometheus.CounterVec
	Outcomes           *prometheus.CounterVec
	PollDuration       prometheus.Histogram
}

// New registers the wallet metrics with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SignaturesAccepted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signatures_accepted_total",
			Help:      "Signatures verified and attached to a proposal",
		}, []string{"family"}),
		SignaturesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signatures_rejected_total",
			Help:      "Signature requests that did not produce an accepted signature",
		}, []string{"reason"}),
		DeviceErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_errors_total",
			Help:      "Hardware device errors by status category",
		}, []string{"category"}),
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Transaction submissions to the node",
		}, []string{"result"}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposal_outcomes_total",
			Help:      "Proposals reaching a terminal status",
		}, []string{"status"}),
		PollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Latency of transaction status queries",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

func (m *Metrics) SignatureAccepted(family string) {
	if m == nil {
		return
	}
	m.SignaturesAccepted.WithLabelValues(family).Inc()
}

func (m *Metrics) SignatureRejected(reason string) {
	if m == nil {
		return
	}
	m.SignaturesRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) DeviceError(category string) {
	if m == nil {
		return
	}
	m.DeviceErrors.WithLabelValues(category).Inc()
}

func (m *Metrics) Submission(result string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(result).Inc()
}

func (m *Metrics) Outcome(status string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(status).Inc()
}

func (m *Metrics) ObservePoll(seconds float64) {
	if m == nil {
		return
	}
	m.PollDuration.Observe(seconds)
}
