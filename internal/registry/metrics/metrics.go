package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the certification ledger.
type Metrics struct {
	// Submissions and their processing outcome
	RequestsSubmitted prometheus.Counter
	RequestsProcessed *prometheus.CounterVec

	// Certificate mutations after issuance
	CertificatesRevoked  prometheus.Counter
	CertificatesExtended prometheus.Counter

	IssuerChanges *prometheus.CounterVec

	// Guard rejections by operation and reason
	Rejections *prometheus.CounterVec

	VerifyCache *prometheus.CounterVec

	OperationLatency *prometheus.HistogramVec
}

// New registers the ledger metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "certledger_requests_submitted_total",
			Help: "Total certification requests appended to the ledger",
		}),
		RequestsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_requests_processed_total",
			Help: "Total certification requests processed by outcome",
		}, []string{"outcome"}), // outcome: "approved", "rejected"

		CertificatesRevoked: factory.NewCounter(prometheus.CounterOpts{
			Name: "certledger_certificates_revoked_total",
			Help: "Total certificates revoked",
		}),
		CertificatesExtended: factory.NewCounter(prometheus.CounterOpts{
			Name: "certledger_certificates_extended_total",
			Help: "Total certificate validity extensions",
		}),

		IssuerChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_issuer_changes_total",
			Help: "Issuer authorization changes by action",
		}, []string{"action"}), // action: "authorize", "revoke"

		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_operation_rejections_total",
			Help: "Operations rejected before any state change, by operation and error code",
		}, []string{"operation", "code"}),

		VerifyCache: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_verify_cache_total",
			Help: "Verification cache lookups by result",
		}, []string{"result"}), // result: "hit", "miss"

		OperationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certledger_operation_duration_seconds",
			Help:    "Duration of ledger operations",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncSubmitted() {
	if m != nil {
		m.RequestsSubmitted.Inc()
	}
}

func (m *Metrics) IncProcessed(approved bool) {
	if m == nil {
		return
	}
	outcome := "rejected"
	if approved {
		outcome = "approved"
	}
	m.RequestsProcessed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncRevoked() {
	if m != nil {
		m.CertificatesRevoked.Inc()
	}
}

func (m *Metrics) IncExtended() {
	if m != nil {
		m.CertificatesExtended.Inc()
	}
}

func (m *Metrics) IncIssuerChange(action string) {
	if m != nil {
		m.IssuerChanges.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) IncRejection(operation, code string) {
	if m != nil {
		m.Rejections.WithLabelValues(operation, code).Inc()
	}
}

func (m *Metrics) IncCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.VerifyCache.WithLabelValues("hit").Inc()
		return
	}
	m.VerifyCache.WithLabelValues("miss").Inc()
}

// ObserveOperation records how long operation took since start.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	if m != nil {
		m.OperationLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
