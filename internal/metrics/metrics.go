// Package metrics groups the Prometheus instruments exported by IntakePipe.
//
// All recording methods are safe to call on a nil *Metrics, so components can run without
// instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "intakepipe"

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Messages             *prometheus.CounterVec
	AIOutcomes           *prometheus.CounterVec
	AILatency            prometheus.Histogram
	ValidationRejections *prometheus.CounterVec
	LeadsCreated         prometheus.Counter
	DispatchFailures     *prometheus.CounterVec
	DuplicateMessages    prometheus.Counter
}

// New registers the instruments with the default Prometheus registerer.
func New(namespace string) *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer, namespace)
}

// NewWithRegisterer registers the instruments with reg.
func NewWithRegisterer(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	f := promauto.With(reg)
	return &Metrics{
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Processed inbound messages by platform and reply mode.",
		}, []string{"platform", "mode"}),
		AIOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_outcomes_total",
			Help:      "AI attempts by classified outcome.",
		}, []string{"outcome"}),
		AILatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_latency_ms",
			Help:      "AI attempt latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000},
		}),
		ValidationRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_rejections_total",
			Help:      "Rejected intake answers by step kind and reason.",
		}, []string{"kind", "reason"}),
		LeadsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leads_created_total",
			Help:      "Leads persisted by completed intakes.",
		}),
		DispatchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_failures_total",
			Help:      "Failed completion notifications by kind.",
		}, []string{"kind"}),
		DuplicateMessages: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_messages_total",
			Help:      "Inbound messages short-circuited as already processed.",
		}),
	}
}

func (m *Metrics) ObserveMessage(platform, mode string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(platform, mode).Inc()
}

func (m *Metrics) ObserveAI(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.AIOutcomes.WithLabelValues(outcome).Inc()
	m.AILatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveRejection(kind, reason string) {
	if m == nil {
		return
	}
	m.ValidationRejections.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) ObserveLead() {
	if m == nil {
		return
	}
	m.LeadsCreated.Inc()
}

func (m *Metrics) ObserveDispatchFailure(kind string) {
	if m == nil {
		return
	}
	m.DispatchFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveDuplicate() {
	if m == nil {
		return
	}
	m.DuplicateMessages.Inc()
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
