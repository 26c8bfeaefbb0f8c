package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "park"

// Recorder collects admission, transition, ledger and audit metrics. A nil
// *Recorder records nothing.
type Recorder struct {
	admissions       *prometheus.CounterVec
	admissionLatency *prometheus.HistogramVec
	transitions      *prometheus.CounterVec
	ledgerOps        *prometheus.CounterVec
	ledgerLatency    *prometheus.HistogramVec
	auditRuns        *prometheus.CounterVec
	driftingKeys     prometheus.Gauge
}

// NewRecorder creates the collectors and registers them on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reservation",
			Name:      "admissions_total",
			Help:      "Admission attempts by booking kind and outcome.",
		}, []string{"kind", "outcome"}),
		admissionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reservation",
			Name:      "admission_duration_seconds",
			Help:      "Latency of admission attempts by booking kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reservation",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions by action and outcome.",
		}, []string{"action", "outcome"}),
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Capacity ledger calls by backend, operation and outcome.",
		}, []string{"backend", "op", "outcome"}),
		ledgerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Latency of capacity ledger calls by backend and operation.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"backend", "op"}),
		auditRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "audit_runs_total",
			Help:      "Reconciliation audit runs by outcome.",
		}, []string{"outcome"}),
		driftingKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "drifting_keys",
			Help:      "Ledger keys whose committed total disagreed with live reservations on the last audit.",
		}),
	}
	reg.MustRegister(
		r.admissions,
		r.admissionLatency,
		r.transitions,
		r.ledgerOps,
		r.ledgerLatency,
		r.auditRuns,
		r.driftingKeys,
	)
	return r
}

func (r *Recorder) ObserveAdmission(kind, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.admissions.WithLabelValues(kind, outcome).Inc()
	r.admissionLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveTransition(action, outcome string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(action, outcome).Inc()
}

func (r *Recorder) ObserveLedger(backend, op, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.ledgerOps.WithLabelValues(backend, op, outcome).Inc()
	r.ledgerLatency.WithLabelValues(backend, op).Observe(elapsed.Seconds())
}

// ObserveAudit records one reconciliation run. drifting is ignored when the
// run failed, so the gauge keeps the last known value.
func (r *Recorder) ObserveAudit(drifting int, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.auditRuns.WithLabelValues("error").Inc()
		return
	}
	r.auditRuns.WithLabelValues("ok").Inc()
	r.driftingKeys.Set(float64(drifting))
}
