// Package metrics defines the Prometheus collectors for punch admission and
// the correction scheduler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "attendance"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	punches       *prometheus.CounterVec
	punchDuration prometheus.Histogram
	autoCompleted *prometheus.CounterVec
	reminders     prometheus.Counter
	missedPunches prometheus.Counter
	schedulerRuns *prometheus.CounterVec
	orgFailures   *prometheus.CounterVec
}

// New registers every collector on a fresh registry, plus the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		punches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "punches_total",
			Help:      "Punch admission attempts by kind, verdict and fail reason.",
		}, []string{"kind", "verdict", "reason"}),
		punchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "punch_duration_seconds",
			Help:      "Time spent admitting one punch, lock wait included.",
			Buckets:   prometheus.DefBuckets,
		}),
		autoCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_completed_events_total",
			Help:      "Events synthesized by auto-completion, by kind.",
		}, []string{"kind"}),
		reminders: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_sent_total",
			Help:      "Pre-shift reminders handed to the notifier.",
		}),
		missedPunches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missed_punches_total",
			Help:      "Missed punch-request responses recorded at expiry.",
		}),
		schedulerRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_runs_total",
			Help:      "Scheduler passes by pass name and status.",
		}, []string{"pass", "status"}),
		orgFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_org_failures_total",
			Help:      "Per-organization scheduler failures by pass name.",
		}, []string{"pass"}),
	}
}

func (m *Metrics) ObservePunch(kind, verdict, reason string, seconds float64) {
	if m == nil {
		return
	}
	m.punches.WithLabelValues(kind, verdict, reason).Inc()
	m.punchDuration.Observe(seconds)
}

func (m *Metrics) AutoCompleted(kind string) {
	if m == nil {
		return
	}
	m.autoCompleted.WithLabelValues(kind).Inc()
}

func (m *Metrics) RemindersSent(n int) {
	if m == nil {
		return
	}
	m.reminders.Add(float64(n))
}

func (m *Metrics) MissedPunch() {
	if m == nil {
		return
	}
	m.missedPunches.Inc()
}

func (m *Metrics) SchedulerRun(pass, status string) {
	if m == nil {
		return
	}
	m.schedulerRuns.WithLabelValues(pass, status).Inc()
}

func (m *Metrics) OrgFailure(pass string) {
	if m == nil {
		return
	}
	m.orgFailures.WithLabelValues(pass).Inc()
}

// Registry exposes the underlying registry, for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
