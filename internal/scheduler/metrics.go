package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report scheduler activity.
type Metrics struct {
	ticks        *prometheus.CounterVec
	charges      *prometheus.CounterVec
	expirations  prometheus.Counter
	jobErrors    prometheus.Counter
	tickDuration prometheus.Histogram
	tracked      prometheus.Gauge
}

// MustNewMetrics registers the scheduler collectors on reg. Tests pass a fresh registry;
// registration errors panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subyield",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Scheduler ticks by outcome.",
		}, []string{"outcome"}),
		charges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subyield",
			Subsystem: "scheduler",
			Name:      "charges_total",
			Help:      "Recurring charge attempts by result.",
		}, []string{"result"}),
		expirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "subyield",
			Subsystem: "scheduler",
			Name:      "expirations_total",
			Help:      "Subscriptions moved to EXPIRED by the scheduler.",
		}),
		jobErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "subyield",
			Subsystem: "scheduler",
			Name:      "job_errors_total",
			Help:      "Per-subscription jobs that hit an error other than a failed charge.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "subyield",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of a full scheduler tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "subyield",
			Subsystem: "scheduler",
			Name:      "tracked_subscriptions",
			Help:      "Subscriptions in the working set at the last tick.",
		}),
	}
	reg.MustRegister(m.ticks, m.charges, m.expirations, m.jobErrors, m.tickDuration, m.tracked)
	return m
}

func (m *Metrics) observe(r TickReport) {
	if r.Aborted {
		m.ticks.WithLabelValues("aborted").Inc()
		return
	}
	m.ticks.WithLabelValues("ok").Inc()
	m.charges.WithLabelValues("charged").Add(float64(r.Charged))
	m.charges.WithLabelValues("insufficient_funds").Add(float64(r.InsufficientFunds))
	m.charges.WithLabelValues("failed").Add(float64(r.ChargeFailures - r.InsufficientFunds))
	m.expirations.Add(float64(r.Expired))
	m.jobErrors.Add(float64(r.Errors))
	m.tickDuration.Observe(r.Duration.Seconds())
	m.tracked.Set(float64(r.Tracked))
}
