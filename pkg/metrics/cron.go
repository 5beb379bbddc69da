package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "medrun"

const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
)

// SchedulerMetrics tracks scheduled job runs. A nil *SchedulerMetrics is a
// valid no-op.
type SchedulerMetrics struct {
	runs        *prometheus.CounterVec
	runSeconds  *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	skipped     prometheus.Counter
}

func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	if reg == nil {
		return nil
	}
	m := &SchedulerMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by outcome.",
		}, []string{"job", "outcome"}),
		runSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_duration_seconds",
			Help:      "Wall time of scheduled job runs.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30, 60},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run per job.",
		}, []string{"job"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "cycles_skipped_total",
			Help:      "Cycles skipped because another instance held the scheduler lock.",
		}),
	}
	reg.MustRegister(m.runs, m.runSeconds, m.lastSuccess, m.skipped)
	return m
}

// ObserveRun records one finished run of job; a nil err counts as success.
func (m *SchedulerMetrics) ObserveRun(job string, took time.Duration, err error) {
	if m == nil {
		return
	}
	if job == "" {
		job = "unnamed"
	}
	m.runSeconds.WithLabelValues(job).Observe(took.Seconds())
	if err != nil {
		m.runs.WithLabelValues(job, outcomeFailed).Inc()
		return
	}
	m.runs.WithLabelValues(job, outcomeSucceeded).Inc()
	m.lastSuccess.WithLabelValues(job).SetToCurrentTime()
}

func (m *SchedulerMetrics) CycleSkipped() {
	if m == nil {
		return
	}
	m.skipped.Inc()
}
