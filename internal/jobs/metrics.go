package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	drift    *prometheus.CounterVec
	mails    *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddDrift counts inventory rows whose stored field disagrees with its source
// of truth; field is "total" or "allocated".
func (m *Metrics) AddDrift(field string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.drift.WithLabelValues(field).Add(float64(count))
}

// MailSent counts mail deliveries by template and outcome.
func (m *Metrics) MailSent(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.mails.WithLabelValues(kind, result).Inc()
}

// DriftCounter exposes the drift counter of field for inspection.
func (m *Metrics) DriftCounter(field string) prometheus.Counter {
	return m.drift.WithLabelValues(field)
}

// MailSentCounter exposes the mail counter of kind and result for inspection.
func (m *Metrics) MailSentCounter(kind, result string) prometheus.Counter {
	return m.mails.WithLabelValues(kind, result)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "p2p_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "p2p_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "p2p_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	drift := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "p2p_job_drift_total",
		Help: "Inventory rows found drifting from their locations or allocations during reconciliation.",
	}, []string{"field"})
	mails := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "p2p_mail_sent_total",
		Help: "Mail deliveries partitioned by kind and result.",
	}, []string{"kind", "result"})
	registerer.MustRegister(runs, failures, duration, drift, mails)
	return &Metrics{runs: runs, failures: failures, duration: duration, drift: drift, mails: mails}
}
