package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the engine's prometheus collectors.
type Metrics struct {
	billingsGenerated *prometheus.CounterVec
	billingsSkipped   *prometheus.CounterVec
	gatewayCalls      *prometheus.CounterVec
	webhookEvents     *prometheus.CounterVec
	jobRuns           *prometheus.CounterVec
	jobErrors         *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		billingsGenerated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "faturo_billings_generated_total",
			Help: "Billings materialized, by tenant.",
		}, []string{"tenant"}),
		billingsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "faturo_billings_skipped_total",
			Help: "Billings skipped because the period already exists.",
		}, []string{"tenant"}),
		gatewayCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "faturo_gateway_calls_total",
			Help: "Outbound payment gateway calls, by provider, operation and outcome.",
		}, []string{"provider", "operation", "outcome"}),
		webhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "faturo_webhook_events_total",
			Help: "Inbound webhook events, by provider and normalized event.",
		}, []string{"provider", "event"}),
		jobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "faturo_scheduler_job_runs_total",
			Help: "Scheduler job executions.",
		}, []string{"job"}),
		jobErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "faturo_scheduler_job_errors_total",
			Help: "Scheduler job executions that returned an error.",
		}, []string{"job"}),
		jobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "faturo_scheduler_job_duration_seconds",
			Help:    "Scheduler job wall time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
}

func (m *Metrics) IncBillingGenerated(tenant string) {
	if m == nil {
		return
	}
	m.billingsGenerated.WithLabelValues(tenant).Inc()
}

func (m *Metrics) IncBillingSkipped(tenant string) {
	if m == nil {
		return
	}
	m.billingsSkipped.WithLabelValues(tenant).Inc()
}

func (m *Metrics) IncGatewayCall(provider, operation, outcome string) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(provider, operation, outcome).Inc()
}

func (m *Metrics) IncWebhookEvent(provider, event string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(provider, event).Inc()
}

func (m *Metrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *Metrics) IncJobError(job string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *Metrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}
