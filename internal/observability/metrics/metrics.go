package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics groups the counters and histograms for the lead
// pipeline. A nil *PipelineMetrics is valid and records nothing, so
// tests and tools can pass nil instead of wiring a registry.
type PipelineMetrics struct {
	runs         *prometheus.CounterVec
	sends        *prometheus.CounterVec
	approvals    *prometheus.CounterVec
	inboxSkips   *prometheus.CounterVec
	pollDuration prometheus.Histogram
	leadsCreated prometheus.Counter
}

// New registers the pipeline metrics on reg and returns them.
func New(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadpilot",
			Name:      "runs_total",
			Help:      "Automation runs by resulting status.",
		}, []string{"status"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadpilot",
			Name:      "email_sends_total",
			Help:      "Outbound reply attempts by result.",
		}, []string{"result"}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadpilot",
			Name:      "approvals_total",
			Help:      "Approval decisions by action.",
		}, []string{"action"}),
		inboxSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadpilot",
			Name:      "inbox_skips_total",
			Help:      "Inbox messages skipped without a run, by reason.",
		}, []string{"reason"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "leadpilot",
			Name:      "poll_duration_seconds",
			Help:      "Wall time of one full poll cycle across clients.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		leadsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "leadpilot",
			Name:      "leads_created_total",
			Help:      "New leads persisted from inbound email.",
		}),
	}
	reg.MustRegister(m.runs, m.sends, m.approvals, m.inboxSkips, m.pollDuration, m.leadsCreated)
	return m
}

// ObserveRun records a run reaching a status.
func (m *PipelineMetrics) ObserveRun(status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}

// ObserveSend records an outbound reply attempt.
func (m *PipelineMetrics) ObserveSend(result string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(result).Inc()
}

// ObserveApproval records an approval decision: approved, discarded,
// or rejected (bad request).
func (m *PipelineMetrics) ObserveApproval(action string) {
	if m == nil {
		return
	}
	m.approvals.WithLabelValues(action).Inc()
}

// ObserveInboxSkip records a message the poller consumed without
// producing a run.
func (m *PipelineMetrics) ObserveInboxSkip(reason string) {
	if m == nil {
		return
	}
	m.inboxSkips.WithLabelValues(reason).Inc()
}

// ObservePollDuration records the wall time of one poll cycle.
func (m *PipelineMetrics) ObservePollDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.pollDuration.Observe(d.Seconds())
}

// ObserveLeadCreated records a newly persisted lead.
func (m *PipelineMetrics) ObserveLeadCreated() {
	if m == nil {
		return
	}
	m.leadsCreated.Inc()
}
