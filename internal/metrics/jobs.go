package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(jobsProcessedTotal, jobDurationSeconds, submissionsRejectedTotal, queueMessagesTotal, usageLedgerErrorsTotal)
}

var jobsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jobs_processed_total",
		Help: "Jobs that reached a terminal state, by kind and status.",
	},
	[]string{"kind", "status"},
)

var jobDurationSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "job_duration_seconds",
		Help:    "Time from receipt to terminal state.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	},
	[]string{"kind"},
)

var submissionsRejectedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "submissions_rejected_total",
		Help: "Submissions rejected before queuing, by error code.",
	},
	[]string{"code"},
)

var queueMessagesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "queue_messages_total",
		Help: "Queue message events: enqueued, received, acked, dead_lettered.",
	},
	[]string{"queue", "event"},
)

var usageLedgerErrorsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "usage_ledger_errors_total",
		Help: "Usage increments that failed and were swallowed.",
	},
)

func IncJobProcessed(kind, status string) {
	jobsProcessedTotal.WithLabelValues(norm(kind), norm(status)).Inc()
}

func ObserveJobDuration(kind string, d time.Duration) {
	jobDurationSeconds.WithLabelValues(norm(kind)).Observe(d.Seconds())
}

func IncSubmissionRejected(code string) {
	submissionsRejectedTotal.WithLabelValues(code).Inc()
}

func IncQueueEvent(queue, event string) {
	queueMessagesTotal.WithLabelValues(norm(queue), norm(event)).Inc()
}

func IncUsageLedgerError() {
	usageLedgerErrorsTotal.Inc()
}
