package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(templateCacheRequestsTotal, engineLaunchesTotal, aiCallsTotal, aiCallLatencySeconds)
}

var templateCacheRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "template_cache_requests_total",
		Help: "Template cache lookups by result (hit, miss, expired).",
	},
	[]string{"result"},
)

var engineLaunchesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "render_engine_launches_total",
		Help: "Render engine launches by result (ok, error) and replacements of unhealthy instances.",
	},
	[]string{"result"},
)

var aiCallsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ai_calls_total",
		Help: "Generation backend calls by operation and outcome.",
	},
	[]string{"operation", "outcome"},
)

var aiCallLatencySeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "ai_call_latency_seconds",
		Help:    "Generation backend call latency.",
		Buckets: []float64{1, 2.5, 5, 10, 20, 40, 60, 90, 120},
	},
	[]string{"operation"},
)

func IncTemplateCache(result string) {
	templateCacheRequestsTotal.WithLabelValues(norm(result)).Inc()
}

func IncEngineLaunch(result string) {
	engineLaunchesTotal.WithLabelValues(norm(result)).Inc()
}

func ObserveAICall(operation, outcome string, d time.Duration) {
	aiCallsTotal.WithLabelValues(norm(operation), norm(outcome)).Inc()
	aiCallLatencySeconds.WithLabelValues(norm(operation)).Observe(d.Seconds())
}
