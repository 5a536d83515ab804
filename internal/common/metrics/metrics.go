package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AssistantTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_turns_total",
			Help: "Total number of conversation turns by outcome",
		},
		[]string{"outcome"},
	)

	AssistantStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_stage_duration_seconds",
			Help:    "Duration of each turn pipeline stage in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	AssistantUpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_upstream_requests_total",
			Help: "Total number of upstream requests by service and result",
		},
		[]string{"service", "result"},
	)

	AssistantTurnsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assistant_turns_active",
			Help: "Number of turns currently in flight",
		},
	)

	CRMRecordsReturned = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_crm_records_returned",
			Help:    "Number of records returned per CRM request",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		},
		[]string{"action"},
	)
)

// Upstream request results.
const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultCache = "cache"
)

// ObserveUpstream counts one upstream call for service.
func ObserveUpstream(service string, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	AssistantUpstreamRequests.WithLabelValues(service, result).Inc()
}
