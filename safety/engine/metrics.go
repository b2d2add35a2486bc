package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("sentinel/engine")

var eventProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "sentinel_event_duration_sec",
	Help: "Duration of hot-path event processing",
}, []string{"type"})

var eventProcessCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_event_processed",
	Help: "Number of events processed",
}, []string{"type"})

var eventErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_event_errors",
	Help: "Number of events which failed processing",
}, []string{"type"})

var sanctionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_sanctions",
	Help: "Number of sanctions (and reversals) committed, by kind",
}, []string{"kind"})

var circuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_circuit_breaker_trips",
	Help: "Number of sanctions downgraded because a daily quota was reached",
}, []string{"kind"})

var gatewayFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_gateway_failures",
	Help: "Number of failed gateway calls, by action",
}, []string{"action"})

var investigationQueued = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sentinel_investigations_queued",
	Help: "Number of profiles added to the investigation queue",
})

var investigationCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_investigations",
	Help: "Number of completed investigations, by verdict label",
}, []string{"label"})

var appealCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_appeals",
	Help: "Number of appeals submitted and decided",
}, []string{"decision"})

var oracleFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_oracle_failures",
	Help: "Number of oracle calls which produced no verdict",
}, []string{"op"})

var anomalyFlags = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_anomaly_flags",
	Help: "Number of per-user anomalies found by the sweep",
}, []string{"type"})

var raidAlerts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sentinel_raid_alerts",
	Help: "Number of community raid alerts",
})

var reportCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sentinel_daily_reports",
	Help: "Number of daily reports generated",
})

var loopDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "sentinel_loop_duration_sec",
	Help: "Duration of background loop iterations",
}, []string{"loop"})

var loopErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_loop_errors",
	Help: "Number of failed background loop iterations",
}, []string{"loop"})
