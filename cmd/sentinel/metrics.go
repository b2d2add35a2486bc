package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_stream_events_received",
	Help: "Number of events received from the gateway event stream",
}, []string{"type"})

var eventsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentinel_stream_events_failed",
	Help: "Number of stream events which failed processing",
}, []string{"type"})

var streamReconnects = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sentinel_stream_reconnects",
	Help: "Number of times the event stream connection was re-established",
})

var currentSeq = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "sentinel_current_seq",
	Help: "Current event stream sequence number",
})
