package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors for the real-time pipeline. Registered once on package init
// via promauto against the default registry.
var (
	FetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liveline_fetch_total",
		Help: "External fetch attempts by source and outcome",
	}, []string{"source", "outcome"})

	BreakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liveline_breaker_rejections_total",
		Help: "Calls rejected without reaching upstream, by source and reason",
	}, []string{"source", "reason"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liveline_cache_hits_total",
		Help: "Cache reads by content class and freshness",
	}, []string{"class", "freshness"})

	SnapshotsProduced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liveline_probability_snapshots_total",
		Help: "Probability snapshots produced, by basis",
	}, []string{"basis"})

	SimulationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "liveline_simulation_duration_seconds",
		Help:    "Wall-clock simulation duration by outcome",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"outcome"})

	BroadcastSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "liveline_broadcast_sends_total",
		Help: "Messages fanned out to subscribers, by topic class",
	}, []string{"class"})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "liveline_connected_clients",
		Help: "Currently open websocket connections",
	})

	SimulationWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "liveline_simulation_workers",
		Help: "Current simulation worker pool size",
	})
)
