// Package metrics holds the Prometheus collectors shared by the tile layer,
// the fetch client and the provider service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetch protocol
	FetchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilemesh_fetch_requests_total",
		Help: "Fetch requests by outcome (ok, timeout, canceled, channel, remote)",
	}, []string{"outcome"})

	FetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tilemesh_fetch_latency_seconds",
		Help:    "Latency of settled fetch requests in seconds",
		Buckets: prometheus.DefBuckets,
	})

	FetchPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tilemesh_fetch_pending",
		Help: "Requests waiting for a response",
	})

	FetchUnmatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilemesh_fetch_unmatched_total",
		Help: "Inbound messages with no pending request",
	})

	// Tile cache
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilemesh_cache_hits_total",
		Help: "Total number of tile cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilemesh_cache_misses_total",
		Help: "Total number of tile cache misses",
	})

	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilemesh_cache_evictions_total",
		Help: "Total number of tile cache evictions",
	})

	// Provider
	ProviderTiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilemesh_provider_tiles_total",
		Help: "Tiles served by the provider, by transport and status",
	}, []string{"transport", "status"})

	ProviderStoreDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tilemesh_provider_store_duration_seconds",
		Help:    "Duration of tile store operations in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"store", "operation"})

	ProviderCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilemesh_provider_cache_lookups_total",
		Help: "Provider cache lookups by level (memory, store) and result (hit, miss)",
	}, []string{"level", "result"})

	ProviderUpstreamLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tilemesh_provider_upstream_latency_seconds",
		Help:    "Latency of upstream tile fetches in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// Tile layer
	LayerVisibleTiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tilemesh_layer_visible_tiles",
		Help: "Tiles selected by the last viewport update",
	})
)
