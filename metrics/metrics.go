// Package metrics declares the prometheus.Collectors a node registers
// beyond the catalog pool's own pkg/poolstats collector: per-stage
// pipeline counters and histograms for the retrieval path (§7 expansion).
//
// Grounded on the teacher's own metrics files (indexer/controller2/metrics.go,
// java/metrics.go): package-level promauto vars, a namespace/subsystem
// pair per package, label sets kept small and fixed.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "daqbuffer"

// QueriesTotal counts completed retrieval requests, labeled by endpoint
// ("raw" for a node's peer subqueries; "events", "binned", "prebinned")
// and outcome ("ok", "partial", "timeout", "error").
var QueriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "query",
		Name:      "total",
		Help:      "Total number of completed retrieval requests.",
	},
	[]string{"endpoint", "outcome"},
)

// QueryDuration tracks end-to-end request latency, labeled by endpoint.
var QueryDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "query",
		Name:      "duration_seconds",
		Help:      "Retrieval request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"endpoint"},
)

// FanoutPeersTotal counts per-peer subquery outcomes during cluster
// fan-out, labeled by outcome ("ok", "failed").
var FanoutPeersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fanout",
		Name:      "peers_total",
		Help:      "Total number of per-peer fan-out subqueries, by outcome.",
	},
	[]string{"outcome"},
)

// PatchCacheTotal counts patch-cache serves, labeled by outcome ("hit",
// "built", "rejected").
var PatchCacheTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "patchcache",
		Name:      "serve_total",
		Help:      "Total number of patch-cache Serve calls, by outcome.",
	},
	[]string{"outcome"},
)

// DiskOpenTotal counts event-container file opens, labeled by outcome
// ("ok", "missing", "error"), folding in original_source/disk/src/lib.rs's
// OpenStats counters as a prometheus surface rather than only a per-query
// JSON field (collector.Stats covers the per-query view; this covers the
// fleet-wide one).
var DiskOpenTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "disk",
		Name:      "open_total",
		Help:      "Total number of event-container file opens, by outcome.",
	},
	[]string{"outcome"},
)

// DiskBytesRead counts bytes read from event-container files.
var DiskBytesRead = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "disk",
		Name:      "bytes_read_total",
		Help:      "Total bytes read from event-container files.",
	},
)
