// Package metrics provides Prometheus metrics for seednet: directory
// sizes, peer lifecycle decisions, DHT target selection, news queues and
// remote calls.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Directory ──────────────────────────────────────────────────────────────

// PeersKnown tracks the size of each directory partition.
var PeersKnown = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "seednet",
	Name:      "peers_known",
	Help:      "Number of peers per directory partition.",
}, []string{"partition"})

// DirectoryResets counts partitions cleared after storage corruption.
var DirectoryResets = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "seednet",
	Name:      "directory_resets_total",
	Help:      "Partitions reset after unreadable storage.",
}, []string{"partition"})

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// PeerDecisions counts accept/reject decisions by reason.
var PeerDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "seednet",
	Name:      "peer_decisions_total",
	Help:      "Peer admission decisions by outcome and reason.",
}, []string{"outcome", "reason"})

// PeerDepartures counts departures by cause.
var PeerDepartures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "seednet",
	Name:      "peer_departures_total",
	Help:      "Peers moved to the disconnected partition, by cause.",
}, []string{"cause"})

// ─── DHT ────────────────────────────────────────────────────────────────────

// DHTTargets observes how many peers a target selection returned.
var DHTTargets = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "seednet",
	Name:      "dht_targets",
	Help:      "Peers returned per target selection.",
	Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
}, []string{"kind"})

// DHTDisabled is 1 while the network is too small for DHT partitioning.
var DHTDisabled = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "seednet",
	Name:      "dht_disabled",
	Help:      "1 while the connected set is below the DHT threshold.",
})

// ─── News ───────────────────────────────────────────────────────────────────

// NewsQueueSize tracks the size of every news queue.
var NewsQueueSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "seednet",
	Name:      "news_queue_size",
	Help:      "Records per news queue.",
}, []string{"queue"})

// NewsRejected counts received records rejected at intake.
var NewsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "seednet",
	Name:      "news_rejected_total",
	Help:      "Received news records rejected at intake, by reason.",
}, []string{"reason"})

// ─── Remote Calls ───────────────────────────────────────────────────────────

// RemoteLatency tracks remote call duration in seconds.
var RemoteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "seednet",
	Name:      "remote_latency_seconds",
	Help:      "Remote peer call duration in seconds.",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
}, []string{"op"})

// RemoteFailures counts failed remote calls.
var RemoteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "seednet",
	Name:      "remote_failures_total",
	Help:      "Failed remote peer calls.",
}, []string{"op"})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "seednet",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// BackgroundCycles counts background maintenance cycles by task and result.
var BackgroundCycles = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "seednet",
	Name:      "background_cycles_total",
	Help:      "Background maintenance cycles by task and result.",
}, []string{"task", "result"})
