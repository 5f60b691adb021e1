// Package metrics exposes the ambient prometheus instrumentation for
// the broadcaster, downloader, and address manager. The dependency
// itself was a direct entry in the teacher's go.mod; its original call
// site (pkg/server, an Accumulate-specific HTTP metrics endpoint) did
// not survive the transform, but the instrumentation concern —
// vote/quorum outcomes, in-flight downloads, lock-table size — still
// needs a home, so the library is re-adopted here with new collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// QuorumOutcomes counts terminal conditions of CommunicateWithQuorum,
	// labeled "success", "validity_threshold", or "no_quorum".
	QuorumOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledgerclient",
		Subsystem: "broadcast",
		Name:      "quorum_outcomes_total",
		Help:      "Terminal outcomes of quorum broadcast rounds.",
	}, []string{"outcome"})

	// VoteLatency measures wall-clock time for one full
	// communicate_with_quorum round.
	VoteLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ledgerclient",
		Subsystem: "broadcast",
		Name:      "round_duration_seconds",
		Help:      "Duration of a full quorum broadcast round.",
		Buckets:   prometheus.DefBuckets,
	})

	// InFlightDownloads tracks concurrently running object-download
	// tasks (bounded by the downloader's MaxConcurrency).
	InFlightDownloads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ledgerclient",
		Subsystem: "download",
		Name:      "in_flight_downloads",
		Help:      "Number of object-download tasks currently in flight.",
	})

	// DownloadOutcomes counts object downloads, labeled "stored" or
	// "failed".
	DownloadOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledgerclient",
		Subsystem: "download",
		Name:      "outcomes_total",
		Help:      "Outcomes of object-download tasks.",
	}, []string{"outcome"})

	// LockTableSize reports the current number of held locks for the
	// address manager, sampled on each lock/unlock.
	LockTableSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ledgerclient",
		Subsystem: "address",
		Name:      "lock_table_size",
		Help:      "Current number of entries in the pending lock table.",
	})
)

// Registry is a dedicated prometheus registry so the client library
// never reaches for the global DefaultRegisterer, matching a library
// (not a standalone daemon) being a well-behaved import.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(QuorumOutcomes, VoteLatency, InFlightDownloads, DownloadOutcomes, LockTableSize)
}
