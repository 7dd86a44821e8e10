package repository

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var snapshotOperations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "snapshot_operations_total",
		Help: "Completed repository operations",
	},
	[]string{"operation", "result"})

var snapshotThrottleNanos = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "snapshot_throttle_nanos_total",
		Help: "Nanoseconds snapshot uploads spent waiting on the rate limiter",
	})

var restoreThrottleNanos = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "restore_throttle_nanos_total",
		Help: "Nanoseconds restore downloads spent waiting on the rate limiter",
	})

const (
	metricResultSuccess = "success"
	metricResultPartial = "partial"
	metricResultFailure = "failure"
)

func observeOperation(operation string, err error) {
	result := metricResultSuccess
	if err != nil {
		result = metricResultFailure
	}
	snapshotOperations.WithLabelValues(operation, result).Inc()
}

// observeCreate counts partial snapshots separately from full successes. A
// snapshot finalized with every shard failed counts as a failure even though
// the operation itself returned none.
func observeCreate(manifest *SnapshotManifest, err error) {
	switch {
	case err != nil:
		snapshotOperations.WithLabelValues("create", metricResultFailure).Inc()
	case manifest.State == SnapshotStatePartial:
		snapshotOperations.WithLabelValues("create", metricResultPartial).Inc()
	case manifest.State == SnapshotStateFailed:
		snapshotOperations.WithLabelValues("create", metricResultFailure).Inc()
	default:
		snapshotOperations.WithLabelValues("create", metricResultSuccess).Inc()
	}
}
