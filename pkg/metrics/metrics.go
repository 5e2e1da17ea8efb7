// Package metrics provides Prometheus metrics for the Fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks currently open WebSocket connections
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "hub",
			Name:      "active_connections",
			Help:      "Number of currently open WebSocket connections",
		},
	)

	// BroadcastsTotal tracks broadcast calls by channel kind
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "hub",
			Name:      "broadcasts_total",
			Help:      "Total number of broadcast calls by event type",
		},
		[]string{"event_type"},
	)

	// MessagesDropped tracks messages dropped due to slow consumers
	MessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "hub",
			Name:      "messages_dropped_total",
			Help:      "Total number of messages dropped because a client send buffer was full",
		},
	)

	// ChangesApplied tracks applied changes by outcome
	ChangesApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "coordinator",
			Name:      "changes_total",
			Help:      "Total number of changes applied by outcome",
		},
		[]string{"outcome"},
	)

	// ChangeApplyDuration tracks applyChange duration in seconds
	ChangeApplyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "coordinator",
			Name:      "apply_duration_seconds",
			Help:      "Duration of change application in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	// ConflictsDetected tracks detected conflicts by type
	ConflictsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "coordinator",
			Name:      "conflicts_total",
			Help:      "Total number of conflicts detected by conflict type",
		},
		[]string{"conflict_type", "resolution"},
	)

	// LockAcquisitions tracks lock acquisition attempts by result
	LockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "locks",
			Name:      "acquisitions_total",
			Help:      "Total number of lock acquisition attempts by result",
		},
		[]string{"lock_type", "result"},
	)

	// LocksExpired tracks locks released by the expiry sweeper
	LocksExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "locks",
			Name:      "expired_total",
			Help:      "Total number of locks released by the expiry sweeper",
		},
	)

	// OnlineUsers tracks users currently marked online
	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "presence",
			Name:      "online_users",
			Help:      "Number of users currently marked online",
		},
	)

	// KafkaEventsPublished tracks collaboration events mirrored to Kafka
	KafkaEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "events_published_total",
			Help:      "Total number of collaboration events published to Kafka",
		},
		[]string{"event_type", "status"},
	)
)

// RecordChange records a change application metric
func RecordChange(outcome string, durationSeconds float64) {
	ChangesApplied.WithLabelValues(outcome).Inc()
	ChangeApplyDuration.Observe(durationSeconds)
}

// RecordConflict records a detected conflict
func RecordConflict(conflictType, resolution string) {
	ConflictsDetected.WithLabelValues(conflictType, resolution).Inc()
}

// RecordLockAttempt records a lock acquisition attempt
func RecordLockAttempt(lockType, result string) {
	LockAcquisitions.WithLabelValues(lockType, result).Inc()
}
