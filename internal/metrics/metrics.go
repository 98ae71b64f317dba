// Package metrics registers the Prometheus collectors the worker pool, the
// retry service, the recovery sweep and the in-process bus report against.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	busDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strmforge",
		Subsystem: "bus",
		Name:      "drops_total",
		Help:      "Messages dropped by the in-process bus, by topic and reason.",
	}, []string{"topic", "reason"})

	subtasksProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strmforge",
		Subsystem: "worker",
		Name:      "subtasks_processed_total",
		Help:      "SubTasks processed by the worker pool, by process kind and outcome.",
	}, []string{"process_kind", "outcome"})

	subtaskDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "strmforge",
		Subsystem: "worker",
		Name:      "subtask_duration_seconds",
		Help:      "SubTask handler duration in seconds, by process kind.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"process_kind"})

	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strmforge",
		Subsystem: "worker",
		Name:      "batches_total",
		Help:      "Worker-pool batches dispatched, by outcome.",
	}, []string{"outcome"})

	retriesScheduledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strmforge",
		Subsystem: "retry",
		Name:      "scheduled_total",
		Help:      "Task runs dispatched by the retry service, by the process kind of the first due SubTask.",
	}, []string{"process_kind"})

	recoveryActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strmforge",
		Subsystem: "recovery",
		Name:      "actions_total",
		Help:      "Orphan recovery actions taken, by detection tier.",
	}, []string{"tier"})
)

// IncBusDropReason records one dropped publish on topic for reason.
func IncBusDropReason(topic, reason string) {
	busDropsTotal.WithLabelValues(topic, reason).Inc()
}

// ObserveSubTaskDuration records one SubTask handler's wall-clock duration.
func ObserveSubTaskDuration(processKind string, seconds float64) {
	subtaskDurationSeconds.WithLabelValues(processKind).Observe(seconds)
}

// IncSubTaskProcessed records one SubTask handler outcome ("completed",
// "failed" or "retry") for processKind.
func IncSubTaskProcessed(processKind, outcome string) {
	subtasksProcessedTotal.WithLabelValues(processKind, outcome).Inc()
}

// IncBatch records one dispatched worker-pool batch.
func IncBatch(outcome string) {
	batchesTotal.WithLabelValues(outcome).Inc()
}

// IncRetryScheduled records one Task run the retry service dispatched for
// due retry SubTasks.
func IncRetryScheduled(processKind string) {
	retriesScheduledTotal.WithLabelValues(processKind).Inc()
}

// IncRecoveryAction records one orphan reclaimed by the recovery sweep at
// the given detection tier ("task_timeout", "heartbeat_timeout" or
// "activity_timeout").
func IncRecoveryAction(tier string) {
	recoveryActionsTotal.WithLabelValues(tier).Inc()
}
