package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/riskforge/riskforge/internal/queue"
)

var (
	tasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskforge_worker_tasks_completed_total",
		Help: "Total number of prediction tasks completed successfully.",
	})
	tasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskforge_worker_tasks_failed_total",
		Help: "Total number of prediction tasks that ended in failure.",
	})
	tasksRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskforge_reaper_tasks_requeued_total",
		Help: "Total number of stale processing tasks requeued by the reaper.",
	})
	claimConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "riskforge_worker_claim_conflicts_total",
		Help: "Total number of claims lost to another worker.",
	})
	scoringDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "riskforge_worker_scoring_duration_seconds",
		Help:    "Duration of a single scoring call including retries.",
		Buckets: []float64{0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
	})
)

// RegisterQueueDepth exposes the queue's buffered length as a gauge.
func RegisterQueueDepth(q *queue.Queue) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "riskforge_queue_depth",
		Help: "Number of task ids currently buffered in the queue.",
	}, func() float64 {
		return float64(q.Len())
	})
}
