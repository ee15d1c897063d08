package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_tasks_total",
		Help: "Collection tasks by endpoint and outcome (success, retry, failed).",
	}, []string{"marketplace", "endpoint", "outcome"})

	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "collector_task_duration_seconds",
		Help:    "Wall time of one collection attempt.",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"marketplace", "endpoint"})

	RecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_records_total",
		Help: "Records stored per endpoint.",
	}, []string{"marketplace", "endpoint"})

	RecordsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_records_skipped_total",
		Help: "Malformed records skipped per endpoint.",
	}, []string{"marketplace", "endpoint"})

	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "collector_ratelimit_wait_seconds",
		Help:    "Time a worker waited for its credential slot.",
		Buckets: []float64{0, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
	})

	QueuePending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collector_queue_pending",
		Help: "Tasks ready to be dequeued.",
	})

	QueueRetrying = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collector_queue_retrying",
		Help: "Tasks waiting for their backoff.",
	})

	QueueInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collector_queue_in_flight",
		Help: "Tasks held by workers.",
	})

	TasksEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_tasks_enqueued_total",
		Help: "Tasks enqueued by source (short, medium, long, startup, manual, retry).",
	}, []string{"source"})

	WorkerPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collector_worker_pool_size",
		Help: "Configured worker count.",
	})

	WorkersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collector_workers_busy",
		Help: "Workers currently running a task.",
	})

	ActiveCollectors = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "collector_active_collectors",
		Help: "Registered collectors per marketplace.",
	}, []string{"marketplace"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_notifications_total",
		Help: "Operator notifications by kind and result (sent, deduped, error).",
	}, []string{"kind", "result"})
)

// InitMetrics sets label combinations that should be visible before the
// first event.
func InitMetrics(workers int, marketplaces ...string) {
	for _, mp := range marketplaces {
		ActiveCollectors.WithLabelValues(mp).Set(0)
	}
	QueuePending.Set(0)
	QueueRetrying.Set(0)
	QueueInFlight.Set(0)
	WorkerPoolSize.Set(float64(workers))
}
