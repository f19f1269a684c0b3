package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		queueDepth,
		tasksFinished,
		generationLatency,
		postProcessed,
		sweptTasks,
		refunds,
	)
}

var (
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Items waiting in a work queue.",
		},
		[]string{"queue"},
	)

	tasksFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Generation tasks that reached a terminal status.",
		},
		[]string{"status"},
	)

	generationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Backend generation latency per backend kind and outcome.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 60, 120, 300, 600},
		},
		[]string{"backend", "outcome"},
	)

	postProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "postprocess_jobs_total",
			Help:      "Post-processing jobs by outcome.",
		},
		[]string{"outcome"},
	)

	sweptTasks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_tasks_total",
			Help:      "Processing tasks force-failed by the stuck-task sweeper.",
		},
	)

	refunds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunds_total",
			Help:      "Refunds issued for failed tasks, by source.",
		},
		[]string{"source"},
	)
)

// SetQueueDepth records the number of waiting items in queue.
func SetQueueDepth(queue string, n int) {
	queueDepth.WithLabelValues(queue).Set(float64(n))
}

// TaskFinished counts a task reaching status.
func TaskFinished(status string) {
	tasksFinished.WithLabelValues(status).Inc()
}

// ObserveGeneration records one backend call.
func ObserveGeneration(backend string, err error, d time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	generationLatency.WithLabelValues(backend, outcome).Observe(d.Seconds())
}

// PostProcessed counts a post-processing outcome (uploaded, skipped, conflict, error).
func PostProcessed(outcome string) {
	postProcessed.WithLabelValues(outcome).Inc()
}

// TaskSwept counts a task failed by the sweeper.
func TaskSwept() {
	sweptTasks.Inc()
}

// Refunded counts a refund issued by source (worker, sweeper, reconcile).
func Refunded(source string) {
	refunds.WithLabelValues(source).Inc()
}
