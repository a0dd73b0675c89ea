package eventqueue

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/optimist-network/coordinator/metrics"
)

// Metrics holds queue-level metrics.
type Metrics struct {
	registry *metrics.ComponentRegistry

	QueueDepth     *prometheus.GaugeVec
	TasksProcessed *prometheus.CounterVec
	TasksFailed    *prometheus.CounterVec
}

func newMetrics() *Metrics {
	reg := metrics.NewComponentRegistry("optimist", "eventqueue")

	return &Metrics{
		registry: reg,

		QueueDepth: reg.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Number of tasks waiting on the queue",
		}, []string{"queue"}),

		TasksProcessed: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "tasks_processed_total",
			Help: "Total number of tasks completed successfully",
		}, []string{"queue"}),

		TasksFailed: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "tasks_failed_total",
			Help: "Total number of tasks that returned an error",
		}, []string{"queue"}),
	}
}
