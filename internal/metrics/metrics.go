package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gemindex",
			Name:      "worker_ticks_total",
			Help:      "Worker ticks by trigger source and outcome.",
		},
		[]string{"source", "result"},
	)

	tasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gemindex",
			Name:      "sync_tasks_processed_total",
			Help:      "One-shot sync tasks by terminal status.",
		},
		[]string{"status"},
	)

	jobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gemindex",
			Name:      "sync_jobs_processed_total",
			Help:      "Scheduled sync job runs by outcome.",
		},
		[]string{"status"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gemindex",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(ticks, tasks, jobs, httpRequests)
	})
}

func IncTick(source, result string) {
	ticks.WithLabelValues(source, result).Inc()
}

func IncTask(status string) {
	tasks.WithLabelValues(status).Inc()
}

func IncJob(status string) {
	jobs.WithLabelValues(status).Inc()
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
