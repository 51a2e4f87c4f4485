package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "benchboard_tasks_submitted_total",
		Help: "Total number of upload tasks accepted",
	})

	tasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "benchboard_tasks_finished_total",
		Help: "Total number of upload tasks that reached a terminal state",
	}, []string{"state"})

	taskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "benchboard_task_duration_seconds",
		Help:    "Time from submission to terminal state",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
)
