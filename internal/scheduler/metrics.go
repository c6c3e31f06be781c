package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksScheduled counts tasks accepted into the queue.
	TasksScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_tasks_scheduled_total",
		Help: "Tasks accepted into the scheduling queue.",
	})
	// TasksTotal counts terminal and retry task transitions by outcome.
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_tasks_total",
		Help: "Task transitions, labeled by outcome.",
	}, []string{"outcome"})
	// ActiveWorkers gauges workers currently executing a fetch.
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crawler_active_workers",
		Help: "Workers currently processing a task.",
	})
)
