package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"runforge/internal/model"
)

var (
	jobsSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "runforge_jobs_submitted_total",
			Help: "Total number of job submissions accepted by the engine.",
		},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runforge_jobs_finished_total",
			Help: "Total number of executions that reached a terminal status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(jobsSubmittedTotal)
	prometheus.MustRegister(jobsFinishedTotal)

	// Pre-initialize terminal label values so they appear in /metrics
	// before the first job finishes.
	for _, s := range []model.Status{
		model.StatusCompleted,
		model.StatusFailed,
		model.StatusCancelled,
		model.StatusTimedOut,
	} {
		jobsFinishedTotal.WithLabelValues(string(s))
	}
}
