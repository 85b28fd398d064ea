package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "planscan_jobs_created_total",
			Help: "Total number of jobs created",
		},
	)

	jobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planscan_jobs_finished_total",
			Help: "Total number of jobs reaching a terminal state, by status",
		},
		[]string{"status"},
	)

	tendonsDetected = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "planscan_tendons_detected",
			Help:    "Number of tendons detected per completed job",
			Buckets: []float64{0, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	jobProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "planscan_job_processing_duration_seconds",
			Help:    "Wall-clock duration of job processing",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)
)
