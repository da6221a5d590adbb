// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Jobs currently being processed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	NLGResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlg_resolutions_total",
			Help: "Template resolutions by outcome (resolved, no_match, error)",
		},
		[]string{"outcome"},
	)

	NLGResolveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nlg_resolve_duration_seconds",
			Help:    "Duration of template resolution in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"call"},
	)

	NLGUnresolvableButtons = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlg_unresolvable_buttons_total",
			Help: "Buttons omitted from responses because their type is not postback or web_url",
		},
		[]string{"transport"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlg_http_requests_total",
			Help: "NLG HTTP requests by status code",
		},
		[]string{"code"},
	)
)
