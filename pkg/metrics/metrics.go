package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobRuns counts batch job executions by job and result (success|failure|locked).
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roster_job_runs_total",
			Help: "Total number of batch job runs",
		},
		[]string{"job", "result"},
	)

	// JobDuration measures how long each batch job takes.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roster_job_duration_seconds",
			Help:    "Batch job duration",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"job"},
	)

	// DirectoryMutations counts directory writes, planned or applied, by kind.
	DirectoryMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roster_directory_mutations_total",
			Help: "Total number of directory mutations planned or applied",
		},
		[]string{"kind", "dry_run"},
	)

	// MailingGroups counts catalog upserts by action (created|updated|unchanged|deleted).
	MailingGroups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roster_mailing_groups_total",
			Help: "Mailing group catalog changes",
		},
		[]string{"action"},
	)

	// ExternalRequests counts outbound API calls by client and outcome.
	ExternalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roster_external_requests_total",
			Help: "Outbound API requests",
		},
		[]string{"client", "result"},
	)
)
