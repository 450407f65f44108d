// Package metrics holds the Prometheus collectors of the scan pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScanRuns counts finished scan runs.
	// Labels: result (completed, cancelled, auth_error, fetch_error)
	ScanRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billdrop",
			Subsystem: "scan",
			Name:      "runs_total",
			Help:      "Total number of scan runs by result",
		},
		[]string{"result"},
	)

	// ScanEmails counts emails passing through each pipeline stage.
	// Labels: stage (fetched, filtered, processed)
	ScanEmails = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billdrop",
			Subsystem: "scan",
			Name:      "emails_total",
			Help:      "Total number of emails per pipeline stage",
		},
		[]string{"stage"},
	)

	// Extractions counts extraction attempts.
	// Labels: stage (ai_batch, ai_single, regex, cache), result (hit, miss, error)
	Extractions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billdrop",
			Subsystem: "extraction",
			Name:      "total",
			Help:      "Total number of extraction attempts by stage and result",
		},
		[]string{"stage", "result"},
	)

	// ExtractionDuration tracks how long each extraction stage takes.
	ExtractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "billdrop",
			Subsystem: "extraction",
			Name:      "duration_seconds",
			Help:      "Duration of extraction stages in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// LLMRequests counts text-generation calls.
	// Labels: provider, result (success, retryable, error)
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billdrop",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total number of text-generation requests",
		},
		[]string{"provider", "result"},
	)

	// Candidates counts reconciliation decisions.
	// Labels: decision (create, skip_duplicate, skip_zero_amount)
	Candidates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billdrop",
			Name:      "candidates_total",
			Help:      "Total number of parsed candidates by reconciliation decision",
		},
		[]string{"decision"},
	)

	// IngestedMessages counts messages accepted by the SMTP forwarding inbox.
	// Labels: result (accepted, rejected)
	IngestedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billdrop",
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Total number of forwarded messages received",
		},
		[]string{"result"},
	)
)
