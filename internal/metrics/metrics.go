package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics exposed on /metrics
var (
	// Periodic task metrics
	TaskRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labsage_task_runs_total",
			Help: "Total number of periodic task cycles by outcome",
		},
		[]string{"task", "outcome"}, // outcome: success/error/skipped
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "labsage_task_duration_seconds",
			Help:    "Periodic task cycle duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"task"},
	)

	// Fact metrics
	FactsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labsage_facts_written_total",
			Help: "Total number of facts appended",
		},
		[]string{"fact_type"},
	)

	RecordsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labsage_records_dropped_total",
			Help: "Adapter records dropped by the normalizer",
		},
		[]string{"adapter"},
	)

	// Incident metrics
	IncidentsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labsage_incidents_created_total",
			Help: "Total number of incidents created",
		},
		[]string{"rule", "severity"},
	)

	IncidentsDeduplicatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labsage_incidents_deduplicated_total",
			Help: "Rule findings skipped because an unresolved incident already covers the resource",
		},
		[]string{"rule"},
	)

	NarrativesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labsage_narratives_total",
			Help: "Narratives generated, by whether the AI or the fallback produced them",
		},
		[]string{"source"}, // ai/fallback
	)

	// Log metrics
	LogLinesIngestedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "labsage_log_lines_ingested_total",
			Help: "Total number of log lines stored",
		},
	)

	ErrorSignaturesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labsage_error_signatures_total",
			Help: "Error signatures detected in ingested logs",
		},
		[]string{"signature"},
	)

	SummariesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labsage_summaries_total",
			Help: "Daily log summaries by outcome",
		},
		[]string{"outcome"}, // created/failed/skipped/retried
	)

	LogsPurgedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labsage_rows_purged_total",
			Help: "Rows deleted by the retention purge",
		},
		[]string{"table"},
	)

	// LLM metrics
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labsage_llm_requests_total",
			Help: "Total number of Ollama API requests",
		},
		[]string{"call_type", "status"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "labsage_llm_request_duration_seconds",
			Help:    "Ollama request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3min
		},
		[]string{"call_type"},
	)

	// Memory metrics
	MemoryOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labsage_memory_operations_total",
			Help: "Vector memory reads and writes by outcome",
		},
		[]string{"operation", "outcome"}, // operation: store/search
	)
)
