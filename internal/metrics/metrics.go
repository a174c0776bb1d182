// Package metrics declares the Prometheus collectors shared across services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PublishSuccess counts bus-confirmed publishes by source.
	PublishSuccess = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "publish_success_total",
		Help:      "Bus-confirmed event publishes by source.",
	}, []string{"source"})

	// PublishFailure counts failed publish attempts by source.
	PublishFailure = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "publish_failure_total",
		Help:      "Failed publish attempts by source.",
	}, []string{"source"})

	// PublishRetries counts publish retry attempts by source.
	PublishRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "publish_retry_attempts_total",
		Help:      "Publish retry attempts by source.",
	}, []string{"source"})

	// DeadLettered counts events routed to the dead-letter topic by source.
	DeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "dead_letter_total",
		Help:      "Events routed to the dead-letter topic by source.",
	}, []string{"source"})

	// DedupeHits counts records skipped because the dedup store had seen them.
	DedupeHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "dedupe_hits_total",
		Help:      "Records skipped due to deduplication by source.",
	}, []string{"source"})

	// PublishByRiskFactor slices publishes by individual risk factor tags.
	PublishByRiskFactor = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "publish_by_risk_factor_total",
		Help:      "Publishes labelled by individual risk_factor entries.",
	}, []string{"source", "risk_factor"})

	// EventsConsumed counts events read by the trainer consumer.
	EventsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "trainer_consumed_total",
		Help:      "Events consumed by the trainer.",
	})

	// MalformedEvents counts undecodable bus payloads (dropped, acked).
	MalformedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "trainer_malformed_total",
		Help:      "Undecodable bus payloads dropped by the trainer.",
	})

	// CorrelationMisses counts outcomes with no matching pending entry.
	CorrelationMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "correlation_miss_total",
		Help:      "Outcome events with no matching pending pre-settlement entry.",
	})

	// GridMismatches counts correlations whose grid_id differs between pre and
	// outcome (possible cross-chain hash collision).
	GridMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "correlation_grid_mismatch_total",
		Help:      "Correlated pairs whose pre and outcome grid_id differ.",
	})

	// ExamplesFlushed counts labeled examples written to the example store.
	ExamplesFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "examples_flushed_total",
		Help:      "Labeled examples flushed to the durable store.",
	})

	// InferenceRequests counts scoring requests.
	InferenceRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "inference_requests_total",
		Help:      "Scoring requests served.",
	})

	// InferenceDuration observes scoring latency.
	InferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Name:      "inference_duration_seconds",
		Help:      "Scoring request duration in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	})

	// InferenceScore observes the distribution of returned risk scores.
	InferenceScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Name:      "inference_score",
		Help:      "Distribution of returned risk scores (0-999).",
		Buckets:   []float64{0, 100, 200, 300, 400, 500, 600, 700, 800, 900, 1000},
	})

	// ModelVersion is a labelled gauge pinned to 1 for the active model.
	ModelVersion = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "model_version_info",
		Help:      "Current model version as a labelled gauge.",
	}, []string{"model_id"})

	// AdmissionDecisions counts gatekeeper terminal states.
	AdmissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "admission_decisions_total",
		Help:      "Gatekeeper terminal decisions by state.",
	}, []string{"state"})
)
