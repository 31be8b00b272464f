// Package metrics exposes Prometheus instrumentation for the validation
// pipeline. Collectors are registered at init via promauto; the serve
// command mounts the scrape endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workflowsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "validation",
		Subsystem: "workflow",
		Name:      "started_total",
		Help:      "Total validation workflows started",
	})

	workflowsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validation",
		Subsystem: "workflow",
		Name:      "completed_total",
		Help:      "Total workflows reaching a terminal status",
	}, []string{"status"})

	iterationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "validation",
		Subsystem: "workflow",
		Name:      "iteration_duration_seconds",
		Help:      "Wall time per scoring iteration",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	nodeConfidence = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "validation",
		Subsystem: "scoring",
		Name:      "node_confidence",
		Help:      "Distribution of per-node weighted confidence scores",
		Buckets:   []float64{40, 50, 60, 70, 75, 80, 85, 90, 95, 100},
	}, []string{"node_type"})

	nodesRescored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validation",
		Subsystem: "scoring",
		Name:      "nodes_total",
		Help:      "Nodes scored, by whether the score was computed or carried",
	}, []string{"mode"})

	disagreements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validation",
		Subsystem: "disagreement",
		Name:      "detected_total",
		Help:      "Disagreements detected by trigger type",
	}, []string{"type"})

	escalations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "validation",
		Subsystem: "disagreement",
		Name:      "escalations_total",
		Help:      "Disagreements escalated to human review",
	})

	learningEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "validation",
		Subsystem: "learning",
		Name:      "events_total",
		Help:      "Learning events recorded by type",
	}, []string{"type"})

	insightsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "validation",
		Subsystem: "learning",
		Name:      "insights_total",
		Help:      "Insights emitted by batch processing",
	})

	externalCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "validation",
		Subsystem: "external",
		Name:      "call_duration_seconds",
		Help:      "Latency of generation and evaluation service calls",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"service", "status"})

	reviewPushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "validation",
		Subsystem: "review",
		Name:      "push_failures_total",
		Help:      "Review-queue deliveries that failed and entered the DLQ",
	})
)

// RecordWorkflowStarted counts a new workflow.
func RecordWorkflowStarted() {
	workflowsStarted.Inc()
}

// RecordWorkflowCompleted counts a terminal transition.
func RecordWorkflowCompleted(status string) {
	workflowsCompleted.WithLabelValues(status).Inc()
}

// RecordIterationDuration records one iteration's wall time in seconds.
func RecordIterationDuration(seconds float64) {
	iterationDuration.Observe(seconds)
}

// RecordNodeConfidence records a node's weighted confidence score.
func RecordNodeConfidence(nodeType string, confidence float64) {
	nodeConfidence.WithLabelValues(nodeType).Observe(confidence)
}

// RecordNodesScored counts rescored vs carried nodes for an iteration.
func RecordNodesScored(rescored, carried int) {
	nodesRescored.WithLabelValues("rescored").Add(float64(rescored))
	nodesRescored.WithLabelValues("carried").Add(float64(carried))
}

// RecordDisagreement counts a detected disagreement.
func RecordDisagreement(triggerType string) {
	disagreements.WithLabelValues(triggerType).Inc()
}

// RecordEscalation counts an escalation to human review.
func RecordEscalation() {
	escalations.Inc()
}

// RecordLearningEvent counts a recorded learning event.
func RecordLearningEvent(eventType string) {
	learningEvents.WithLabelValues(eventType).Inc()
}

// RecordInsights counts insights from a learning batch.
func RecordInsights(n int) {
	insightsGenerated.Add(float64(n))
}

// RecordExternalCall records one generation or evaluation call.
func RecordExternalCall(service string, seconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	externalCallDuration.WithLabelValues(service, status).Observe(seconds)
}

// RecordReviewPushFailure counts a failed review-queue delivery.
func RecordReviewPushFailure() {
	reviewPushFailures.Inc()
}
