package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting engine metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Turn throughput and latency by dialogue kind
//   - Model request performance and token consumption
//   - Tool invocation patterns and latencies
//   - Context injection and memory store behavior
//   - Relationship status distribution and scheduled task flow
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordTurn("human_ai_private", "completed", time.Since(start).Seconds())
type Metrics struct {
	// TurnCounter counts processed turns.
	// Labels: kind (dialogue kind), status (completed|failed)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures end-to-end turn latency in seconds.
	// Labels: kind
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	TurnDuration *prometheus.HistogramVec

	// ModelRequestCounter counts model requests.
	// Labels: provider (anthropic|openai|gemini|ollama), model, status (success|error)
	ModelRequestCounter *prometheus.CounterVec

	// ModelRequestDuration measures model call latency in seconds.
	// Labels: provider, model
	ModelRequestDuration *prometheus.HistogramVec

	// ModelTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	ModelTokensUsed *prometheus.CounterVec

	// ToolInvocationCounter counts tool invocations.
	// Labels: tool, status (completed|failed|cancelled)
	ToolInvocationCounter *prometheus.CounterVec

	// ToolInvocationDuration measures tool execution time in seconds.
	// Labels: tool
	ToolInvocationDuration *prometheus.HistogramVec

	// ContextInjectionCounter counts context injections by context kind.
	// Labels: kind (time|weather|focus|summary|knowledge|dialogue|general)
	ContextInjectionCounter *prometheus.CounterVec

	// MemoryItems is a gauge of items held per memory store.
	// Labels: store
	MemoryItems *prometheus.GaugeVec

	// MemoryEvictions counts capacity evictions per memory store.
	// Labels: store
	MemoryEvictions *prometheus.CounterVec

	// MemoryQueryDuration measures memory retrieval latency in seconds.
	// Labels: mode (vector|substring)
	MemoryQueryDuration *prometheus.HistogramVec

	// RelationshipStatus is a gauge of relationships per lifecycle status.
	// Labels: status (active|cooling|silent|broken)
	RelationshipStatus *prometheus.GaugeVec

	// TaskCounter counts relationship task transitions.
	// Labels: template, status
	TaskCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error kind.
	// Labels: component (dialogue|memory|tools|relationship|llm|storage), kind
	ErrorCounter *prometheus.CounterVec

	// ActiveSessions is a gauge tracking sessions with in-flight turns.
	// Labels: kind
	ActiveSessions *prometheus.GaugeVec

	// StorageQueryDuration measures persistence operation latency in seconds.
	// Labels: operation (get|put|delete|list), entity
	StorageQueryDuration *prometheus.HistogramVec

	// StorageQueryCounter counts persistence operations.
	// Labels: operation, entity, status (success|error)
	StorageQueryCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the default
// registry. Call once at startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics with the provided registerer. Tests
// hand in a fresh registry to avoid duplicate registration panics.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapport_turns_total",
				Help: "Total number of turns processed by dialogue kind and status",
			},
			[]string{"kind", "status"},
		),

		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rapport_turn_duration_seconds",
				Help:    "End-to-end turn latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),

		ModelRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapport_model_requests_total",
				Help: "Total number of model requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ModelRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rapport_model_request_duration_seconds",
				Help:    "Duration of model requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ModelTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapport_model_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolInvocationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapport_tool_invocations_total",
				Help: "Total number of tool invocations by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolInvocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rapport_tool_invocation_duration_seconds",
				Help:    "Duration of tool invocations in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		ContextInjectionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapport_context_injections_total",
				Help: "Total number of context fragments injected by kind",
			},
			[]string{"kind"},
		),

		MemoryItems: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rapport_memory_items",
				Help: "Current number of items held per memory store",
			},
			[]string{"store"},
		),

		MemoryEvictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapport_memory_evictions_total",
				Help: "Total number of capacity evictions per memory store",
			},
			[]string{"store"},
		),

		MemoryQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rapport_memory_query_duration_seconds",
				Help:    "Duration of memory retrieval in seconds by mode",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"mode"},
		),

		RelationshipStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rapport_relationships",
				Help: "Current number of relationships per lifecycle status",
			},
			[]string{"status"},
		),

		TaskCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapport_relationship_tasks_total",
				Help: "Total number of relationship task transitions by template and status",
			},
			[]string{"template", "status"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapport_errors_total",
				Help: "Total number of errors by component and error kind",
			},
			[]string{"component", "kind"},
		),

		ActiveSessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rapport_active_sessions",
				Help: "Current number of sessions with in-flight turns by dialogue kind",
			},
			[]string{"kind"},
		),

		StorageQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rapport_storage_query_duration_seconds",
				Help:    "Duration of persistence operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "entity"},
		),

		StorageQueryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapport_storage_queries_total",
				Help: "Total number of persistence operations",
			},
			[]string{"operation", "entity", "status"},
		),
	}
}

// RecordTurn records a completed or failed turn.
func (m *Metrics) RecordTurn(kind, status string, durationSeconds float64) {
	m.TurnCounter.WithLabelValues(kind, status).Inc()
	m.TurnDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordModelRequest records latency, outcome, and token usage for one model call.
func (m *Metrics) RecordModelRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.ModelRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ModelRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.ModelTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.ModelTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolInvocation records one tool invocation outcome.
func (m *Metrics) RecordToolInvocation(tool, status string, durationSeconds float64) {
	m.ToolInvocationCounter.WithLabelValues(tool, status).Inc()
	m.ToolInvocationDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordContextInjection counts one injected context fragment.
func (m *Metrics) RecordContextInjection(kind string) {
	m.ContextInjectionCounter.WithLabelValues(kind).Inc()
}

// RecordMemoryQuery records retrieval latency for a memory lookup.
func (m *Metrics) RecordMemoryQuery(mode string, durationSeconds float64) {
	m.MemoryQueryDuration.WithLabelValues(mode).Observe(durationSeconds)
}

// MemoryEvicted counts a capacity eviction and updates the item gauge.
func (m *Metrics) MemoryEvicted(store string, remaining int) {
	m.MemoryEvictions.WithLabelValues(store).Inc()
	m.MemoryItems.WithLabelValues(store).Set(float64(remaining))
}

// SetMemoryItems updates the item gauge for a store.
func (m *Metrics) SetMemoryItems(store string, count int) {
	m.MemoryItems.WithLabelValues(store).Set(float64(count))
}

// RecordError increments the error counter for a component and error kind.
func (m *Metrics) RecordError(component, kind string) {
	m.ErrorCounter.WithLabelValues(component, kind).Inc()
}

// SessionStarted increments the active sessions gauge.
func (m *Metrics) SessionStarted(kind string) {
	m.ActiveSessions.WithLabelValues(kind).Inc()
}

// SessionEnded decrements the active sessions gauge.
func (m *Metrics) SessionEnded(kind string) {
	m.ActiveSessions.WithLabelValues(kind).Dec()
}

// RecordTask counts a relationship task transition.
func (m *Metrics) RecordTask(template, status string) {
	m.TaskCounter.WithLabelValues(template, status).Inc()
}

// SetRelationshipStatus updates the relationship status gauge.
func (m *Metrics) SetRelationshipStatus(status string, count int) {
	m.RelationshipStatus.WithLabelValues(status).Set(float64(count))
}

// RecordStorageQuery records one persistence operation.
func (m *Metrics) RecordStorageQuery(operation, entity, status string, durationSeconds float64) {
	m.StorageQueryCounter.WithLabelValues(operation, entity, status).Inc()
	m.StorageQueryDuration.WithLabelValues(operation, entity).Observe(durationSeconds)
}
