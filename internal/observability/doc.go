// Package observability provides monitoring and debugging capabilities for
// the Rapport engine through metrics, structured logging, and distributed
// tracing.
//
// # Overview
//
// The package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//
// # Metrics
//
// Metrics track turn throughput, model request latency and token usage,
// tool invocation performance, context injection, memory store behavior,
// relationship status distribution, and error rates by component:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordTurn("human_ai_private", "completed", time.Since(start).Seconds())
//	metrics.RecordModelRequest("anthropic", model, "success", dur, promptTokens, completionTokens)
//	metrics.RecordToolInvocation("calculator", "completed", dur)
//
// # Logging
//
// Logging is built on Go's slog package with automatic correlation of
// session, turn, participant, and tool identifiers from context, plus
// redaction of API keys, tokens, and passwords:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	ctx = observability.WithSessionID(ctx, session.ID)
//	ctx = observability.WithTurnID(ctx, turn.ID)
//	logger.Info(ctx, "turn completed", "tool_calls", len(turn.Invocations))
//
// # Tracing
//
// Tracing uses OpenTelemetry with an OTLP gRPC exporter. Without an
// endpoint configured the tracer is a no-op:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "rapport",
//	    Endpoint:    os.Getenv("OTEL_ENDPOINT"),
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceTurn(ctx, kind, sessionID)
//	defer span.End()
//
// Useful dashboard queries:
//
//	# Turn throughput
//	rate(rapport_turns_total[5m])
//
//	# Model request latency (95th percentile)
//	histogram_quantile(0.95, rate(rapport_model_request_duration_seconds_bucket[5m]))
//
//	# Error rate by component
//	rate(rapport_errors_total[5m])
package observability
