// Package observability provides structured logging and metrics for the
// automation engine.
//
// This package implements:
//   - Structured logging with contextual fields (zap-based)
//   - Prometheus-compatible metrics collection
//   - Request ID propagation
//
// Policy decisions, action dispatches and queue depth are instrumented.
package observability
