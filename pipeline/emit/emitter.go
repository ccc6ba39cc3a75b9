// Package emit provides pluggable observability for pipeline execution.
package emit

// Emitter receives and processes observability events from pipeline execution.
//
// Emitters enable pluggable observability backends:
//   - Logging: stdout, files, syslog
//   - Distributed tracing: OpenTelemetry
//   - In-memory capture for tests and dashboards
//
// Implementations should be:
//   - Non-blocking: avoid slowing down pipeline execution
//   - Thread-safe: may be shared between a runner and its caller
//   - Resilient: handle backend failures without crashing the run
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	//
	// Emit should not panic and should not block pipeline execution.
	// Errors must be handled internally (logged, buffered, or dropped).
	Emit(event Event)
}
