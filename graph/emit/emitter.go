package emit

// Emitter receives and processes observability events from dialogue execution.
//
// Emitters enable pluggable observability backends:
//   - Logging: stdout, files, syslog
//   - Distributed tracing: OpenTelemetry
//   - Nothing at all: NullEmitter
//
// Implementations should be:
//   - Non-blocking: avoid slowing down turn processing
//   - Thread-safe: turns for different users run concurrently
//   - Resilient: a failing backend must not crash a turn
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	//
	// Emit must not panic and must not block turn processing; errors are
	// handled internally by the implementation.
	Emit(event Event)
}
