package observability

import "sync"

// Metrics registers its counters/histograms/gauges against the process-wide
// default Prometheus registry, so every call site that wants metrics (the
// Agent Registry's dispatch loop, the Sandbox Executor's exec backends, the
// Compactor's caller) must share one instance rather than each constructing
// its own and panicking on duplicate registration. DefaultMetrics and
// DefaultTracer are that shared instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once

	defaultTracer     *Tracer
	defaultTracerOnce sync.Once
)

// DefaultMetrics returns the process-wide Metrics instance, constructing it
// on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// DefaultTracer returns the process-wide no-op-unless-configured Tracer.
// Its TraceConfig carries no OTLP Endpoint, so Start/StartSpan calls are
// cheap local spans recorded against the global otel TracerProvider rather
// than exported anywhere — callers that need a real collector endpoint
// should construct their own Tracer via NewTracer instead.
func DefaultTracer() *Tracer {
	defaultTracerOnce.Do(func() {
		defaultTracer, _ = NewTracer(TraceConfig{ServiceName: "mozi"})
	})
	return defaultTracer
}
