// Package observability provides logging, metrics, and tracing
// functionality for the proxy.
//
// # Logging
//
// The Logger interface provides structured logging backed by zap:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("request forwarded",
//	    observability.Rule("^/a/(.*)$"),
//	    observability.Target("/b/x"),
//	    observability.Int("status", 200),
//	)
//
// # Metrics
//
// Metrics owns the Prometheus registry served on /metrics. Other
// packages register their collectors with Registry().
//
// # Tracing
//
// Tracer configures the OpenTelemetry provider with an OTLP gRPC
// exporter; when disabled the global no-op provider is used. The
// inbound span is named after the rule that served the request and
// carries it as the avaproxy.rule attribute.
package observability
