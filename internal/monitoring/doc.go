// Package monitoring provides the request lifecycle metric hooks that
// forwarders call around every routed exchange.
//
// A Handler hands out a Token at StartTracking and consumes it at
// StopTracking. The Prometheus implementation keeps, per metric name, a
// request counter, a duration histogram and an in-flight gauge:
//
//	mon := monitoring.NewPrometheusHandler(monitoring.WithRegisterer(metrics.Registry()))
//	token := mon.StartTracking(rule.MetricLabel(), r.RequestURI)
//	defer mon.StopTracking(rule.MetricLabel(), token, r.RequestURI)
package monitoring
