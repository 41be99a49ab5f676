package main

import (
	"net/http"

	"github.com/vyrodovalexey/avaproxy/internal/middleware"
	"github.com/vyrodovalexey/avaproxy/internal/observability"
)

// newRootHandler serves the rules resource at adminPath and hands every
// other request to the routing table. Paths are matched verbatim; a
// ServeMux would clean and redirect them before the rules see them.
func newRootHandler(adminPath string, resource, routes http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == adminPath {
			observability.AnnotateRule(r.Context(), "admin")
			resource.ServeHTTP(w, r)
			return
		}
		routes.ServeHTTP(w, r)
	})
}

// buildMiddlewareChain builds the middleware chain. The last wrapper
// runs first.
func buildMiddlewareChain(
	handler http.Handler,
	logger observability.Logger,
	metrics *observability.Metrics,
	tracer *observability.Tracer,
) http.Handler {
	h := handler

	h = observability.MetricsMiddleware(metrics)(h)
	h = observability.TracingMiddleware(tracer)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.RequestID()(h)
	h = middleware.Recovery(logger)(h)

	return h
}
