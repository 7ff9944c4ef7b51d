package otel

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// untracedPaths are polled by probes and observers and would drown real
// traffic in traces.
var untracedPaths = []string{"/health", "/ws"}

// HTTPMiddleware wraps handlers with a server span per request. Spans are
// named "METHOD /path" so task and worker routes are told apart.
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithFilter(traced),
			otelhttp.WithSpanNameFormatter(spanName),
		)
	}
}

func traced(r *http.Request) bool {
	for _, p := range untracedPaths {
		if r.URL.Path == p {
			return false
		}
	}
	return true
}

// fixedSegments are literal route segments that share a position with ids.
var fixedSegments = map[string]bool{"stats": true, "active": true, "top": true}

// spanName collapses ids under /api/v1 so span names stay low-cardinality.
// Routing has not happened yet when the span starts, so the chi pattern is
// not available.
func spanName(_ string, r *http.Request) string {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) > 3 && parts[0] == "api" && !fixedSegments[parts[3]] {
		parts[3] = "{id}"
		parts = parts[:min(len(parts), 5)]
	}
	return r.Method + " /" + strings.Join(parts, "/")
}
