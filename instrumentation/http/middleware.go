package http

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewMiddleware wraps handler in an OpenTelemetry server span named after
// operation. Anything handler puts on the span, such as the profile
// attributes, ends up on that span.
func NewMiddleware(handler http.Handler, operation string, opts ...otelhttp.Option) http.Handler {
	return otelhttp.NewHandler(handler, operation, opts...)
}
