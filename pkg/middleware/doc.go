// Package middleware provides the net/http middleware the syncpage stack is
// assembled from.
//
// # Observability
//
// Metrics collects Prometheus request, route match, bundle and websocket
// metrics on its own registry:
//
//	m := middleware.NewMetrics(middleware.WithNamespace("syncpage"))
//	r.Use(m.Middleware)
//	r.Handle("/metrics", m.Handler())
//
// Tracing starts an OpenTelemetry server span per request. Handlers add the
// matched app with SetMatchAttributes:
//
//	r.Use(middleware.Tracing(middleware.WithTracerProvider(tp)))
//
// # Request stack
//
// ForceHTTPS, Cookies, ParseBody, MethodOverride and RequestLogger are small
// single-purpose middlewares. Their order is fixed by the caller: cookie
// parsing precedes the session, body parsing precedes method override.
package middleware
