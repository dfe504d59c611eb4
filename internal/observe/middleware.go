package observe

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// responseWriter captures the status code written by the downstream handler.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RoutePattern collapses a request path onto the server's route templates so
// that user IDs never become span names or metric label values. Paths that
// match no known route share a single "unmatched" bucket.
func RoutePattern(path string) string {
	switch path {
	case "/ws", "/metrics", "/healthz", "/readyz", "/api/practice/prompt":
		return path
	}
	if rest, ok := strings.CutPrefix(path, "/api/users/"); ok {
		switch {
		case strings.HasSuffix(rest, "/sessions"):
			return "/api/users/{id}/sessions"
		case strings.HasSuffix(rest, "/progress"):
			return "/api/users/{id}/progress"
		}
	}
	return "unmatched"
}

// Middleware instruments an HTTP handler with tracing, request metrics and a
// completion log line. Incoming W3C trace context is honoured, and the trace
// ID is echoed back in the X-Correlation-ID header so clients can quote it in
// bug reports.
//
// Durations are recorded per route template, not per raw path. Note that for
// /ws the recorded duration spans the entire websocket session, from dial to
// disconnect.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := RoutePattern(r.URL.Path)

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rec := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			duration := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", route),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.status))

			// Scrape and probe traffic would swamp the request log at info.
			level := slog.LevelInfo
			switch route {
			case "/metrics", "/healthz", "/readyz":
				level = slog.LevelDebug
			}
			slog.LogAttrs(ctx, level, "request completed",
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", duration),
			)
		})
	}
}
