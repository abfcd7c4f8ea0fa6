package observe

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/book-expert/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/book-expert/speaker-service"

// unmatchedRoute labels requests no mux pattern claimed, keeping the path
// label bounded.
const unmatchedRoute = "unmatched"

// StartSpan starts a span on the global tracer. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// CorrelationID returns the trace id of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// statusRecorder captures the status code written by the downstream handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses (the media route) working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware starts a server span per request, sets X-Correlation-ID from
// the trace id, records [Metrics.HTTPRequestDuration] and logs completion.
// The duration's path label is the matched ServeMux pattern, so next should be
// the mux itself. log may be nil.
func Middleware(m *Metrics, log *logger.Logger) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}

			r = r.WithContext(ctx)
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rec, r)

			// ServeMux fills in Pattern on the request it routed.
			route := r.Pattern
			if route == "" {
				route = unmatchedRoute
			} else {
				span.SetAttributes(semconv.HTTPRoute(route))
			}

			duration := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", route),
					attribute.String("status", strconv.Itoa(rec.statusCode)),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))

			if log != nil {
				log.Info("%s %s -> %d in %s (trace %s)", r.Method, r.URL.Path, rec.statusCode, duration, cid)
			}
		})
	}
}
