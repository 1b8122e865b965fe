package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

type countingWriter struct {
	http.ResponseWriter
	status int
	n      int
}

func (w *countingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *countingWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.n += n
	return n, err
}

// Middleware measures inflight, total, duration, and response size,
// labeled by method, route pattern, and status.
func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// make sure a route context exists so chi records the matched
		// pattern even when this runs outside a chi router
		if chi.RouteContext(r.Context()) == nil {
			rctx := chi.NewRouteContext()
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
		}

		m.inflight.Inc()
		defer m.inflight.Dec()

		cw := &countingWriter{ResponseWriter: w}
		next.ServeHTTP(cw, r)

		status := cw.status
		if status == 0 {
			// the handler never wrote, net/http sends 200
			status = http.StatusOK
		}

		ctx := r.Context()
		route := routeLabel(ctx)

		m.reqTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.observeDuration(ctx, r.Method, route, time.Since(start).Seconds())
		m.respBytes.WithLabelValues(r.Method, route).Observe(float64(cw.n))
		if status >= 500 {
			m.errorsTotal.WithLabelValues(r.Method, route).Inc()
		}
	})
}

// routeLabel is the chi route pattern, or a fixed fallback. Raw URL
// paths never become label values; localized doc slugs would explode
// the series count.
func routeLabel(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		if pat := rc.RoutePattern(); pat != "" {
			return pat
		}
	}
	return "unmatched"
}

// observeDuration records the latency, attaching the sampled trace id as
// an exemplar when one is present.
func (m *ServerMetrics) observeDuration(ctx context.Context, method, route string, seconds float64) {
	obs := m.reqDur.WithLabelValues(method, route)
	if ex := traceExemplar(ctx); ex != nil {
		if eo, ok := obs.(prometheus.ExemplarObserver); ok {
			eo.ObserveWithExemplar(seconds, ex)
			return
		}
	}
	obs.Observe(seconds)
}

// traceExemplar returns the sampled trace id as exemplar labels, or nil.
func traceExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}
