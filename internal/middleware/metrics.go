package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/algorand-firewall-service/internal/metrics"
)

// RequestMetrics records a duration observation per request, labelled by the
// matched route pattern, response status, and the caller's tier. It is meant
// to sit outermost so the timer covers the whole middleware chain.
func RequestMetrics(reg *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			// The route context is populated during routing, so the pattern
			// is only readable once the inner handler has run.
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			tier := rec.Header().Get("X-RateLimit-Tier")
			if tier == "" {
				tier = "public"
			}
			reg.ObserveRequest(route, rec.status, tier, time.Since(start))
		})
	}
}
