package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"threatmesh/internal/metrics"
	"threatmesh/pkg/logger"
)

// Logger returns a middleware that logs every request and feeds the
// request counter. The metric is labelled by the matched chi route
// pattern rather than the raw path so indicator values in URLs do not
// explode the label cardinality.
func Logger(log *logger.Logger, m *metrics.Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				route := chi.RouteContext(r.Context()).RoutePattern()
				if route == "" {
					route = "unmatched"
				}
				if m != nil {
					m.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
				}
				log.Info().
					Str("method", r.Method).
					Str("route", route).
					Str("path", r.URL.Path).
					Str("remote_addr", r.RemoteAddr).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}
