package middleware

import (
	"net/http"
	"time"
)

// RequestObserver records completed API requests.
type RequestObserver interface {
	ObserveRequest(route, method string, status int, elapsed time.Duration)
}

// Metrics reports every request to obs, labelled by the ServeMux pattern that
// matched it. Requests that matched no route are reported as "unmatched" so
// arbitrary paths cannot grow the label set.
func Metrics(obs RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			obs.ObserveRequest(route, r.Method, rw.statusCode, time.Since(start))
		})
	}
}
