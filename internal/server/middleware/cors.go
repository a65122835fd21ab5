package middleware

import (
	"net/http"
	"slices"
	"strings"
)

// CORS returns middleware that lets browser dashboards on allowedOrigins
// read the feed. The API is read-only, so only GET and OPTIONS are
// advertised. An empty list or a "*" entry allows every origin. Preflights
// are answered here and never reach the handlers.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	anyOrigin := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")
	allowed := func(origin string) bool {
		return anyOrigin || slices.ContainsFunc(allowedOrigins, func(o string) bool {
			return strings.EqualFold(o, origin)
		})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")
			if origin := r.Header.Get("Origin"); origin != "" && allowed(origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, X-API-Key")
				h.Set("Access-Control-Max-Age", "86400")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
