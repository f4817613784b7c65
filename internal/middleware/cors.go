package middleware

import "net/http"

// corsHeaders returns the header set attached to every response.
func corsHeaders(allowOrigin string) map[string]string {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return map[string]string{
		"Access-Control-Allow-Origin":  allowOrigin,
		"Access-Control-Allow-Methods": "GET, POST, PUT, DELETE, OPTIONS",
		"Access-Control-Allow-Headers": "Content-Type, Authorization",
		"Access-Control-Max-Age":       "86400",
	}
}

// CORS attaches the same CORS headers to every response and answers any
// OPTIONS request with 204 before routing.
func CORS(allowOrigin string) func(http.Handler) http.Handler {
	headers := corsHeaders(allowOrigin)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for k, v := range headers {
				w.Header().Set(k, v)
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
