package middleware

import "net/http"

// MaxBodySize caps the request body at n bytes. Reads past the cap fail
// with *http.MaxBytesError, which the handler maps to 413.
func MaxBodySize(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
