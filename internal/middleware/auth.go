package middleware

import (
	"crypto/subtle"
	"net/http"

	"stockhold-api/pkg/apierror"
)

// NewAPIKeyMiddleware guards administrative routes with a static API key
// from configuration. The checkout-facing endpoints stay open: callers are
// other internal services and authentication is their concern.
// No global state - the key is passed via closure.
func NewAPIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				// No key configured: admin surface is open (development).
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-API-Key")
			if provided == "" {
				writeError(w, apierror.Unauthorized("X-API-Key header required"))
				return
			}

			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				writeError(w, apierror.Unauthorized("Invalid API key"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeError writes an API error response.
func writeError(w http.ResponseWriter, err *apierror.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	w.Write(err.ToJSON())
}
