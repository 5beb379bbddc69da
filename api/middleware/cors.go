package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS applies the browser origin policy. Replay and throttling headers are
// exposed so web clients can react to them.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", idempotencyHeader, requestIDHeader},
		ExposedHeaders: []string{requestIDHeader, replayHeader, "Retry-After"},
		// Bearer tokens only; cookies are never read.
		AllowCredentials: false,
		MaxAge:           600,
	})
}
