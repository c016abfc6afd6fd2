package api

import (
	"crypto/subtle"
	"net/http"

	"log/slog"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
)

const apiKeyHeader = "X-API-Key"

// NewAPIKeyMiddleware guards the write endpoints with a shared API key.
// The comparison is constant time so the key cannot be probed byte by byte.
func NewAPIKeyMiddleware(apiKey string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				logger.Error("request rejected: no API key configured")
				response.WriteJSONError(w, http.StatusInternalServerError, "API key not configured")
				return
			}

			provided := r.Header.Get(apiKeyHeader)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				logger.Warn("Authentication failed: Invalid API key", "remote_addr", r.RemoteAddr)
				response.WriteJSONError(w, http.StatusForbidden, "Forbidden: Invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
