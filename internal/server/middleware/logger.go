package middleware

import (
	"log/slog"
	"net/http"
)

// NewRequestLogger creates a middleware that logs each handshake attempt.
func NewRequestLogger(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			var ip string
			if ok {
				ip = reqMeta.IP
			}

			logger.Info("incoming handshake",
				slog.String("method", r.Method),
				slog.String("uri", r.RequestURI),
				slog.String("ip", ip),
			)
			next.ServeHTTP(w, r)
		})
	}
}
