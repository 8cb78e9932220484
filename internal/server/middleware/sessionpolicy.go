package middleware

import (
	"log/slog"
	"net/http"

	"github.com/daneralejandro03/geolocation-backend/pkg/config"
)

// OnlineChecker reports whether an identity currently has a live connection.
type OnlineChecker func(identityID int64) bool

// NewSessionPolicy enforces the reconnect policy for identities that are
// already connected. In "reject" mode the new handshake is refused; in
// "supersede" mode it proceeds and the upgrade handler closes the displaced
// connection. It must run after the auth middleware.
func NewSessionPolicy(logger *slog.Logger, cfg config.SessionConfig, online OnlineChecker) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok || !reqMeta.Authenticated {
				logger.Error("session policy ran before authentication; check middleware order")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			if cfg.Mode == config.SessionModeReject && online(reqMeta.Identity.ID) {
				logger.Warn("rejecting handshake for already-connected identity",
					slog.Int64("identityID", reqMeta.Identity.ID))
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
