package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/daneralejandro03/geolocation-backend/internal/identity"
)

// Claims is the JWT claim set issued at login. Only the registered subject is
// trusted here; name and role are re-read from the directory so a stale token
// cannot carry a revoked role onto a connection.
type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// NewAuthMiddleware gates every handshake: it extracts the bearer token,
// verifies its signature and expiry, resolves the subject against the
// directory, and stores the resulting identity in the request metadata. It
// runs exactly once per connection attempt, before the WebSocket upgrade, so
// a rejected attempt never completes the upgrade and never reaches the
// registry.
func NewAuthMiddleware(logger *slog.Logger, jwtSecret string, directory identity.Directory) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			tokenString, ok := bearerToken(r)
			if !ok {
				logger.Warn("handshake missing bearer credential", slog.String("ip", reqMeta.IP))
				http.Error(w, "Missing credential", http.StatusUnauthorized)
				return
			}

			token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				logger.Warn("invalid credential presented",
					slog.String("ip", reqMeta.IP), slog.Any("error", err))
				http.Error(w, "Invalid credential", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(*Claims)
			if !ok || claims.Subject == "" {
				logger.Warn("valid token missing subject claim", slog.String("ip", reqMeta.IP))
				http.Error(w, "Invalid credential", http.StatusUnauthorized)
				return
			}
			subject, err := strconv.ParseInt(claims.Subject, 10, 64)
			if err != nil {
				logger.Warn("token subject is not an identity id",
					slog.String("ip", reqMeta.IP), slog.String("sub", claims.Subject))
				http.Error(w, "Invalid credential", http.StatusUnauthorized)
				return
			}

			ident, err := directory.Resolve(r.Context(), subject)
			if err != nil {
				if errors.Is(err, identity.ErrUnknownIdentity) {
					logger.Warn("token subject has no directory record",
						slog.String("ip", reqMeta.IP), slog.Int64("sub", subject))
					http.Error(w, "Unknown identity", http.StatusUnauthorized)
					return
				}
				logger.Error("identity resolution failed",
					slog.String("ip", reqMeta.IP), slog.Any("error", err))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			reqMeta.Identity = ident
			reqMeta.Authenticated = true
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}
