package middleware

import (
	"context"
	"net"
	"net/http"

	"github.com/daneralejandro03/geolocation-backend/internal/identity"
)

type contextKey string

const reqMetaKey = contextKey("r-metadata")

// RequestMetadata accumulates per-handshake facts as the request moves down
// the chain. The auth middleware fills in Identity; everything after it may
// rely on Authenticated being true.
type RequestMetadata struct {
	IP            string
	Identity      identity.Identity
	Authenticated bool
}

func ReqMetadataFrom(ctx context.Context) (*RequestMetadata, bool) {
	reqMeta, ok := ctx.Value(reqMetaKey).(*RequestMetadata)
	return reqMeta, ok
}

// RequestMetadataMiddleware creates and injects the RequestMetadata struct.
// It must be the first middleware in the chain.
func RequestMetadataMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta := &RequestMetadata{}

			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			reqMeta.IP = ip
			ctx := context.WithValue(r.Context(), reqMetaKey, reqMeta)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
