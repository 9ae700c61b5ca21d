package images

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pixelmuse/pixelmuse/core"
	"github.com/pixelmuse/pixelmuse/imagegen"
	"github.com/pixelmuse/pixelmuse/pkg/jwt"
)

// TokenParser validates a bearer token and unmarshals its claims.
// Satisfied by *jwt.Service.
type TokenParser interface {
	Parse(token string, claims any) error
}

type contextKey struct{ name string }

var identityKey = contextKey{"identity"}

// IdentityFromContext returns the authenticated caller set by Middleware.
func IdentityFromContext(ctx context.Context) (imagegen.Identity, bool) {
	id, ok := ctx.Value(identityKey).(imagegen.Identity)
	return id, ok
}

// Middleware authenticates the request and injects the caller identity.
// Auth is consumed only as "account id + email"; everything else about
// session management belongs to the auth collaborator.
func Middleware(parser TokenParser) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				core.Render(w, r, core.JSONError(core.ErrUnauthorized))
				return
			}

			var claims jwt.StandardClaims
			if err := parser.Parse(token, &claims); err != nil {
				core.Render(w, r, core.JSONError(core.ErrUnauthorized))
				return
			}

			accountID, err := uuid.Parse(claims.Subject)
			if err != nil || claims.Email == "" {
				core.Render(w, r, core.JSONError(core.ErrUnauthorized))
				return
			}

			identity := imagegen.Identity{AccountID: accountID, Email: claims.Email}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}
