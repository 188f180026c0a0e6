package middleware

import (
	"context"
	"net/http"
	"strings"

	jwtutil "shaka-fleet/backend/app/jwt"
	"shaka-fleet/backend/app/models"
	"shaka-fleet/backend/global"
)

// SessionStore answers whether a token id is still logged in.
type SessionStore interface {
	Active(ctx context.Context, id string) (bool, error)
}

type Auth struct {
	Signer   *jwtutil.Signer
	Sessions SessionStore // nil disables revocation checks
}

func bearer(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(authz, "Bearer "), true
}

func (a *Auth) authenticate(r *http.Request) (*jwtutil.Claims, bool) {
	token, ok := bearer(r)
	if !ok {
		return nil, false
	}
	claims, err := a.Signer.Parse(token)
	if err != nil || claims.Username == "" {
		return nil, false
	}
	if a.Sessions != nil {
		active, err := a.Sessions.Active(r.Context(), claims.ID)
		if err != nil {
			global.Logger.Warn().Err(err).Msg("session lookup failed")
			return nil, false
		}
		if !active {
			return nil, false
		}
	}
	return claims, true
}

func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := a.authenticate(r)
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := a.authenticate(r)
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if claims.Role != models.RoleAdmin {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}
