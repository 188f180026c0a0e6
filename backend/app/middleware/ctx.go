package middleware

import (
	"context"

	jwtutil "shaka-fleet/backend/app/jwt"
)

type ctxKey int

const ClaimsKey ctxKey = 1

func withClaims(ctx context.Context, c *jwtutil.Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, c)
}

// GetClaims returns the operator behind the request, or nil on public routes.
func GetClaims(ctx context.Context) *jwtutil.Claims {
	c, _ := ctx.Value(ClaimsKey).(*jwtutil.Claims)
	return c
}
