package middleware

import (
	"net/http"
	"strings"
)

// Surfaces a route can belong to. Logged with every request so machine
// traffic can be told apart from console traffic.
const (
	SurfaceDevice = "device"
	SurfaceAdmin  = "admin"
	SurfacePublic = "public"
)

type routeSetter interface {
	SetRoute(pattern, surface string)
}

// SurfaceOf classifies a mux pattern such as "POST /api/heartbeat".
func SurfaceOf(pattern string) string {
	path := pattern
	if _, p, ok := strings.Cut(pattern, " "); ok {
		path = p
	}
	switch {
	case strings.HasPrefix(path, "/admin/"):
		return SurfaceAdmin
	case strings.HasPrefix(path, "/api/"), path == "/ws":
		return SurfaceDevice
	}
	return SurfacePublic
}

// WithRoute labels the response with its pattern and surface for the request log.
func WithRoute(pattern string, next http.Handler) http.Handler {
	surface := SurfaceOf(pattern)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if setter, ok := w.(routeSetter); ok {
			setter.SetRoute(pattern, surface)
		}
		next.ServeHTTP(w, r)
	})
}
