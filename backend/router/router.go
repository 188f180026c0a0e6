package router

import (
	"net/http"

	"shaka-fleet/backend/app/controllers"
	"shaka-fleet/backend/app/middleware"
)

type Controllers struct {
	HTTP      *controllers.HTTPController
	Auth      *controllers.AuthController
	Admin     *controllers.AdminController
	Devices   *controllers.DeviceController
	Commands  *controllers.CommandController
	Heartbeat *controllers.HeartbeatController
	Socket    *controllers.SocketController
	Webhooks  *controllers.WebhookController
}

func NewRouter(c Controllers, mw *middleware.Auth) http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.Handler) { mux.Handle(pattern, middleware.WithRoute(pattern, h)) }
	public := func(pattern string, fn http.HandlerFunc) { handle(pattern, fn) }
	admin := func(pattern string, fn http.HandlerFunc) { handle(pattern, mw.RequireAdmin(fn)) }

	// public
	public("GET /ping", c.HTTP.Ping)
	public("POST /login", c.Auth.Login)
	handle("POST /logout", mw.RequireAuth(http.HandlerFunc(c.Auth.Logout)))

	// device facing
	public("POST /api/heartbeat", c.Heartbeat.Post)
	public("GET /api/machines/{id}/sync-products", c.Heartbeat.SyncProducts)
	public("GET /ws", c.Socket.Handle)
	public("POST /api/webhooks/stripe", c.Webhooks.Stripe)

	// admin-only endpoints
	admin("GET /admin/devices", c.Devices.List)
	admin("GET /admin/devices/{id}", c.Devices.Get)
	admin("DELETE /admin/devices/{id}", c.Devices.Delete)
	admin("POST /admin/devices/{id}/token", c.Devices.IssueToken)
	admin("POST /admin/command", c.Commands.Post)
	admin("GET /admin/deliveries", c.Commands.Deliveries)
	admin("GET /admin/online", c.Socket.Online)
	admin("GET /admin/webhooks", c.Webhooks.Recent)
	admin("GET /admin/users", c.Admin.ListUsers)
	admin("POST /admin/users", c.Admin.CreateUser)

	return middleware.Logging(mux)
}
