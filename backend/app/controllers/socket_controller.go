package controllers

import (
	"net/http"
	"time"

	"shaka-fleet/backend/app/dto"
	"shaka-fleet/backend/app/socket"
	"shaka-fleet/backend/global"

	"github.com/gorilla/websocket"
)

type SocketController struct {
	Hub      *socket.Hub
	upgrader websocket.Upgrader
}

func NewSocketController(h *socket.Hub) *SocketController {
	return &SocketController{
		Hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// devices are not browsers
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle upgrades the request and runs the device channel until it closes.
func (c *SocketController) Handle(w http.ResponseWriter, r *http.Request) {
	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		global.Logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("live upgrade failed")
		return
	}
	global.Logger.Info().Str("remote", r.RemoteAddr).Msg("live channel opened")
	c.Hub.Serve(ws, dto.SourceInfo{
		ForwardedFor: r.Header.Get("X-Forwarded-For"),
		RemoteIP:     remoteIP(r),
		ReceivedAt:   time.Now(),
	})
}

func (c *SocketController) Online(w http.ResponseWriter, r *http.Request) {
	list := c.Hub.OnlineIDs()
	writeJSON(w, http.StatusOK, map[string]any{"online_devices": list, "count": len(list)})
}
