package socket

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"shaka-fleet/backend/app/dto"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is where a live connection is in its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is one device's websocket. Writes are serialized; reads belong to
// the goroutine running Hub.Serve.
type Conn struct {
	ID       string
	DeviceID string
	Source   dto.SourceInfo

	ws           *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	state        atomic.Int32
	unconfirmed  atomic.Bool
	closeOnce    sync.Once
}

func newConn(ws *websocket.Conn, src dto.SourceInfo, writeTimeout time.Duration) *Conn {
	return &Conn{ID: uuid.NewString(), ws: ws, Source: src, writeTimeout: writeTimeout}
}

func (c *Conn) State() State { return State(c.state.Load()) }

func (c *Conn) setState(s State) { c.state.Store(int32(s)) }

func (c *Conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.State() == StateClosed {
		return websocket.ErrCloseSent
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(b)
}

func (c *Conn) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close ends the connection. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}
