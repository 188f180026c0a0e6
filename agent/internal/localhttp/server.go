package localhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"shaka-fleet/agent/internal/command"
	"shaka-fleet/agent/internal/logger"
	"shaka-fleet/agent/internal/state"
)

const maxBody = 4 << 20

// Handler is the machine's local API: what the backend reaches when it
// pushes directly or forwards a payment event.
type Handler struct {
	Machine  *state.Machine
	Commands *command.Manager
}

func (h *Handler) command(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			http.Error(w, "unreadable body", http.StatusBadRequest)
			return
		}
		res := h.Commands.Dispatch(kind, body, "direct-http")
		status := http.StatusOK
		if res.Status != "ok" {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, res)
	}
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EventType string          `json:"eventType"`
		Payload   json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&body); err != nil {
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}
	h.Machine.CountWebhook()
	logger.L.Info().Str("event", body.EventType).Msg("payment event received")
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime":   h.Machine.Uptime().Truncate(time.Second).String(),
		"products": h.Machine.Products(),
		"terminal": h.Machine.Terminal(),
		"webhooks": h.Machine.Webhooks(),
	})
}

// VendMux serves the payment side on the vend port.
func (h *Handler) VendMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /stripe/config", h.command("terminal-config"))
	mux.HandleFunc("POST /stripe/webhook", h.webhook)
	mux.HandleFunc("GET /status", h.status)
	return mux
}

// ProductsMux serves the catalogue endpoint on the products port.
func (h *Handler) ProductsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/local-products", h.command("sync-products"))
	mux.HandleFunc("GET /api/local-products", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.Machine.Products())
	})
	return mux
}

// Serve runs handler on port until ctx ends.
func Serve(ctx context.Context, port int, handler http.Handler) error {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()
	logger.L.Info().Int("port", port).Msg("local api listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
