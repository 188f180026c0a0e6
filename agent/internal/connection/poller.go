package connection

import (
	"context"
	"time"

	"shaka-fleet/agent/internal/command"
	"shaka-fleet/agent/internal/config"
	"shaka-fleet/agent/internal/device"
	"shaka-fleet/agent/internal/logger"
	"shaka-fleet/agent/internal/state"
)

// Poll posts heartbeats over HTTP and applies whatever commands the ack
// carries. Used when the machine runs without a live channel.
func Poll(ctx context.Context, cfg config.AppConfig, client *device.Client, machine *state.Machine, cmds *command.Manager) {
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		ack, err := client.Post(ctx, device.Snapshot(cfg, machine))
		if err != nil {
			logger.L.Warn().Err(err).Msg("heartbeat failed")
		}
		for _, c := range ack.Commands {
			cmds.Dispatch(c.Kind, c.Payload, "heartbeat")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
