package registry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"shaka-fleet/backend/app/dto"
	"shaka-fleet/backend/app/models"
)

func mergeString(dst *string, o dto.Optional[string]) {
	if !o.Set {
		return
	}
	*dst = o.Value
}

func mergeRaw(dst *json.RawMessage, o dto.Optional[json.RawMessage]) {
	if !o.Set {
		return
	}
	if o.Null {
		*dst = nil
		return
	}
	*dst = append(json.RawMessage(nil), o.Value...)
}

// MergeHeartbeat overlays the fields present in hb onto d. Present-null
// clears the stored value. Sensors merge key by key and a null sensor value
// removes that key.
func MergeHeartbeat(d *models.Device, hb dto.Heartbeat) {
	mergeString(&d.DisplayName, hb.Name)
	mergeString(&d.Status, hb.Status)
	mergeString(&d.Location, hb.Location)
	mergeString(&d.Uptime, hb.Uptime)
	mergeString(&d.FirmwareVersion, hb.FirmwareField())
	mergeString(&d.AgentVersion, hb.AgentVersion)
	mergeRaw(&d.Inventory, hb.Inventory)
	mergeRaw(&d.Proximity, hb.Proximity)
	mergeRaw(&d.Snapshots, hb.Snapshots)
	mergeRaw(&d.Meta, hb.Meta)

	if hb.Sensors.Set {
		if hb.Sensors.Null {
			d.Sensors = nil
		} else {
			if d.Sensors == nil {
				d.Sensors = make(map[string]json.RawMessage, len(hb.Sensors.Value))
			}
			for k, v := range hb.Sensors.Value {
				if v == nil || string(v) == "null" {
					delete(d.Sensors, k)
					continue
				}
				d.Sensors[k] = append(json.RawMessage(nil), v...)
			}
		}
	}

	if hb.ExternalIDs.HasValue() {
		if d.ExternalIDs == nil {
			d.ExternalIDs = make(map[string]string, len(hb.ExternalIDs.Value))
		}
		for k, v := range hb.ExternalIDs.Value {
			if v == "" {
				delete(d.ExternalIDs, k)
				continue
			}
			d.ExternalIDs[k] = v
		}
	}
}

// Touch moves LastSeenAt forward, never backward.
func Touch(d *models.Device, now time.Time) {
	if now.After(d.LastSeenAt) {
		d.LastSeenAt = now
	}
}

// StampNetwork overwrites the observed origin with what this heartbeat saw.
// The declared address and port come from meta when it parses.
func StampNetwork(d *models.Device, src dto.SourceInfo, meta json.RawMessage, now time.Time) {
	n := models.NetworkInfo{
		ForwardedFor: firstHop(src.ForwardedFor),
		SourceIP:     src.RemoteIP,
		ObservedAt:   now,
	}
	if len(meta) > 0 {
		var m dto.HeartbeatMeta
		if json.Unmarshal(meta, &m) == nil {
			n.DeclaredIP = m.IP
			n.PublicIP = m.PublicIP
			n.Hostname = m.Hostname
			n.VendPort = m.Port()
		}
	}
	d.Network = n
}

func firstHop(xff string) string {
	first, _, _ := strings.Cut(xff, ",")
	return strings.TrimSpace(first)
}

// DrainPending empties every pending slot and returns what was there in a
// stable kind order.
func DrainPending(d *models.Device) []models.PendingCommand {
	var out []models.PendingCommand
	for _, k := range models.CommandKinds {
		if c, ok := d.Pending[k]; ok {
			out = append(out, c)
			delete(d.Pending, k)
		}
	}
	return out
}

// DrainOne empties a single slot.
func DrainOne(d *models.Device, kind models.CommandKind) (models.PendingCommand, bool) {
	c, ok := d.Pending[kind]
	if ok {
		delete(d.Pending, kind)
	}
	return c, ok
}

// Queue overwrites the slot for kind. Last write wins.
func Queue(d *models.Device, kind models.CommandKind, payload json.RawMessage, now time.Time) {
	if d.Pending == nil {
		d.Pending = make(map[models.CommandKind]models.PendingCommand)
	}
	d.Pending[kind] = models.PendingCommand{Kind: kind, Payload: append(json.RawMessage(nil), payload...), QueuedAt: now}
}

// FormatUptime renders a duration the way agents report it.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	return fmt.Sprintf("%dd %dh %dm", days, hours, int(d/time.Minute))
}
