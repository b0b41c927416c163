package protocol

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/asuasu0131/parking-monitor/internal/common"
	"github.com/asuasu0131/parking-monitor/internal/presence"
)

// Inbound event types.
const (
	TypeUpdatePosition = "update_position"
	TypeUpdateSensor   = "update_sensor"
	TypeLayoutUpdated  = "layout_updated"
	TypePing           = "ping"
)

// Outbound event types that are not broadcast topics.
const (
	TypeConnected = "connected"
	TypePong      = "pong"
	TypeError     = "error"
)

// Envelope is one realtime frame: {"type": ..., "data": ...}.
//
// Inbound frames may also carry their fields next to "type" instead of
// under "data"; DecodeMessage folds that form into Data.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type PositionUpdate struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// Position checks that both coordinates are present and finite.
func (p PositionUpdate) Position() (presence.Position, error) {
	switch {
	case p.Lat == nil:
		return presence.Position{}, common.Invalid("lat", "missing")
	case p.Lng == nil:
		return presence.Position{}, common.Invalid("lng", "missing")
	case math.IsNaN(*p.Lat) || math.IsInf(*p.Lat, 0):
		return presence.Position{}, common.Invalid("lat", "not a finite number")
	case math.IsNaN(*p.Lng) || math.IsInf(*p.Lng, 0):
		return presence.Position{}, common.Invalid("lng", "not a finite number")
	}
	return presence.Position{Lat: *p.Lat, Lng: *p.Lng}, nil
}

type LayoutNotice struct {
	SpaceID string `json:"space_id,omitempty"`
}

type Connected struct {
	ID string `json:"id"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

func DecodeMessage(data []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Envelope{}, common.Invalid("message", "not a JSON object: %v", err)
	}

	var env Envelope
	if v, ok := fields["type"]; ok {
		if err := json.Unmarshal(v, &env.Type); err != nil {
			return Envelope{}, common.Invalid("type", "not a string")
		}
	}
	if env.Type == "" {
		return Envelope{}, common.Invalid("type", "missing message type")
	}

	if v, ok := fields["data"]; ok {
		env.Data = v
		return env, nil
	}
	delete(fields, "type")
	if len(fields) == 0 {
		return env, nil
	}
	flat, err := json.Marshal(fields)
	if err != nil {
		return Envelope{}, fmt.Errorf("fold inline fields: %w", err)
	}
	env.Data = flat
	return env, nil
}
