package protocol

import (
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/asuasu0131/parking-monitor/internal/common"
	"github.com/asuasu0131/parking-monitor/internal/engine"
	"github.com/asuasu0131/parking-monitor/internal/layout"
	"github.com/asuasu0131/parking-monitor/internal/presence"
)

// Engine is the part of engine.Engine the realtime channel drives.
type Engine interface {
	UpdatePosition(id string, pos presence.Position) error
	RelaySensor(r engine.SensorReading) error
	NotifyLayout(spaceID string) error
}

// Reply sends a frame to the connection that sent the message only.
type Reply func(msgType string, payload any) error

// HandleMessage decodes one inbound frame from connID and applies it.
// Malformed frames are answered with an error frame to the sender and never
// reach the engine.
func HandleMessage(eng Engine, connID string, raw []byte, reply Reply, log *zap.Logger) {
	err := dispatch(eng, connID, raw, reply)
	if err == nil {
		return
	}

	switch {
	case common.IsValidation(err), errors.Is(err, layout.ErrNotFound):
		log.Debug("rejected message", zap.String("conn_id", connID), zap.Error(err))
		_ = reply(TypeError, ErrorPayload{Error: err.Error()})
	case errors.Is(err, engine.ErrNotConnected):
		log.Debug("message after disconnect", zap.String("conn_id", connID))
	default:
		log.Warn("message failed", zap.String("conn_id", connID), zap.Error(err))
		_ = reply(TypeError, ErrorPayload{Error: "internal error"})
	}
}

func dispatch(eng Engine, connID string, raw []byte, reply Reply) error {
	msg, err := DecodeMessage(raw)
	if err != nil {
		return err
	}

	switch msg.Type {
	case TypePing:
		return reply(TypePong, nil)

	case TypeUpdatePosition:
		var upd PositionUpdate
		if err := decodeData(msg, &upd); err != nil {
			return err
		}
		pos, err := upd.Position()
		if err != nil {
			return err
		}
		return eng.UpdatePosition(connID, pos)

	case TypeUpdateSensor:
		var reading engine.SensorReading
		if err := decodeData(msg, &reading); err != nil {
			return err
		}
		return eng.RelaySensor(reading)

	case TypeLayoutUpdated:
		var notice LayoutNotice
		if len(msg.Data) > 0 {
			if err := decodeData(msg, &notice); err != nil {
				return err
			}
		}
		return eng.NotifyLayout(notice.SpaceID)

	default:
		return common.Invalid("type", "unknown message type %q", msg.Type)
	}
}

func decodeData(msg Envelope, v any) error {
	if len(msg.Data) == 0 {
		return common.Invalid(msg.Type, "missing payload")
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return common.Invalid(msg.Type, "decode payload: %v", err)
	}
	return nil
}
