package protocol

import (
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/asuasu0131/parking-monitor/internal/engine"
	"github.com/asuasu0131/parking-monitor/internal/layout"
	"github.com/asuasu0131/parking-monitor/internal/presence"
)

type fakeEngine struct {
	positions map[string]presence.Position
	readings  []engine.SensorReading
	notices   []string
	updateErr error
}

func (f *fakeEngine) UpdatePosition(id string, pos presence.Position) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if f.positions == nil {
		f.positions = map[string]presence.Position{}
	}
	f.positions[id] = pos
	return nil
}

func (f *fakeEngine) RelaySensor(r engine.SensorReading) error {
	if err := r.Validate(); err != nil {
		return err
	}
	f.readings = append(f.readings, r)
	return nil
}

func (f *fakeEngine) NotifyLayout(spaceID string) error {
	if spaceID == "missing" {
		return fmt.Errorf("notify: %w", layout.ErrNotFound)
	}
	f.notices = append(f.notices, spaceID)
	return nil
}

type replies struct{ types []string }

func (r *replies) reply(msgType string, _ any) error {
	r.types = append(r.types, msgType)
	return nil
}

func TestDecodeMessageForms(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType string
		wantData string
		wantErr  bool
	}{
		{"envelope", `{"type":"update_position","data":{"lat":1,"lng":2}}`, TypeUpdatePosition, `{"lat":1,"lng":2}`, false},
		{"inline fields", `{"type":"update_position","lat":1,"lng":2}`, TypeUpdatePosition, `{"lat":1,"lng":2}`, false},
		{"no payload", `{"type":"ping"}`, TypePing, ``, false},
		{"missing type", `{"data":{}}`, "", "", true},
		{"numeric type", `{"type":7}`, "", "", true},
		{"not json", `hello`, "", "", true},
		{"array", `[]`, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeMessage([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if env.Type != tt.wantType || string(env.Data) != tt.wantData {
				t.Fatalf("DecodeMessage() = {%s %s}, want {%s %s}", env.Type, env.Data, tt.wantType, tt.wantData)
			}
		})
	}
}

func TestHandlePositionUpdate(t *testing.T) {
	eng := &fakeEngine{}
	r := &replies{}
	HandleMessage(eng, "c1", []byte(`{"type":"update_position","data":{"lat":38.1,"lng":140.8}}`), r.reply, zap.NewNop())

	if got := eng.positions["c1"]; got != (presence.Position{Lat: 38.1, Lng: 140.8}) {
		t.Fatalf("position = %v", got)
	}
	if len(r.types) != 0 {
		t.Fatalf("unexpected replies %v", r.types)
	}
}

func TestMalformedMessagesAreRejectedBeforeEngine(t *testing.T) {
	cases := map[string]string{
		"missing lng":      `{"type":"update_position","data":{"lat":1}}`,
		"missing lat":      `{"type":"update_position","data":{"lng":1}}`,
		"null payload":     `{"type":"update_position","data":null}`,
		"no payload":       `{"type":"update_position"}`,
		"string lat":       `{"type":"update_position","data":{"lat":"1","lng":2}}`,
		"sensor float":     `{"type":"update_sensor","data":{"ch1":1.5}}`,
		"sensor empty":     `{"type":"update_sensor","data":{}}`,
		"sensor array":     `{"type":"update_sensor","data":[1,2]}`,
		"unknown type":     `{"type":"teleport"}`,
		"unknown space":    `{"type":"layout_updated","data":{"space_id":"missing"}}`,
		"garbage":          `{{{`,
		"bad notice shape": `{"type":"layout_updated","data":"P1"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			eng := &fakeEngine{}
			r := &replies{}
			HandleMessage(eng, "c1", []byte(raw), r.reply, zap.NewNop())

			if len(eng.positions) != 0 || len(eng.readings) != 0 || len(eng.notices) != 0 {
				t.Fatalf("engine state changed: %+v", eng)
			}
			if len(r.types) != 1 || r.types[0] != TypeError {
				t.Fatalf("replies = %v, want one error frame", r.types)
			}
		})
	}
}

func TestHandleSensorAndNotices(t *testing.T) {
	eng := &fakeEngine{}
	r := &replies{}
	log := zap.NewNop()

	HandleMessage(eng, "c1", []byte(`{"type":"update_sensor","data":{"ch1":1,"ch2":0}}`), r.reply, log)
	HandleMessage(eng, "c1", []byte(`{"type":"update_sensor","ch3":1}`), r.reply, log)
	HandleMessage(eng, "c1", []byte(`{"type":"layout_updated"}`), r.reply, log)
	HandleMessage(eng, "c1", []byte(`{"type":"layout_updated","data":{"space_id":"P1"}}`), r.reply, log)

	if len(eng.readings) != 2 || eng.readings[0]["ch2"] != 0 || eng.readings[1]["ch3"] != 1 {
		t.Fatalf("readings = %v", eng.readings)
	}
	if len(eng.notices) != 2 || eng.notices[0] != "" || eng.notices[1] != "P1" {
		t.Fatalf("notices = %v", eng.notices)
	}
	if len(r.types) != 0 {
		t.Fatalf("unexpected replies %v", r.types)
	}
}

func TestPingPong(t *testing.T) {
	r := &replies{}
	HandleMessage(&fakeEngine{}, "c1", []byte(`{"type":"ping"}`), r.reply, zap.NewNop())
	if len(r.types) != 1 || r.types[0] != TypePong {
		t.Fatalf("replies = %v, want pong", r.types)
	}
}

func TestUpdateAfterDisconnectIsSilent(t *testing.T) {
	eng := &fakeEngine{updateErr: fmt.Errorf("late: %w", engine.ErrNotConnected)}
	r := &replies{}
	HandleMessage(eng, "c1", []byte(`{"type":"update_position","data":{"lat":1,"lng":2}}`), r.reply, zap.NewNop())
	if len(r.types) != 0 {
		t.Fatalf("replies = %v, want none", r.types)
	}
}
