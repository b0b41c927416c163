// Package layout owns the durable slot layouts of every known space.
//
// A Document is replaced wholesale on every save. Members the core does not
// interpret (editor geometry, background images, graph nodes) ride along as
// opaque JSON so a save followed by a read returns exactly what was sent.
package layout

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/asuasu0131/parking-monitor/internal/common"
)

// Slot status codes used by the bundled default document. The core never
// interprets status; the meaning is shared between the editor and viewers.
const (
	StatusFree     = 0
	StatusOccupied = 1
)

// Slot is one parking slot. X and Y are nil when geometry is unknown.
type Slot struct {
	ID     string
	X      *float64
	Y      *float64
	Status int

	// Extra holds every other member of the slot object, compacted.
	Extra map[string]json.RawMessage
}

// Document is the layout of one space.
type Document struct {
	Name  string
	Slots []Slot

	// Extra holds every other top-level member, compacted.
	Extra map[string]json.RawMessage
}

var (
	slotKeys     = map[string]bool{"id": true, "x": true, "y": true, "status": true}
	documentKeys = map[string]bool{"name": true, "slots": true}
)

func (s Slot) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+4)
	for k, v := range s.Extra {
		out[k] = v
	}
	out["id"] = s.ID
	out["status"] = s.Status
	if s.X != nil {
		out["x"] = *s.X
	}
	if s.Y != nil {
		out["y"] = *s.Y
	}
	return json.Marshal(out)
}

func (s *Slot) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("slot: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("slot: null record")
	}

	var out Slot
	if v, ok := raw["id"]; ok {
		if err := json.Unmarshal(v, &out.ID); err != nil {
			return fmt.Errorf("slot id: %w", err)
		}
	}
	if v, ok := raw["status"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &out.Status); err != nil {
			return fmt.Errorf("slot %q status: %w", out.ID, err)
		}
	}
	var err error
	if out.X, err = optionalFloat(raw, "x"); err != nil {
		return fmt.Errorf("slot %q: %w", out.ID, err)
	}
	if out.Y, err = optionalFloat(raw, "y"); err != nil {
		return fmt.Errorf("slot %q: %w", out.ID, err)
	}
	if out.Extra, err = extras(raw, slotKeys); err != nil {
		return fmt.Errorf("slot %q: %w", out.ID, err)
	}
	*s = out
	return nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Extra)+2)
	for k, v := range d.Extra {
		out[k] = v
	}
	if d.Name != "" {
		out["name"] = d.Name
	}
	slots := d.Slots
	if slots == nil {
		slots = []Slot{}
	}
	out["slots"] = slots
	return json.Marshal(out)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("layout: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("layout: null document")
	}

	var out Document
	if v, ok := raw["name"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &out.Name); err != nil {
			return fmt.Errorf("layout name: %w", err)
		}
	}
	if v, ok := raw["slots"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &out.Slots); err != nil {
			return fmt.Errorf("layout slots: %w", err)
		}
	}
	var err error
	if out.Extra, err = extras(raw, documentKeys); err != nil {
		return fmt.Errorf("layout: %w", err)
	}
	*d = out
	return nil
}

// Validate checks structural shape only: a slot list must be present, and
// every slot needs an identifier that is unique within the document.
func (d Document) Validate() error {
	if d.Slots == nil {
		return common.Invalid("slots", "missing slot list")
	}
	seen := make(map[string]struct{}, len(d.Slots))
	for i, s := range d.Slots {
		if s.ID == "" {
			return common.Invalid(fmt.Sprintf("slots[%d].id", i), "empty slot id")
		}
		if _, dup := seen[s.ID]; dup {
			return common.Invalid(fmt.Sprintf("slots[%d].id", i), "duplicate slot id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy sharing no memory with d.
func (d Document) Clone() Document {
	out := Document{Name: d.Name, Extra: cloneRaw(d.Extra)}
	if d.Slots != nil {
		out.Slots = make([]Slot, len(d.Slots))
		for i, s := range d.Slots {
			out.Slots[i] = s.clone()
		}
	}
	return out
}

func (s Slot) clone() Slot {
	out := Slot{ID: s.ID, Status: s.Status, Extra: cloneRaw(s.Extra)}
	if s.X != nil {
		x := *s.X
		out.X = &x
	}
	if s.Y != nil {
		y := *s.Y
		out.Y = &y
	}
	return out
}

// DefaultDocument is served for the default space until someone saves one:
// six known slots, geometry unknown, mixed occupancy.
func DefaultDocument() Document {
	ids := []string{"A1", "A2", "A3", "B1", "B2", "B3"}
	status := []int{StatusFree, StatusOccupied, StatusFree, StatusFree, StatusOccupied, StatusFree}
	slots := make([]Slot, len(ids))
	for i, id := range ids {
		slots[i] = Slot{ID: id, Status: status[i]}
	}
	return Document{Slots: slots}
}

func optionalFloat(raw map[string]json.RawMessage, key string) (*float64, error) {
	v, ok := raw[key]
	if !ok || isNull(v) {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &f, nil
}

func extras(raw map[string]json.RawMessage, known map[string]bool) (map[string]json.RawMessage, error) {
	var out map[string]json.RawMessage
	for k, v := range raw {
		if known[k] {
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		if out == nil {
			out = make(map[string]json.RawMessage)
		}
		out[k] = buf.Bytes()
	}
	return out, nil
}

func cloneRaw(src map[string]json.RawMessage) map[string]json.RawMessage {
	if src == nil {
		return nil
	}
	dst := make(map[string]json.RawMessage, len(src))
	for k, v := range src {
		dst[k] = append(json.RawMessage(nil), v...)
	}
	return dst
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
