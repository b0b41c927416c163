// Package engine applies inbound mutations to the presence registry and the
// layout repository and pushes the resulting state to every observer.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/asuasu0131/parking-monitor/internal/common"
	"github.com/asuasu0131/parking-monitor/internal/layout"
	"github.com/asuasu0131/parking-monitor/internal/presence"
	"github.com/asuasu0131/parking-monitor/internal/reactive"
)

// ErrNotConnected is returned for a position update from a connection that
// already disconnected. The update is dropped so no registry entry can
// outlive its connection.
var ErrNotConnected = errors.New("connection is not subscribed")

// SensorReading maps a sensor channel to its integer state.
type SensorReading map[string]int

// Validate rejects empty readings and blank channel names.
func (r SensorReading) Validate() error {
	if len(r) == 0 {
		return common.Invalid("sensor", "empty reading")
	}
	for ch := range r {
		if ch == "" {
			return common.Invalid("sensor", "empty channel name")
		}
	}
	return nil
}

type Engine struct {
	reg  *presence.Registry
	repo *layout.Repository
	hub  *reactive.Hub
	log  *zap.Logger

	// posMu orders registry mutations with the snapshot published for them,
	// so observers never receive an older snapshot after a newer one.
	// Layout saves never take it.
	posMu sync.Mutex
}

func New(reg *presence.Registry, repo *layout.Repository, hub *reactive.Hub, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{reg: reg, repo: repo, hub: hub, log: log}
}

// Connect subscribes cl and sends it the current positions so a new viewer
// immediately sees everyone.
func (e *Engine) Connect(cl *reactive.Client) {
	e.posMu.Lock()
	defer e.posMu.Unlock()

	e.hub.Subscribe(cl)
	raw, err := json.Marshal(e.reg.Snapshot())
	if err != nil {
		e.log.Error("encode positions", zap.Error(err))
		return
	}
	if e.hub.SendTo(cl.ID, reactive.TopicPositions, json.RawMessage(raw)) {
		e.log.Info("client dropped on connect", zap.String("conn_id", cl.ID))
	}
}

// UpdatePosition records pos for id and broadcasts the full snapshot.
func (e *Engine) UpdatePosition(id string, pos presence.Position) error {
	e.posMu.Lock()
	defer e.posMu.Unlock()

	if !e.hub.IsSubscribed(id) {
		return ErrNotConnected
	}
	e.reg.Update(id, pos)
	e.publishPositionsLocked()
	return nil
}

// Disconnect removes every trace of id and broadcasts the snapshot. It is
// safe to call more than once.
func (e *Engine) Disconnect(id string) {
	e.posMu.Lock()
	defer e.posMu.Unlock()

	e.hub.Unsubscribe(id)
	e.reg.Remove(id)
	e.publishPositionsLocked()
}

func (e *Engine) publishPositionsLocked() {
	for {
		evicted := e.publish(reactive.TopicPositions, e.reg.Snapshot())
		removed := 0
		for _, id := range evicted {
			if e.reg.Remove(id) {
				removed++
			}
			e.log.Info("evicted unreachable client", zap.String("conn_id", id))
		}
		if removed == 0 {
			return
		}
	}
}

// dropEvicted handles clients evicted by a non-position publish.
func (e *Engine) dropEvicted(ids []string) {
	if len(ids) == 0 {
		return
	}
	e.posMu.Lock()
	defer e.posMu.Unlock()
	for _, id := range ids {
		e.reg.Remove(id)
		e.log.Info("evicted unreachable client", zap.String("conn_id", id))
	}
	e.publishPositionsLocked()
}

// publish encodes payload once; all observers share the immutable bytes.
func (e *Engine) publish(topic string, payload any) []string {
	raw, err := json.Marshal(payload)
	if err != nil {
		e.log.Error("encode broadcast", zap.String("topic", topic), zap.Error(err))
		return nil
	}
	return e.hub.Publish(topic, json.RawMessage(raw))
}

// SaveLayout persists doc and, only once that succeeded, broadcasts it. It
// returns the effective space ID.
func (e *Engine) SaveLayout(ctx context.Context, spaceID string, doc layout.Document) (string, error) {
	doc = doc.Clone()
	id, err := e.repo.Save(ctx, spaceID, doc)
	if err != nil {
		return "", fmt.Errorf("save layout: %w", err)
	}
	e.log.Info("layout saved", zap.String("space_id", id), zap.Int("slots", len(doc.Slots)))
	e.dropEvicted(e.publish(reactive.TopicLayoutUpdated, reactive.LayoutEvent{SpaceID: id, Layout: doc}))
	return id, nil
}

// NotifyLayout relays a notification-only layout_updated event, as sent by
// the editor after it saved over HTTP. Observers refetch on receipt.
func (e *Engine) NotifyLayout(spaceID string) error {
	if spaceID != "" {
		if _, err := e.repo.Get(spaceID); err != nil {
			return fmt.Errorf("notify layout %q: %w", spaceID, err)
		}
	}
	e.dropEvicted(e.publish(reactive.TopicLayoutUpdated, reactive.LayoutEvent{SpaceID: spaceID}))
	return nil
}

// RelaySensor broadcasts a reading without storing it.
func (e *Engine) RelaySensor(r SensorReading) error {
	if err := r.Validate(); err != nil {
		return err
	}
	e.dropEvicted(e.publish(reactive.TopicSensorUpdate, r))
	return nil
}

func (e *Engine) Positions() presence.Snapshot { return e.reg.Snapshot() }

func (e *Engine) Layouts() map[string]layout.Document { return e.repo.GetAll() }

func (e *Engine) Layout(spaceID string) (layout.Document, error) { return e.repo.Get(spaceID) }

// DefaultLayout serves the legacy single-document endpoint.
func (e *Engine) DefaultLayout() layout.Document { return e.repo.Default() }

type Stats struct {
	Connections int `json:"connections"`
	Positions   int `json:"positions"`
	Spaces      int `json:"spaces"`
}

func (e *Engine) Stats() Stats {
	return Stats{
		Connections: e.hub.Len(),
		Positions:   e.reg.Len(),
		Spaces:      e.repo.Len(),
	}
}
