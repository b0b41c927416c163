package reactive

import "errors"

// Topics published to every subscriber.
const (
	TopicPositions     = "positions"
	TopicLayoutUpdated = "layout_updated"
	TopicSensorUpdate  = "sensor_update"
)

// ErrClientGone is what a Send func should return once its transport is
// closed. Any Send error evicts the client; this one is also not logged as
// a delivery failure.
var ErrClientGone = errors.New("client gone")

// Client is one observer. Send abstracts over the websocket connection and
// must not block: the gateway enqueues onto a bounded per-client queue and
// fails when the queue is full.
type Client struct {
	ID   string
	Send func(msgType string, payload any) error
}

// LayoutEvent is the payload of TopicLayoutUpdated. Layout is nil for
// notification-only events.
type LayoutEvent struct {
	SpaceID string `json:"space_id,omitempty"`
	Layout  any    `json:"layout,omitempty"`
}
