// Package reactive fans state changes out to the set of connected
// observers.
package reactive

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Hub is an explicit subscriber set. Publishes are serialized, so every
// observer receives messages in publish order; a client whose Send fails is
// removed and reported back to the publisher as an implicit disconnect.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	pubMu sync.Mutex
	log   *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{clients: make(map[string]*Client), log: log}
}

// Subscribe registers cl, replacing any client with the same ID.
func (h *Hub) Subscribe(cl *Client) {
	h.mu.Lock()
	h.clients[cl.ID] = cl
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("subscribed", zap.String("client", cl.ID), zap.Int("subscribers", n))
}

// Unsubscribe is idempotent and reports whether id was subscribed.
func (h *Hub) Unsubscribe(id string) bool {
	h.mu.Lock()
	_, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	return ok
}

func (h *Hub) IsSubscribed(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[id]
	return ok
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IDs returns the subscribed client IDs, sorted.
func (h *Hub) IDs() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.clients))
	for id := range h.clients {
		out = append(out, id)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for _, cl := range h.clients {
		out = append(out, cl)
	}
	return out
}

// Publish delivers payload to every subscriber and returns the IDs of those
// that failed and were evicted. A failure never stops delivery to the rest.
func (h *Hub) Publish(topic string, payload any) []string {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	var evicted []string
	clients := h.snapshot()
	for _, cl := range clients {
		if err := cl.Send(topic, payload); err != nil {
			if h.evict(cl) {
				evicted = append(evicted, cl.ID)
			}
			if !errors.Is(err, ErrClientGone) {
				h.log.Warn("delivery failed, dropping client",
					zap.String("client", cl.ID),
					zap.String("topic", topic),
					zap.Error(err),
				)
			}
		}
	}

	h.log.Debug("published",
		zap.String("topic", topic),
		zap.Int("clients", len(clients)),
		zap.Int("evicted", len(evicted)),
	)
	return evicted
}

// SendTo delivers to one subscriber only, under the same ordering as
// Publish. Unknown IDs are ignored.
func (h *Hub) SendTo(id, topic string, payload any) (evicted bool) {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	h.mu.RLock()
	cl, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if err := cl.Send(topic, payload); err != nil {
		return h.evict(cl)
	}
	return false
}

// evict removes cl unless it was already replaced by a newer client with
// the same ID.
func (h *Hub) evict(cl *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[cl.ID]; ok && cur == cl {
		delete(h.clients, cl.ID)
		return true
	}
	return false
}
