// Package notify pushes resolved chat exchanges to live viewers. The hub is
// a convenience channel only; the database remains the source of truth and
// a viewer that missed a push reads the exchange back normally.
package notify

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

type Event struct {
	MessageID      uuid.UUID       `json:"message_id"`
	ConversationID uuid.UUID       `json:"conversation_id"`
	Status         string          `json:"status"`
	AIResponse     string          `json:"ai_response,omitempty"`
	Sources        json.RawMessage `json:"sources,omitempty"`
}

type key struct {
	tenantID       uuid.UUID
	conversationID uuid.UUID
}

// Hub fans events out to every subscriber of a (tenant, conversation) pair.
// Slow subscribers are skipped, not waited on.
type Hub struct {
	mu   sync.RWMutex
	subs map[key]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[key]map[chan Event]struct{})}
}

// Subscribe registers a viewer. The returned cancel func must be called
// when the viewer disconnects.
func (h *Hub) Subscribe(tenantID, conversationID uuid.UUID) (<-chan Event, func()) {
	k := key{tenantID, conversationID}
	ch := make(chan Event, 8)

	h.mu.Lock()
	if h.subs[k] == nil {
		h.subs[k] = make(map[chan Event]struct{})
	}
	h.subs[k][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[k]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, k)
			}
		}
		h.mu.Unlock()
		close(ch)
	}
	return ch, cancel
}

// Publish delivers the event to all current subscribers of the pair. No
// subscribers is not an error.
func (h *Hub) Publish(tenantID, conversationID uuid.UUID, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[key{tenantID, conversationID}] {
		select {
		case ch <- ev:
		default:
		}
	}
}
