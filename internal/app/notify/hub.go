// Package notify provides the user-visible notification hub.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// Notice is a single user-visible message.
type Notice struct {
	Message string
	IsError bool
	Time    time.Time
}

// Hub fans notices out to subscribers (typically the UI layer). Broadcast
// never blocks on a subscriber.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]chan Notice
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan Notice)}
}

// Notify broadcasts a notice to all subscribers.
func (h *Hub) Notify(message string, isError bool) {
	n := Notice{Message: message, IsError: isError, Time: time.Now()}
	if isError {
		zlog.Warn().Msg(message)
	} else {
		zlog.Info().Msg(message)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- n:
		default:
			// Subscriber is not keeping up; drop rather than block.
		}
	}
}

// Subscribe registers a subscriber and returns its id and notice channel.
func (h *Hub) Subscribe() (string, <-chan Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := uuid.New().String()
	ch := make(chan Notice, 16)
	h.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
