package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	eventBufferSize = 64
	eventWriteWait  = 10 * time.Second
)

// EventHub fans change notifications out to subscribers. Slow subscribers lose
// events rather than block the publishing collection.
type EventHub struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{subscribers: make(map[string]chan Event)}
}

// Publish delivers e to every subscriber. A nil hub drops the event.
func (h *EventHub) Publish(e Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subscribers {
		select {
		case ch <- e:
		default:
			eventsDroppedTotal.Inc()
			logger.Warn("Dropped event for slow subscriber", "subscriber", id, "collection", e.Collection)
		}
	}
}

// Subscribe registers a new subscriber. The returned function unsubscribes and
// closes the channel.
func (h *EventHub) Subscribe() (<-chan Event, func()) {
	id := uuid.New().String()
	ch := make(chan Event, eventBufferSize)

	h.mu.Lock()
	h.subscribers[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *EventHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventsHandler streams change notifications to a websocket client.
func (node *ExchangeNode) EventsHandler(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Failed to upgrade events connection", "error", err)
		return
	}
	defer ws.Close()

	events, unsubscribe := node.Events.Subscribe()
	defer unsubscribe()

	// The reader only notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger.Debug("Events subscriber connected", "requestId", GetRequestID(r.Context()))
	for {
		select {
		case <-closed:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			ws.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := ws.WriteJSON(e); err != nil {
				logger.Debug("Events subscriber write failed", "error", err)
				return
			}
		}
	}
}
