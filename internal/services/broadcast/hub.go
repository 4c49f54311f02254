package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/onpardev/mymcp/api/internal/models"
	"go.uber.org/zap"
)

// EventKind distinguishes lifecycle events on the stream
type EventKind string

const (
	EventCreated EventKind = "created"
	EventStatus  EventKind = "status"
	EventDeleted EventKind = "deleted"
)

// StatusEvent is a server lifecycle change pushed to its owner
type StatusEvent struct {
	Kind          EventKind           `json:"kind"`
	ServerID      uuid.UUID           `json:"server_id"`
	Status        models.ServerStatus `json:"status"`
	StatusMessage *string             `json:"status_message,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
}

// NewEvent builds an event from the current state of a server
func NewEvent(kind EventKind, server *models.ServerInstance, at time.Time) StatusEvent {
	return StatusEvent{
		Kind:          kind,
		ServerID:      server.ID,
		Status:        server.Status,
		StatusMessage: server.StatusMessage,
		Timestamp:     at,
	}
}

// Hub fans server events out to the owner's open streams
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]map[chan StatusEvent]struct{}
	closed      bool
	logger      *zap.Logger
	bufferSize  int
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subscribers: make(map[uuid.UUID]map[chan StatusEvent]struct{}),
		logger:      logger,
		bufferSize:  16,
	}
}

// Subscribe registers a stream for a user. The returned cancel func must be
// called when the stream ends; the channel is closed by cancel or by Close.
func (h *Hub) Subscribe(userID uuid.UUID) (<-chan StatusEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan StatusEvent, h.bufferSize)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	if h.subscribers[userID] == nil {
		h.subscribers[userID] = make(map[chan StatusEvent]struct{})
	}
	h.subscribers[userID][ch] = struct{}{}

	h.logger.Debug("client subscribed",
		zap.String("user_id", userID.String()),
		zap.Int("total_subscribers", len(h.subscribers[userID])),
	)

	return ch, func() { h.unsubscribe(userID, ch) }
}

func (h *Hub) unsubscribe(userID uuid.UUID, ch chan StatusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[userID]
	if !ok {
		return
	}
	if _, exists := subs[ch]; !exists {
		return
	}

	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(h.subscribers, userID)
	}

	h.logger.Debug("client unsubscribed", zap.String("user_id", userID.String()))
}

// Publish sends an event to every stream of a user without blocking.
// Slow streams lose the event.
func (h *Hub) Publish(userID uuid.UUID, event StatusEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers[userID] {
		select {
		case ch <- event:
		default:
			h.logger.Warn("dropping event, client buffer full",
				zap.String("user_id", userID.String()),
				zap.String("server_id", event.ServerID.String()),
				zap.String("status", string(event.Status)),
			)
		}
	}
}

// SubscriberCount returns the number of open streams of a user
func (h *Hub) SubscriberCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[userID])
}

// Close ends every stream. Later subscriptions receive a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, subs := range h.subscribers {
		for ch := range subs {
			close(ch)
		}
		delete(h.subscribers, userID)
	}
	h.closed = true
}
