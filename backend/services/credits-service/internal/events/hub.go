package events

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"storyforge/backend/services/credits-service/internal/models"
)

// Hub tracks the sockets subscribed to each user's balance.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]map[*Connection]struct{}
	logger *zap.Logger
}

// NewHub builds an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]map[*Connection]struct{}),
		logger: logger,
	}
}

// Add registers a connection.
func (h *Hub) Add(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[conn.UserID()]
	if !ok {
		set = make(map[*Connection]struct{})
		h.conns[conn.UserID()] = set
	}
	set[conn] = struct{}{}
}

// Remove unregisters a connection.
func (h *Hub) Remove(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.conns[conn.UserID()]
	delete(set, conn)
	if len(set) == 0 {
		delete(h.conns, conn.UserID())
	}
}

// Subscribers returns the number of open sockets for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// Deliver sends an encoded event to every local socket of userID and returns
// how many accepted it.
func (h *Hub) Deliver(userID string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for conn := range h.conns[userID] {
		if conn.Send(payload) {
			n++
		}
	}
	return n
}

// Notify delivers ev to local subscribers. It satisfies ledger.Notifier for
// single-instance deployments.
func (h *Hub) Notify(_ context.Context, ev models.BalanceEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("encode balance event", zap.Error(err))
		return
	}
	h.Deliver(ev.UserID, payload)
}
