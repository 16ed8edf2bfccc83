package hub

import (
	"fmt"

	"github.com/google/uuid"
)

// Broadcast delivers payload to every registered connection except exclude
// (uuid.Nil excludes nobody). It returns the number of successful deliveries.
func (h *Hub) Broadcast(payload []byte, exclude uuid.UUID) int {
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.conns))
	for id, rec := range h.conns {
		if id != exclude {
			targets = append(targets, rec.conn)
		}
	}
	h.mu.RUnlock()

	return h.deliver(targets, payload)
}

// BroadcastToRoom delivers payload to the members of room except exclude.
// A room that does not exist has no members, so nothing is sent.
func (h *Hub) BroadcastToRoom(room string, payload []byte, exclude uuid.UUID) int {
	h.mu.RLock()
	members := h.rooms[room]
	targets := make([]Conn, 0, len(members))
	for id := range members {
		if id == exclude {
			continue
		}
		if rec, ok := h.conns[id]; ok {
			targets = append(targets, rec.conn)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}
	return h.deliver(targets, payload)
}

// SendTo delivers payload to a single connection. A failed send unregisters
// the connection.
func (h *Hub) SendTo(id uuid.UUID, payload []byte) error {
	h.mu.RLock()
	rec, ok := h.conns[id]
	h.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}

	if err := rec.conn.Send(payload); err != nil {
		h.metrics.ObserveDelivery(0, 1)
		h.Unregister(id)
		return fmt.Errorf("hub: send to %s: %w", id, err)
	}
	h.metrics.ObserveDelivery(1, 0)
	return nil
}

// deliver sends payload to each target without holding the lock. Targets
// that fail are collected and unregistered only after the full pass.
func (h *Hub) deliver(targets []Conn, payload []byte) int {
	var failed []uuid.UUID
	for _, c := range targets {
		if err := c.Send(payload); err != nil {
			h.logger.Warn("hub: delivery failed", "client_id", c.ID(), "err", err)
			failed = append(failed, c.ID())
		}
	}

	delivered := len(targets) - len(failed)
	h.metrics.ObserveDelivery(delivered, len(failed))
	h.logger.Debug("hub: broadcast", "targets", len(targets), "delivered", delivered)

	h.removeAll(failed)
	return delivered
}
