// Package hub coordinates connection registration, room membership, message
// fan-out, and connection cleanup for the real-time channel.
package hub

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/foundryhub/internal/metrics"
)

// ErrUnknownConnection is returned for operations on an identity that is not
// registered.
var ErrUnknownConnection = errors.New("hub: unknown connection")

// Conn is the hub's view of one persistent client channel. Send must not
// block; a connection that cannot accept a message returns an error and is
// removed by the hub.
type Conn interface {
	ID() uuid.UUID
	Send(payload []byte) error
	Close() error
}

// ConnInfo is a read-only snapshot of a registered connection.
type ConnInfo struct {
	ID        uuid.UUID
	Rooms     []string
	CreatedAt time.Time
}

type record struct {
	conn      Conn
	rooms     map[string]struct{}
	createdAt time.Time
}

// Hub owns the connection registry and the room index. Both are guarded by
// one mutex so that a connection and its room memberships always change
// together: every room member is registered, and unregistering removes the
// identity from every room.
type Hub struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*record
	rooms map[string]map[uuid.UUID]struct{}

	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates an empty Hub. m may be nil.
func New(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:   make(map[uuid.UUID]*record),
		rooms:   make(map[string]map[uuid.UUID]struct{}),
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Register adds c with an empty room set. Callers guarantee that c.ID() is
// unique.
func (h *Hub) Register(c Conn) {
	h.mu.Lock()
	h.conns[c.ID()] = &record{
		conn:      c,
		rooms:     make(map[string]struct{}),
		createdAt: h.now(),
	}
	count, rooms := len(h.conns), len(h.rooms)
	h.mu.Unlock()

	h.metrics.ConnectionAccepted()
	h.metrics.SetTopology(count, rooms)
	h.logger.Info("hub: connection registered", "client_id", c.ID(), "total", count)
}

// Unregister removes the connection, leaves every room it joined and closes
// it. Unregistering an unknown identity is a no-op. It reports whether the
// connection was registered.
func (h *Hub) Unregister(id uuid.UUID) bool {
	return h.removeAll([]uuid.UUID{id}) > 0
}

// removeAll unregisters ids under a single lock and closes the removed
// connections after releasing it.
func (h *Hub) removeAll(ids []uuid.UUID) int {
	if len(ids) == 0 {
		return 0
	}

	h.mu.Lock()
	var removed []Conn
	for _, id := range ids {
		rec, ok := h.conns[id]
		if !ok {
			continue
		}
		for room := range rec.rooms {
			h.dropMemberLocked(room, id)
		}
		delete(h.conns, id)
		removed = append(removed, rec.conn)
	}
	count, rooms := len(h.conns), len(h.rooms)
	h.mu.Unlock()

	for _, c := range removed {
		if err := c.Close(); err != nil && !isExpectedCloseError(err) {
			h.logger.Warn("hub: error closing connection", "client_id", c.ID(), "err", err)
		}
		h.logger.Info("hub: connection unregistered", "client_id", c.ID(), "total", count)
	}
	if len(removed) > 0 {
		h.metrics.SetTopology(count, rooms)
	}
	return len(removed)
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Info returns a snapshot of the connection's metadata.
func (h *Hub) Info(id uuid.UUID) (ConnInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rec, ok := h.conns[id]
	if !ok {
		return ConnInfo{}, false
	}
	return ConnInfo{ID: id, Rooms: sortedKeys(rec.rooms), CreatedAt: rec.createdAt}, true
}

// Stats returns the number of connections and non-empty rooms.
func (h *Hub) Stats() (connections, rooms int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns), len(h.rooms)
}

// Close unregisters and closes every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	ids := make([]uuid.UUID, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	h.logger.Info("hub: closing all connections", "count", len(ids))
	h.removeAll(ids)
}
