package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/foundryhub/internal/ai"
	"github.com/Tyrowin/foundryhub/internal/metrics"
)

const welcomeMessage = "Connected to AI Foundry Go Backend"

// Dispatcher interprets inbound messages on a connection and turns them into
// room operations, broadcasts, or AI requests. Replies go through the hub so
// that a failed reply removes the connection like any other failed delivery.
type Dispatcher struct {
	hub       *Hub
	responder ai.Responder
	aiTimeout time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	inflight sync.WaitGroup
}

// NewDispatcher returns a Dispatcher operating on h. AI requests are bounded
// by aiTimeout; zero means no bound beyond the connection's lifetime.
func NewDispatcher(h *Hub, responder ai.Responder, aiTimeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		hub:       h,
		responder: responder,
		aiTimeout: aiTimeout,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// Welcome sends the greeting that marks the connection as open.
func (d *Dispatcher) Welcome(id uuid.UUID) error {
	return d.reply(id, Notification{
		Type:     TypeWelcome,
		Message:  welcomeMessage,
		ClientID: id.String(),
	})
}

// Dispatch handles one raw inbound frame from connection id. ctx is the
// connection's lifetime; asynchronous work started here is cancelled with it.
// A malformed or unknown message yields an error reply and never closes the
// connection.
func (d *Dispatcher) Dispatch(ctx context.Context, id uuid.UUID, raw []byte) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		d.logger.Debug("dispatch: invalid message", "client_id", id, "err", err)
		d.metrics.MessageReceived("invalid")
		d.replyError(id, "Invalid message format: expected a JSON object")
		return
	}
	if in.Type == "" {
		in.Type = TypeMessage
	}

	switch in.Type {
	case TypeMessage:
		d.metrics.MessageReceived(in.Type)
		d.handleMessage(id, in)
	case TypeAIChat:
		d.metrics.MessageReceived(in.Type)
		d.handleAIChat(ctx, id, in)
	case TypeJoinRoom:
		d.metrics.MessageReceived(in.Type)
		d.handleJoinRoom(id, in)
	case TypeLeaveRoom:
		d.metrics.MessageReceived(in.Type)
		d.handleLeaveRoom(id, in)
	default:
		d.metrics.MessageReceived("unknown")
		d.replyError(id, fmt.Sprintf("Unknown message type: %s", in.Type))
	}
}

// Wait blocks until every in-flight AI request has finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

func (d *Dispatcher) handleMessage(id uuid.UUID, in Inbound) {
	if err := d.reply(id, Notification{Type: TypeEcho, Message: string(in.Message)}); err != nil {
		return
	}

	n := d.hub.Broadcast(Notification{
		Type:      TypeBroadcast,
		Message:   string(in.Message),
		SenderID:  id.String(),
		Timestamp: d.now().UTC(),
	}.Encode(), id)
	d.logger.Debug("dispatch: message broadcast", "client_id", id, "recipients", n)
}

// handleAIChat runs the responder in its own goroutine so the read loop keeps
// serving the connection while the request is pending.
func (d *Dispatcher) handleAIChat(ctx context.Context, id uuid.UUID, in Inbound) {
	if d.responder == nil {
		d.replyError(id, "AI service is not configured")
		return
	}

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()

		reqCtx := ctx
		if d.aiTimeout > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, d.aiTimeout)
			defer cancel()
		}

		reply, err := d.responder.Chat(reqCtx, string(in.Message), in.Model)
		if err != nil {
			d.logger.Warn("dispatch: ai chat failed", "client_id", id, "err", err)
			d.replyError(id, aiErrorMessage(err))
			return
		}

		_ = d.reply(id, Notification{
			Type:      TypeAIResponse,
			ID:        reply.ID,
			Message:   reply.Message,
			Model:     reply.Model,
			Note:      reply.Note,
			Timestamp: reply.Timestamp,
		})
	}()
}

func (d *Dispatcher) handleJoinRoom(id uuid.UUID, in Inbound) {
	room := strings.TrimSpace(in.Room)
	if err := d.hub.Join(id, room); err != nil {
		if errors.Is(err, ErrEmptyRoom) {
			d.replyError(id, "Room name is required")
			return
		}
		d.logger.Warn("dispatch: join failed", "client_id", id, "room", room, "err", err)
		return
	}
	_ = d.reply(id, Notification{Type: TypeRoomJoined, Room: room})
}

func (d *Dispatcher) handleLeaveRoom(id uuid.UUID, in Inbound) {
	room := strings.TrimSpace(in.Room)
	if room == "" {
		d.replyError(id, "Room name is required")
		return
	}
	d.hub.Leave(id, room)
	_ = d.reply(id, Notification{Type: TypeRoomLeft, Room: room})
}

func (d *Dispatcher) replyError(id uuid.UUID, msg string) {
	_ = d.reply(id, Notification{Type: TypeError, Message: msg})
}

// reply stamps n and sends it to id only.
func (d *Dispatcher) reply(id uuid.UUID, n Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = d.now().UTC()
	}
	err := d.hub.SendTo(id, n.Encode())
	if err != nil && !errors.Is(err, ErrUnknownConnection) {
		d.logger.Warn("dispatch: reply failed", "client_id", id, "type", n.Type, "err", err)
	}
	return err
}

func aiErrorMessage(err error) string {
	switch {
	case errors.Is(err, ai.ErrEmptyMessage):
		return "AI request rejected: message must not be empty"
	case errors.Is(err, ai.ErrUnknownModel):
		return "AI request rejected: unknown model"
	case errors.Is(err, context.DeadlineExceeded):
		return "AI service timed out"
	default:
		return "AI service temporarily unavailable"
	}
}
