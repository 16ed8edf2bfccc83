package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/Tyrowin/foundryhub/internal/ai"
	"github.com/Tyrowin/foundryhub/internal/hub"
)

const maxBodyBytes = 64 << 10

// StatsResponse is the body of GET /api/ws/stats.
type StatsResponse struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	Rooms            map[string]int `json:"rooms"`
	RateLimitClients int            `json:"rate_limit_clients"`
}

// RoomBroadcastRequest is the body of POST /api/ws/rooms/{room}/broadcast.
type RoomBroadcastRequest struct {
	Message string `json:"message"`
}

// RoomBroadcastResponse reports how many members received the message.
type RoomBroadcastResponse struct {
	Room      string `json:"room"`
	Delivered int    `json:"delivered"`
}

// ChatRequest is the body of POST /api/ai/chat.
type ChatRequest struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	connections, rooms := s.hub.Stats()
	writeJSON(w, http.StatusOK, StatsResponse{
		TotalConnections: connections,
		ActiveRooms:      rooms,
		Rooms:            s.hub.RoomSizes(),
		RateLimitClients: s.limiter.Clients(),
	})
}

func (s *Server) handleListRooms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"rooms": s.hub.ListRooms()})
}

// handleRoomBroadcast pushes a server-originated broadcast into a room.
func (s *Server) handleRoomBroadcast(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]

	var req RoomBroadcastRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	payload := hub.Notification{
		Type:      hub.TypeBroadcast,
		Message:   req.Message,
		Room:      room,
		Timestamp: time.Now().UTC(),
	}.Encode()

	delivered := s.hub.BroadcastToRoom(room, payload, uuid.Nil)
	s.logger.Info("server: room broadcast", "room", room, "delivered", delivered)
	writeJSON(w, http.StatusOK, RoomBroadcastResponse{Room: room, Delivered: delivered})
}

func (s *Server) handleAIChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx := r.Context()
	if s.cfg.AI.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.AI.Timeout)
		defer cancel()
	}

	reply, err := s.responder.Chat(ctx, req.Message, req.Model)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, reply)
	case errors.Is(err, ai.ErrEmptyMessage), errors.Is(err, ai.ErrUnknownModel):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "ai_timeout", "AI service timed out")
	default:
		s.logger.Error("server: ai chat failed", "err", err)
		writeError(w, http.StatusBadGateway, "ai_unavailable", "AI service temporarily unavailable")
	}
}

func (s *Server) handleAIModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]ai.Model{"models": ai.Models()})
}

// decodeBody reads a JSON request body into v and writes a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body must be a JSON object")
		return false
	}
	return true
}
