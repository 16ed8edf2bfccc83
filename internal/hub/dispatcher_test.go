package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/foundryhub/internal/ai"
)

type stubResponder struct {
	mu        sync.Mutex
	reply     ai.Reply
	err       error
	block     bool
	calls     int
	deadlines []time.Time
}

func (s *stubResponder) Chat(ctx context.Context, message, model string) (ai.Reply, error) {
	s.mu.Lock()
	s.calls++
	if dl, ok := ctx.Deadline(); ok {
		s.deadlines = append(s.deadlines, dl)
	}
	block, reply, err := s.block, s.reply, s.err
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return ai.Reply{}, ctx.Err()
	}
	if err != nil {
		return ai.Reply{}, err
	}
	reply.Message = "AI: " + message
	if model != "" {
		reply.Model = model
	}
	return reply, nil
}

func newTestDispatcher(r ai.Responder, timeout time.Duration) (*Hub, *Dispatcher) {
	h := newTestHub()
	return h, NewDispatcher(h, r, timeout, discardLogger(), nil)
}

func TestDispatcher_Welcome(t *testing.T) {
	h, d := newTestDispatcher(nil, 0)
	a := newMockConn()
	h.Register(a)

	require.NoError(t, d.Welcome(a.ID()))

	got := a.notifications(t)
	require.Len(t, got, 1)
	assert.Equal(t, TypeWelcome, got[0].Type)
	assert.Equal(t, a.ID().String(), got[0].ClientID)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestDispatcher_MessageEchoAndBroadcast(t *testing.T) {
	h, d := newTestDispatcher(nil, 0)
	a, b := newMockConn(), newMockConn()
	h.Register(a)
	h.Register(b)

	ctx := context.Background()
	d.Dispatch(ctx, a.ID(), []byte(`{"type":"join_room","room":"x"}`))
	d.Dispatch(ctx, b.ID(), []byte(`{"type":"join_room","room":"x"}`))
	d.Dispatch(ctx, a.ID(), []byte(`{"type":"message","message":"hi"}`))

	fromA := a.notifications(t)
	require.Len(t, fromA, 2)
	assert.Equal(t, TypeRoomJoined, fromA[0].Type)
	assert.Equal(t, "x", fromA[0].Room)
	assert.Equal(t, TypeEcho, fromA[1].Type)
	assert.Equal(t, "hi", fromA[1].Message)

	fromB := b.notifications(t)
	require.Len(t, fromB, 2)
	assert.Equal(t, TypeRoomJoined, fromB[0].Type)
	assert.Equal(t, TypeBroadcast, fromB[1].Type)
	assert.Equal(t, "hi", fromB[1].Message)
	assert.Equal(t, a.ID().String(), fromB[1].SenderID)
}

func TestDispatcher_MissingTypeIsMessage(t *testing.T) {
	h, d := newTestDispatcher(nil, 0)
	a := newMockConn()
	h.Register(a)

	d.Dispatch(context.Background(), a.ID(), []byte(`{"message":"plain"}`))

	got := a.notifications(t)
	require.Len(t, got, 1)
	assert.Equal(t, TypeEcho, got[0].Type)
	assert.Equal(t, "plain", got[0].Message)
}

func TestDispatcher_NonStringMessageIsEchoed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"number", `{"type":"message","message":42}`, "42"},
		{"bool", `{"message":true}`, "true"},
		{"object", `{"message":{ "a": [1, 2] }}`, `{"a":[1,2]}`},
		{"null", `{"message":null}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, d := newTestDispatcher(nil, 0)
			a, b := newMockConn(), newMockConn()
			h.Register(a)
			h.Register(b)

			d.Dispatch(context.Background(), a.ID(), []byte(tt.raw))

			got := a.notifications(t)
			require.Len(t, got, 1)
			assert.Equal(t, TypeEcho, got[0].Type)
			assert.Equal(t, tt.want, got[0].Message)

			atB := b.notifications(t)
			require.Len(t, atB, 1)
			assert.Equal(t, TypeBroadcast, atB[0].Type)
			assert.Equal(t, tt.want, atB[0].Message)
		})
	}
}

func TestDispatcher_LeaveNeverJoined(t *testing.T) {
	h, d := newTestDispatcher(nil, 0)
	a := newMockConn()
	h.Register(a)

	d.Dispatch(context.Background(), a.ID(), []byte(`{"type":"leave_room","room":"ghost"}`))

	got := a.notifications(t)
	require.Len(t, got, 1)
	assert.Equal(t, TypeRoomLeft, got[0].Type)
	assert.Equal(t, "ghost", got[0].Room)
	assert.Empty(t, h.ListRooms())
}

func TestDispatcher_ErrorReplies(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		message string
	}{
		{"malformed json", `{not json`, "Invalid message format: expected a JSON object"},
		{"json array", `["message"]`, "Invalid message format: expected a JSON object"},
		{"unknown type", `{"type":"dance"}`, "Unknown message type: dance"},
		{"join without room", `{"type":"join_room"}`, "Room name is required"},
		{"join blank room", `{"type":"join_room","room":"   "}`, "Room name is required"},
		{"leave without room", `{"type":"leave_room"}`, "Room name is required"},
		{"ai without responder", `{"type":"ai_chat","message":"hi"}`, "AI service is not configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, d := newTestDispatcher(nil, 0)
			a := newMockConn()
			h.Register(a)

			d.Dispatch(context.Background(), a.ID(), []byte(tt.raw))

			got := a.notifications(t)
			require.Len(t, got, 1)
			assert.Equal(t, TypeError, got[0].Type)
			assert.Equal(t, tt.message, got[0].Message)
			assert.Equal(t, 1, h.Count(), "errors must not close the connection")
		})
	}
}

func TestDispatcher_AIChat(t *testing.T) {
	stamp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := &stubResponder{reply: ai.Reply{ID: "chat-1714564800", Model: "gpt-3.5-turbo", Timestamp: stamp, Note: "placeholder"}}
	h, d := newTestDispatcher(r, time.Second)
	a, b := newMockConn(), newMockConn()
	h.Register(a)
	h.Register(b)

	d.Dispatch(context.Background(), a.ID(), []byte(`{"type":"ai_chat","message":"hello","model":"gpt-4"}`))
	d.Wait()

	got := a.notifications(t)
	require.Len(t, got, 1)
	assert.Equal(t, TypeAIResponse, got[0].Type)
	assert.Equal(t, "chat-1714564800", got[0].ID)
	assert.Equal(t, "AI: hello", got[0].Message)
	assert.Equal(t, "gpt-4", got[0].Model)
	assert.Equal(t, "placeholder", got[0].Note)
	assert.True(t, stamp.Equal(got[0].Timestamp))
	assert.Empty(t, b.getSent(), "ai responses go to the sender only")
}

func TestDispatcher_AIChatErrors(t *testing.T) {
	tests := []struct {
		name    string
		r       *stubResponder
		message string
	}{
		{"empty message", &stubResponder{err: ai.ErrEmptyMessage}, "AI request rejected: message must not be empty"},
		{"unknown model", &stubResponder{err: ai.ErrUnknownModel}, "AI request rejected: unknown model"},
		{"timeout", &stubResponder{block: true}, "AI service timed out"},
		{"other", &stubResponder{err: errors.New("boom")}, "AI service temporarily unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, d := newTestDispatcher(tt.r, 20*time.Millisecond)
			a := newMockConn()
			h.Register(a)

			d.Dispatch(context.Background(), a.ID(), []byte(`{"type":"ai_chat","message":"x"}`))
			d.Wait()

			got := a.notifications(t)
			require.Len(t, got, 1)
			assert.Equal(t, TypeError, got[0].Type)
			assert.Equal(t, tt.message, got[0].Message)
		})
	}
}

func TestDispatcher_AIChatDeadlinePerRequest(t *testing.T) {
	r := &stubResponder{}
	h, d := newTestDispatcher(r, time.Second)
	a := newMockConn()
	h.Register(a)

	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()

	for i := 0; i < 2; i++ {
		start := time.Now()
		d.Dispatch(ctx, a.ID(), []byte(`{"type":"ai_chat","message":"x"}`))
		d.Wait()

		r.mu.Lock()
		dl := r.deadlines[len(r.deadlines)-1]
		r.mu.Unlock()
		assert.WithinDuration(t, start.Add(time.Second), dl, 500*time.Millisecond, "request %d", i)
	}

	connDeadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.True(t, connDeadline.After(time.Now().Add(59*time.Minute)), "connection context is left untouched")
	assert.NoError(t, ctx.Err())
	assert.Len(t, a.notifications(t), 2)
}

func TestDispatcher_AIChatDoesNotBlockOthers(t *testing.T) {
	r := &stubResponder{block: true}
	h, d := newTestDispatcher(r, 0)
	a, b := newMockConn(), newMockConn()
	h.Register(a)
	h.Register(b)

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, a.ID(), []byte(`{"type":"ai_chat","message":"slow"}`))
	d.Dispatch(context.Background(), b.ID(), []byte(`{"type":"message","message":"fast"}`))

	got := b.notifications(t)
	require.Len(t, got, 1)
	assert.Equal(t, TypeEcho, got[0].Type)

	cancel()
	d.Wait()
}

func TestDispatcher_ReplyToDepartedConnection(t *testing.T) {
	_, d := newTestDispatcher(nil, 0)

	err := d.Welcome(uuid.New())
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestDispatcher_FailedEchoUnregisters(t *testing.T) {
	h, d := newTestDispatcher(nil, 0)
	bad, other := newFailingConn(), newMockConn()
	h.Register(bad)
	h.Register(other)

	d.Dispatch(context.Background(), bad.ID(), []byte(`{"type":"message","message":"lost"}`))

	assert.Equal(t, 1, h.Count())
	assert.Empty(t, other.getSent(), "broadcast is skipped once the sender is gone")
}
