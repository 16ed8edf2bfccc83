package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendQueue(t *testing.T) {
	c := NewClient(nil, nil, nil, "127.0.0.1:12345", ClientOptions{}, discardLogger())

	assert.Equal(t, StateConnecting, c.State())
	require.NoError(t, c.Send([]byte("one")))

	for i := 1; i < sendQueueSize; i++ {
		require.NoError(t, c.Send([]byte("fill")))
	}
	assert.ErrorIs(t, c.Send([]byte("overflow")), ErrSendQueueFull)

	assert.Equal(t, []byte("one"), <-c.send)
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	c := NewClient(nil, nil, nil, "127.0.0.1:12345", ClientOptions{}, discardLogger())
	c.setState(StateOpen)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.Send([]byte("late")), ErrConnClosed)

	c.setState(StateOpen)
	assert.Equal(t, StateClosed, c.State(), "closed is terminal")

	_, ok := <-c.send
	assert.False(t, ok, "send channel is closed")
}

func TestClient_IdentityIsUnique(t *testing.T) {
	a := NewClient(nil, nil, nil, "a", ClientOptions{}, discardLogger())
	b := NewClient(nil, nil, nil, "b", ClientOptions{}, discardLogger())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestClient_ThrottleOption(t *testing.T) {
	off := NewClient(nil, nil, nil, "a", ClientOptions{}, discardLogger())
	assert.Nil(t, off.throttle)

	on := NewClient(nil, nil, nil, "a", ClientOptions{ThrottleBurst: 2}, discardLogger())
	require.NotNil(t, on.throttle)
	assert.True(t, on.throttle.Allow())
	assert.True(t, on.throttle.Allow())
	assert.False(t, on.throttle.Allow())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(9).String())
}
