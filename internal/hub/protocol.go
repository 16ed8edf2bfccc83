package hub

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Inbound message types.
const (
	TypeMessage   = "message"
	TypeAIChat    = "ai_chat"
	TypeJoinRoom  = "join_room"
	TypeLeaveRoom = "leave_room"
)

// Outbound notification types.
const (
	TypeWelcome    = "welcome"
	TypeEcho       = "echo"
	TypeBroadcast  = "broadcast"
	TypeAIResponse = "ai_response"
	TypeRoomJoined = "room_joined"
	TypeRoomLeft   = "room_left"
	TypeError      = "error"
)

// Inbound is a client-to-server message. Type defaults to "message" when
// absent.
type Inbound struct {
	Type    string `json:"type"`
	Message Text   `json:"message,omitempty"`
	Model   string `json:"model,omitempty"`
	Room    string `json:"room,omitempty"`
}

// Text is the payload of an inbound message. A JSON string decodes to its
// value; any other JSON value is kept as its compact JSON text, so a client
// sending {"message": 42} gets "42" echoed back.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return err
	}
	*t = Text(buf.String())
	return nil
}

// Notification is a server-to-client message. Every notification carries a
// type and a UTC timestamp; the remaining fields depend on the type.
type Notification struct {
	Type      string    `json:"type"`
	Message   string    `json:"message,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	SenderID  string    `json:"sender_id,omitempty"`
	Room      string    `json:"room,omitempty"`
	ID        string    `json:"id,omitempty"`
	Model     string    `json:"model,omitempty"`
	Note      string    `json:"note,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Encode marshals n. Notifications contain only strings and a time, so
// marshalling cannot fail.
func (n Notification) Encode() []byte {
	b, _ := json.Marshal(n)
	return b
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
