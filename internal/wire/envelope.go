// Package wire defines the JSON frames exchanged over the chat websocket.
//
// Client to server: join, leave, sendMessage.
// Server to client: messages (room snapshot), message (live), ack, error.
package wire

import (
	"encoding/json"

	"github.com/taskboard/taskchat/internal/domain"
)

const (
	EventJoin        = "join"
	EventLeave       = "leave"
	EventSendMessage = "sendMessage"

	EventMessages = "messages"
	EventMessage  = "message"
	EventAck      = "ack"
	EventError    = "error"
)

// Envelope is one websocket text frame. AckID pairs a sendMessage with its
// ack or error.
type Envelope struct {
	Event  string          `json:"event"`
	ChatID domain.ChatID   `json:"chatId,omitempty"`
	AckID  string          `json:"ackId,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Encode marshals data into an envelope. A nil data leaves Data empty.
func Encode(event string, chatID domain.ChatID, ackID string, data any) ([]byte, error) {
	env := Envelope{Event: event, ChatID: chatID, AckID: ackID}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// EncodeError builds an error frame, optionally tied to a pending ack.
func EncodeError(chatID domain.ChatID, ackID, msg string) []byte {
	b, _ := json.Marshal(Envelope{Event: EventError, ChatID: chatID, AckID: ackID, Error: msg})
	return b
}

func Decode(b []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(b, &env)
	return env, err
}
