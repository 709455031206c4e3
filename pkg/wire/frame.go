package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame type discriminators carried in the "type" field of every frame.
const (
	FrameNewMessage  = "new_message"
	FrameTyping      = "typing"
	FrameMessageRead = "message_read"
)

// ErrUnknownFrameType is returned by DecodeFrame for a type the protocol does
// not define. Callers drop such frames.
var ErrUnknownFrameType = errors.New("unknown frame type")

// Frame is the envelope for every event on the streaming transport. Payload
// holds the raw frame body so handlers can decode their own typed view.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"-"`
}

// NewMessageFrame is the inbound authoritative-message event.
type NewMessageFrame struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// TypingFrame is sent in both directions. Outbound frames carry RecipientID
// so the server can route; inbound frames carry UserName for display.
type TypingFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	UserName       string `json:"user_name,omitempty"`
	RecipientID    string `json:"recipient_id,omitempty"`
}

// MessageReadFrame signals that ReadBy has read the conversation. Outbound
// frames additionally carry RecipientID for routing.
type MessageReadFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	ReadBy         string `json:"read_by"`
	RecipientID    string `json:"recipient_id,omitempty"`
}

// DecodeFrame parses one raw transport frame into its envelope. The payload
// is kept verbatim for the handler to unmarshal into the typed frame struct.
func DecodeFrame(data []byte) (Frame, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	switch env.Type {
	case FrameNewMessage, FrameTyping, FrameMessageRead:
		return Frame{Type: env.Type, Payload: data}, nil
	default:
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownFrameType, env.Type)
	}
}
