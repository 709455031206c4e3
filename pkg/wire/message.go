package wire

import (
	"strings"
	"time"
)

// MessageType identifies the payload kind of a chat message.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeFile  MessageType = "file"
)

// Status is the local delivery state of a message. Confirmed messages come
// from the server; pending and failed only ever describe locally created
// entries that have not been (or could not be) persisted.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Message is one chat message as exchanged with the backend.
//
// The same logical message can exist in two provenance states: provisional
// (client-generated decimal counter id, assigned on optimistic send) and
// confirmed (server-assigned UUID). The Status field is local bookkeeping and
// is not part of the wire schema.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Content        string      `json:"content"`
	MessageType    MessageType `json:"message_type"`
	FileURL        string      `json:"file_url,omitempty"`
	FileName       string      `json:"file_name,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	IsRead         bool        `json:"is_read"`
	Status         Status      `json:"-"`
}

// IsConfirmedID reports whether id was assigned by the server. Server ids are
// UUIDs; locally assigned provisional ids are bare decimal counters, so the
// presence of a hyphen is the discriminator.
func IsConfirmedID(id string) bool {
	return strings.Contains(id, "-")
}

// Confirmed reports whether the message carries a server-assigned id.
func (m Message) Confirmed() bool {
	return IsConfirmedID(m.ID)
}

// UserRef identifies the peer participant of a conversation.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Conversation is the client view of one two-party conversation.
type Conversation struct {
	ID                  string    `json:"id"`
	Participant         UserRef   `json:"participant"`
	Messages            []Message `json:"messages"`
	UnreadCount         int       `json:"unread_count"`
	LastMessage         string    `json:"last_message"`
	LastMessageTime     time.Time `json:"last_message_time"`
	LastMessageSenderID string    `json:"last_message_sender_id"`
}

// Summary is a partial update of a conversation's preview fields. Zero-value
// fields are applied as-is; callers set all three together.
type Summary struct {
	LastMessage         string
	LastMessageTime     time.Time
	LastMessageSenderID string
}
