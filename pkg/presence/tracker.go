// Package presence tracks ephemeral typing indicators and applies inbound
// read receipts.
//
// Typing state is modeled as a last-seen timestamp with a periodic sweep
// rather than one-shot timers per frame, so a refreshing frame always
// extends visibility instead of racing an earlier frame's expiry.
package presence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatsync/pkg/archive"
	"chatsync/pkg/session"
	"chatsync/pkg/store"
	"chatsync/pkg/wire"
)

const (
	// typingTTL is how long a typing indicator stays visible without a
	// refreshing frame.
	typingTTL = 3 * time.Second

	sweepInterval = time.Second
)

// Typist is one user currently typing in a conversation.
type Typist struct {
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name"`
	ReceivedAt time.Time `json:"received_at"`
}

// FrameSender sends outbound frames on the streaming transport.
type FrameSender interface {
	Send(frame any)
}

// Tracker holds typing state and routes read receipts into the store.
type Tracker struct {
	store   *store.Store
	session *session.Session
	sender  FrameSender
	log     *zap.SugaredLogger
	arch    archive.Store // optional; if nil, persistence is skipped
	now     func() time.Time

	mu     sync.Mutex
	typing map[string]map[string]Typist // conversation id -> user id

	stop chan struct{}
	once sync.Once
}

// NewTracker creates a tracker. Call Start to run the expiry sweep.
func NewTracker(st *store.Store, sess *session.Session, sender FrameSender, log *zap.SugaredLogger) *Tracker {
	return &Tracker{
		store:   st,
		session: sess,
		sender:  sender,
		log:     log,
		now:     time.Now,
		typing:  make(map[string]map[string]Typist),
		stop:    make(chan struct{}),
	}
}

// SetArchive injects the optional message archive for read-state mirroring.
func (t *Tracker) SetArchive(a archive.Store) {
	t.arch = a
}

// Start runs the background sweep that evicts expired typing entries.
func (t *Tracker) Start() {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				t.sweep()
			}
		}
	}()
}

// Stop terminates the sweep goroutine.
func (t *Tracker) Stop() {
	t.once.Do(func() { close(t.stop) })
}

// NotifyTyping broadcasts that the local user is typing. Throttling is the
// caller's responsibility; one keystroke may produce one frame.
func (t *Tracker) NotifyTyping(conversationID, recipientID string) {
	t.sender.Send(wire.TypingFrame{
		Type:           wire.FrameTyping,
		ConversationID: conversationID,
		UserID:         t.session.UserID(),
		RecipientID:    recipientID,
	})
}

// NotifyRead broadcasts that the local user has read the conversation.
func (t *Tracker) NotifyRead(conversationID, recipientID string) {
	t.sender.Send(wire.MessageReadFrame{
		Type:           wire.FrameMessageRead,
		ConversationID: conversationID,
		ReadBy:         t.session.UserID(),
		RecipientID:    recipientID,
	})
}

// HandleTyping consumes an inbound typing frame.
func (t *Tracker) HandleTyping(payload []byte) {
	var frame wire.TypingFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.log.Warnw("dropping malformed typing frame", "error", err)
		return
	}
	if frame.UserID == t.session.UserID() {
		return
	}
	t.Touch(frame.ConversationID, frame.UserID, frame.UserName)
}

// Touch records (or refreshes) a typing entry with received_at = now.
func (t *Tracker) Touch(conversationID, userID, userName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byUser, ok := t.typing[conversationID]
	if !ok {
		byUser = make(map[string]Typist)
		t.typing[conversationID] = byUser
	}
	byUser[userID] = Typist{UserID: userID, UserName: userName, ReceivedAt: t.now()}
}

// Typists returns who is currently typing in the conversation. Entries older
// than the TTL are filtered at query time, so expiry is exact even between
// sweeps.
func (t *Tracker) Typists(conversationID string) []Typist {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var out []Typist
	for _, ty := range t.typing[conversationID] {
		if now.Sub(ty.ReceivedAt) < typingTTL {
			out = append(out, ty)
		}
	}
	return out
}

// HandleMessageRead consumes an inbound read receipt: every message in the
// conversation not authored by read_by becomes read, and the unread counter
// resets to 0.
func (t *Tracker) HandleMessageRead(payload []byte) {
	var frame wire.MessageReadFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.log.Warnw("dropping malformed message_read frame", "error", err)
		return
	}
	t.store.MarkReadBy(frame.ConversationID, frame.ReadBy)

	if t.arch != nil {
		if err := t.arch.MarkConversationRead(context.Background(), frame.ConversationID, frame.ReadBy); err != nil {
			t.log.Warnw("archive read-state update failed",
				"conversation_id", frame.ConversationID, "error", err)
		}
	}
}

func (t *Tracker) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for convID, byUser := range t.typing {
		for userID, ty := range byUser {
			if now.Sub(ty.ReceivedAt) >= typingTTL {
				delete(byUser, userID)
			}
		}
		if len(byUser) == 0 {
			delete(t.typing, convID)
		}
	}
}
