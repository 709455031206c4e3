// Package store keeps the per-conversation message logs and preview state.
//
// There is exactly one copy of each conversation; the "active conversation"
// and the floating "open windows" list are derived views over the same
// normalized map, so a mutation can never leave two copies diverged.
package store

import (
	"sync"
	"time"

	"chatsync/pkg/wire"
)

// Store is the in-memory conversation state. All methods are safe for
// concurrent use; each mutation is atomic with respect to readers.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*wire.Conversation
	order         []string // hydration/creation order
	activeID      string
	openWindows   []string
}

// New creates an empty store.
func New() *Store {
	return &Store{conversations: make(map[string]*wire.Conversation)}
}

// Hydrate replaces the conversation set from a list-conversations fetch.
// Message logs of conversations already tracked are preserved; only preview
// fields are refreshed for those.
func (s *Store) Hydrate(convs []wire.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range convs {
		if existing, ok := s.conversations[c.ID]; ok {
			existing.Participant = c.Participant
			existing.UnreadCount = c.UnreadCount
			existing.LastMessage = c.LastMessage
			existing.LastMessageTime = c.LastMessageTime
			existing.LastMessageSenderID = c.LastMessageSenderID
			continue
		}
		cc := c
		cc.Messages = append([]wire.Message(nil), c.Messages...)
		s.conversations[c.ID] = &cc
		s.order = append(s.order, c.ID)
	}
}

// Track registers a conversation created on first contact. Existing
// conversations are left untouched.
func (s *Store) Track(conv wire.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conv.ID]; ok {
		return
	}
	cc := conv
	cc.Messages = append([]wire.Message(nil), conv.Messages...)
	s.conversations[conv.ID] = &cc
	s.order = append(s.order, conv.ID)
}

// Tracked reports whether the conversation is known to the store.
func (s *Store) Tracked(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conversations[conversationID]
	return ok
}

// Append adds a message to the end of the conversation's log. Returns false
// if the conversation is not tracked; such messages are dropped, not buffered.
func (s *Store) Append(conversationID string, msg wire.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return false
	}
	conv.Messages = append(conv.Messages, msg)
	return true
}

// Replace swaps the first message matching pred with msg, preserving its
// position in the log. Returns false if no entry matched.
func (s *Store) Replace(conversationID string, pred func(wire.Message) bool, msg wire.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return false
	}
	for i, m := range conv.Messages {
		if pred(m) {
			conv.Messages[i] = msg
			return true
		}
	}
	return false
}

// Prepend inserts older history ahead of the current log.
func (s *Store) Prepend(conversationID string, msgs []wire.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	merged := make([]wire.Message, 0, len(msgs)+len(conv.Messages))
	merged = append(merged, msgs...)
	merged = append(merged, conv.Messages...)
	conv.Messages = merged
}

// MergeInitial replaces the log with batch (log order), then re-appends the
// existing entries that match keep and whose ids are not already in the
// batch. Filtering and swap happen under one lock, so a message appended
// concurrently is either part of the old log the merge sees or lands after
// the swap; it is never silently overwritten.
func (s *Store) MergeInitial(conversationID string, batch []wire.Message, keep func(wire.Message) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	fetched := make(map[string]bool, len(batch))
	for _, m := range batch {
		fetched[m.ID] = true
	}
	merged := append([]wire.Message(nil), batch...)
	for _, m := range conv.Messages {
		if !fetched[m.ID] && keep(m) {
			merged = append(merged, m)
		}
	}
	conv.Messages = merged
}

// Messages returns a copy of the conversation's log in arrival order.
func (s *Store) Messages(conversationID string) []wire.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	return append([]wire.Message(nil), conv.Messages...)
}

// Find returns a copy of the first message matching pred.
func (s *Store) Find(conversationID string, pred func(wire.Message) bool) (wire.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return wire.Message{}, false
	}
	for _, m := range conv.Messages {
		if pred(m) {
			return m, true
		}
	}
	return wire.Message{}, false
}

// SetStatus updates the local delivery status of the message with the given
// id. is_read and log position are untouched.
func (s *Store) SetStatus(conversationID, messageID string, status wire.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	for i := range conv.Messages {
		if conv.Messages[i].ID == messageID {
			conv.Messages[i].Status = status
			return
		}
	}
}

// Oldest returns the created_at of the oldest loaded message, used as the
// backward-pagination cursor.
func (s *Store) Oldest(conversationID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok || len(conv.Messages) == 0 {
		return time.Time{}, false
	}
	return conv.Messages[0].CreatedAt, true
}

// MarkRead flips is_read on every message authored by otherUserID. It never
// downgrades is_read and leaves other senders' messages untouched.
func (s *Store) MarkRead(conversationID, otherUserID string) {
	s.markWhere(conversationID, func(m wire.Message) bool { return m.SenderID == otherUserID })
}

// MarkReadBy handles an inbound read receipt: every message NOT authored by
// readBy becomes read ("my own sent messages become read"). Also resets the
// unread counter.
func (s *Store) MarkReadBy(conversationID, readBy string) {
	s.markWhere(conversationID, func(m wire.Message) bool { return m.SenderID != readBy })
	s.ResetUnread(conversationID)
}

func (s *Store) markWhere(conversationID string, pred func(wire.Message) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	for i := range conv.Messages {
		if pred(conv.Messages[i]) {
			conv.Messages[i].IsRead = true
		}
	}
}

// ResetUnread sets the unread counter to exactly 0. The counter is never
// decremented by any other path.
func (s *Store) ResetUnread(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[conversationID]; ok {
		conv.UnreadCount = 0
	}
}

// IncrementUnread bumps the unread counter by one.
func (s *Store) IncrementUnread(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[conversationID]; ok {
		conv.UnreadCount++
	}
}

// UnreadCount returns the current unread counter.
func (s *Store) UnreadCount(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if conv, ok := s.conversations[conversationID]; ok {
		return conv.UnreadCount
	}
	return 0
}

// UpsertSummary updates the conversation preview fields.
func (s *Store) UpsertSummary(conversationID string, sum wire.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	conv.LastMessage = sum.LastMessage
	conv.LastMessageTime = sum.LastMessageTime
	conv.LastMessageSenderID = sum.LastMessageSenderID
}

// SetActive marks the conversation the user is currently viewing. An empty
// id clears the focus.
func (s *Store) SetActive(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = conversationID
}

// Active returns the id of the conversation in focus, or "".
func (s *Store) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// OpenWindow adds the conversation to the floating windows view. Opening an
// already open window is a no-op.
func (s *Store) OpenWindow(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.openWindows {
		if id == conversationID {
			return
		}
	}
	s.openWindows = append(s.openWindows, conversationID)
}

// CloseWindow removes the conversation from the floating windows view. The
// conversation itself stays tracked; only the view shrinks.
func (s *Store) CloseWindow(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range s.openWindows {
		if id == conversationID {
			s.openWindows = append(s.openWindows[:i], s.openWindows[i+1:]...)
			return
		}
	}
}

// OpenWindows returns the ordered ids of the floating windows view.
func (s *Store) OpenWindows() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.openWindows...)
}

// Conversation returns a deep copy of one conversation.
func (s *Store) Conversation(conversationID string) (wire.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return wire.Conversation{}, false
	}
	cc := *conv
	cc.Messages = append([]wire.Message(nil), conv.Messages...)
	return cc, true
}

// Snapshot returns deep copies of all conversations in creation order.
func (s *Store) Snapshot() []wire.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wire.Conversation, 0, len(s.order))
	for _, id := range s.order {
		conv := s.conversations[id]
		cc := *conv
		cc.Messages = append([]wire.Message(nil), conv.Messages...)
		out = append(out, cc)
	}
	return out
}
