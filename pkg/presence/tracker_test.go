package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatsync/pkg/session"
	"chatsync/pkg/store"
	"chatsync/pkg/wire"
)

type fakeSender struct {
	frames []any
}

func (f *fakeSender) Send(frame any) {
	f.frames = append(f.frames, frame)
}

func newTracker(t *testing.T) (*Tracker, *store.Store, *fakeSender, *time.Time) {
	t.Helper()
	st := store.New()
	st.Track(wire.Conversation{ID: "c1", Participant: wire.UserRef{ID: "peer"}})

	sender := &fakeSender{}
	tr := NewTracker(st, session.New("token", "me", "Me"), sender, zap.NewNop().Sugar())

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }
	return tr, st, sender, &now
}

func TestTypingExpiry(t *testing.T) {
	tr, _, _, now := newTracker(t)
	tr.Touch("c1", "peer", "Peer")

	*now = now.Add(2999 * time.Millisecond)
	require.Len(t, tr.Typists("c1"), 1, "still visible just inside the TTL")

	*now = now.Add(2 * time.Millisecond)
	require.Empty(t, tr.Typists("c1"), "gone at t+3001ms")
}

func TestTypingRefreshExtendsVisibility(t *testing.T) {
	tr, _, _, now := newTracker(t)
	tr.Touch("c1", "peer", "Peer")

	// A refreshing frame near expiry restarts the window; no flicker.
	*now = now.Add(2900 * time.Millisecond)
	tr.Touch("c1", "peer", "Peer")

	*now = now.Add(2 * time.Second)
	require.Len(t, tr.Typists("c1"), 1)
}

func TestSweepEvictsStaleEntries(t *testing.T) {
	tr, _, _, now := newTracker(t)
	tr.Touch("c1", "peer", "Peer")

	*now = now.Add(4 * time.Second)
	tr.sweep()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Empty(t, tr.typing)
}

func TestHandleTyping_IgnoresOwnFrames(t *testing.T) {
	tr, _, _, _ := newTracker(t)

	tr.HandleTyping([]byte(`{"type":"typing","conversation_id":"c1","user_id":"me","user_name":"Me"}`))
	require.Empty(t, tr.Typists("c1"))

	tr.HandleTyping([]byte(`{"type":"typing","conversation_id":"c1","user_id":"peer","user_name":"Peer"}`))
	require.Len(t, tr.Typists("c1"), 1)
}

func TestHandleTyping_MalformedDropped(t *testing.T) {
	tr, _, _, _ := newTracker(t)
	tr.HandleTyping([]byte(`{"type":`))
	require.Empty(t, tr.Typists("c1"))
}

func TestHandleMessageRead_Direction(t *testing.T) {
	tr, st, _, _ := newTracker(t)
	st.Append("c1", wire.Message{ID: "m1", SenderID: "me"})
	st.Append("c1", wire.Message{ID: "m2", SenderID: "peer"})
	st.IncrementUnread("c1")

	tr.HandleMessageRead([]byte(`{"type":"message_read","conversation_id":"c1","read_by":"peer"}`))

	msgs := st.Messages("c1")
	require.True(t, msgs[0].IsRead, "my sent message becomes read")
	require.False(t, msgs[1].IsRead, "never the other direction")
	require.Equal(t, 0, st.UnreadCount("c1"))
}

func TestNotifyTyping_FrameShape(t *testing.T) {
	tr, _, sender, _ := newTracker(t)

	tr.NotifyTyping("c1", "peer")

	require.Len(t, sender.frames, 1)
	frame, ok := sender.frames[0].(wire.TypingFrame)
	require.True(t, ok)
	require.Equal(t, wire.FrameTyping, frame.Type)
	require.Equal(t, "c1", frame.ConversationID)
	require.Equal(t, "me", frame.UserID)
	require.Equal(t, "peer", frame.RecipientID)
}

func TestNotifyRead_FrameShape(t *testing.T) {
	tr, _, sender, _ := newTracker(t)

	tr.NotifyRead("c1", "peer")

	require.Len(t, sender.frames, 1)
	frame, ok := sender.frames[0].(wire.MessageReadFrame)
	require.True(t, ok)
	require.Equal(t, wire.FrameMessageRead, frame.Type)
	require.Equal(t, "me", frame.ReadBy)
	require.Equal(t, "peer", frame.RecipientID)
}
