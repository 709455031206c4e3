package engine

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatsync/pkg/conn"
	"chatsync/pkg/rest"
	"chatsync/pkg/session"
	"chatsync/pkg/wire"
)

// fakeBackend is a hand-rolled Backend double recording every call.
type fakeBackend struct {
	conversations []wire.Conversation
	history       []wire.Message // newest-first page
	uploadRes     rest.UploadResult

	sendErr error

	sent      []rest.SendMessageRequest
	markReads [][2]string
	created   []string
	uploads   []string
}

func (f *fakeBackend) ListConversations(_ context.Context) ([]wire.Conversation, error) {
	return f.conversations, nil
}

func (f *fakeBackend) GetMessages(_ context.Context, _ string, _ int, _ time.Time) ([]wire.Message, error) {
	return f.history, nil
}

func (f *fakeBackend) CreateConversation(_ context.Context, participantID string) (wire.Conversation, error) {
	f.created = append(f.created, participantID)
	return wire.Conversation{
		ID:          "conv-" + participantID,
		Participant: wire.UserRef{ID: participantID, Name: "Peer"},
	}, nil
}

func (f *fakeBackend) SendMessage(_ context.Context, req rest.SendMessageRequest) error {
	f.sent = append(f.sent, req)
	return f.sendErr
}

func (f *fakeBackend) MarkRead(_ context.Context, conversationID, otherUserID string) error {
	f.markReads = append(f.markReads, [2]string{conversationID, otherUserID})
	return nil
}

func (f *fakeBackend) Upload(_ context.Context, fileName string, _ io.Reader) (rest.UploadResult, error) {
	f.uploads = append(f.uploads, fileName)
	return f.uploadRes, nil
}

func newEngine(t *testing.T, backend *fakeBackend) *Engine {
	t.Helper()
	sess := session.New("tok", "me", "Me")
	log := zap.NewNop().Sugar()
	transport := conn.NewManager(conn.Config{BaseURL: "ws://127.0.0.1:1"}, sess, log)
	e := New(sess, transport, backend, log)
	e.store.Track(wire.Conversation{ID: "c1", Participant: wire.UserRef{ID: "peer", Name: "Peer"}})
	return e
}

func TestSendText_OptimisticAppend(t *testing.T) {
	backend := &fakeBackend{}
	e := newEngine(t, backend)

	msg, err := e.SendText(context.Background(), "c1", "hello")
	require.NoError(t, err)

	require.False(t, msg.Confirmed(), "provisional id has no hyphen")
	require.Equal(t, wire.StatusPending, msg.Status)
	require.Equal(t, "me", msg.SenderID)

	msgs := e.store.Messages("c1")
	require.Len(t, msgs, 1)
	require.Equal(t, msg.ID, msgs[0].ID)

	require.Len(t, backend.sent, 1)
	require.Equal(t, "hello", backend.sent[0].Content)
	require.Equal(t, wire.TypeText, backend.sent[0].MessageType)

	conv, _ := e.store.Conversation("c1")
	require.Equal(t, "hello", conv.LastMessage)
	require.Equal(t, "me", conv.LastMessageSenderID)
}

func TestSendText_RestFailureKeepsEntryMarkedFailed(t *testing.T) {
	backend := &fakeBackend{sendErr: fmt.Errorf("boom")}
	e := newEngine(t, backend)

	msg, err := e.SendText(context.Background(), "c1", "hello")
	require.Error(t, err)

	msgs := e.store.Messages("c1")
	require.Len(t, msgs, 1, "no rollback on send failure")
	require.Equal(t, msg.ID, msgs[0].ID)
	require.Equal(t, wire.StatusFailed, msgs[0].Status)
}

func TestSendText_UnknownConversation(t *testing.T) {
	e := newEngine(t, &fakeBackend{})
	_, err := e.SendText(context.Background(), "nope", "hello")
	require.Error(t, err)
}

func TestNextLocalID_Monotonic(t *testing.T) {
	e := newEngine(t, &fakeBackend{})

	now := time.Now()
	a, err := strconv.ParseInt(e.nextLocalID(now), 10, 64)
	require.NoError(t, err)
	b, err := strconv.ParseInt(e.nextLocalID(now), 10, 64)
	require.NoError(t, err)
	require.Greater(t, b, a)
}

func TestSendFile_UploadsThenSends(t *testing.T) {
	backend := &fakeBackend{uploadRes: rest.UploadResult{
		FileURL:  "/uploads/pic.png",
		FileName: "pic.png",
		IsImage:  true,
	}}
	e := newEngine(t, backend)

	msg, err := e.SendFile(context.Background(), "c1", "pic.png", 1234, "image/png", nil)
	require.NoError(t, err)

	require.Equal(t, []string{"pic.png"}, backend.uploads)
	require.Len(t, backend.sent, 1)
	require.Equal(t, wire.TypeImage, backend.sent[0].MessageType)
	require.Equal(t, "/uploads/pic.png", backend.sent[0].FileURL)
	require.Equal(t, int64(1234), backend.sent[0].FileSize)
	require.Equal(t, "/uploads/pic.png", msg.FileURL)
}

func TestSetActive_ResetsUnreadAndMarksRead(t *testing.T) {
	backend := &fakeBackend{}
	e := newEngine(t, backend)
	e.store.Append("c1", wire.Message{ID: "m1-uuid", SenderID: "peer", CreatedAt: time.Now()})
	e.store.IncrementUnread("c1")

	require.NoError(t, e.SetActive(context.Background(), "c1"))

	require.Equal(t, "c1", e.store.Active())
	require.Equal(t, 0, e.store.UnreadCount("c1"))
	require.True(t, e.store.Messages("c1")[0].IsRead)
	require.Equal(t, [][2]string{{"c1", "peer"}}, backend.markReads)
}

func TestOpenConversation_TracksAndOpensWindow(t *testing.T) {
	backend := &fakeBackend{history: []wire.Message{
		{ID: "m2-uuid", ConversationID: "conv-peer", SenderID: "peer", Content: "later", CreatedAt: time.Now()},
		{ID: "m1-uuid", ConversationID: "conv-peer", SenderID: "peer", Content: "earlier", CreatedAt: time.Now().Add(-time.Minute)},
	}}
	e := newEngine(t, backend)

	convo, err := e.OpenConversation(context.Background(), "peer")
	require.NoError(t, err)

	require.Equal(t, "conv-peer", convo.ID)
	require.Equal(t, []string{"peer"}, backend.created)
	require.Contains(t, e.store.OpenWindows(), "conv-peer")

	msgs := e.store.Messages("conv-peer")
	require.Len(t, msgs, 2)
	require.Equal(t, "m1-uuid", msgs[0].ID, "history stored oldest first")
}

func TestRefresh_HydratesNewConversations(t *testing.T) {
	backend := &fakeBackend{conversations: []wire.Conversation{
		{ID: "c1", UnreadCount: 2},
		{ID: "c2", Participant: wire.UserRef{ID: "other"}},
	}}
	e := newEngine(t, backend)
	e.store.Append("c1", wire.Message{ID: "m1-uuid"})

	require.NoError(t, e.Refresh(context.Background()))

	require.True(t, e.store.Tracked("c2"))
	require.Len(t, e.store.Messages("c1"), 1)
	require.Equal(t, 2, e.store.UnreadCount("c1"))
}

func TestHandleNewMessage_FeedsReconciler(t *testing.T) {
	e := newEngine(t, &fakeBackend{})

	e.handleNewMessage([]byte(`{"type":"new_message","message":{"id":"aaa-bbb","conversation_id":"c1","sender_id":"peer","content":"hi","message_type":"text","created_at":"2026-05-01T12:00:00Z"}}`))
	require.Len(t, e.store.Messages("c1"), 1)

	// Malformed payload is dropped without effect.
	e.handleNewMessage([]byte(`{"type":`))
	require.Len(t, e.store.Messages("c1"), 1)
}
