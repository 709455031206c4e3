// Package engine wires the transport, reconciler, store, presence tracker
// and history pager into one messaging synchronization engine.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatsync/pkg/conn"
	"chatsync/pkg/history"
	"chatsync/pkg/presence"
	"chatsync/pkg/reconcile"
	"chatsync/pkg/rest"
	"chatsync/pkg/session"
	"chatsync/pkg/store"
	"chatsync/pkg/wire"
)

// Backend is the REST collaborator contract the engine depends on.
// *rest.Client satisfies it.
type Backend interface {
	history.Fetcher
	ListConversations(ctx context.Context) ([]wire.Conversation, error)
	CreateConversation(ctx context.Context, participantID string) (wire.Conversation, error)
	SendMessage(ctx context.Context, req rest.SendMessageRequest) error
	MarkRead(ctx context.Context, conversationID, otherUserID string) error
	Upload(ctx context.Context, fileName string, content io.Reader) (rest.UploadResult, error)
}

// Engine is the top-level synchronization engine for one user session.
type Engine struct {
	session    *session.Session
	store      *store.Store
	transport  *conn.Manager
	backend    Backend
	reconciler *reconcile.Reconciler
	tracker    *presence.Tracker
	pager      *history.Pager
	log        *zap.SugaredLogger

	mu      sync.Mutex
	lastSeq int64
}

// New builds an engine and registers the frame handlers on the transport:
// new_message feeds the reconciler, typing and message_read feed the
// presence tracker.
func New(sess *session.Session, transport *conn.Manager, backend Backend, log *zap.SugaredLogger) *Engine {
	st := store.New()
	e := &Engine{
		session:    sess,
		store:      st,
		transport:  transport,
		backend:    backend,
		reconciler: reconcile.New(st, sess, log),
		tracker:    presence.NewTracker(st, sess, transport, log),
		pager:      history.NewPager(st, backend, log),
		log:        log,
	}

	transport.Handle(wire.FrameNewMessage, e.handleNewMessage)
	transport.Handle(wire.FrameTyping, e.tracker.HandleTyping)
	transport.Handle(wire.FrameMessageRead, e.tracker.HandleMessageRead)
	return e
}

// Store exposes the conversation state for read-only consumers.
func (e *Engine) Store() *store.Store { return e.store }

// Tracker exposes typing state for read-only consumers.
func (e *Engine) Tracker() *presence.Tracker { return e.tracker }

// Transport exposes the connection manager.
func (e *Engine) Transport() *conn.Manager { return e.transport }

// Reconciler exposes the message reconciler, mainly so an archive can be
// attached.
func (e *Engine) Reconciler() *reconcile.Reconciler { return e.reconciler }

// Start hydrates the conversation list, starts the presence sweep and opens
// the streaming connection.
func (e *Engine) Start(ctx context.Context) error {
	convs, err := e.backend.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	e.store.Hydrate(convs)
	e.tracker.Start()
	return e.transport.Connect(ctx)
}

// Stop closes the connection and stops background work.
func (e *Engine) Stop() {
	e.transport.Disconnect()
	e.tracker.Stop()
}

func (e *Engine) handleNewMessage(payload []byte) {
	var frame wire.NewMessageFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		e.log.Warnw("dropping malformed new_message frame", "error", err)
		return
	}
	e.reconciler.Ingest(frame.Message)
}

// SendText optimistically appends a provisional message, then persists it
// over REST. On a REST failure the entry is marked failed but stays in the
// log; there is no rollback.
func (e *Engine) SendText(ctx context.Context, conversationID, content string) (wire.Message, error) {
	return e.send(ctx, rest.SendMessageRequest{
		ConversationID: conversationID,
		Content:        content,
		MessageType:    wire.TypeText,
	})
}

// SendFile uploads the content first, then sends an image or file message
// referencing the stored URL.
func (e *Engine) SendFile(ctx context.Context, conversationID, fileName string, size int64, mimeType string, content io.Reader) (wire.Message, error) {
	up, err := e.backend.Upload(ctx, fileName, content)
	if err != nil {
		return wire.Message{}, fmt.Errorf("send file: %w", err)
	}
	msgType := wire.TypeFile
	if up.IsImage {
		msgType = wire.TypeImage
	}
	return e.send(ctx, rest.SendMessageRequest{
		ConversationID: conversationID,
		Content:        up.FileName,
		MessageType:    msgType,
		FileURL:        up.FileURL,
		FileName:       up.FileName,
		FileSize:       size,
		FileMimeType:   mimeType,
	})
}

func (e *Engine) send(ctx context.Context, req rest.SendMessageRequest) (wire.Message, error) {
	if !e.store.Tracked(req.ConversationID) {
		return wire.Message{}, fmt.Errorf("send: unknown conversation %s", req.ConversationID)
	}

	now := time.Now()
	msg := wire.Message{
		ID:             e.nextLocalID(now),
		ConversationID: req.ConversationID,
		SenderID:       e.session.UserID(),
		Content:        req.Content,
		MessageType:    req.MessageType,
		FileURL:        req.FileURL,
		FileName:       req.FileName,
		CreatedAt:      now,
		Status:         wire.StatusPending,
	}
	e.store.Append(req.ConversationID, msg)
	e.store.UpsertSummary(req.ConversationID, wire.Summary{
		LastMessage:         msg.Content,
		LastMessageTime:     msg.CreatedAt,
		LastMessageSenderID: msg.SenderID,
	})

	if err := e.backend.SendMessage(ctx, req); err != nil {
		e.store.SetStatus(req.ConversationID, msg.ID, wire.StatusFailed)
		e.log.Warnw("message send failed", "conversation_id", req.ConversationID, "error", err)
		return msg, err
	}
	return msg, nil
}

// nextLocalID returns a monotonically increasing provisional id rendered as
// a bare decimal string (millisecond clock, bumped on collision). Confirmed
// server ids are UUIDs, so the hyphen test keeps the two spaces disjoint.
func (e *Engine) nextLocalID(now time.Time) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	seq := now.UnixMilli()
	if seq <= e.lastSeq {
		seq = e.lastSeq + 1
	}
	e.lastSeq = seq
	return strconv.FormatInt(seq, 10)
}

// OpenConversation ensures a conversation with the participant exists (the
// create call is idempotent server-side), tracks it, opens a floating
// window, and loads the initial history page.
func (e *Engine) OpenConversation(ctx context.Context, participantID string) (wire.Conversation, error) {
	convo, err := e.backend.CreateConversation(ctx, participantID)
	if err != nil {
		return wire.Conversation{}, fmt.Errorf("open conversation: %w", err)
	}
	e.store.Track(convo)
	e.store.OpenWindow(convo.ID)
	if err := e.pager.LoadInitial(ctx, convo.ID); err != nil {
		e.log.Warnw("initial history load failed", "conversation_id", convo.ID, "error", err)
	}
	convo, _ = e.store.Conversation(convo.ID)
	return convo, nil
}

// CloseWindow removes the conversation from the floating windows view; the
// conversation and its log stay tracked.
func (e *Engine) CloseWindow(conversationID string) {
	e.store.CloseWindow(conversationID)
}

// SetActive focuses a conversation: resets its unread counter, marks the
// peer's messages read locally and server-side, and broadcasts the read
// receipt.
func (e *Engine) SetActive(ctx context.Context, conversationID string) error {
	convo, ok := e.store.Conversation(conversationID)
	if !ok {
		return fmt.Errorf("set active: unknown conversation %s", conversationID)
	}
	e.store.SetActive(conversationID)
	e.store.ResetUnread(conversationID)
	e.store.MarkRead(conversationID, convo.Participant.ID)

	if err := e.backend.MarkRead(ctx, conversationID, convo.Participant.ID); err != nil {
		e.log.Warnw("mark read failed", "conversation_id", conversationID, "error", err)
	}
	e.tracker.NotifyRead(conversationID, convo.Participant.ID)
	if err := e.pager.LoadInitial(ctx, conversationID); err != nil {
		e.log.Warnw("initial history load failed", "conversation_id", conversationID, "error", err)
	}
	return nil
}

// ClearActive drops the conversation focus.
func (e *Engine) ClearActive() {
	e.store.SetActive("")
}

// NotifyTyping broadcasts a typing frame to the conversation's peer.
func (e *Engine) NotifyTyping(conversationID string) {
	convo, ok := e.store.Conversation(conversationID)
	if !ok {
		return
	}
	e.tracker.NotifyTyping(conversationID, convo.Participant.ID)
}

// LoadOlder pages older history into the conversation log.
func (e *Engine) LoadOlder(ctx context.Context, conversationID string) error {
	return e.pager.LoadOlder(ctx, conversationID)
}

// HasMore reports whether older history may exist.
func (e *Engine) HasMore(conversationID string) bool {
	return e.pager.HasMore(conversationID)
}

// Refresh re-fetches the conversation list, preserving loaded logs.
func (e *Engine) Refresh(ctx context.Context) error {
	convs, err := e.backend.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	e.store.Hydrate(convs)
	return nil
}
