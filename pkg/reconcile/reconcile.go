// Package reconcile folds authoritative server messages into the local
// conversation logs: it retires provisional echoes of our own sends, drops
// duplicates, and appends everything genuinely new.
//
// The backend issues no client-correlation token, so duplicate detection is
// a heuristic over identity, content and a time window. It can false-positive
// (two identical messages from the same sender within the window collapse to
// one) and false-negative (an echo delayed past the window appends a second
// entry). That is an accepted approximation, not a guarantee.
package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chatsync/pkg/archive"
	"chatsync/pkg/session"
	"chatsync/pkg/store"
	"chatsync/pkg/wire"
)

const (
	// dedupWindow is the created_at tolerance under which a candidate with
	// matching sender/conversation/content counts as the same logical
	// message. Provisional entries carry a locally assigned timestamp that
	// never exactly equals the server's.
	dedupWindow = 5 * time.Second

	// echoWindow bounds how far an incoming message's created_at may sit
	// from wall-clock now and still be treated as the echo of our own
	// just-sent provisional entry.
	echoWindow = 10 * time.Second
)

// Reconciler ingests confirmed messages from the live stream.
type Reconciler struct {
	store   *store.Store
	session *session.Session
	log     *zap.SugaredLogger
	arch    archive.Store // optional; if nil, persistence is skipped
	now     func() time.Time
}

// New creates a reconciler over the given store.
func New(st *store.Store, sess *session.Session, log *zap.SugaredLogger) *Reconciler {
	return &Reconciler{
		store:   st,
		session: sess,
		log:     log,
		now:     time.Now,
	}
}

// SetArchive injects the optional message archive.
func (r *Reconciler) SetArchive(a archive.Store) {
	r.arch = a
}

// Ingest consumes one confirmed message. Messages for conversations not
// currently tracked are dropped, not buffered.
func (r *Reconciler) Ingest(msg wire.Message) {
	if !r.store.Tracked(msg.ConversationID) {
		r.log.Debugw("dropping message for untracked conversation",
			"conversation_id", msg.ConversationID, "message_id", msg.ID)
		return
	}
	msg.Status = wire.StatusConfirmed

	if r.findDuplicate(msg) {
		if r.isEcho(msg) {
			if r.replaceProvisional(msg) {
				r.updateSummary(msg)
				r.persist(msg)
				return
			}
		}
		// Duplicate of an already-confirmed entry: drop.
		r.log.Debugw("dropping duplicate message", "message_id", msg.ID)
		return
	}

	r.store.Append(msg.ConversationID, msg)
	r.updateSummary(msg)
	if msg.SenderID != r.session.UserID() && msg.ConversationID != r.store.Active() {
		r.store.IncrementUnread(msg.ConversationID)
	}
	r.persist(msg)
}

// findDuplicate reports whether an entry for the same logical message is
// already in the log: equal ids, or equal sender+content with created_at
// within the dedup window.
func (r *Reconciler) findDuplicate(msg wire.Message) bool {
	_, found := r.store.Find(msg.ConversationID, func(m wire.Message) bool {
		if m.ID == msg.ID {
			return true
		}
		return m.SenderID == msg.SenderID &&
			m.Content == msg.Content &&
			absDiff(m.CreatedAt, msg.CreatedAt) < dedupWindow
	})
	return found
}

// isEcho reports whether the message is the server echo of our own
// provisional send: our sender id, created recently.
func (r *Reconciler) isEcho(msg wire.Message) bool {
	return msg.SenderID == r.session.UserID() &&
		absDiff(msg.CreatedAt, r.now()) < echoWindow
}

// replaceProvisional swaps the matching provisional entry (same sender and
// content, non-hyphenated id) for the confirmed message, keeping its position
// in the log.
func (r *Reconciler) replaceProvisional(msg wire.Message) bool {
	return r.store.Replace(msg.ConversationID, func(m wire.Message) bool {
		return !m.Confirmed() &&
			m.SenderID == msg.SenderID &&
			m.Content == msg.Content
	}, msg)
}

func (r *Reconciler) updateSummary(msg wire.Message) {
	r.store.UpsertSummary(msg.ConversationID, wire.Summary{
		LastMessage:         msg.Content,
		LastMessageTime:     msg.CreatedAt,
		LastMessageSenderID: msg.SenderID,
	})
}

func (r *Reconciler) persist(msg wire.Message) {
	if r.arch == nil {
		return
	}
	if err := r.arch.SaveMessage(context.Background(), msg); err != nil {
		r.log.Warnw("message archive insert failed", "message_id", msg.ID, "error", err)
	}
}

func absDiff(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}
