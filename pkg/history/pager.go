// Package history loads paginated message history and merges it into the
// live conversation logs.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatsync/pkg/store"
	"chatsync/pkg/wire"
)

// DefaultLimit is the page size for history fetches. A full page implies
// more history may exist.
const DefaultLimit = 50

// Fetcher retrieves one newest-first page of messages.
type Fetcher interface {
	GetMessages(ctx context.Context, conversationID string, limit int, before time.Time) ([]wire.Message, error)
}

type convState struct {
	hasMore  bool
	inFlight bool
}

// Pager drives backward pagination per conversation. Results are always
// applied to the conversation id captured at call time, so a fetch that
// resolves after the user switches conversations can never land in the
// wrong log.
type Pager struct {
	store *store.Store
	fetch Fetcher
	log   *zap.SugaredLogger
	limit int

	mu    sync.Mutex
	state map[string]*convState
}

// NewPager creates a pager with the default page size.
func NewPager(st *store.Store, fetch Fetcher, log *zap.SugaredLogger) *Pager {
	return &Pager{
		store: st,
		fetch: fetch,
		log:   log,
		limit: DefaultLimit,
		state: make(map[string]*convState),
	}
}

// HasMore reports whether older history may exist for the conversation.
func (p *Pager) HasMore(conversationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.state[conversationID]; ok {
		return st.hasMore
	}
	return false
}

// LoadInitial fetches the most recent page and replaces the log with it.
// Only two kinds of existing entries survive the replacement: provisional
// local sends (never discarded by a history load, even a stale one) and
// confirmed messages newer than the page head, which the live stream
// delivered while the fetch was in flight. Confirmed entries at or below
// the page head that the page omits are older history; they stay reachable
// through LoadOlder and re-appending them here would scramble the log.
func (p *Pager) LoadInitial(ctx context.Context, conversationID string) error {
	if !p.begin(conversationID) {
		return nil
	}
	defer p.end(conversationID)

	page, err := p.fetch.GetMessages(ctx, conversationID, p.limit, time.Time{})
	if err != nil {
		return fmt.Errorf("load initial history: %w", err)
	}

	var head time.Time
	if len(page) > 0 {
		head = page[0].CreatedAt
	}
	batch := reverse(page)
	p.store.MergeInitial(conversationID, batch, func(m wire.Message) bool {
		return !m.Confirmed() || m.CreatedAt.After(head)
	})
	p.setHasMore(conversationID, len(page) == p.limit)
	return nil
}

// LoadOlder fetches the page strictly before the oldest loaded message and
// prepends it. It is a no-op unless a prior load reported more history and
// no fetch is already in flight.
func (p *Pager) LoadOlder(ctx context.Context, conversationID string) error {
	if !p.HasMore(conversationID) {
		return nil
	}
	oldest, ok := p.store.Oldest(conversationID)
	if !ok {
		return nil
	}
	if !p.begin(conversationID) {
		return nil
	}
	defer p.end(conversationID)

	page, err := p.fetch.GetMessages(ctx, conversationID, p.limit, oldest)
	if err != nil {
		return fmt.Errorf("load older history: %w", err)
	}

	p.store.Prepend(conversationID, reverse(page))
	p.setHasMore(conversationID, len(page) == p.limit)
	return nil
}

// begin marks a fetch in flight; returns false if one already is.
func (p *Pager) begin(conversationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.state[conversationID]
	if !ok {
		st = &convState{}
		p.state[conversationID] = st
	}
	if st.inFlight {
		return false
	}
	st.inFlight = true
	return true
}

func (p *Pager) end(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.state[conversationID]; ok {
		st.inFlight = false
	}
}

func (p *Pager) setHasMore(conversationID string, hasMore bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.state[conversationID]; ok {
		st.hasMore = hasMore
	}
}

// reverse flips a newest-first page into log order (oldest first).
func reverse(msgs []wire.Message) []wire.Message {
	out := make([]wire.Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}
