// Package archive mirrors confirmed messages into Postgres so the rest of
// the dashboard can query conversation history without going through the
// sync engine. Archiving is optional; a nil Store skips persistence.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"chatsync/pkg/wire"
)

// Store persists confirmed messages and read-state transitions.
type Store interface {
	SaveMessage(ctx context.Context, msg wire.Message) error
	MarkConversationRead(ctx context.Context, conversationID, readBy string) error
}

// PostgresStore is the pgx-backed Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// SaveMessage upserts one confirmed message keyed by its server id, so an
// echo replacement arriving twice stays idempotent.
func (s *PostgresStore) SaveMessage(ctx context.Context, msg wire.Message) error {
	if s.pool == nil {
		return errors.New("db pool is nil")
	}

	const insertSQL = `
		INSERT INTO chat_messages (id, conversation_id, sender_id, content, message_type, file_url, file_name, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`

	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.pool.Exec(ctxTimeout, insertSQL,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content,
		string(msg.MessageType), msg.FileURL, msg.FileName, msg.IsRead, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// MarkConversationRead flips is_read on every archived message in the
// conversation not authored by readBy.
func (s *PostgresStore) MarkConversationRead(ctx context.Context, conversationID, readBy string) error {
	if s.pool == nil {
		return errors.New("db pool is nil")
	}

	const updateSQL = `
		UPDATE chat_messages
		SET is_read = TRUE
		WHERE conversation_id = $1
		  AND sender_id <> $2
		  AND is_read = FALSE
	`

	ctxTimeout, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if _, err := s.pool.Exec(ctxTimeout, updateSQL, conversationID, readBy); err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}
	return nil
}
