package archive

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"chatsync/pkg/wire"
)

// newTestStore connects to a real Postgres instance for integration tests.
// Skips if ARCHIVE_DSN_FOR_TEST is not set to keep CI deterministic.
func newTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	if err := godotenv.Load(); err != nil {
		t.Log("No .env file found, using environment variables")
	}
	dsn := os.Getenv("ARCHIVE_DSN_FOR_TEST")
	if dsn == "" {
		t.Skip("ARCHIVE_DSN_FOR_TEST not set; skipping integration tests")
	}

	pool, err := Connect(context.Background(), dsn)
	require.NoError(t, err)

	truncate := func() {
		_, err := pool.Exec(context.Background(), "TRUNCATE chat_messages")
		require.NoError(t, err)
	}
	truncate()
	t.Cleanup(truncate)
	t.Cleanup(pool.Close)
	return NewPostgresStore(pool)
}

func TestSaveMessage_Idempotent(t *testing.T) {
	store := newTestStore(t)
	msg := wire.Message{
		ID:             "7f2a1c34-9a1b-4c56-8def-0123456789ab",
		ConversationID: "c1",
		SenderID:       "peer",
		Content:        "hello",
		MessageType:    wire.TypeText,
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}

	require.NoError(t, store.SaveMessage(context.Background(), msg))
	// A re-delivered echo replays the same id; the upsert must not error
	// or duplicate.
	require.NoError(t, store.SaveMessage(context.Background(), msg))

	var count int
	err := store.pool.QueryRow(context.Background(),
		"SELECT COUNT(*) FROM chat_messages WHERE id = $1", msg.ID).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestMarkConversationRead_Direction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mine := wire.Message{ID: "aaa-bbb", ConversationID: "c1", SenderID: "me", Content: "a", MessageType: wire.TypeText, CreatedAt: time.Now()}
	theirs := wire.Message{ID: "ccc-ddd", ConversationID: "c1", SenderID: "peer", Content: "b", MessageType: wire.TypeText, CreatedAt: time.Now()}
	require.NoError(t, store.SaveMessage(ctx, mine))
	require.NoError(t, store.SaveMessage(ctx, theirs))

	require.NoError(t, store.MarkConversationRead(ctx, "c1", "peer"))

	var mineRead, theirsRead bool
	require.NoError(t, store.pool.QueryRow(ctx, "SELECT is_read FROM chat_messages WHERE id = $1", mine.ID).Scan(&mineRead))
	require.NoError(t, store.pool.QueryRow(ctx, "SELECT is_read FROM chat_messages WHERE id = $1", theirs.ID).Scan(&theirsRead))
	require.True(t, mineRead)
	require.False(t, theirsRead)
}
