package drivers

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/nadzzz/voicerelay/internal/history"
	"github.com/nadzzz/voicerelay/internal/llm"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversation_messages (
	id         BIGSERIAL PRIMARY KEY,
	session_id TEXT        NOT NULL,
	role       TEXT        NOT NULL,
	content    TEXT        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS conversation_messages_session_idx
	ON conversation_messages (session_id, id);
`

// PostgresStore keeps history in the conversation_messages table. Row ids
// give the append order.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the history table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating history schema: %w", err)
	}
	return nil
}

// Load implements history.Store.
func (s *PostgresStore) Load(ctx context.Context, session string) ([]history.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at
		FROM conversation_messages
		WHERE session_id = $1
		ORDER BY id ASC
	`, session)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var msgs []history.Message
	for rows.Next() {
		var (
			m    history.Message
			role string
		)
		if err := rows.Scan(&role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		m.Role = llm.Role(role)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history rows: %w", err)
	}
	return msgs, nil
}

// Append implements history.Store. All messages are inserted by a single
// statement in slice order.
func (s *PostgresStore) Append(ctx context.Context, session string, msgs ...history.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	roles := make([]string, len(msgs))
	contents := make([]string, len(msgs))
	stamps := make([]string, len(msgs))
	for i, m := range msgs {
		roles[i] = string(m.Role)
		contents[i] = m.Content
		ts := m.CreatedAt
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		stamps[i] = ts.Format(time.RFC3339Nano)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_messages (session_id, role, content, created_at)
		SELECT $1, t.role, t.content, t.created_at
		FROM unnest($2::text[], $3::text[], $4::timestamptz[]) WITH ORDINALITY AS t(role, content, created_at, ord)
		ORDER BY t.ord
	`, session, pq.Array(roles), pq.Array(contents), pq.Array(stamps))
	if err != nil {
		return fmt.Errorf("appending history: %w", err)
	}
	return nil
}

// Reset implements history.Store.
func (s *PostgresStore) Reset(ctx context.Context, session string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_messages WHERE session_id = $1`, session); err != nil {
		return fmt.Errorf("resetting history: %w", err)
	}
	return nil
}

// Ping implements history.Pinger.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements history.Store.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
