package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/localforge/myllm/internal/apierr"
)

// SQLiteStore is the modernc.org/sqlite-backed Store implementation.
// Schema: sessions(id, model_name, created_at, updated_at);
// messages(id, session_id -> sessions.id ON DELETE CASCADE, role,
// content, tokens?, created_at) with an index on (session_id,
// created_at), per spec §4.7.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates (or reuses) the SQLite database at path and ensures its
// schema exists. A single connection is kept open: SQLite serializes
// writers anyway, and this avoids SQLITE_BUSY under concurrent access
// without a separate connection-pool policy.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apierr.Configuration("failed to open session store: " + err.Error())
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, apierr.Configuration("failed to enable foreign keys: " + err.Error())
	}

	s := &SQLiteStore{db: db}
	if err := s.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	model_name TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	tokens INTEGER,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS messages_session_created_idx ON messages(session_id, created_at);
`)
	if err != nil {
		return apierr.Configuration("failed to initialize session schema: " + err.Error())
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Create(ctx context.Context, modelName string) (string, error) {
	if modelName == "" {
		return "", apierr.InvalidInput("model_name is required", "model_name")
	}
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, model_name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, modelName, now, now)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetWithMessages(ctx context.Context, id string) (Session, error) {
	var sess Session
	row := s.db.QueryRowContext(ctx,
		`SELECT id, model_name, created_at, updated_at FROM sessions WHERE id = ?`, id)
	if err := row.Scan(&sess.ID, &sess.ModelName, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, apierr.SessionNotFound(id)
		}
		return Session{}, fmt.Errorf("get session: %w", err)
	}

	msgs, err := s.ListMessages(ctx, id)
	if err != nil {
		return Session{}, err
	}
	sess.Messages = msgs
	return sess, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, tokens, created_at
		 FROM messages WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var m Message
		var tokens sql.NullInt64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &tokens, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if tokens.Valid {
			t := int(tokens.Int64)
			m.Tokens = &t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddMessage inserts a message and bumps the owning session's
// updated_at in one transaction, per spec §4.7. An unknown sessionID
// rolls back and reports session-not-found rather than silently
// creating an orphaned message.
func (s *SQLiteStore) AddMessage(ctx context.Context, sessionID, role, content string, tokens *int) (Message, error) {
	switch role {
	case "system", "user", "assistant":
	default:
		return Message{}, apierr.InvalidInput("message has unrecognized role "+role, "role")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, apierr.SessionNotFound(sessionID)
		}
		return Message{}, fmt.Errorf("lookup session: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	var tokensArg any
	if tokens != nil {
		tokensArg = *tokens
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, tokens, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, sessionID, role, content, tokensArg, now); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID)
	if err != nil {
		return Message{}, fmt.Errorf("touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Message{}, apierr.SessionNotFound(sessionID)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("commit: %w", err)
	}

	return Message{ID: id, SessionID: sessionID, Role: role, Content: content, Tokens: tokens, CreatedAt: now}, nil
}

// DeleteOlderThan removes sessions (and their messages, via
// ON DELETE CASCADE) whose updated_at is older than days, grounded on
// the reference store's periodic retention sweep.
func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, days int) (int, error) {
	if days < 0 {
		return 0, apierr.InvalidInput("retention days must be >= 0", "days")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
