// Package session implements the Session Store (C7): durable sessions
// and messages backed by a local relational database.
package session

import (
	"context"
	"time"
)

// Message is one turn in a session, immutable once written.
type Message struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	Tokens    *int
	CreatedAt time.Time
}

// Session is an ordered conversation with a bound model. Messages are
// totally ordered by CreatedAt; UpdatedAt is always >= the CreatedAt of
// every message in Messages.
type Session struct {
	ID        string
	ModelName string
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  []Message
}

// Store is the durable interface the runtime orchestrator talks to.
// All mutating methods are transactional: a failed write leaves no
// partial state.
type Store interface {
	Create(ctx context.Context, modelName string) (string, error)
	GetWithMessages(ctx context.Context, id string) (Session, error)
	AddMessage(ctx context.Context, sessionID, role, content string, tokens *int) (Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
	DeleteOlderThan(ctx context.Context, days int) (int, error)
	Close() error
}
