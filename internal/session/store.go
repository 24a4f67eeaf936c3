// Package session persists chat sessions and resolves them by the
// client-facing token. Backends: in-process memory, Redis and Postgres.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/mathbot/backend/internal/model/chat"
)

// DefaultTTL matches a two week cookie-session lifetime.
const DefaultTTL = 14 * 24 * time.Hour

// ErrNotFound is returned when no live session matches the lookup.
var ErrNotFound = errors.New("session not found")

// Store is the persistence contract used by the chat service.
type Store interface {
	// Create stores a fresh session holding state and returns it with its
	// native key and expiry populated.
	Create(ctx context.Context, state chat.State) (chat.Session, error)
	// FindByToken resolves a live session through its token index.
	FindByToken(ctx context.Context, token string) (chat.Session, error)
	// Save overwrites the state of an existing session without extending it.
	Save(ctx context.Context, sess chat.Session) error
	Delete(ctx context.Context, key string) error
	Close() error
}

func newSession(state chat.State, ttl time.Duration, now time.Time) chat.Session {
	return chat.Session{
		Key:       uuid.NewString(),
		State:     state,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
