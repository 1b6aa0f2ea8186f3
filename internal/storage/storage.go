package storage

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when a session doesn't exist or has expired
var ErrSessionNotFound = errors.New("session not found")

// Store persists opaque session payloads keyed by session id.
// Payloads are encrypted by the caller; backends never inspect them.
type Store interface {
	// GetSession returns the payload for id or ErrSessionNotFound
	GetSession(ctx context.Context, id string) (string, error)

	// SaveSession creates or replaces the payload for id, expiring after ttl
	SaveSession(ctx context.Context, id, payload string, ttl time.Duration) error

	// DeleteSession removes id. Deleting a missing session is not an error.
	DeleteSession(ctx context.Context, id string) error

	// Close releases backend resources
	Close() error
}

// Cleaner is implemented by backends without native expiry
type Cleaner interface {
	CleanupExpiredSessions(ctx context.Context) (int, error)
}
