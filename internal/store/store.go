// Package store provides session persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/MedGAN-AI/price-pilot/internal/domain"
)

// Repository defines the interface for persisting conversation sessions.
type Repository interface {
	// GetSession retrieves a session with its turns in conversational order.
	// It returns nil, nil when the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// UpsertSession creates or overwrites a session record.
	UpsertSession(ctx context.Context, session *domain.Session) error

	// DeleteSession removes a session and its turns. Deleting a missing
	// session is not an error.
	DeleteSession(ctx context.Context, sessionID string) error

	// ListIdleSessions returns the ids of sessions whose last activity is
	// before cutoff.
	ListIdleSessions(ctx context.Context, cutoff time.Time) ([]string, error)

	// Ping verifies backend connectivity and returns an error if it is unreachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// New opens the repository selected by driver ("sqlite" or "memory").
func New(driver, dbPath string) (Repository, error) {
	switch driver {
	case "memory":
		return NewMemory(), nil
	case "", "sqlite":
		s, err := NewSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, &UnknownDriverError{Driver: driver}
	}
}

// UnknownDriverError is returned by New for an unsupported driver name.
type UnknownDriverError struct {
	Driver string
}

func (e *UnknownDriverError) Error() string {
	return "unknown store driver: " + e.Driver
}
