package database

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("database: not found")

// DatabaseService persists colorization records and per-user counters.
// Record inserts and counter updates are independent writes; no backend ties them together.
type DatabaseService interface {
	// CreateDatabase prepares tables or indexes. It is idempotent.
	CreateDatabase(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	CreateColorization(ctx context.Context, colorization *Colorization) error
	// GetColorizationsByUser returns the user's records newest first, at most limit of them.
	// It never returns a nil slice.
	GetColorizationsByUser(ctx context.Context, userID string, limit int) ([]*Colorization, error)
	// DeleteColorization removes one record or returns ErrNotFound.
	DeleteColorization(ctx context.Context, id string) error

	// IncrementUserCount creates the user's counter at 1 or adds 1 to it.
	IncrementUserCount(ctx context.Context, userID string) error
	GetUserProfile(ctx context.Context, userID string) (*UserProfile, error)
}
