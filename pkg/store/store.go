package store

import (
	"context"
	"errors"

	"github.com/illmade-knight/go-mesh-gateway/pkg/mesh"
)

// ErrUserNotFound is returned by GetUser for an unknown node id.
var ErrUserNotFound = errors.New("user not found")

// Store is the narrow persistence contract the router depends on. It is
// deliberately small enough to be backed by any relational or document
// store; the gateway ships a SQLite implementation.
type Store interface {
	// GetUser returns the profile for nodeID, or ErrUserNotFound.
	GetUser(ctx context.Context, nodeID string) (*mesh.UserProfile, error)
	// UpsertUser creates or replaces a profile keyed by its node id.
	UpsertUser(ctx context.Context, profile *mesh.UserProfile) error
	// AppendHistory persists one message-history row.
	AppendHistory(ctx context.Context, msg *mesh.Message) error
	// RecentHistory returns up to limit most-recent history rows,
	// newest first.
	RecentHistory(ctx context.Context, limit int) ([]mesh.Message, error)
	// CleanupExpired purges rows older than the store's retention window.
	CleanupExpired(ctx context.Context) error
	// Close releases the underlying connection.
	Close() error
}
