package storage

import (
	"context"
	"time"

	"showtime-api/models"
)

// SnapshotStore is the interface any cache backend must satisfy.
type SnapshotStore interface {
	// Read returns the city's snapshot if it was captured after notBefore,
	// or nil when there is none.
	Read(ctx context.Context, city string, notBefore time.Time) (*models.Snapshot, error)
	// Replace swaps the city's snapshot for movies in one transaction.
	Replace(ctx context.Context, city string, movies []models.Movie, capturedAt time.Time) error
}
