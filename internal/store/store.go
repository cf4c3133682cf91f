// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/kaya/internal/domain"
)

// Repository persists the exchange ledger. It never stores message text.
type Repository interface {
	// RecordExchange stores one completed request.
	RecordExchange(ctx context.Context, ex *domain.Exchange) error

	// RecentExchanges returns up to limit exchanges for a session, newest first.
	RecentExchanges(ctx context.Context, sessionID string, limit int) ([]*domain.Exchange, error)

	// PruneExchanges removes exchanges created before cutoff and returns how many were removed.
	PruneExchanges(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
