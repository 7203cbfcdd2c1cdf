package repository

import (
	"context"

	"github.com/turtacn/qrgate/internal/domain/models"
)

// IssuedTokenRepository stores replay records keyed by token hash.
type IssuedTokenRepository interface {
	// Upsert inserts the record or overwrites the one with the same hash.
	Upsert(ctx context.Context, record *models.IssuedTokenRecord) error

	// FindByHash returns the record or ErrNotFound.
	FindByHash(ctx context.Context, tokenHash string) (*models.IssuedTokenRecord, error)
}
