package repository

import (
	"context"

	"github.com/turtacn/qrgate/internal/domain/models"
)

// GymRepository reads gyms owned by the membership side of the platform.
type GymRepository interface {
	// FindByID returns the gym or ErrNotFound.
	FindByID(ctx context.Context, gymID string) (*models.Gym, error)

	// List returns every gym ordered by id.
	List(ctx context.Context) ([]*models.Gym, error)

	// Save inserts or updates a gym. Used by seeding tools only.
	Save(ctx context.Context, gym *models.Gym) error
}
