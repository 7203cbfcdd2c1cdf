package postgres

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/turtacn/qrgate/internal/domain/models"
)

// GymRepository is the GORM implementation of repository.GymRepository.
type GymRepository struct {
	db *gorm.DB
}

// NewGymRepository creates a new GymRepository.
func NewGymRepository(db *gorm.DB) *GymRepository {
	return &GymRepository{db: db}
}

func (r *GymRepository) FindByID(ctx context.Context, gymID string) (*models.Gym, error) {
	var gym models.Gym
	if err := r.db.WithContext(ctx).Where("id = ?", gymID).First(&gym).Error; err != nil {
		return nil, translate(err)
	}
	return &gym, nil
}

func (r *GymRepository) List(ctx context.Context) ([]*models.Gym, error) {
	var gyms []*models.Gym
	if err := r.db.WithContext(ctx).Order("id").Find(&gyms).Error; err != nil {
		return nil, translate(err)
	}
	return gyms, nil
}

func (r *GymRepository) Save(ctx context.Context, gym *models.Gym) error {
	return translate(r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "owner_id", "status", "updated_at"}),
	}).Create(gym).Error)
}
