package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/turtacn/qrgate/internal/domain/models"
	"github.com/turtacn/qrgate/pkg/errors"
)

// QRKeyRepository is the GORM implementation of repository.QRKeyRepository.
type QRKeyRepository struct {
	db *gorm.DB
}

// NewQRKeyRepository creates a new QRKeyRepository.
func NewQRKeyRepository(db *gorm.DB) *QRKeyRepository {
	return &QRKeyRepository{db: db}
}

// FindConfig retrieves the config of a (gym, purpose).
func (r *QRKeyRepository) FindConfig(ctx context.Context, gymID string, purpose models.Purpose) (*models.StaticQrConfig, error) {
	var cfg models.StaticQrConfig
	err := r.db.WithContext(ctx).
		Where("gym_id = ? AND purpose = ?", gymID, purpose).
		First(&cfg).Error
	if err != nil {
		return nil, translate(err)
	}
	return &cfg, nil
}

// FindKey retrieves one key version.
func (r *QRKeyRepository) FindKey(ctx context.Context, gymID string, purpose models.Purpose, version int) (*models.SigningKey, error) {
	var key models.SigningKey
	err := r.db.WithContext(ctx).
		Where("gym_id = ? AND purpose = ? AND version = ?", gymID, purpose, version).
		First(&key).Error
	if err != nil {
		return nil, translate(err)
	}
	return &key, nil
}

// CreateInitial inserts a config and its first key atomically.
func (r *QRKeyRepository) CreateInitial(ctx context.Context, cfg *models.StaticQrConfig, key *models.SigningKey) error {
	return translate(r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(cfg).Error; err != nil {
			return err
		}
		return tx.Create(key).Error
	}))
}

// AdvanceVersion performs the compare-and-set rotation. The conditional UPDATE
// takes the row lock, so a concurrent rotation from the same version matches
// zero rows once the winner commits.
func (r *QRKeyRepository) AdvanceVersion(ctx context.Context, gymID string, purpose models.Purpose, fromVersion int, newKey *models.SigningKey) error {
	now := newKey.CreatedAt
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.StaticQrConfig{}).
			Where("gym_id = ? AND purpose = ? AND current_key_version = ?", gymID, purpose, fromVersion).
			Updates(map[string]interface{}{
				"current_key_version": newKey.Version,
				"revoked_at":          nil,
				"updated_at":          now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.ErrStaleVersion
		}

		if err := tx.Create(newKey).Error; err != nil {
			if isUniqueViolation(err) {
				return errors.ErrStaleVersion
			}
			return err
		}

		return tx.Model(&models.SigningKey{}).
			Where("gym_id = ? AND purpose = ? AND version = ? AND revoked_at IS NULL", gymID, purpose, fromVersion).
			Update("revoked_at", now).Error
	})
	if errors.Is(err, errors.ErrStaleVersion) {
		return err
	}
	return translate(err)
}

// RevokeConfig disables issuance for a (gym, purpose).
func (r *QRKeyRepository) RevokeConfig(ctx context.Context, gymID string, purpose models.Purpose, at time.Time) error {
	return r.touch(ctx, gymID, purpose, map[string]interface{}{"revoked_at": at, "updated_at": at})
}

// MarkGenerated stamps last_generated_at.
func (r *QRKeyRepository) MarkGenerated(ctx context.Context, gymID string, purpose models.Purpose, at time.Time) error {
	return r.touch(ctx, gymID, purpose, map[string]interface{}{"last_generated_at": at, "updated_at": at})
}

// ListActiveConfigs returns non-revoked configs ordered by gym and purpose.
func (r *QRKeyRepository) ListActiveConfigs(ctx context.Context, gymID string) ([]*models.StaticQrConfig, error) {
	q := r.db.WithContext(ctx).Where("revoked_at IS NULL")
	if gymID != "" {
		q = q.Where("gym_id = ?", gymID)
	}
	var cfgs []*models.StaticQrConfig
	if err := q.Order("gym_id, purpose").Find(&cfgs).Error; err != nil {
		return nil, translate(err)
	}
	return cfgs, nil
}

func (r *QRKeyRepository) touch(ctx context.Context, gymID string, purpose models.Purpose, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.StaticQrConfig{}).
		Where("gym_id = ? AND purpose = ?", gymID, purpose).
		Updates(updates)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.ErrNotFound
	}
	return nil
}
