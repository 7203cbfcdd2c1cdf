package postgres

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/turtacn/qrgate/internal/domain/models"
)

// IssuedTokenRepository stores replay records.
type IssuedTokenRepository struct {
	db *gorm.DB
}

// NewIssuedTokenRepository creates a new IssuedTokenRepository.
func NewIssuedTokenRepository(db *gorm.DB) *IssuedTokenRepository {
	return &IssuedTokenRepository{db: db}
}

// Upsert uses INSERT ... ON CONFLICT (token_hash) so a re-issued hash replaces
// the previous record instead of failing.
func (r *IssuedTokenRepository) Upsert(ctx context.Context, record *models.IssuedTokenRecord) error {
	return translate(r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "token_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"gym_id", "purpose", "key_version", "nonce", "expires_at", "device_binding_hash",
		}),
	}).Create(record).Error)
}

func (r *IssuedTokenRepository) FindByHash(ctx context.Context, tokenHash string) (*models.IssuedTokenRecord, error) {
	var rec models.IssuedTokenRecord
	if err := r.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&rec).Error; err != nil {
		return nil, translate(err)
	}
	return &rec, nil
}
