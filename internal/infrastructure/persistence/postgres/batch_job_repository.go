package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/turtacn/qrgate/internal/domain/models"
	"github.com/turtacn/qrgate/pkg/constants"
	"github.com/turtacn/qrgate/pkg/errors"
	"github.com/turtacn/qrgate/pkg/utils"
)

// BatchJobRepository is the GORM implementation of repository.BatchJobRepository.
// Every status update carries a WHERE on the current status.
type BatchJobRepository struct {
	db *gorm.DB
}

// NewBatchJobRepository creates a new BatchJobRepository.
func NewBatchJobRepository(db *gorm.DB) *BatchJobRepository {
	return &BatchJobRepository{db: db}
}

func (r *BatchJobRepository) Create(ctx context.Context, job *models.BatchJob) error {
	return translate(r.db.WithContext(ctx).Create(job).Error)
}

func (r *BatchJobRepository) FindByID(ctx context.Context, jobID string) (*models.BatchJob, error) {
	var job models.BatchJob
	if err := r.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error; err != nil {
		return nil, translate(err)
	}
	return &job, nil
}

// MarkRunning claims a PENDING job. A second claim fails with ErrInvalidTransition.
func (r *BatchJobRepository) MarkRunning(ctx context.Context, jobID string, total int, at time.Time) error {
	return r.transition(ctx, jobID,
		[]models.JobStatus{models.JobStatusPending},
		map[string]interface{}{
			"status":          models.JobStatusRunning,
			"total_count":     total,
			"processed_count": 0,
			"started_at":      at,
			"error":           nil,
			"updated_at":      at,
		})
}

// UpdateProgress only ever raises processed_count and never past total_count.
func (r *BatchJobRepository) UpdateProgress(ctx context.Context, jobID string, processed int) error {
	return translate(r.db.WithContext(ctx).Model(&models.BatchJob{}).
		Where("id = ? AND status = ? AND processed_count < ? AND total_count >= ?",
			jobID, models.JobStatusRunning, processed, processed).
		Updates(map[string]interface{}{
			"processed_count": processed,
			"updated_at":      time.Now().UTC(),
		}).Error)
}

func (r *BatchJobRepository) MarkComplete(ctx context.Context, jobID string, processed int, downloadURL, archiveKey string, at time.Time) error {
	return r.transition(ctx, jobID,
		[]models.JobStatus{models.JobStatusRunning},
		map[string]interface{}{
			"status":          models.JobStatusComplete,
			"processed_count": processed,
			"download_url":    downloadURL,
			"archive_key":     archiveKey,
			"completed_at":    at,
			"updated_at":      at,
		})
}

func (r *BatchJobRepository) MarkFailed(ctx context.Context, jobID string, message string, at time.Time) error {
	message = utils.Truncate(message, constants.MaxJobErrorLength)
	return r.transition(ctx, jobID,
		[]models.JobStatus{models.JobStatusPending, models.JobStatusRunning},
		map[string]interface{}{
			"status":       models.JobStatusFailed,
			"error":        message,
			"completed_at": at,
			"updated_at":   at,
		})
}

func (r *BatchJobRepository) transition(ctx context.Context, jobID string, from []models.JobStatus, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.BatchJob{}).
		Where("id = ? AND status IN ?", jobID, from).
		Updates(updates)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.ErrInvalidTransition
	}
	return nil
}
