package repository

import (
	"context"
	"time"

	"github.com/turtacn/qrgate/internal/domain/models"
)

// BatchJobRepository persists batch jobs. Status updates are guarded so a job
// never moves backwards.
type BatchJobRepository interface {
	Create(ctx context.Context, job *models.BatchJob) error

	// FindByID returns the job or ErrNotFound.
	FindByID(ctx context.Context, jobID string) (*models.BatchJob, error)

	// MarkRunning claims a PENDING job for execution and records its total.
	// It returns ErrInvalidTransition when the job is no longer PENDING.
	MarkRunning(ctx context.Context, jobID string, total int, at time.Time) error

	// UpdateProgress raises processed_count; lower values are ignored.
	UpdateProgress(ctx context.Context, jobID string, processed int) error

	// MarkComplete finalises a RUNNING job.
	MarkComplete(ctx context.Context, jobID string, processed int, downloadURL, archiveKey string, at time.Time) error

	// MarkFailed finalises a non-terminal job with a truncated error.
	MarkFailed(ctx context.Context, jobID string, message string, at time.Time) error
}
