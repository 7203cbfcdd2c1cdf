package dto

import (
	"time"

	"github.com/turtacn/qrgate/internal/domain/models"
)

// SubmitBatchRequest 批量生成任务提交请求
type SubmitBatchRequest struct {
	Scope string `json:"scope" binding:"required,oneof=ALL_GYMS GYM"`
	GymID string `json:"gymId" binding:"required_if=Scope GYM,max=64,excludes=0x7C"`
}

// SubmitBatchResponse 批量生成任务提交响应
type SubmitBatchResponse struct {
	JobID  string           `json:"jobId"`
	Status models.JobStatus `json:"status"`
}

// RunBatchRequest 触发执行批量任务
type RunBatchRequest struct {
	JobID string `json:"jobId" binding:"required,max=64"`
}

// RunBatchResponse reports whether this trigger started the run.
type RunBatchResponse struct {
	Started bool             `json:"started"`
	Status  models.JobStatus `json:"status"`
}

// BatchJobResponse 批量任务状态与进度
type BatchJobResponse struct {
	JobID          string            `json:"jobId"`
	ActorID        string            `json:"actorId"`
	Scope          models.BatchScope `json:"scope"`
	GymID          *string           `json:"gymId,omitempty"`
	Status         models.JobStatus  `json:"status"`
	TotalCount     int               `json:"totalCount"`
	ProcessedCount int               `json:"processedCount"`
	Running        bool              `json:"running"`
	StartedAt      *time.Time        `json:"startedAt,omitempty"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
	Error          *string           `json:"error,omitempty"`
	DownloadURL    *string           `json:"downloadUrl,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// NewBatchJobResponse maps a job record. running reports in-process execution.
func NewBatchJobResponse(job *models.BatchJob, running bool) *BatchJobResponse {
	return &BatchJobResponse{
		JobID:          job.ID,
		ActorID:        job.ActorID,
		Scope:          job.Scope,
		GymID:          job.GymID,
		Status:         job.Status,
		TotalCount:     job.TotalCount,
		ProcessedCount: job.ProcessedCount,
		Running:        running,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
		Error:          job.Error,
		DownloadURL:    job.DownloadURL,
		CreatedAt:      job.CreatedAt,
	}
}
