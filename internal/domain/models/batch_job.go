package models

import "time"

// JobStatus is the lifecycle state of a BatchJob. Transitions only move forward.
type JobStatus string

const (
	JobStatusPending  JobStatus = "PENDING"
	JobStatusRunning  JobStatus = "RUNNING"
	JobStatusComplete JobStatus = "COMPLETE"
	JobStatusFailed   JobStatus = "FAILED"
)

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// BatchScope selects the gyms a batch job covers.
type BatchScope string

const (
	BatchScopeAllGyms BatchScope = "ALL_GYMS"
	BatchScopeGym     BatchScope = "GYM"
)

// Valid reports whether s is a known scope.
func (s BatchScope) Valid() bool {
	return s == BatchScopeAllGyms || s == BatchScopeGym
}

// BatchJob is a bulk (re)generation of printable QR assets.
type BatchJob struct {
	ID             string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	ActorID        string     `gorm:"type:varchar(64);not null" json:"actorId"`
	Scope          BatchScope `gorm:"type:varchar(16);not null" json:"scope"`
	GymID          *string    `gorm:"type:varchar(64)" json:"gymId,omitempty"`
	Status         JobStatus  `gorm:"type:varchar(16);not null;index" json:"status"`
	TotalCount     int        `gorm:"not null;default:0" json:"totalCount"`
	ProcessedCount int        `gorm:"not null;default:0" json:"processedCount"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	Error          *string    `gorm:"type:varchar(512)" json:"error,omitempty"`
	DownloadURL    *string    `gorm:"type:varchar(512)" json:"downloadUrl,omitempty"`
	// ArchiveKey locates the packaged archive in the asset store.
	ArchiveKey *string   `gorm:"type:varchar(512)" json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// TableName returns the table name for BatchJob
func (BatchJob) TableName() string {
	return "qr_batch_jobs"
}
