package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/qrgate/pkg/constants"
)

// AuditEntry is an append-only record of a privileged action.
type AuditEntry struct {
	ID        string                  `gorm:"type:varchar(36);primaryKey" json:"id"`
	ActorID   string                  `gorm:"type:varchar(64);not null;index" json:"actorId"`
	GymID     *string                 `gorm:"type:varchar(64);index" json:"gymId,omitempty"` // nil for fleet-wide actions
	Category  constants.AuditCategory `gorm:"type:varchar(32);not null" json:"category"`
	Action    constants.AuditAction   `gorm:"type:varchar(32);not null" json:"action"`
	Metadata  json.RawMessage         `gorm:"type:text" json:"metadata,omitempty"`
	TraceID   string                  `gorm:"type:varchar(32)" json:"traceId,omitempty"`
	Timestamp time.Time               `gorm:"not null;index" json:"timestamp"`
}

// TableName returns the table name for AuditEntry
func (AuditEntry) TableName() string {
	return "qr_audit_entries"
}

// NewAuditEntry creates a new audit entry.
func NewAuditEntry(actorID string, category constants.AuditCategory, action constants.AuditAction) *AuditEntry {
	return &AuditEntry{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Category:  category,
		Action:    action,
		Timestamp: time.Now().UTC(),
	}
}

// WithGym scopes the entry to one gym.
func (a *AuditEntry) WithGym(gymID string) *AuditEntry {
	if gymID != "" {
		a.GymID = &gymID
	}
	return a
}

// WithTraceID sets the trace id.
func (a *AuditEntry) WithTraceID(traceID string) *AuditEntry {
	a.TraceID = traceID
	return a
}

// WithMetadata sets JSON metadata for the entry.
func (a *AuditEntry) WithMetadata(data interface{}) *AuditEntry {
	jsonData, err := json.Marshal(data)
	if err == nil {
		a.Metadata = jsonData
	}
	return a
}
