// Package audit implements the AuditService sinks: the relational store of
// record, an optional Kafka stream and a fan-out that writes to both.
package audit

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/turtacn/qrgate/internal/domain/models"
	"github.com/turtacn/qrgate/internal/domain/service"
	"github.com/turtacn/qrgate/pkg/errors"
)

// GormAuditService stores audit entries in the qr_audit_entries table.
// Entries are only ever inserted.
type GormAuditService struct {
	db *gorm.DB
}

var _ service.AuditService = (*GormAuditService)(nil)

// NewGormAuditService creates and configures a new GormAuditService.
func NewGormAuditService(db *gorm.DB) *GormAuditService {
	return &GormAuditService{db: db}
}

// LogEvent inserts entry.
func (s *GormAuditService) LogEvent(ctx context.Context, entry *models.AuditEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("%w: insert audit entry: %v", errors.ErrDatabaseOperation, err)
	}
	return nil
}

// ListByGym returns the newest entries for a gym, newest first. Used by the
// admin CLI.
func (s *GormAuditService) ListByGym(ctx context.Context, gymID string, limit int) ([]*models.AuditEntry, error) {
	var entries []*models.AuditEntry
	q := s.db.WithContext(ctx).Order("timestamp DESC").Limit(limit)
	if gymID != "" {
		q = q.Where("gym_id = ?", gymID)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("%w: list audit entries: %v", errors.ErrDatabaseOperation, err)
	}
	return entries, nil
}
