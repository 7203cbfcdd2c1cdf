package audit

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/turtacn/qrgate/internal/domain/models"
	"github.com/turtacn/qrgate/internal/domain/service"
	"github.com/turtacn/qrgate/pkg/logger"
)

// MultiSink writes every entry to all sinks and logs it. A failing sink does
// not stop the others; the combined error is returned.
type MultiSink struct {
	sinks  []service.AuditService
	logger logger.Logger
}

var _ service.AuditService = (*MultiSink)(nil)

// NewMultiSink fans out to sinks. Nil sinks are skipped.
func NewMultiSink(log logger.Logger, sinks ...service.AuditService) *MultiSink {
	m := &MultiSink{logger: log.WithComponent("audit")}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiSink) LogEvent(ctx context.Context, entry *models.AuditEntry) error {
	gymID := ""
	if entry.GymID != nil {
		gymID = *entry.GymID
	}
	m.logger.Info(ctx, "Audit",
		logger.String("audit_id", entry.ID),
		logger.String("actor_id", entry.ActorID),
		logger.String("gym_id", gymID),
		logger.String("category", string(entry.Category)),
		logger.String("action", string(entry.Action)),
		logger.Any("metadata", string(entry.Metadata)),
	)

	var result *multierror.Error
	for _, s := range m.sinks {
		if err := s.LogEvent(ctx, entry); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
