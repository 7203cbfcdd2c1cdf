package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/qrgate/internal/domain/models"
)

type MockAuditService struct {
	mock.Mock
}

func (m *MockAuditService) LogEvent(ctx context.Context, entry *models.AuditEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}
