package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/qrgate/internal/domain/models"
)

type MockDeviceBinder struct {
	mock.Mock
}

func (m *MockDeviceBinder) Bind(ctx context.Context, gymID string, purpose models.Purpose, fingerprint string) (*string, error) {
	args := m.Called(ctx, gymID, purpose, fingerprint)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*string), args.Error(1)
}
