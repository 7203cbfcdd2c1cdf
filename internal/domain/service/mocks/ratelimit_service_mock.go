package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/qrgate/internal/domain/service"
)

// MockRateLimitService is a mock implementation of RateLimitService
type MockRateLimitService struct {
	mock.Mock
}

func (m *MockRateLimitService) Allow(
	ctx context.Context,
	dimension service.RateLimitDimension,
	identifier string,
) (service.RateLimitDecision, error) {
	args := m.Called(ctx, dimension, identifier)
	return args.Get(0).(service.RateLimitDecision), args.Error(1)
}
