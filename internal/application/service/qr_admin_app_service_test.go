package service

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/qrgate/internal/application"
	"github.com/turtacn/qrgate/internal/application/dto"
	"github.com/turtacn/qrgate/internal/domain/models"
	"github.com/turtacn/qrgate/pkg/constants"
	"github.com/turtacn/qrgate/pkg/errors"
	"github.com/turtacn/qrgate/pkg/logger"
)

type MockKeyRotator struct {
	mock.Mock
}

func (m *MockKeyRotator) Rotate(ctx context.Context, gymID string, purpose models.Purpose, actorID string, revokeOnly bool) (int, error) {
	args := m.Called(ctx, gymID, purpose, actorID, revokeOnly)
	return args.Int(0), args.Error(1)
}

type MockSweepRunner struct {
	mock.Mock
}

func (m *MockSweepRunner) RunNow(ctx context.Context, actorID, gymID string, force bool) (*application.SweepResult, error) {
	args := m.Called(ctx, actorID, gymID, force)
	res, _ := args.Get(0).(*application.SweepResult)
	return res, args.Error(1)
}

func newAdminService() (QRAdminAppService, *MockKeyRotator, *MockSweepRunner) {
	rotator := new(MockKeyRotator)
	sweeper := new(MockSweepRunner)
	gyms := &memGyms{gyms: map[string]*models.Gym{
		"gym-1": {ID: "gym-1", OwnerID: "owner-1", Status: models.GymStatusActive},
	}}
	return NewQRAdminAppService(rotator, sweeper, gyms, logger.NewNoopLogger()), rotator, sweeper
}

func TestQRAdmin_RotateByOwner(t *testing.T) {
	svc, rotator, _ := newAdminService()
	rotator.On("Rotate", mock.Anything, "gym-1", models.PurposeEntry, "owner-1", false).Return(4, nil)

	resp, err := svc.Rotate(context.Background(),
		Actor{ID: "owner-1", Role: constants.RoleGymOwner},
		&dto.RotateRequest{GymID: "gym-1", Purpose: "entry"})
	require.NoError(t, err)
	assert.Equal(t, 4, resp.Version)
	assert.Equal(t, models.PurposeEntry, resp.Purpose)
	rotator.AssertExpectations(t)
}

func TestQRAdmin_RotateDeniedForOtherOwner(t *testing.T) {
	svc, rotator, _ := newAdminService()

	_, err := svc.Rotate(context.Background(),
		Actor{ID: "owner-2", Role: constants.RoleGymOwner},
		&dto.RotateRequest{GymID: "gym-1", Purpose: "EXIT", Revoke: true})
	assert.True(t, errors.HasCode(err, constants.ErrCodeForbidden))

	_, err = svc.Rotate(context.Background(),
		Actor{ID: "owner-1", Role: constants.RoleGymOwner},
		&dto.RotateRequest{GymID: "gym-404", Purpose: "EXIT"})
	assert.True(t, errors.HasCode(err, constants.ErrCodeNotFound))

	rotator.AssertNotCalled(t, "Rotate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestQRAdmin_SuperAdminRevokes(t *testing.T) {
	svc, rotator, _ := newAdminService()
	rotator.On("Rotate", mock.Anything, "gym-9", models.PurposePayment, "root", true).Return(2, nil)

	resp, err := svc.Rotate(context.Background(),
		Actor{ID: "root", Role: constants.RoleSuperAdmin},
		&dto.RotateRequest{GymID: "gym-9", Purpose: "PAYMENT", Revoke: true})
	require.NoError(t, err)
	assert.True(t, resp.Revoked)
}

func TestQRAdmin_Sweep(t *testing.T) {
	svc, _, sweeper := newAdminService()
	failures := multierror.Append(nil, stderrors.New("gym-2/ENTRY: boom"))
	sweeper.On("RunNow", mock.Anything, constants.SystemActorCron, "", true).
		Return(&application.SweepResult{Rotated: 3, Skipped: 1, Failed: 1, Failures: failures}, nil)

	resp, err := svc.Sweep(context.Background(), Actor{System: true}, &dto.SweepRequest{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Rotated)
	assert.Equal(t, 1, resp.Skipped)
	assert.Equal(t, []string{"gym-2/ENTRY: boom"}, resp.Errors)

	_, err = svc.Sweep(context.Background(), Actor{ID: "owner-1", Role: constants.RoleGymOwner}, &dto.SweepRequest{})
	assert.True(t, errors.HasCode(err, constants.ErrCodeForbidden))
}
