package service

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/turtacn/qrgate/internal/application"
	"github.com/turtacn/qrgate/internal/application/dto"
	"github.com/turtacn/qrgate/internal/domain/models"
	"github.com/turtacn/qrgate/internal/domain/repository"
	"github.com/turtacn/qrgate/pkg/constants"
	"github.com/turtacn/qrgate/pkg/errors"
	"github.com/turtacn/qrgate/pkg/logger"
)

// Actor is the authenticated caller of an admin operation.
type Actor struct {
	ID   string
	Role constants.Role
	// System is set when the caller presented the shared system secret.
	System bool
}

// IsSuperAdmin reports whether a has fleet-wide rights.
func (a Actor) IsSuperAdmin() bool {
	return a.System || a.Role == constants.RoleSuperAdmin
}

// KeyRotator is the slice of the key store used by admin rotation.
type KeyRotator interface {
	Rotate(ctx context.Context, gymID string, purpose models.Purpose, actorID string, revokeOnly bool) (int, error)
}

// SweepRunner runs one rotation sweep.
type SweepRunner interface {
	RunNow(ctx context.Context, actorID, gymID string, force bool) (*application.SweepResult, error)
}

// QRAdminAppService defines the owner and operator controls over static QR keys
type QRAdminAppService interface {
	// Rotate rotates or revokes one (gym, purpose). Owners may only act on their own gyms.
	Rotate(ctx context.Context, actor Actor, req *dto.RotateRequest) (*dto.RotateResponse, error)

	// Sweep rotates stale keys of one gym or the fleet.
	Sweep(ctx context.Context, actor Actor, req *dto.SweepRequest) (*dto.SweepResponse, error)
}

type qrAdminAppServiceImpl struct {
	keys    KeyRotator
	sweeper SweepRunner
	gyms    repository.GymRepository
	logger  logger.Logger
}

// NewQRAdminAppService creates a new instance of QRAdminAppService
func NewQRAdminAppService(keys KeyRotator, sweeper SweepRunner, gyms repository.GymRepository, log logger.Logger) QRAdminAppService {
	return &qrAdminAppServiceImpl{
		keys:    keys,
		sweeper: sweeper,
		gyms:    gyms,
		logger:  log.WithComponent("QRAdminAppService"),
	}
}

func (s *qrAdminAppServiceImpl) Rotate(ctx context.Context, actor Actor, req *dto.RotateRequest) (*dto.RotateResponse, error) {
	purpose, ok := models.ParsePurpose(req.Purpose)
	if !ok {
		return nil, errors.ErrInvalidPurpose(req.Purpose)
	}
	if req.GymID == "" {
		return nil, errors.ErrMissingRequiredParameter("gymId")
	}
	if !models.ValidGymID(req.GymID) {
		return nil, errors.ErrInvalidGymID(req.GymID)
	}

	if !actor.IsSuperAdmin() {
		gym, err := s.gyms.FindByID(ctx, req.GymID)
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.ErrGymNotFound(req.GymID)
		}
		if err != nil {
			return nil, errors.ErrServiceUnavailable("gym lookup failed").WithCause(err)
		}
		if actor.Role != constants.RoleGymOwner || gym.OwnerID != actor.ID {
			s.logger.Warn(ctx, "Rotation denied for non-owner",
				logger.String("actor_id", actor.ID),
				logger.String("role", string(actor.Role)),
				logger.String("gym_id", req.GymID),
			)
			return nil, errors.ErrForbidden("only the gym owner or a super admin may rotate this QR")
		}
	}

	version, err := s.keys.Rotate(ctx, req.GymID, purpose, actor.ID, req.Revoke)
	if err != nil {
		s.logger.Error(ctx, "Rotation failed", err,
			logger.String("gym_id", req.GymID),
			logger.String("purpose", purpose.String()),
			logger.Bool("revoke", req.Revoke),
		)
		return nil, err
	}
	return &dto.RotateResponse{
		GymID:   req.GymID,
		Purpose: purpose,
		Version: version,
		Revoked: req.Revoke,
	}, nil
}

func (s *qrAdminAppServiceImpl) Sweep(ctx context.Context, actor Actor, req *dto.SweepRequest) (*dto.SweepResponse, error) {
	if !actor.IsSuperAdmin() {
		return nil, errors.ErrForbidden("rotation sweep requires a super admin or the system secret")
	}
	actorID := actor.ID
	if actor.System {
		actorID = constants.SystemActorCron
	}

	start := time.Now()
	res, err := s.sweeper.RunNow(ctx, actorID, req.GymID, req.Force)
	if err != nil {
		return nil, errors.ErrServiceUnavailable("rotation sweep failed").WithCause(err)
	}

	resp := &dto.SweepResponse{Rotated: res.Rotated, Skipped: res.Skipped, Failed: res.Failed}
	if merr, ok := res.Failures.(*multierror.Error); ok {
		for _, e := range merr.Errors {
			resp.Errors = append(resp.Errors, e.Error())
		}
	}
	s.logger.Info(ctx, "Rotation sweep requested",
		logger.String("actor_id", actorID),
		logger.String("gym_id", req.GymID),
		logger.Bool("force", req.Force),
		logger.Duration("duration", time.Since(start)),
	)
	return resp, nil
}
