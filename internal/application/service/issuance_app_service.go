// Package service provides application-level services that orchestrate domain services and repositories
package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/qrgate/internal/application/dto"
	"github.com/turtacn/qrgate/internal/domain/models"
	"github.com/turtacn/qrgate/internal/domain/repository"
	domainService "github.com/turtacn/qrgate/internal/domain/service"
	"github.com/turtacn/qrgate/pkg/constants"
	"github.com/turtacn/qrgate/pkg/errors"
	"github.com/turtacn/qrgate/pkg/logger"
)

const tracerName = "github.com/turtacn/qrgate/internal/application/service"

// Rejection reasons recorded in logs and the issuance metric.
const (
	resultOK             = "ok"
	reasonInvalidRequest = "invalid_request"
	reasonRateLimited    = "rate_limited"
	reasonLimiterDown    = "rate_limiter_unavailable"
	reasonGymNotFound    = "gym_not_found"
	reasonGymSuspended   = "gym_suspended"
	reasonRotateFailed   = "rotate_failed"
	reasonQRRevoked      = "qr_revoked"
	reasonKeyUnavailable = "key_unavailable"
	reasonInternal       = "internal_error"
)

// KeyProvider is the slice of the key store used by issuance.
type KeyProvider interface {
	Ensure(ctx context.Context, gymID string, purpose models.Purpose) (*models.StaticQrConfig, *domainService.KeyHandle, error)
	RotateIfStale(ctx context.Context, gymID string, purpose models.Purpose, maxAge time.Duration) (bool, error)
	Current(ctx context.Context, gymID string, purpose models.Purpose) (*models.StaticQrConfig, *domainService.KeyHandle, error)
	KeyMaxAge() time.Duration
}

// IssuanceAppService defines the public token issuance flow
type IssuanceAppService interface {
	// Issue mints a fresh scan token for a static QR code
	Issue(ctx context.Context, req *dto.IssueTokenRequest) (*dto.IssueTokenResponse, error)
}

// issuanceAppServiceImpl is the concrete implementation of IssuanceAppService
type issuanceAppServiceImpl struct {
	limiter domainService.RateLimitService
	gyms    repository.GymRepository
	keys    KeyProvider
	signer  *domainService.TokenSigner
	tokens  repository.IssuedTokenRepository
	binder  domainService.DeviceBinder
	metrics domainService.Metrics
	logger  logger.Logger
	tracer  trace.Tracer
}

// NewIssuanceAppService creates a new instance of IssuanceAppService
func NewIssuanceAppService(
	limiter domainService.RateLimitService,
	gyms repository.GymRepository,
	keys KeyProvider,
	signer *domainService.TokenSigner,
	tokens repository.IssuedTokenRepository,
	binder domainService.DeviceBinder,
	metrics domainService.Metrics,
	log logger.Logger,
) IssuanceAppService {
	if binder == nil {
		binder = domainService.NoopDeviceBinder{}
	}
	if metrics == nil {
		metrics = domainService.NoopMetrics{}
	}
	return &issuanceAppServiceImpl{
		limiter: limiter,
		gyms:    gyms,
		keys:    keys,
		signer:  signer,
		tokens:  tokens,
		binder:  binder,
		metrics: metrics,
		logger:  log.WithComponent("IssuanceAppService"),
		tracer:  otel.Tracer(tracerName),
	}
}

// Issue runs the checks in a fixed order, each of which may reject the
// request: purpose, per-IP limit, per-(gym, purpose, IP) limit, gym status,
// lazy rotation, current key. Only then is a token signed and recorded.
func (s *issuanceAppServiceImpl) Issue(ctx context.Context, req *dto.IssueTokenRequest) (resp *dto.IssueTokenResponse, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "IssuanceAppService.Issue", trace.WithAttributes(
		attribute.String("gym_id", req.GymID),
		attribute.String("purpose", req.Purpose),
	))
	result := resultOK
	purposeLabel := "invalid"
	defer func() {
		s.metrics.RecordIssuance(purposeLabel, result, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
		}
		span.End()
	}()

	reject := func(reason string, cause error, fields ...logger.Field) error {
		result = reason
		fields = append(fields,
			logger.String("reason", reason),
			logger.String("gym_id", req.GymID),
			logger.String("purpose", req.Purpose),
			logger.String("client_ip", req.ClientIP),
		)
		if appErr, ok := errors.AsAppError(cause); ok && appErr.HTTPStatus() >= 500 {
			s.logger.Error(ctx, "Token issuance failed", cause, fields...)
		} else {
			s.logger.Warn(ctx, "Token issuance rejected", append(fields, logger.Err(cause))...)
		}
		return cause
	}

	// 1. purpose and gym id
	purpose, ok := models.ParsePurpose(req.Purpose)
	if !ok {
		return nil, reject(reasonInvalidRequest, errors.ErrInvalidPurpose(req.Purpose))
	}
	purposeLabel = purpose.String()
	if req.GymID == "" {
		return nil, reject(reasonInvalidRequest, errors.ErrMissingRequiredParameter("gymId"))
	}
	if !models.ValidGymID(req.GymID) {
		return nil, reject(reasonInvalidRequest, errors.ErrInvalidGymID(req.GymID))
	}

	// 2-3. coarse then fine rate limit
	if err := s.checkLimit(ctx, domainService.RateLimitDimensionIP, req.ClientIP); err != nil {
		return nil, reject(limitReason(err), err, logger.String("rate_limit_dimension", string(domainService.RateLimitDimensionIP)))
	}
	fineKey := fmt.Sprintf("%s:%s:%s", req.GymID, purpose, req.ClientIP)
	if err := s.checkLimit(ctx, domainService.RateLimitDimensionGymPurposeIP, fineKey); err != nil {
		return nil, reject(limitReason(err), err, logger.String("rate_limit_dimension", string(domainService.RateLimitDimensionGymPurposeIP)))
	}

	// 4. gym status
	gym, err := s.gyms.FindByID(ctx, req.GymID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, reject(reasonGymNotFound, errors.ErrGymNotFound(req.GymID))
	}
	if err != nil {
		return nil, reject(reasonInternal, errors.ErrServiceUnavailable("gym lookup failed").WithCause(err))
	}
	if gym.IsSuspended() {
		return nil, reject(reasonGymSuspended, errors.ErrGymSuspended(req.GymID))
	}

	// 5. provision on first scan, then rotate if the key is past its age
	if _, _, err := s.keys.Ensure(ctx, req.GymID, purpose); err != nil {
		return nil, reject(reasonKeyUnavailable, errors.ErrKeyUnavailable(req.GymID, purpose.String()).WithCause(err))
	}
	rotated, err := s.keys.RotateIfStale(ctx, req.GymID, purpose, s.keys.KeyMaxAge())
	if err != nil {
		return nil, reject(reasonRotateFailed, errors.ErrKeyUnavailable(req.GymID, purpose.String()).WithCause(err))
	}
	span.SetAttributes(attribute.Bool("rotated", rotated))

	// 6. current key
	_, handle, err := s.keys.Current(ctx, req.GymID, purpose)
	if err != nil {
		reason := reasonKeyUnavailable
		if errors.HasCode(err, constants.ErrCodeQRRevoked) {
			reason = reasonQRRevoked
		}
		return nil, reject(reason, err)
	}

	// 7. sign, encode and record
	payload, err := s.signer.Sign(req.GymID, purpose, handle.Version, handle.Material)
	if err != nil {
		return nil, reject(reasonInternal, errors.ErrInternal("failed to sign token").WithCause(err))
	}
	token, err := s.signer.Encode(payload)
	if err != nil {
		return nil, reject(reasonInternal, errors.ErrInternal("failed to encode token").WithCause(err))
	}
	binding, err := s.binder.Bind(ctx, req.GymID, purpose, req.DeviceFingerprint)
	if err != nil {
		return nil, reject(reasonInvalidRequest, err)
	}

	record := &models.IssuedTokenRecord{
		TokenHash:         domainService.Hash(token),
		GymID:             req.GymID,
		Purpose:           purpose,
		KeyVersion:        handle.Version,
		Nonce:             payload.Nonce,
		ExpiresAt:         payload.ExpiresAt(),
		DeviceBindingHash: binding,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.tokens.Upsert(ctx, record); err != nil {
		return nil, reject(reasonInternal, errors.ErrServiceUnavailable("failed to record issued token").WithCause(err))
	}

	s.logger.Debug(ctx, "Token issued",
		logger.String("gym_id", req.GymID),
		logger.String("purpose", purpose.String()),
		logger.Int("key_version", handle.Version),
		logger.String("token_hash", record.TokenHash),
		logger.Bool("device_bound", binding != nil),
	)

	// 8. response
	return &dto.IssueTokenResponse{
		OK:        true,
		Payload:   payload,
		Token:     token,
		DeepLink:  s.signer.DeepLink(token, payload),
		ExpiresAt: payload.ExpiresAt(),
	}, nil
}

// checkLimit returns nil when the request fits the dimension's window, a 429
// carrying the retry delay when it does not, and the limiter's error otherwise.
func (s *issuanceAppServiceImpl) checkLimit(ctx context.Context, dim domainService.RateLimitDimension, identifier string) error {
	decision, err := s.limiter.Allow(ctx, dim, identifier)
	if err != nil {
		if _, ok := errors.AsAppError(err); ok {
			return err
		}
		return errors.ErrServiceUnavailable("rate limiter unavailable").WithCause(err)
	}
	if decision.Allowed {
		return nil
	}
	s.metrics.RecordRateLimitHit(string(dim))
	retry := int(math.Ceil(decision.RetryAfter.Seconds()))
	if retry < 1 {
		retry = 1
	}
	return errors.ErrRateLimitExceeded(string(dim), decision.Limit).
		WithMetadata(constants.MetadataRetryAfterSeconds, retry)
}

func limitReason(err error) string {
	if errors.HasCode(err, constants.ErrCodeRateLimitExceeded) {
		return reasonRateLimited
	}
	return reasonLimiterDown
}
