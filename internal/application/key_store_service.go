// Package application provides the application layer services: the key store,
// the rotation scheduler and the batch asset generator.
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/qrgate/internal/domain/models"
	"github.com/turtacn/qrgate/internal/domain/repository"
	"github.com/turtacn/qrgate/internal/domain/service"
	"github.com/turtacn/qrgate/pkg/constants"
	"github.com/turtacn/qrgate/pkg/errors"
	"github.com/turtacn/qrgate/pkg/logger"
)

const tracerName = "github.com/turtacn/qrgate/internal/application"

// Rotation triggers, used as metric labels and audit metadata.
const (
	TriggerManual = "manual"
	TriggerAuto   = "auto"
	TriggerSweep  = "sweep"
	TriggerForced = "forced"
	TriggerRevoke = "revoke"
)

// maxRotateAttempts bounds manual rotation retries after losing a version race.
const maxRotateAttempts = 3

// SweepResult reports the outcome of one sweep. Failures aggregates the
// per-config errors; it is nil when every config was handled.
type SweepResult struct {
	Rotated  int
	Skipped  int
	Failed   int
	Failures error
}

// KeyStoreConfig holds the key lifecycle thresholds.
type KeyStoreConfig struct {
	// KeyMaxAge is the age after which the sweep rotates a key.
	KeyMaxAge time.Duration
	// GraceWindow is how long a superseded key still verifies. It equals the token TTL.
	GraceWindow time.Duration
}

// KeyStore owns the per-(gym, purpose) signing keys and their static QR configs.
type KeyStore struct {
	keys    repository.QRKeyRepository
	sealer  service.KeySealer
	audit   service.AuditService
	metrics service.Metrics
	cfg     KeyStoreConfig
	logger  logger.Logger
	tracer  trace.Tracer
	now     func() time.Time

	group singleflight.Group
}

// NewKeyStore wires the key store.
func NewKeyStore(
	keys repository.QRKeyRepository,
	sealer service.KeySealer,
	audit service.AuditService,
	metrics service.Metrics,
	cfg KeyStoreConfig,
	log logger.Logger,
) *KeyStore {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &KeyStore{
		keys:    keys,
		sealer:  sealer,
		audit:   audit,
		metrics: metrics,
		cfg:     cfg,
		logger:  log.WithComponent("KeyStore"),
		tracer:  otel.Tracer(tracerName),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Test only.
func (s *KeyStore) WithClock(now func() time.Time) *KeyStore {
	s.now = now
	return s
}

// KeyMaxAge returns the configured staleness threshold.
func (s *KeyStore) KeyMaxAge() time.Duration {
	return s.cfg.KeyMaxAge
}

// Ensure returns the config and current key for (gymID, purpose), creating
// version 1 when none exists. Concurrent first calls converge on one row: the
// loser of the insert race re-reads the winner's config.
func (s *KeyStore) Ensure(ctx context.Context, gymID string, purpose models.Purpose) (*models.StaticQrConfig, *service.KeyHandle, error) {
	if err := validateTarget(gymID, purpose); err != nil {
		return nil, nil, err
	}

	cfg, err := s.keys.FindConfig(ctx, gymID, purpose)
	if err == nil {
		handle, err := s.loadKey(ctx, gymID, purpose, cfg.CurrentKeyVersion)
		if err != nil {
			return nil, nil, err
		}
		return cfg, handle, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, nil, fmt.Errorf("find static qr config: %w", err)
	}

	now := s.now()
	key, material, err := s.newKey(gymID, purpose, 1, now)
	if err != nil {
		return nil, nil, err
	}
	cfg = &models.StaticQrConfig{
		ID:                uuid.NewString(),
		GymID:             gymID,
		Purpose:           purpose,
		CurrentKeyVersion: 1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.keys.CreateInitial(ctx, cfg, key)
	switch {
	case err == nil:
		s.logger.Info(ctx, "Static QR provisioned",
			logger.String("gym_id", gymID),
			logger.String("purpose", purpose.String()),
		)
		return cfg, &service.KeyHandle{Version: 1, CreatedAt: now, Material: material}, nil
	case errors.Is(err, errors.ErrDuplicate):
		cfg, err = s.keys.FindConfig(ctx, gymID, purpose)
		if err != nil {
			return nil, nil, fmt.Errorf("re-read static qr config after race: %w", err)
		}
		handle, err := s.loadKey(ctx, gymID, purpose, cfg.CurrentKeyVersion)
		if err != nil {
			return nil, nil, err
		}
		return cfg, handle, nil
	default:
		return nil, nil, fmt.Errorf("provision static qr config: %w", err)
	}
}

// Current loads the key used to sign new tokens. A revoked config yields
// ErrQRRevoked; a missing or unreadable key yields ErrKeyUnavailable.
func (s *KeyStore) Current(ctx context.Context, gymID string, purpose models.Purpose) (*models.StaticQrConfig, *service.KeyHandle, error) {
	cfg, err := s.keys.FindConfig(ctx, gymID, purpose)
	if err != nil {
		return nil, nil, errors.ErrKeyUnavailable(gymID, purpose.String()).WithCause(err)
	}
	if cfg.IsRevoked() {
		return nil, nil, errors.ErrQRRevoked(gymID, purpose.String())
	}
	handle, err := s.loadKey(ctx, gymID, purpose, cfg.CurrentKeyVersion)
	if err != nil {
		return nil, nil, errors.ErrKeyUnavailable(gymID, purpose.String()).WithCause(err)
	}
	return cfg, handle, nil
}

// Rotate advances (gymID, purpose) to a fresh key, or with revokeOnly disables
// issuance without creating one. It returns the version now current. Rotating
// an unconfigured purpose provisions version 1.
func (s *KeyStore) Rotate(ctx context.Context, gymID string, purpose models.Purpose, actorID string, revokeOnly bool) (int, error) {
	if err := validateTarget(gymID, purpose); err != nil {
		return 0, err
	}
	ctx, span := s.tracer.Start(ctx, "KeyStore.Rotate", trace.WithAttributes(
		attribute.String("gym_id", gymID),
		attribute.String("purpose", purpose.String()),
		attribute.Bool("revoke_only", revokeOnly),
	))
	defer span.End()

	version, err := s.rotate(ctx, gymID, purpose, actorID, revokeOnly)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return version, err
}

func (s *KeyStore) rotate(ctx context.Context, gymID string, purpose models.Purpose, actorID string, revokeOnly bool) (int, error) {
	if revokeOnly {
		return s.revoke(ctx, gymID, purpose, actorID)
	}

	for attempt := 1; ; attempt++ {
		cfg, err := s.keys.FindConfig(ctx, gymID, purpose)
		if errors.Is(err, errors.ErrNotFound) {
			cfg, _, err = s.Ensure(ctx, gymID, purpose)
			if err != nil {
				return 0, err
			}
			s.recordRotation(ctx, gymID, purpose, actorID, TriggerManual, 0, cfg.CurrentKeyVersion)
			return cfg.CurrentKeyVersion, nil
		}
		if err != nil {
			return 0, fmt.Errorf("find static qr config: %w", err)
		}

		newVersion, err := s.advance(ctx, gymID, purpose, cfg.CurrentKeyVersion, actorID, TriggerManual)
		if errors.Is(err, errors.ErrStaleVersion) && attempt < maxRotateAttempts {
			s.logger.Debug(ctx, "Rotation lost version race, retrying",
				logger.String("gym_id", gymID),
				logger.String("purpose", purpose.String()),
				logger.Int("attempt", attempt),
			)
			continue
		}
		if errors.Is(err, errors.ErrStaleVersion) {
			return 0, errors.ErrRotationConflict(gymID, purpose.String()).WithCause(err)
		}
		return newVersion, err
	}
}

func (s *KeyStore) revoke(ctx context.Context, gymID string, purpose models.Purpose, actorID string) (int, error) {
	cfg, err := s.keys.FindConfig(ctx, gymID, purpose)
	if errors.Is(err, errors.ErrNotFound) {
		return 0, errors.ErrQRNotConfigured(gymID, purpose.String())
	}
	if err != nil {
		return 0, fmt.Errorf("find static qr config: %w", err)
	}

	now := s.now()
	if err := s.keys.RevokeConfig(ctx, gymID, purpose, now); err != nil {
		return 0, fmt.Errorf("revoke static qr config: %w", err)
	}

	s.metrics.RecordRotation(purpose.String(), TriggerRevoke)
	s.logger.Warn(ctx, "Static QR revoked",
		logger.String("gym_id", gymID),
		logger.String("purpose", purpose.String()),
		logger.String("actor_id", actorID),
	)
	s.writeAudit(ctx, models.NewAuditEntry(actorID, constants.AuditCategoryQRKey, constants.AuditActionQRRevoked).
		WithGym(gymID).
		WithMetadata(map[string]interface{}{
			"purpose":    purpose,
			"keyVersion": cfg.CurrentKeyVersion,
		}))
	return cfg.CurrentKeyVersion, nil
}

// RotateIfStale rotates only when the current key is older than maxAge. A
// fresh key costs two reads and no writes. Concurrent callers in this process
// share one attempt; across processes the version compare-and-set admits one
// winner and the losers return false. Revoked configs are never rotated here.
func (s *KeyStore) RotateIfStale(ctx context.Context, gymID string, purpose models.Purpose, maxAge time.Duration) (bool, error) {
	cfg, err := s.keys.FindConfig(ctx, gymID, purpose)
	if errors.Is(err, errors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find static qr config: %w", err)
	}
	if cfg.IsRevoked() {
		return false, nil
	}

	key, err := s.keys.FindKey(ctx, gymID, purpose, cfg.CurrentKeyVersion)
	if err != nil {
		return false, fmt.Errorf("find current key: %w", err)
	}
	if key.Age(s.now()) < maxAge {
		return false, nil
	}

	executed := false
	flightKey := gymID + "|" + purpose.String()
	_, err, _ = s.group.Do(flightKey, func() (interface{}, error) {
		executed = true
		return s.advance(context.WithoutCancel(ctx), gymID, purpose, cfg.CurrentKeyVersion, constants.SystemActorAutoRotate, TriggerAuto)
	})
	if errors.Is(err, errors.ErrStaleVersion) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return executed, nil
}

// SweepRotate visits every non-revoked config of gymID, or of the fleet when
// gymID is empty, and rotates stale keys (all keys when force is set). A failing
// config is counted and reported in Failures without stopping the sweep.
func (s *KeyStore) SweepRotate(ctx context.Context, actorID, gymID string, force bool) (*SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "KeyStore.SweepRotate", trace.WithAttributes(
		attribute.String("gym_id", gymID),
		attribute.Bool("force", force),
	))
	defer span.End()
	start := time.Now()

	cfgs, err := s.keys.ListActiveConfigs(ctx, gymID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list static qr configs: %w", err)
	}

	trigger := TriggerSweep
	if force {
		trigger = TriggerForced
	}

	result := &SweepResult{}
	var failures *multierror.Error
	for _, cfg := range cfgs {
		if !force {
			key, err := s.keys.FindKey(ctx, cfg.GymID, cfg.Purpose, cfg.CurrentKeyVersion)
			if err != nil {
				result.Failed++
				failures = multierror.Append(failures, fmt.Errorf("%s/%s: find current key: %w", cfg.GymID, cfg.Purpose, err))
				continue
			}
			if key.Age(s.now()) < s.cfg.KeyMaxAge {
				result.Skipped++
				continue
			}
		}

		_, err := s.advance(ctx, cfg.GymID, cfg.Purpose, cfg.CurrentKeyVersion, actorID, trigger)
		switch {
		case err == nil:
			result.Rotated++
		case errors.Is(err, errors.ErrStaleVersion):
			// rotated concurrently by issuance or another instance
			result.Skipped++
		default:
			result.Failed++
			failures = multierror.Append(failures, fmt.Errorf("%s/%s: %w", cfg.GymID, cfg.Purpose, err))
		}
	}
	result.Failures = failures.ErrorOrNil()

	duration := time.Since(start)
	s.metrics.RecordSweep(result.Rotated, result.Skipped, result.Failed, duration)
	span.SetAttributes(
		attribute.Int("rotated", result.Rotated),
		attribute.Int("skipped", result.Skipped),
		attribute.Int("failed", result.Failed),
	)

	fields := []logger.Field{
		logger.String("actor_id", actorID),
		logger.String("gym_id", gymID),
		logger.Bool("force", force),
		logger.Int("rotated", result.Rotated),
		logger.Int("skipped", result.Skipped),
		logger.Int("failed", result.Failed),
		logger.Duration("duration", duration),
	}
	if result.Failures != nil {
		s.logger.Error(ctx, "Rotation sweep finished with failures", result.Failures, fields...)
	} else {
		s.logger.Info(ctx, "Rotation sweep finished", fields...)
	}

	s.writeAudit(ctx, models.NewAuditEntry(actorID, constants.AuditCategoryQRKey, constants.AuditActionSweepFinished).
		WithGym(gymID).
		WithMetadata(map[string]interface{}{
			"force":      force,
			"rotated":    result.Rotated,
			"skipped":    result.Skipped,
			"failed":     result.Failed,
			"durationMs": duration.Milliseconds(),
		}))
	return result, nil
}

// VerificationKey returns the key that may verify a token signed with version.
// The current version always qualifies. The immediately previous version
// qualifies until one grace window after it was superseded; older versions never do.
func (s *KeyStore) VerificationKey(ctx context.Context, gymID string, purpose models.Purpose, version int) (service.KeyMaterial, error) {
	cfg, err := s.keys.FindConfig(ctx, gymID, purpose)
	if errors.Is(err, errors.ErrNotFound) {
		return service.KeyMaterial{}, errors.ErrQRNotConfigured(gymID, purpose.String())
	}
	if err != nil {
		return service.KeyMaterial{}, fmt.Errorf("find static qr config: %w", err)
	}
	if cfg.IsRevoked() {
		return service.KeyMaterial{}, errors.ErrQRRevoked(gymID, purpose.String())
	}

	switch version {
	case cfg.CurrentKeyVersion:
		handle, err := s.loadKey(ctx, gymID, purpose, version)
		if err != nil {
			return service.KeyMaterial{}, err
		}
		return handle.Material, nil
	case cfg.CurrentKeyVersion - 1:
		key, err := s.keys.FindKey(ctx, gymID, purpose, version)
		if err != nil {
			return service.KeyMaterial{}, fmt.Errorf("find previous key: %w", err)
		}
		if key.RevokedAt != nil && s.now().Sub(*key.RevokedAt) < s.cfg.GraceWindow {
			return s.openKey(key)
		}
	}
	return service.KeyMaterial{}, fmt.Errorf("%w: key version %d is no longer accepted", errors.ErrInvalidSignature, version)
}

// VerifyToken decodes token and checks it against the verification key of
// its version. It does not consult or update the replay record.
func (s *KeyStore) VerifyToken(ctx context.Context, signer *service.TokenSigner, token string) (*models.TokenPayload, error) {
	payload, err := signer.Decode(token)
	if err != nil {
		return nil, err
	}
	key, err := s.VerificationKey(ctx, payload.GymID, payload.Purpose, payload.Version)
	if err != nil {
		return nil, err
	}
	if err := signer.Verify(payload, key, s.now()); err != nil {
		return nil, err
	}
	return payload, nil
}

// MarkGenerated records that printable assets were produced at at.
func (s *KeyStore) MarkGenerated(ctx context.Context, gymID string, purpose models.Purpose, at time.Time) error {
	if err := s.keys.MarkGenerated(ctx, gymID, purpose, at); err != nil {
		return fmt.Errorf("mark static qr generated: %w", err)
	}
	return nil
}

// advance rotates from fromVersion to fromVersion+1. It returns ErrStaleVersion
// when another writer advanced the config first.
func (s *KeyStore) advance(ctx context.Context, gymID string, purpose models.Purpose, fromVersion int, actorID, trigger string) (int, error) {
	newVersion := fromVersion + 1
	key, _, err := s.newKey(gymID, purpose, newVersion, s.now())
	if err != nil {
		return 0, err
	}
	if err := s.keys.AdvanceVersion(ctx, gymID, purpose, fromVersion, key); err != nil {
		if errors.Is(err, errors.ErrStaleVersion) {
			return 0, err
		}
		return 0, fmt.Errorf("advance key version: %w", err)
	}
	s.recordRotation(ctx, gymID, purpose, actorID, trigger, fromVersion, newVersion)
	return newVersion, nil
}

func (s *KeyStore) recordRotation(ctx context.Context, gymID string, purpose models.Purpose, actorID, trigger string, from, to int) {
	s.metrics.RecordRotation(purpose.String(), trigger)
	s.logger.Info(ctx, "Signing key rotated",
		logger.String("gym_id", gymID),
		logger.String("purpose", purpose.String()),
		logger.Int("previous_version", from),
		logger.Int("new_version", to),
		logger.String("trigger", trigger),
		logger.String("actor_id", actorID),
	)
	s.writeAudit(ctx, models.NewAuditEntry(actorID, constants.AuditCategoryQRKey, constants.AuditActionKeyRotated).
		WithGym(gymID).
		WithMetadata(map[string]interface{}{
			"purpose":         purpose,
			"previousVersion": from,
			"newVersion":      to,
			"trigger":         trigger,
		}))
}

// writeAudit records entry. The key change has already committed, so a sink
// failure is logged and not returned.
func (s *KeyStore) writeAudit(ctx context.Context, entry *models.AuditEntry) {
	if s.audit == nil {
		return
	}
	entry.WithTraceID(traceIDFromContext(ctx))
	if err := s.audit.LogEvent(ctx, entry); err != nil {
		s.logger.Error(ctx, "Failed to write audit entry", err,
			logger.String("action", string(entry.Action)),
			logger.String("audit_id", entry.ID),
		)
	}
}

func (s *KeyStore) newKey(gymID string, purpose models.Purpose, version int, now time.Time) (*models.SigningKey, service.KeyMaterial, error) {
	secret, err := service.GenerateSecret()
	if err != nil {
		return nil, service.KeyMaterial{}, err
	}
	defer zero(secret)

	sealed, err := s.sealer.Seal(secret)
	if err != nil {
		return nil, service.KeyMaterial{}, fmt.Errorf("seal key material: %w", err)
	}
	return &models.SigningKey{
		ID:           uuid.NewString(),
		GymID:        gymID,
		Purpose:      purpose,
		Version:      version,
		SealedSecret: sealed,
		CreatedAt:    now,
	}, service.NewKeyMaterial(secret), nil
}

func (s *KeyStore) loadKey(ctx context.Context, gymID string, purpose models.Purpose, version int) (*service.KeyHandle, error) {
	key, err := s.keys.FindKey(ctx, gymID, purpose, version)
	if err != nil {
		return nil, fmt.Errorf("find key version %d: %w", version, err)
	}
	material, err := s.openKey(key)
	if err != nil {
		return nil, err
	}
	return &service.KeyHandle{Version: key.Version, CreatedAt: key.CreatedAt, Material: material}, nil
}

func (s *KeyStore) openKey(key *models.SigningKey) (service.KeyMaterial, error) {
	secret, err := s.sealer.Open(key.SealedSecret)
	if err != nil {
		return service.KeyMaterial{}, fmt.Errorf("open key version %d: %w", key.Version, err)
	}
	defer zero(secret)
	return service.NewKeyMaterial(secret), nil
}

func validateTarget(gymID string, purpose models.Purpose) error {
	if gymID == "" {
		return errors.ErrMissingRequiredParameter("gymId")
	}
	if !models.ValidGymID(gymID) {
		return errors.ErrInvalidGymID(gymID)
	}
	if !purpose.Valid() {
		return errors.ErrInvalidPurpose(purpose.String())
	}
	return nil
}

func traceIDFromContext(ctx context.Context) string {
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		return sc.TraceID().String()
	}
	if id, ok := ctx.Value(constants.ContextKeyTraceID).(string); ok {
		return id
	}
	return ""
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
