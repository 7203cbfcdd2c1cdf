package application

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/turtacn/qrgate/internal/domain/models"
	"github.com/turtacn/qrgate/internal/domain/repository"
	"github.com/turtacn/qrgate/internal/domain/service"
	"github.com/turtacn/qrgate/internal/domain/service/mocks"
	"github.com/turtacn/qrgate/internal/infrastructure/kms"
	"github.com/turtacn/qrgate/internal/infrastructure/persistence/postgres"
	"github.com/turtacn/qrgate/pkg/constants"
	"github.com/turtacn/qrgate/pkg/errors"
	"github.com/turtacn/qrgate/pkg/logger"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type keyStoreFixture struct {
	db    *gorm.DB
	repo  *postgres.QRKeyRepository
	store *KeyStore
	audit *mocks.MockAuditService
	clock *testClock
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := postgres.Open(sqlite.Open("file:" + t.Name() + "?mode=memory&cache=shared"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, postgres.AutoMigrate(context.Background(), db))
	return db
}

func newKeyStoreFixture(t *testing.T) *keyStoreFixture {
	t.Helper()
	db := newTestDB(t)
	sealer, err := kms.NewAESGCMSealer(make([]byte, kms.MasterKeySize))
	require.NoError(t, err)

	audit := new(mocks.MockAuditService)
	audit.On("LogEvent", mock.Anything, mock.Anything).Return(nil).Maybe()

	clock := &testClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	repo := postgres.NewQRKeyRepository(db)
	store := NewKeyStore(repo, sealer, audit, service.NoopMetrics{}, KeyStoreConfig{
		KeyMaxAge:   24 * time.Hour,
		GraceWindow: 30 * time.Second,
	}, logger.NewNoopLogger()).WithClock(clock.Now)

	return &keyStoreFixture{db: db, repo: repo, store: store, audit: audit, clock: clock}
}

func auditActions(m *mocks.MockAuditService) []constants.AuditAction {
	var actions []constants.AuditAction
	for _, c := range m.Calls {
		if c.Method == "LogEvent" {
			actions = append(actions, c.Arguments.Get(1).(*models.AuditEntry).Action)
		}
	}
	return actions
}

func countKeys(t *testing.T, db *gorm.DB, gymID string, purpose models.Purpose) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.SigningKey{}).Where("gym_id = ? AND purpose = ?", gymID, purpose).Count(&n).Error)
	return n
}

func TestKeyStore_EnsureProvisionsOnce(t *testing.T) {
	f := newKeyStoreFixture(t)
	ctx := context.Background()

	cfg, handle, err := f.store.Ensure(ctx, "gym-1", models.PurposeEntry)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.CurrentKeyVersion)
	assert.Equal(t, 1, handle.Version)
	assert.False(t, handle.Material.IsZero())

	cfg2, handle2, err := f.store.Ensure(ctx, "gym-1", models.PurposeEntry)
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, cfg2.ID)
	assert.Equal(t, 1, handle2.Version)
	assert.EqualValues(t, 1, countKeys(t, f.db, "gym-1", models.PurposeEntry))
}

func TestKeyStore_EnsureConcurrentCallersConverge(t *testing.T) {
	f := newKeyStoreFixture(t)
	ctx := context.Background()

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cfg, _, err := f.store.Ensure(ctx, "gym-1", models.PurposeExit)
			if assert.NoError(t, err) {
				ids[i] = cfg.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.EqualValues(t, 1, countKeys(t, f.db, "gym-1", models.PurposeExit))
}

func TestKeyStore_EnsureRejectsBadInput(t *testing.T) {
	f := newKeyStoreFixture(t)

	_, _, err := f.store.Ensure(context.Background(), "", models.PurposeEntry)
	assert.True(t, errors.HasCode(err, constants.ErrCodeInvalidRequest))

	_, _, err = f.store.Ensure(context.Background(), "gym-1", models.Purpose("LOCKER"))
	assert.True(t, errors.HasCode(err, constants.ErrCodeInvalidPurpose))
}

func TestKeyStore_RotateAdvancesVersion(t *testing.T) {
	f := newKeyStoreFixture(t)
	ctx := context.Background()

	_, first, err := f.store.Ensure(ctx, "gym-1", models.PurposeEntry)
	require.NoError(t, err)

	version, err := f.store.Rotate(ctx, "gym-1", models.PurposeEntry, "owner-1", false)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	old, err := f.repo.FindKey(ctx, "gym-1", models.PurposeEntry, 1)
	require.NoError(t, err)
	assert.True(t, old.IsRevoked())

	_, current, err := f.store.Current(ctx, "gym-1", models.PurposeEntry)
	require.NoError(t, err)
	assert.Equal(t, 2, current.Version)
	assert.NotEqual(t, first.Material, current.Material)

	assert.Equal(t, []constants.AuditAction{constants.AuditActionKeyRotated}, auditActions(f.audit))
	entry := f.audit.Calls[0].Arguments.Get(1).(*models.AuditEntry)
	assert.Equal(t, "owner-1", entry.ActorID)
	assert.JSONEq(t, `{"purpose":"ENTRY","previousVersion":1,"newVersion":2,"trigger":"manual"}`, string(entry.Metadata))
}

func TestKeyStore_RotateUnconfiguredProvisions(t *testing.T) {
	f := newKeyStoreFixture(t)

	version, err := f.store.Rotate(context.Background(), "gym-9", models.PurposePayment, "admin", false)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestKeyStore_RevokeThenRotateRestoresIssuance(t *testing.T) {
	f := newKeyStoreFixture(t)
	ctx := context.Background()

	_, _, err := f.store.Ensure(ctx, "gym-1", models.PurposeEntry)
	require.NoError(t, err)

	version, err := f.store.Rotate(ctx, "gym-1", models.PurposeEntry, "owner-1", true)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	assert.EqualValues(t, 1, countKeys(t, f.db, "gym-1", models.PurposeEntry), "revoke creates no key")

	_, _, err = f.store.Current(ctx, "gym-1", models.PurposeEntry)
	assert.True(t, errors.HasCode(err, constants.ErrCodeQRRevoked))

	rotated, err := f.store.RotateIfStale(ctx, "gym-1", models.PurposeEntry, 0)
	require.NoError(t, err)
	assert.False(t, rotated, "revoked configs are never auto-rotated")

	version, err = f.store.Rotate(ctx, "gym-1", models.PurposeEntry, "owner-1", false)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	_, current, err := f.store.Current(ctx, "gym-1", models.PurposeEntry)
	require.NoError(t, err)
	assert.Equal(t, 2, current.Version)

	assert.Equal(t, []constants.AuditAction{constants.AuditActionQRRevoked, constants.AuditActionKeyRotated}, auditActions(f.audit))
}

func TestKeyStore_RevokeUnconfigured(t *testing.T) {
	f := newKeyStoreFixture(t)

	_, err := f.store.Rotate(context.Background(), "gym-1", models.PurposeEntry, "owner-1", true)
	assert.True(t, errors.HasCode(err, constants.ErrCodeNotFound))
}

func TestKeyStore_RotateIfStale(t *testing.T) {
	f := newKeyStoreFixture(t)
	ctx := context.Background()

	rotated, err := f.store.RotateIfStale(ctx, "gym-1", models.PurposeEntry, time.Hour)
	require.NoError(t, err)
	assert.False(t, rotated, "unconfigured")

	_, _, err = f.store.Ensure(ctx, "gym-1", models.PurposeEntry)
	require.NoError(t, err)

	rotated, err = f.store.RotateIfStale(ctx, "gym-1", models.PurposeEntry, time.Hour)
	require.NoError(t, err)
	assert.False(t, rotated, "fresh key")
	assert.Empty(t, auditActions(f.audit))

	f.clock.Advance(2 * time.Hour)
	rotated, err = f.store.RotateIfStale(ctx, "gym-1", models.PurposeEntry, time.Hour)
	require.NoError(t, err)
	assert.True(t, rotated)

	cfg, err := f.repo.FindConfig(ctx, "gym-1", models.PurposeEntry)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.CurrentKeyVersion)
}

func TestKeyStore_RotateIfStaleRotatesOnceUnderConcurrency(t *testing.T) {
	f := newKeyStoreFixture(t)
	ctx := context.Background()

	_, _, err := f.store.Ensure(ctx, "gym-1", models.PurposeEntry)
	require.NoError(t, err)
	f.clock.Advance(48 * time.Hour)

	const callers = 10
	results := make(chan bool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rotated, err := f.store.RotateIfStale(ctx, "gym-1", models.PurposeEntry, 24*time.Hour)
			assert.NoError(t, err)
			results <- rotated
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for r := range results {
		if r {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	assert.EqualValues(t, 2, countKeys(t, f.db, "gym-1", models.PurposeEntry))
	assert.Equal(t, []constants.AuditAction{constants.AuditActionKeyRotated}, auditActions(f.audit))
}

func TestKeyStore_SweepRotate(t *testing.T) {
	f := newKeyStoreFixture(t)
	ctx := context.Background()

	for _, gym := range []string{"gym-1", "gym-2"} {
		for _, p := range models.AllPurposes {
			_, _, err := f.store.Ensure(ctx, gym, p)
			require.NoError(t, err)
		}
	}
	_, err := f.store.Rotate(ctx, "gym-2", models.PurposePayment, "owner-2", true)
	require.NoError(t, err)

	res, err := f.store.SweepRotate(ctx, constants.SystemActorScheduler, "", false)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Rotated: 0, Skipped: 5}, *res)

	f.clock.Advance(25 * time.Hour)
	res, err = f.store.SweepRotate(ctx, constants.SystemActorScheduler, "", false)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Rotated)
	assert.Zero(t, res.Failed)
	assert.NoError(t, res.Failures)

	revoked, err := f.repo.FindConfig(ctx, "gym-2", models.PurposePayment)
	require.NoError(t, err)
	assert.Equal(t, 1, revoked.CurrentKeyVersion, "revoked configs are not swept")

	res, err = f.store.SweepRotate(ctx, "admin", "gym-1", true)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rotated)

	cfg, err := f.repo.FindConfig(ctx, "gym-1", models.PurposeEntry)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.CurrentKeyVersion)

	sweeps := 0
	for _, a := range auditActions(f.audit) {
		if a == constants.AuditActionSweepFinished {
			sweeps++
		}
	}
	assert.Equal(t, 3, sweeps)
}

func TestKeyStore_SweepRotateContinuesPastFailingConfig(t *testing.T) {
	f := newKeyStoreFixture(t)
	ctx := context.Background()

	for _, gym := range []string{"gym-1", "gym-2"} {
		for _, p := range models.AllPurposes {
			_, _, err := f.store.Ensure(ctx, gym, p)
			require.NoError(t, err)
		}
	}
	// gym-1/EXIT loses its current key row, so its age cannot be read.
	require.NoError(t, f.db.Where("gym_id = ? AND purpose = ?", "gym-1", models.PurposeExit).
		Delete(&models.SigningKey{}).Error)

	f.clock.Advance(25 * time.Hour)
	res, err := f.store.SweepRotate(ctx, constants.SystemActorScheduler, "", false)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Rotated)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Skipped)
	require.Error(t, res.Failures)
	assert.Contains(t, res.Failures.Error(), "gym-1/"+models.PurposeExit.String())
	assert.NotContains(t, res.Failures.Error(), "gym-2/")

	for _, gym := range []string{"gym-1", "gym-2"} {
		for _, p := range models.AllPurposes {
			cfg, err := f.repo.FindConfig(ctx, gym, p)
			require.NoError(t, err)
			want := 2
			if gym == "gym-1" && p == models.PurposeExit {
				want = 1
			}
			assert.Equal(t, want, cfg.CurrentKeyVersion, "%s/%s", gym, p)
		}
	}
}

// staleKeyRepository loses every version compare-and-set.
type staleKeyRepository struct {
	repository.QRKeyRepository
	advances int
}

func (r *staleKeyRepository) AdvanceVersion(ctx context.Context, gymID string, purpose models.Purpose, fromVersion int, key *models.SigningKey) error {
	r.advances++
	return errors.ErrStaleVersion
}

func TestKeyStore_RotateGivesUpWithConflict(t *testing.T) {
	f := newKeyStoreFixture(t)
	ctx := context.Background()

	_, _, err := f.store.Ensure(ctx, "gym-1", models.PurposeEntry)
	require.NoError(t, err)

	stale := &staleKeyRepository{QRKeyRepository: f.repo}
	f.store.keys = stale

	_, err = f.store.Rotate(ctx, "gym-1", models.PurposeEntry, "owner-1", false)
	require.Error(t, err)
	assert.Equal(t, maxRotateAttempts, stale.advances)
	assert.True(t, errors.HasCode(err, constants.ErrCodeConflict))
	appErr, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, appErr.HTTPStatus())
	assert.ErrorIs(t, err, errors.ErrStaleVersion)
}

func TestKeyStore_VerificationKeyGraceWindow(t *testing.T) {
	f := newKeyStoreFixture(t)
	ctx := context.Background()
	signer := service.NewTokenSigner(30*time.Second, "qrgate").WithClock(f.clock.Now)

	_, v1, err := f.store.Ensure(ctx, "gym-1", models.PurposeEntry)
	require.NoError(t, err)
	p1, err := signer.Sign("gym-1", models.PurposeEntry, v1.Version, v1.Material)
	require.NoError(t, err)
	t1, err := signer.Encode(p1)
	require.NoError(t, err)

	_, err = f.store.Rotate(ctx, "gym-1", models.PurposeEntry, "owner-1", false)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Second)
	got, err := f.store.VerifyToken(ctx, signer, t1)
	require.NoError(t, err, "previous version verifies inside the grace window")
	assert.Equal(t, 1, got.Version)

	_, err = f.store.Rotate(ctx, "gym-1", models.PurposeEntry, "owner-1", false)
	require.NoError(t, err)
	_, err = f.store.VerificationKey(ctx, "gym-1", models.PurposeEntry, 1)
	assert.ErrorIs(t, err, errors.ErrInvalidSignature, "only the immediately previous version is accepted")

	_, err = f.store.VerificationKey(ctx, "gym-1", models.PurposeEntry, 2)
	require.NoError(t, err)
	f.clock.Advance(31 * time.Second)
	_, err = f.store.VerificationKey(ctx, "gym-1", models.PurposeEntry, 2)
	assert.ErrorIs(t, err, errors.ErrInvalidSignature, "grace window elapsed")

	_, err = f.store.VerificationKey(ctx, "gym-1", models.PurposeEntry, 3)
	assert.NoError(t, err)
}

func TestKeyStore_AuditFailureDoesNotFailRotation(t *testing.T) {
	f := newKeyStoreFixture(t)
	ctx := context.Background()

	failing := new(mocks.MockAuditService)
	failing.On("LogEvent", mock.Anything, mock.Anything).Return(errors.ErrDatabaseOperation)
	f.store.audit = failing

	_, _, err := f.store.Ensure(ctx, "gym-1", models.PurposeEntry)
	require.NoError(t, err)

	version, err := f.store.Rotate(ctx, "gym-1", models.PurposeEntry, "owner-1", false)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	failing.AssertNumberOfCalls(t, "LogEvent", 1)
}

func TestKeyStore_MarkGenerated(t *testing.T) {
	f := newKeyStoreFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.store.MarkGenerated(ctx, "gym-1", models.PurposeEntry, f.clock.Now()), errors.ErrNotFound)

	_, _, err := f.store.Ensure(ctx, "gym-1", models.PurposeEntry)
	require.NoError(t, err)
	require.NoError(t, f.store.MarkGenerated(ctx, "gym-1", models.PurposeEntry, f.clock.Now()))

	cfg, err := f.repo.FindConfig(ctx, "gym-1", models.PurposeEntry)
	require.NoError(t, err)
	require.NotNil(t, cfg.LastGeneratedAt)
	assert.True(t, cfg.LastGeneratedAt.Equal(f.clock.Now()))
}
