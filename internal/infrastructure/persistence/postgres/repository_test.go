package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/turtacn/qrgate/internal/domain/models"
	"github.com/turtacn/qrgate/pkg/constants"
	"github.com/turtacn/qrgate/pkg/errors"
)

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(sqlite.Open("file:" + uuid.NewString() + "?mode=memory&cache=shared"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, AutoMigrate(context.Background(), db))
	return db
}

func TestRepositories_SQLite(t *testing.T) {
	runRepositorySuite(t, openSQLite(t))
}

// runRepositorySuite exercises every repository against db. The integration
// build runs it again on a real PostgreSQL.
func runRepositorySuite(t *testing.T, db *gorm.DB) {
	t.Run("gyms", func(t *testing.T) { testGymRepository(t, db) })
	t.Run("keys", func(t *testing.T) { testQRKeyRepository(t, db) })
	t.Run("issued tokens", func(t *testing.T) { testIssuedTokenRepository(t, db) })
	t.Run("batch jobs", func(t *testing.T) { testBatchJobRepository(t, db) })
}

func testGymRepository(t *testing.T, db *gorm.DB) {
	ctx := context.Background()
	repo := NewGymRepository(db)
	prefix := uuid.NewString()[:8]

	require.NoError(t, repo.Save(ctx, &models.Gym{ID: prefix + "-b", Name: "B", OwnerID: "o1", Status: models.GymStatusActive}))
	require.NoError(t, repo.Save(ctx, &models.Gym{ID: prefix + "-a", Name: "A", OwnerID: "o1", Status: models.GymStatusActive}))

	// Save is an upsert
	require.NoError(t, repo.Save(ctx, &models.Gym{ID: prefix + "-a", Name: "A2", OwnerID: "o2", Status: models.GymStatusSuspended}))
	gym, err := repo.FindByID(ctx, prefix+"-a")
	require.NoError(t, err)
	assert.Equal(t, "A2", gym.Name)
	assert.Equal(t, "o2", gym.OwnerID)
	assert.True(t, gym.IsSuspended())

	_, err = repo.FindByID(ctx, prefix+"-missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	gyms, err := repo.List(ctx)
	require.NoError(t, err)
	var ours []string
	for _, g := range gyms {
		if strings.HasPrefix(g.ID, prefix) {
			ours = append(ours, g.ID)
		}
	}
	assert.Equal(t, []string{prefix + "-a", prefix + "-b"}, ours)
}

func newSigningKey(gymID string, purpose models.Purpose, version int, at time.Time) *models.SigningKey {
	return &models.SigningKey{
		ID:           uuid.NewString(),
		GymID:        gymID,
		Purpose:      purpose,
		Version:      version,
		SealedSecret: []byte("sealed"),
		CreatedAt:    at,
	}
}

func testQRKeyRepository(t *testing.T, db *gorm.DB) {
	ctx := context.Background()
	repo := NewQRKeyRepository(db)
	gymID := "gym-" + uuid.NewString()[:8]
	now := time.Now().UTC().Truncate(time.Second)

	cfg := &models.StaticQrConfig{
		ID: uuid.NewString(), GymID: gymID, Purpose: models.PurposeEntry,
		CurrentKeyVersion: 1, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.CreateInitial(ctx, cfg, newSigningKey(gymID, models.PurposeEntry, 1, now)))

	t.Run("second initial insert is a duplicate", func(t *testing.T) {
		dup := *cfg
		dup.ID = uuid.NewString()
		err := repo.CreateInitial(ctx, &dup, newSigningKey(gymID, models.PurposeEntry, 1, now))
		assert.ErrorIs(t, err, errors.ErrDuplicate)
	})

	t.Run("advance is a compare and set", func(t *testing.T) {
		later := now.Add(time.Hour)
		require.NoError(t, repo.AdvanceVersion(ctx, gymID, models.PurposeEntry, 1, newSigningKey(gymID, models.PurposeEntry, 2, later)))

		err := repo.AdvanceVersion(ctx, gymID, models.PurposeEntry, 1, newSigningKey(gymID, models.PurposeEntry, 2, later))
		assert.ErrorIs(t, err, errors.ErrStaleVersion)

		got, err := repo.FindConfig(ctx, gymID, models.PurposeEntry)
		require.NoError(t, err)
		assert.Equal(t, 2, got.CurrentKeyVersion)

		old, err := repo.FindKey(ctx, gymID, models.PurposeEntry, 1)
		require.NoError(t, err)
		assert.True(t, old.IsRevoked())
		current, err := repo.FindKey(ctx, gymID, models.PurposeEntry, 2)
		require.NoError(t, err)
		assert.False(t, current.IsRevoked())
	})

	t.Run("revoke hides the config from the sweep until the next rotation", func(t *testing.T) {
		require.NoError(t, repo.RevokeConfig(ctx, gymID, models.PurposeEntry, now))
		cfgs, err := repo.ListActiveConfigs(ctx, gymID)
		require.NoError(t, err)
		assert.Empty(t, cfgs)

		require.NoError(t, repo.AdvanceVersion(ctx, gymID, models.PurposeEntry, 2, newSigningKey(gymID, models.PurposeEntry, 3, now)))
		cfgs, err = repo.ListActiveConfigs(ctx, gymID)
		require.NoError(t, err)
		require.Len(t, cfgs, 1)
		assert.False(t, cfgs[0].IsRevoked())
	})

	t.Run("mark generated", func(t *testing.T) {
		require.NoError(t, repo.MarkGenerated(ctx, gymID, models.PurposeEntry, now))
		got, err := repo.FindConfig(ctx, gymID, models.PurposeEntry)
		require.NoError(t, err)
		require.NotNil(t, got.LastGeneratedAt)

		err = repo.MarkGenerated(ctx, gymID, models.PurposeExit, now)
		assert.ErrorIs(t, err, errors.ErrNotFound)
	})

	_, err := repo.FindKey(ctx, gymID, models.PurposeEntry, 9)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func testIssuedTokenRepository(t *testing.T, db *gorm.DB) {
	ctx := context.Background()
	repo := NewIssuedTokenRepository(db)
	hash := strings.Repeat("a", 56) + uuid.NewString()[:8]
	exp := time.Now().UTC().Add(30 * time.Second).Truncate(time.Second)

	require.NoError(t, repo.Upsert(ctx, &models.IssuedTokenRecord{
		TokenHash: hash, GymID: "g", Purpose: models.PurposeExit, KeyVersion: 1, Nonce: "n1", ExpiresAt: exp,
	}))
	binding := strings.Repeat("b", 64)
	require.NoError(t, repo.Upsert(ctx, &models.IssuedTokenRecord{
		TokenHash: hash, GymID: "g", Purpose: models.PurposeExit, KeyVersion: 2, Nonce: "n2", ExpiresAt: exp,
		DeviceBindingHash: &binding,
	}))

	rec, err := repo.FindByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.KeyVersion)
	assert.Equal(t, "n2", rec.Nonce)
	require.NotNil(t, rec.DeviceBindingHash)
	assert.Equal(t, binding, *rec.DeviceBindingHash)
	assert.Nil(t, rec.UsedAt)

	_, err = repo.FindByHash(ctx, strings.Repeat("0", 64))
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func testBatchJobRepository(t *testing.T, db *gorm.DB) {
	ctx := context.Background()
	repo := NewBatchJobRepository(db)
	now := time.Now().UTC().Truncate(time.Second)

	job := &models.BatchJob{ID: uuid.NewString(), ActorID: "root", Scope: models.BatchScopeAllGyms, Status: models.JobStatusPending}
	require.NoError(t, repo.Create(ctx, job))

	err := repo.MarkComplete(ctx, job.ID, 0, "", "", now)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition, "PENDING cannot complete")

	require.NoError(t, repo.MarkRunning(ctx, job.ID, 6, now))
	err = repo.MarkRunning(ctx, job.ID, 6, now)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition, "a RUNNING job cannot be claimed again")
	require.NoError(t, repo.UpdateProgress(ctx, job.ID, 4))
	require.NoError(t, repo.UpdateProgress(ctx, job.ID, 2))
	require.NoError(t, repo.UpdateProgress(ctx, job.ID, 7))

	got, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.Equal(t, 6, got.TotalCount)
	assert.Equal(t, 4, got.ProcessedCount, "progress never decreases or passes the total")

	require.NoError(t, repo.MarkComplete(ctx, job.ID, 6, "https://qr.example.com/dl", "qr-batch-"+job.ID+".zip", now))
	got, err = repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusComplete, got.Status)
	require.NotNil(t, got.ArchiveKey)
	require.NotNil(t, got.CompletedAt)

	err = repo.MarkFailed(ctx, job.ID, "late failure", now)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition, "COMPLETE is terminal")

	failing := &models.BatchJob{ID: uuid.NewString(), ActorID: "root", Scope: models.BatchScopeAllGyms, Status: models.JobStatusPending}
	require.NoError(t, repo.Create(ctx, failing))
	require.NoError(t, repo.MarkRunning(ctx, failing.ID, 3, now))
	require.NoError(t, repo.MarkFailed(ctx, failing.ID, strings.Repeat("x", 2000), now))
	got, err = repo.FindByID(ctx, failing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Len(t, *got.Error, constants.MaxJobErrorLength)

	_, err = repo.FindByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, errors.ErrNotFound)
}
