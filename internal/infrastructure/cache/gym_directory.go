// Package cache holds read-through caches in front of slow lookups.
package cache

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/turtacn/qrgate/internal/domain/models"
	"github.com/turtacn/qrgate/internal/domain/repository"
	"github.com/turtacn/qrgate/internal/domain/service"
)

const gymCacheName = "gym"

// GymDirectory caches gym lookups for a short TTL. Suspensions therefore take
// effect within one TTL. Misses are not cached.
type GymDirectory struct {
	repo    repository.GymRepository
	cache   *cache.Cache
	metrics service.Metrics
}

var _ repository.GymRepository = (*GymDirectory)(nil)

// NewGymDirectory wraps repo. A zero ttl disables caching.
func NewGymDirectory(repo repository.GymRepository, ttl time.Duration, metrics service.Metrics) *GymDirectory {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	d := &GymDirectory{repo: repo, metrics: metrics}
	if ttl > 0 {
		d.cache = cache.New(ttl, 2*ttl)
	}
	return d
}

func (d *GymDirectory) FindByID(ctx context.Context, gymID string) (*models.Gym, error) {
	if d.cache != nil {
		if v, ok := d.cache.Get(gymID); ok {
			d.metrics.RecordCacheAccess(gymCacheName, true)
			gym := *v.(*models.Gym)
			return &gym, nil
		}
		d.metrics.RecordCacheAccess(gymCacheName, false)
	}

	gym, err := d.repo.FindByID(ctx, gymID)
	if err != nil {
		return nil, err
	}
	if d.cache != nil {
		cached := *gym
		d.cache.Set(gymID, &cached, cache.DefaultExpiration)
	}
	return gym, nil
}

func (d *GymDirectory) List(ctx context.Context) ([]*models.Gym, error) {
	return d.repo.List(ctx)
}

// Save writes through and drops the cached copy.
func (d *GymDirectory) Save(ctx context.Context, gym *models.Gym) error {
	if err := d.repo.Save(ctx, gym); err != nil {
		return err
	}
	d.Invalidate(gym.ID)
	return nil
}

// Invalidate drops gymID from the cache.
func (d *GymDirectory) Invalidate(gymID string) {
	if d.cache != nil {
		d.cache.Delete(gymID)
	}
}
