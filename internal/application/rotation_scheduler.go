package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/turtacn/qrgate/pkg/constants"
	"github.com/turtacn/qrgate/pkg/logger"
)

// schedulerStarted is process wide: a second Start anywhere in the process is a no-op.
var schedulerStarted atomic.Bool

// Sweeper is the part of the key store the scheduler drives.
type Sweeper interface {
	SweepRotate(ctx context.Context, actorID, gymID string, force bool) (*SweepResult, error)
}

// RotationScheduler periodically sweeps stale signing keys.
// RotationScheduler 周期性地轮换过期的签名密钥。
type RotationScheduler struct {
	sweeper  Sweeper
	interval time.Duration
	logger   logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewRotationScheduler creates a scheduler that sweeps every interval.
func NewRotationScheduler(sweeper Sweeper, interval time.Duration, log logger.Logger) *RotationScheduler {
	if interval <= 0 {
		interval = constants.DefaultRotationInterval
	}
	return &RotationScheduler{
		sweeper:  sweeper,
		interval: interval,
		logger:   log.WithComponent("RotationScheduler"),
	}
}

// Start launches the ticker loop and reports whether this call started it.
// Only the first Start in the process starts a loop; later calls return false.
// Start 启动定时循环；同一进程内只有第一次调用生效。
func (s *RotationScheduler) Start(ctx context.Context) bool {
	if !schedulerStarted.CompareAndSwap(false, true) {
		s.logger.Debug(ctx, "Rotation scheduler already running in this process")
		return false
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	done := s.done
	s.mu.Unlock()

	s.logger.Info(ctx, "Rotation scheduler started", logger.Duration("interval", s.interval))
	go s.loop(loopCtx, done)
	return true
}

// Stop ends the loop and waits for an in-flight sweep to finish. Stopping
// releases the process guard so the scheduler may be started again.
func (s *RotationScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
	schedulerStarted.Store(false)
	s.logger.Info(context.Background(), "Rotation scheduler stopped")
}

// RunNow performs one sweep on the caller's goroutine through the same path
// the loop uses.
func (s *RotationScheduler) RunNow(ctx context.Context, actorID, gymID string, force bool) (*SweepResult, error) {
	return s.sweeper.SweepRotate(ctx, actorID, gymID, force)
}

func (s *RotationScheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *RotationScheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, "Rotation sweep panicked", fmt.Errorf("panic: %v", r))
		}
	}()

	if _, err := s.sweeper.SweepRotate(ctx, constants.SystemActorScheduler, "", false); err != nil {
		s.logger.Error(ctx, "Scheduled rotation sweep failed", err)
	}
}
