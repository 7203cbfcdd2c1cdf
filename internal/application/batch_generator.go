package application

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/qrgate/internal/domain/models"
	"github.com/turtacn/qrgate/internal/domain/repository"
	"github.com/turtacn/qrgate/internal/domain/service"
	"github.com/turtacn/qrgate/pkg/constants"
	"github.com/turtacn/qrgate/pkg/errors"
	"github.com/turtacn/qrgate/pkg/logger"
	"github.com/turtacn/qrgate/pkg/utils"
)

// BatchGenerator runs bulk static QR asset generation jobs.
// BatchGenerator 负责批量生成静态二维码素材（PNG/SVG/PDF）。
//
// A job runs at most once at a time in this process: Enqueue checks and
// inserts into the running set under one lock.
type BatchGenerator struct {
	jobs     repository.BatchJobRepository
	gyms     repository.GymRepository
	keys     *KeyStore
	renderer service.AssetRenderer
	store    service.AssetStore
	packager service.AssetPackager
	audit    service.AuditService
	metrics  service.Metrics
	baseURL  string
	logger   logger.Logger
	tracer   trace.Tracer
	now      func() time.Time

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// NewBatchGenerator wires the batch generator. baseURL prefixes the discovery
// URL printed into each code and the archive download link.
func NewBatchGenerator(
	jobs repository.BatchJobRepository,
	gyms repository.GymRepository,
	keys *KeyStore,
	renderer service.AssetRenderer,
	store service.AssetStore,
	packager service.AssetPackager,
	audit service.AuditService,
	metrics service.Metrics,
	baseURL string,
	log logger.Logger,
) *BatchGenerator {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &BatchGenerator{
		jobs:     jobs,
		gyms:     gyms,
		keys:     keys,
		renderer: renderer,
		store:    store,
		packager: packager,
		audit:    audit,
		metrics:  metrics,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   log.WithComponent("BatchGenerator"),
		tracer:   otel.Tracer(tracerName),
		now:      func() time.Time { return time.Now().UTC() },
		running:  make(map[string]struct{}),
	}
}

// DiscoveryURL is the content of the printed code for (gymID, purpose).
func (g *BatchGenerator) DiscoveryURL(gymID string, purpose models.Purpose) string {
	return fmt.Sprintf("%s/qr/static/%s/%s", g.baseURL, url.PathEscape(gymID), purpose)
}

// Submit records a PENDING job. No work starts until Enqueue.
func (g *BatchGenerator) Submit(ctx context.Context, actorID string, scope models.BatchScope, gymID string) (*models.BatchJob, error) {
	if !scope.Valid() {
		return nil, errors.ErrInvalidRequest(fmt.Sprintf("invalid batch scope: %q", scope))
	}
	job := &models.BatchJob{
		ID:      uuid.NewString(),
		ActorID: actorID,
		Scope:   scope,
		Status:  models.JobStatusPending,
	}
	if scope == models.BatchScopeGym {
		if gymID == "" {
			return nil, errors.ErrMissingRequiredParameter("gymId")
		}
		if !models.ValidGymID(gymID) {
			return nil, errors.ErrInvalidGymID(gymID)
		}
		job.GymID = &gymID
	}
	now := g.now()
	job.CreatedAt, job.UpdatedAt = now, now

	if err := g.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create batch job: %w", err)
	}
	g.logger.Info(ctx, "Batch job submitted",
		logger.String("job_id", job.ID),
		logger.String("scope", string(scope)),
		logger.String("gym_id", gymID),
		logger.String("actor_id", actorID),
	)
	return job, nil
}

// Enqueue starts jobID in the background unless it is already running or has
// finished. The job is claimed in the database (PENDING to RUNNING) before any
// work starts, so another process sharing the database cannot run it twice.
// It reports whether this call started it and the status the caller should
// display. The run is detached from ctx.
func (g *BatchGenerator) Enqueue(ctx context.Context, jobID string) (bool, models.JobStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.running[jobID]; ok {
		return false, models.JobStatusRunning, nil
	}
	job, err := g.jobs.FindByID(ctx, jobID)
	if errors.Is(err, errors.ErrNotFound) {
		return false, "", errors.ErrJobNotFound(jobID)
	}
	if err != nil {
		return false, "", fmt.Errorf("find batch job: %w", err)
	}
	if job.Status != models.JobStatusPending {
		return false, job.Status, nil
	}

	// A job whose gyms cannot be resolved is still claimed, then failed by run.
	gyms, resolveErr := g.resolveGyms(ctx, job)
	if err := g.jobs.MarkRunning(ctx, jobID, len(gyms), g.now()); err != nil {
		if !errors.Is(err, errors.ErrInvalidTransition) {
			return false, "", fmt.Errorf("claim batch job: %w", err)
		}
		g.logger.Info(ctx, "Batch job already claimed", logger.String("job_id", jobID))
		status := models.JobStatusRunning
		if current, ferr := g.jobs.FindByID(ctx, jobID); ferr == nil {
			status = current.Status
		}
		return false, status, nil
	}

	g.running[jobID] = struct{}{}
	g.wg.Add(1)
	go g.run(context.WithoutCancel(ctx), job, gyms, resolveErr)
	return true, models.JobStatusRunning, nil
}

// IsRunning reports whether jobID is executing in this process.
func (g *BatchGenerator) IsRunning(jobID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.running[jobID]
	return ok
}

// Get returns the persisted job.
func (g *BatchGenerator) Get(ctx context.Context, jobID string) (*models.BatchJob, error) {
	job, err := g.jobs.FindByID(ctx, jobID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.ErrJobNotFound(jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("find batch job: %w", err)
	}
	return job, nil
}

// Open streams the archive of a COMPLETE job. The caller closes the reader.
func (g *BatchGenerator) Open(ctx context.Context, jobID string) (io.ReadCloser, *models.BatchJob, error) {
	job, err := g.Get(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != models.JobStatusComplete || job.ArchiveKey == nil {
		return nil, nil, errors.ErrJobNotComplete(jobID, string(job.Status))
	}
	rc, err := g.store.Open(ctx, *job.ArchiveKey)
	if err != nil {
		return nil, nil, fmt.Errorf("open batch archive: %w", err)
	}
	return rc, job, nil
}

// Wait blocks until every started job has reached a terminal state or ctx ends.
func (g *BatchGenerator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *BatchGenerator) run(ctx context.Context, job *models.BatchJob, gyms []*models.Gym, resolveErr error) {
	start := time.Now()
	processed := 0

	ctx, span := g.tracer.Start(ctx, "BatchGenerator.run", trace.WithAttributes(
		attribute.String("job_id", job.ID),
		attribute.String("scope", string(job.Scope)),
	))

	defer func() {
		g.mu.Lock()
		delete(g.running, job.ID)
		g.mu.Unlock()
		span.End()
		g.wg.Done()
	}()
	defer func() {
		if r := recover(); r != nil {
			g.fail(ctx, job, processed, time.Since(start), fmt.Errorf("panic: %v", r))
		}
	}()

	if resolveErr != nil {
		span.RecordError(resolveErr)
		g.fail(ctx, job, processed, time.Since(start), resolveErr)
		return
	}
	total, err := g.execute(ctx, job, gyms, &processed)
	if err != nil {
		span.RecordError(err)
		g.fail(ctx, job, processed, time.Since(start), err)
		return
	}
	g.complete(ctx, job, total, time.Since(start))
}

// execute does the work for a claimed job and returns the gym count. processed
// is updated in place so a panic still reports progress.
func (g *BatchGenerator) execute(ctx context.Context, job *models.BatchJob, gyms []*models.Gym, processed *int) (int, error) {
	g.logger.Info(ctx, "Batch job running", logger.String("job_id", job.ID), logger.Int("total", len(gyms)))

	archive := g.packager.NewArchive(g.now())
	for _, gym := range gyms {
		for _, purpose := range models.AllPurposes {
			if err := g.generate(ctx, archive, gym, purpose); err != nil {
				return 0, fmt.Errorf("gym %s %s: %w", gym.ID, purpose, err)
			}
		}
		*processed++
		if err := g.jobs.UpdateProgress(ctx, job.ID, *processed); err != nil {
			return 0, fmt.Errorf("persist progress: %w", err)
		}
	}

	body, err := archive.Finish()
	if err != nil {
		return 0, err
	}
	key := g.packager.ArchiveKey(job.ID)
	if err := g.store.Put(ctx, key, bytes.NewReader(body)); err != nil {
		return 0, fmt.Errorf("store archive: %w", err)
	}
	downloadURL := fmt.Sprintf("%s/api/v1/admin/qr/batch/%s/download", g.baseURL, job.ID)
	if err := g.jobs.MarkComplete(ctx, job.ID, *processed, downloadURL, key, g.now()); err != nil {
		return 0, fmt.Errorf("mark job complete: %w", err)
	}
	return len(gyms), nil
}

func (g *BatchGenerator) resolveGyms(ctx context.Context, job *models.BatchJob) ([]*models.Gym, error) {
	if job.Scope == models.BatchScopeGym {
		gymID := ""
		if job.GymID != nil {
			gymID = *job.GymID
		}
		gym, err := g.gyms.FindByID(ctx, gymID)
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.ErrGymNotFound(gymID)
		}
		if err != nil {
			return nil, fmt.Errorf("find gym: %w", err)
		}
		return []*models.Gym{gym}, nil
	}

	gyms, err := g.gyms.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list gyms: %w", err)
	}
	return gyms, nil
}

func (g *BatchGenerator) generate(ctx context.Context, archive service.AssetArchive, gym *models.Gym, purpose models.Purpose) error {
	if _, _, err := g.keys.Ensure(ctx, gym.ID, purpose); err != nil {
		return err
	}

	content := g.DiscoveryURL(gym.ID, purpose)
	png, err := g.renderer.PNG(content)
	if err != nil {
		return err
	}
	svg, err := g.renderer.SVG(content)
	if err != nil {
		return err
	}
	pdf, err := g.renderer.PrintPDF(gym.Name, string(purpose), content)
	if err != nil {
		return err
	}

	base := fmt.Sprintf("%s/%s", gym.ID, strings.ToLower(string(purpose)))
	for _, f := range []struct {
		ext  string
		data []byte
	}{{"png", png}, {"svg", svg}, {"pdf", pdf}} {
		if err := archive.Add(base+"."+f.ext, f.data); err != nil {
			return err
		}
	}
	return g.keys.MarkGenerated(ctx, gym.ID, purpose, g.now())
}

func (g *BatchGenerator) complete(ctx context.Context, job *models.BatchJob, total int, duration time.Duration) {
	g.metrics.RecordBatchJob(string(models.JobStatusComplete), total, duration)
	g.logger.Info(ctx, "Batch job complete",
		logger.String("job_id", job.ID),
		logger.Int("gyms", total),
		logger.Duration("duration", duration),
	)
	g.writeAudit(ctx, job, constants.AuditActionBatchComplete, map[string]interface{}{
		"jobId":          job.ID,
		"scope":          job.Scope,
		"totalCount":     total,
		"processedCount": total,
		"durationMs":     duration.Milliseconds(),
	})
}

func (g *BatchGenerator) fail(ctx context.Context, job *models.BatchJob, processed int, duration time.Duration, cause error) {
	if err := g.jobs.MarkFailed(ctx, job.ID, cause.Error(), g.now()); err != nil {
		g.logger.Error(ctx, "Failed to persist batch job failure", err, logger.String("job_id", job.ID))
	}
	g.metrics.RecordBatchJob(string(models.JobStatusFailed), processed, duration)
	g.logger.Error(ctx, "Batch job failed", cause,
		logger.String("job_id", job.ID),
		logger.Int("processed", processed),
		logger.Duration("duration", duration),
	)
	g.writeAudit(ctx, job, constants.AuditActionBatchFailed, map[string]interface{}{
		"jobId":          job.ID,
		"scope":          job.Scope,
		"processedCount": processed,
		"durationMs":     duration.Milliseconds(),
		"error":          utils.Truncate(cause.Error(), constants.MaxJobErrorLength),
	})
}

func (g *BatchGenerator) writeAudit(ctx context.Context, job *models.BatchJob, action constants.AuditAction, metadata map[string]interface{}) {
	if g.audit == nil {
		return
	}
	entry := models.NewAuditEntry(job.ActorID, constants.AuditCategoryQRBatch, action).
		WithTraceID(traceIDFromContext(ctx)).
		WithMetadata(metadata)
	if job.GymID != nil {
		entry.WithGym(*job.GymID)
	}
	if err := g.audit.LogEvent(ctx, entry); err != nil {
		g.logger.Error(ctx, "Failed to write audit entry", err,
			logger.String("job_id", job.ID),
			logger.String("action", string(action)),
		)
	}
}
