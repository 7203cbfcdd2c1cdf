package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/qrgate/internal/application/dto"
	"github.com/turtacn/qrgate/internal/domain/models"
	"github.com/turtacn/qrgate/internal/interfaces/http/middleware"
	"github.com/turtacn/qrgate/pkg/errors"
	"github.com/turtacn/qrgate/pkg/logger"
	"github.com/turtacn/qrgate/pkg/utils"
)

// BatchJobs is the batch generator as seen by the HTTP layer.
type BatchJobs interface {
	Submit(ctx context.Context, actorID string, scope models.BatchScope, gymID string) (*models.BatchJob, error)
	Enqueue(ctx context.Context, jobID string) (bool, models.JobStatus, error)
	IsRunning(jobID string) bool
	Get(ctx context.Context, jobID string) (*models.BatchJob, error)
	Open(ctx context.Context, jobID string) (io.ReadCloser, *models.BatchJob, error)
}

// BatchHandler 批量二维码资源生成接口
type BatchHandler struct {
	jobs   BatchJobs
	logger logger.Logger
}

// NewBatchHandler creates a new BatchHandler.
func NewBatchHandler(jobs BatchJobs, log logger.Logger) *BatchHandler {
	return &BatchHandler{jobs: jobs, logger: log.WithComponent("BatchHandler")}
}

// Submit records a PENDING job. Nothing runs until Run is called.
func (h *BatchHandler) Submit(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		dto.SendError(c, errors.ErrUnauthorized("authentication required"))
		return
	}
	var req dto.SubmitBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.SendError(c, utils.ValidationError(err))
		return
	}

	job, err := h.jobs.Submit(c.Request.Context(), actor.ID, models.BatchScope(req.Scope), req.GymID)
	if err != nil {
		dto.SendError(c, err)
		return
	}
	c.JSON(http.StatusCreated, &dto.SubmitBatchResponse{JobID: job.ID, Status: job.Status})
}

// Run starts a submitted job in the background. started is false when the
// job is already running or finished.
func (h *BatchHandler) Run(c *gin.Context) {
	var req dto.RunBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.SendError(c, utils.ValidationError(err))
		return
	}

	started, status, err := h.jobs.Enqueue(c.Request.Context(), req.JobID)
	if err != nil {
		dto.SendError(c, err)
		return
	}
	h.logger.Info(c.Request.Context(), "Batch run requested",
		logger.String("job_id", req.JobID),
		logger.Bool("started", started),
		logger.String("status", string(status)),
	)
	c.JSON(http.StatusAccepted, &dto.RunBatchResponse{Started: started, Status: status})
}

// Get returns job status and progress.
func (h *BatchHandler) Get(c *gin.Context) {
	jobID := c.Param("jobId")
	job, err := h.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		dto.SendError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewBatchJobResponse(job, h.jobs.IsRunning(jobID)))
}

// Download streams the archive of a COMPLETE job.
func (h *BatchHandler) Download(c *gin.Context) {
	jobID := c.Param("jobId")
	rc, _, err := h.jobs.Open(c.Request.Context(), jobID)
	if err != nil {
		dto.SendError(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="qr-batch-%s.zip"`, jobID))
	c.Header("Content-Type", "application/zip")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		h.logger.Error(c.Request.Context(), "Failed to stream batch archive", err, logger.String("job_id", jobID))
	}
}
