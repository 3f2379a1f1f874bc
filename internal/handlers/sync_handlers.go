package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/sellerops/marketsync/internal/models"
	"github.com/sellerops/marketsync/internal/services"
)

// ErrorResponse is the error payload for all endpoints
type ErrorResponse struct {
	Error string `json:"error"`
}

// SyncHandlers exposes the sync engine over HTTP.
type SyncHandlers struct {
	sync    *services.SyncService
	oneShot *services.OneShotService
	stats   *services.StatsService
	logger  *zap.Logger
}

// NewSyncHandlers creates the handler set.
func NewSyncHandlers(sync *services.SyncService, oneShot *services.OneShotService, stats *services.StatsService, logger *zap.Logger) *SyncHandlers {
	return &SyncHandlers{sync: sync, oneShot: oneShot, stats: stats, logger: logger}
}

// CreateJobRequest is the body for creating or resuming a sync job.
type CreateJobRequest struct {
	OwnerID        string `json:"owner_id" binding:"required"`
	DataKind       string `json:"data_kind" binding:"required"`
	TriggerLabel   string `json:"trigger_label" binding:"required"`
	APIKey         string `json:"api_key" binding:"required"`
	Endpoint       string `json:"endpoint"`
	MaxPages       int    `json:"max_pages"`
	PagesPerChunk  int    `json:"pages_per_chunk"`
	DateFilterKind string `json:"date_filter_kind"`
	MonthsBack     int    `json:"months_back"`
	CustomStart    string `json:"custom_start"`
	CustomEnd      string `json:"custom_end"`
}

// OneShotRequest is the body for a one-shot sync.
type OneShotRequest struct {
	OwnerID     string `json:"owner_id" binding:"required"`
	APIKey      string `json:"api_key" binding:"required"`
	Strategy    string `json:"strategy" binding:"required"`
	TriggerType string `json:"trigger_type"`
}

// CreateOrResumeJob godoc
// @Summary Create or resume a sync job
// @Description Creates a resumable sync job, or resumes the pending/in-progress job with the same identity.
// @Tags sync
// @Accept json
// @Produce json
// @Param request body CreateJobRequest true "Job parameters"
// @Success 200 {object} services.JobHandle
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 500 {object} ErrorResponse "Internal error"
// @Router /sync/jobs [post]
func (h *SyncHandlers) CreateOrResumeJob(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "CreateOrResumeJob")
	defer span.End()

	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	params := services.CreateJobParams{
		OwnerID:        req.OwnerID,
		DataKind:       models.DataKind(req.DataKind),
		TriggerLabel:   req.TriggerLabel,
		APIKey:         req.APIKey,
		Endpoint:       req.Endpoint,
		MaxPages:       req.MaxPages,
		PagesPerChunk:  req.PagesPerChunk,
		DateFilterKind: models.DateFilterKind(req.DateFilterKind),
		MonthsBack:     req.MonthsBack,
	}
	if params.DateFilterKind == "" {
		params.DateFilterKind = models.DateFilterNone
	}
	if req.CustomStart != "" {
		t, err := time.Parse(time.RFC3339, req.CustomStart)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid custom_start: " + err.Error()})
			return
		}
		params.CustomStart = &t
	}
	if req.CustomEnd != "" {
		t, err := time.Parse(time.RFC3339, req.CustomEnd)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid custom_end: " + err.Error()})
			return
		}
		params.CustomEnd = &t
	}

	span.SetAttributes(
		attribute.String("sync.kind", req.DataKind),
		attribute.String("sync.label", req.TriggerLabel),
	)

	handle, err := h.sync.CreateOrResumeSyncJob(ctx, params)
	if err != nil {
		if errors.Is(err, models.ErrInvalidDataKind) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		h.logger.Error("failed to create or resume job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, handle)
}

// ProcessChunk godoc
// @Summary Process one chunk of a sync job
// @Description Runs one bounded unit of page fetching for the job; schedulers call this until reached_end is true.
// @Tags sync
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} services.ProcessResult
// @Failure 404 {object} ErrorResponse "Job not found"
// @Failure 409 {object} ErrorResponse "Chunk already in progress"
// @Failure 500 {object} ErrorResponse "Internal error"
// @Router /sync/jobs/{id}/process [post]
func (h *SyncHandlers) ProcessChunk(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "ProcessChunk")
	defer span.End()

	jobID := c.Param("id")
	span.SetAttributes(attribute.String("sync.job_id", jobID))

	result, err := h.sync.ProcessJobChunk(ctx, jobID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrJobNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		case errors.Is(err, services.ErrChunkInProgress):
			c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
		default:
			h.logger.Error("chunk processing failed",
				zap.String("job_id", jobID), zap.Error(err))
			if result != nil {
				c.JSON(http.StatusInternalServerError, result)
				return
			}
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListActiveJobs godoc
// @Summary List active sync jobs
// @Description Returns all pending and in-progress sync jobs for monitoring dashboards.
// @Tags sync
// @Produce json
// @Success 200 {array} models.SyncJob
// @Failure 500 {object} ErrorResponse "Internal error"
// @Router /sync/jobs [get]
func (h *SyncHandlers) ListActiveJobs(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "ListActiveJobs")
	defer span.End()

	jobs, err := h.sync.GetActiveSyncJobs(ctx)
	if err != nil {
		h.logger.Error("failed to list active jobs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if jobs == nil {
		jobs = []models.SyncJob{}
	}

	c.JSON(http.StatusOK, jobs)
}

// CancelJob godoc
// @Summary Cancel a sync job
// @Description Marks the job cancelled; an in-flight chunk finishes first, the next invocation observes the terminal state.
// @Tags sync
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} models.SyncJob
// @Failure 404 {object} ErrorResponse "Job not found"
// @Failure 409 {object} ErrorResponse "Job already terminal"
// @Router /sync/jobs/{id}/cancel [post]
func (h *SyncHandlers) CancelJob(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "CancelJob")
	defer span.End()

	jobID := c.Param("id")

	job, err := h.sync.CancelSyncJob(ctx, jobID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrJobNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		case errors.Is(err, models.ErrJobTerminal):
			c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
		default:
			h.logger.Error("failed to cancel job",
				zap.String("job_id", jobID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, job)
}

// CleanupJobs godoc
// @Summary Delete old terminal jobs
// @Description Deletes completed, failed and cancelled jobs older than days_old (default 7).
// @Tags sync
// @Produce json
// @Param days_old query int false "Retention threshold in days" minimum(1)
// @Success 200 {object} map[string]int64
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 500 {object} ErrorResponse "Internal error"
// @Router /sync/jobs [delete]
func (h *SyncHandlers) CleanupJobs(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "CleanupJobs")
	defer span.End()

	daysOld := 0
	if raw := c.Query("days_old"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "days_old must be a positive integer"})
			return
		}
		daysOld = parsed
	}

	deleted, err := h.sync.CleanupOldJobs(ctx, daysOld)
	if err != nil {
		h.logger.Error("cleanup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted_count": deleted})
}

// GetStats godoc
// @Summary Sync freshness stats
// @Description Returns the owner's record count for a data kind and when a sync for it last completed.
// @Tags sync
// @Produce json
// @Param owner_id query string true "Owner ID"
// @Param data_kind query string true "Data kind (sales or products)"
// @Success 200 {object} services.SyncStats
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 500 {object} ErrorResponse "Internal error"
// @Router /sync/stats [get]
func (h *SyncHandlers) GetStats(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "GetStats")
	defer span.End()

	ownerID := c.Query("owner_id")
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "owner_id is required"})
		return
	}
	kind := models.DataKind(c.Query("data_kind"))
	span.SetAttributes(
		attribute.String("sync.owner_id", ownerID),
		attribute.String("sync.kind", string(kind)),
	)

	stats, err := h.stats.Stats(ctx, ownerID, kind)
	if err != nil {
		if errors.Is(err, models.ErrInvalidDataKind) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		h.logger.Error("stats query failed",
			zap.String("owner_id", ownerID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// OneShotSales godoc
// @Summary Run a one-shot sales sync
// @Description Runs a non-resumable sales sync with a strategy preset and a wall-clock budget.
// @Tags sync
// @Accept json
// @Produce json
// @Param request body OneShotRequest true "Sync parameters"
// @Success 200 {object} services.SyncResult
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 500 {object} ErrorResponse "Sync failed"
// @Router /sync/sales [post]
func (h *SyncHandlers) OneShotSales(c *gin.Context) {
	ctx, span := otel.Tracer("").Start(c.Request.Context(), "OneShotSales")
	defer span.End()

	var req OneShotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	trigger := models.TriggerType(req.TriggerType)
	if trigger == "" {
		trigger = models.TriggerManual
	}
	span.SetAttributes(attribute.String("sync.strategy", req.Strategy))

	result, err := h.oneShot.SyncSales(ctx, req.APIKey, models.SyncStrategy(req.Strategy), trigger, req.OwnerID)
	if err != nil {
		if errors.Is(err, models.ErrInvalidStrategy) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		h.logger.Error("one-shot sync failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, result)
		return
	}

	c.JSON(http.StatusOK, result)
}

// HealthCheck godoc
// @Summary Health check
// @Description Returns service liveness.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
