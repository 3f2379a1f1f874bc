package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sellerops/marketsync/internal/models"
)

const chunkLeaseTTL = 5 * time.Minute

// ErrChunkInProgress means another invocation currently holds the job's
// chunk lease; the caller should retry on its next cycle.
var ErrChunkInProgress = errors.New("chunk already being processed for this job")

// SyncService is the orchestration layer schedulers and the HTTP API talk
// to: it ties the job manager to the fetch controller.
type SyncService struct {
	jobs       *JobManager
	controller *FetchController
	locker     Locker
	marker     CompletionMarker
	logger     *zap.Logger
}

// NewSyncService creates the orchestrator. marker may be nil when completion
// freshness tracking is not wanted.
func NewSyncService(jobs *JobManager, controller *FetchController, locker Locker, marker CompletionMarker, logger *zap.Logger) *SyncService {
	return &SyncService{
		jobs:       jobs,
		controller: controller,
		locker:     locker,
		marker:     marker,
		logger:     logger,
	}
}

// CreateOrResumeSyncJob creates or resumes the job for the given identity.
func (s *SyncService) CreateOrResumeSyncJob(ctx context.Context, params CreateJobParams) (*JobHandle, error) {
	job, resumed, err := s.jobs.CreateOrResume(ctx, params)
	if err != nil {
		return nil, err
	}
	return &JobHandle{
		JobID:         job.ID,
		CurrentPage:   job.CurrentPage,
		Resumed:       resumed,
		ShouldProcess: !job.Status.Terminal(),
	}, nil
}

// ProcessJobChunk runs one bounded unit of work for the job. Terminal jobs
// report their state without fetching; a store write failure fails the job;
// everything else advances the cursor and possibly completes the job.
func (s *SyncService) ProcessJobChunk(ctx context.Context, jobID string) (*ProcessResult, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status.Terminal() {
		// Cancellation (or completion) takes effect here, before any fetch.
		return &ProcessResult{
			Success:    true,
			JobID:      job.ID,
			Status:     job.Status,
			ReachedEnd: true,
		}, nil
	}

	leaseKey := "marketsync:lease:chunk:" + job.ID
	acquired, err := s.locker.Acquire(ctx, leaseKey, chunkLeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("chunk lease failed: %w", err)
	}
	if !acquired {
		return nil, ErrChunkInProgress
	}
	defer func() {
		if err := s.locker.Release(ctx, leaseKey); err != nil {
			s.logger.Warn("failed to release chunk lease",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}()

	start := time.Now()
	chunk, err := s.controller.FetchChunk(ctx, job)
	if err != nil {
		// Store write failures are fatal to the job: pages already advanced
		// cannot be replayed without duplicating work.
		if failErr := s.jobs.Fail(ctx, job.ID, err); failErr != nil {
			s.logger.Error("failed to record job failure",
				zap.String("job_id", job.ID), zap.Error(failErr))
		}
		return &ProcessResult{
			JobID:        job.ID,
			Status:       models.JobStatusFailed,
			ErrorMessage: err.Error(),
		}, err
	}

	advanced, err := s.jobs.Advance(ctx, job.ID, chunk)
	if err != nil {
		return nil, err
	}

	if advanced.Status == models.JobStatusCompleted && s.marker != nil {
		completedAt := time.Now()
		if advanced.CompletedAt != nil {
			completedAt = *advanced.CompletedAt
		}
		if err := s.marker.MarkCompleted(ctx, job.OwnerID, job.DataKind, completedAt); err != nil {
			// Freshness metadata only; the sync itself succeeded.
			s.logger.Warn("failed to record sync completion",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	s.logger.Info("processed sync chunk",
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.DataKind)),
		zap.Int("pages", chunk.PagesFetched),
		zap.Int("items", chunk.Tally.Processed),
		zap.Bool("reached_end", chunk.ReachedEnd),
		zap.Duration("duration", time.Since(start)))

	return &ProcessResult{
		Success:              true,
		JobID:                advanced.ID,
		Status:               advanced.Status,
		ItemsProcessed:       chunk.Tally.Processed,
		PagesProcessed:       chunk.PagesFetched,
		ReachedEnd:           chunk.ReachedEnd,
		TotalPagesDiscovered: chunk.TotalPagesDiscovered,
	}, nil
}

// GetActiveSyncJobs returns jobs a dashboard would monitor.
func (s *SyncService) GetActiveSyncJobs(ctx context.Context) ([]models.SyncJob, error) {
	return s.jobs.ListActive(ctx)
}

// CancelSyncJob cancels a job.
func (s *SyncService) CancelSyncJob(ctx context.Context, jobID string) (*models.SyncJob, error) {
	return s.jobs.Cancel(ctx, jobID)
}

// CleanupOldJobs removes terminal jobs past the retention window.
func (s *SyncService) CleanupOldJobs(ctx context.Context, daysOld int) (int64, error) {
	return s.jobs.CleanupOld(ctx, daysOld)
}
