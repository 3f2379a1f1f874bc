package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sellerops/marketsync/internal/models"
	"github.com/sellerops/marketsync/internal/observability"
)

const (
	createLeaseTTL    = 10 * time.Second
	defaultMonthsBack = 6
)

// CreateJobParams describes a request to create or resume a sync job.
// MonthsBack sizes the rolling window for the months filter kind and
// defaults to six when unset.
type CreateJobParams struct {
	OwnerID        string
	DataKind       models.DataKind
	TriggerLabel   string
	APIKey         string
	Endpoint       string
	MaxPages       int
	PagesPerChunk  int
	DateFilterKind models.DateFilterKind
	MonthsBack     int
	CustomStart    *time.Time
	CustomEnd      *time.Time
}

// JobManager owns the SyncJob lifecycle: create-or-resume, per-chunk
// advancement, failure, cancellation and retention cleanup.
type JobManager struct {
	store         JobStore
	locker        Locker
	logger        *zap.Logger
	retentionDays int
	now           func() time.Time
}

// NewJobManager creates a job manager.
func NewJobManager(store JobStore, locker Locker, retentionDays int, logger *zap.Logger) *JobManager {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	return &JobManager{
		store:         store,
		locker:        locker,
		logger:        logger,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

// CreateOrResume returns the existing pending/in-progress job for the job
// identity (owner, kind, label, filter kind), flipping it to in_progress, or
// creates a fresh job at page 1. A short lease around the query-then-insert
// closes the window where two near-simultaneous callers would both create.
func (m *JobManager) CreateOrResume(ctx context.Context, params CreateJobParams) (*models.SyncJob, bool, error) {
	if !params.DataKind.Valid() {
		return nil, false, models.ErrInvalidDataKind
	}

	leaseKey := fmt.Sprintf("marketsync:lease:create:%s:%s:%s:%s",
		params.OwnerID, params.DataKind, params.TriggerLabel, params.DateFilterKind)

	acquired, err := m.locker.Acquire(ctx, leaseKey, createLeaseTTL)
	if err != nil {
		// A lease failure degrades to the plain query-then-insert path
		// rather than blocking syncs on Redis availability.
		m.logger.Warn("create lease unavailable, proceeding unguarded", zap.Error(err))
	} else if !acquired {
		// Another caller holds the lease; it has either just created the job
		// or is about to. Wait out the insert and resume what it made.
		time.Sleep(200 * time.Millisecond)
	} else {
		defer func() {
			if err := m.locker.Release(ctx, leaseKey); err != nil {
				m.logger.Warn("failed to release create lease", zap.Error(err))
			}
		}()
	}

	existing, err := m.store.FindResumable(ctx, params.OwnerID, params.DataKind, params.TriggerLabel, params.DateFilterKind)
	if err != nil {
		return nil, false, fmt.Errorf("resume query failed: %w", err)
	}

	now := m.now()

	if existing != nil {
		existing.Status = models.JobStatusInProgress
		existing.LastProcessedAt = now
		if err := m.store.Save(ctx, existing); err != nil {
			return nil, false, fmt.Errorf("failed to mark job in progress: %w", err)
		}
		m.logger.Info("resuming sync job",
			zap.String("job_id", existing.ID),
			zap.String("kind", string(existing.DataKind)),
			zap.Int("current_page", existing.CurrentPage))
		return existing, true, nil
	}

	pagesPerChunk := params.PagesPerChunk
	if pagesPerChunk <= 0 {
		pagesPerChunk = 10
	}

	job := &models.SyncJob{
		ID:              uuid.NewString(),
		OwnerID:         params.OwnerID,
		DataKind:        params.DataKind,
		TriggerLabel:    params.TriggerLabel,
		Status:          models.JobStatusPending,
		CurrentPage:     1,
		PagesPerChunk:   pagesPerChunk,
		MaxPagesToFetch: params.MaxPages,
		DateFilterKind:  params.DateFilterKind,
		APIKey:          params.APIKey,
		Endpoint:        params.Endpoint,
		StartedAt:       now,
		LastProcessedAt: now,
	}
	job.FilterStart, job.FilterEnd = resolveDateWindow(params, now)

	if err := m.store.Insert(ctx, job); err != nil {
		return nil, false, fmt.Errorf("failed to create job: %w", err)
	}

	observability.JobTransitions.WithLabelValues(string(job.DataKind), string(job.Status)).Inc()
	m.logger.Info("created sync job",
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.DataKind)),
		zap.String("label", job.TriggerLabel),
		zap.String("filter", string(job.DateFilterKind)))
	return job, false, nil
}

// resolveDateWindow turns the filter kind into concrete timestamps.
func resolveDateWindow(params CreateJobParams, now time.Time) (*time.Time, *time.Time) {
	switch params.DateFilterKind {
	case models.DateFilterMonths:
		months := params.MonthsBack
		if months <= 0 {
			months = defaultMonthsBack
		}
		start := now.AddDate(0, -months, 0)
		return &start, nil
	case models.DateFilterCustom:
		return params.CustomStart, params.CustomEnd
	default:
		return nil, nil
	}
}

// Advance applies one chunk result to the job: progress counters, cursor,
// discovered totals, watermark, and the completed transition when the chunk
// reached the end.
func (m *JobManager) Advance(ctx context.Context, jobID string, res *ChunkResult) (*models.SyncJob, error) {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, models.ErrJobTerminal
	}

	now := m.now()
	job.ItemsProcessed += res.Tally.Processed
	job.ErrorCount += res.FetchErrors + res.Tally.Errors
	job.CurrentPage = res.NextPage
	job.LastProcessedAt = now

	if res.TotalPagesDiscovered != nil {
		job.TotalPages = res.TotalPagesDiscovered
		expected := *res.TotalPagesDiscovered * PageSize
		job.TotalExpected = &expected
	}
	if res.OldestSeen != nil && (job.OldestSeen == nil || res.OldestSeen.Before(*job.OldestSeen)) {
		job.OldestSeen = res.OldestSeen
	}

	if res.ReachedEnd {
		job.Status = models.JobStatusCompleted
		job.CompletedAt = &now
	} else {
		job.Status = models.JobStatusInProgress
	}

	if err := m.store.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to advance job: %w", err)
	}

	observability.JobTransitions.WithLabelValues(string(job.DataKind), string(job.Status)).Inc()
	return job, nil
}

// Fail transitions the job to failed recording the error. Failed jobs are
// not auto-resumed; a new job identity or manual intervention is required.
func (m *JobManager) Fail(ctx context.Context, jobID string, cause error) error {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return models.ErrJobTerminal
	}

	now := m.now()
	job.Status = models.JobStatusFailed
	job.FailedAt = &now
	job.LastProcessedAt = now
	job.LastError = cause.Error()
	job.ErrorCount++

	if err := m.store.Save(ctx, job); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	observability.JobTransitions.WithLabelValues(string(job.DataKind), string(job.Status)).Inc()
	m.logger.Error("sync job failed",
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.DataKind)),
		zap.Error(cause))
	return nil
}

// Cancel marks the job cancelled. Cooperative: an in-flight chunk finishes,
// the next invocation observes the terminal state.
func (m *JobManager) Cancel(ctx context.Context, jobID string) (*models.SyncJob, error) {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, models.ErrJobTerminal
	}

	now := m.now()
	job.Status = models.JobStatusCancelled
	job.CompletedAt = &now
	job.LastProcessedAt = now

	if err := m.store.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}

	observability.JobTransitions.WithLabelValues(string(job.DataKind), string(job.Status)).Inc()
	m.logger.Info("sync job cancelled", zap.String("job_id", job.ID))
	return job, nil
}

// Get returns one job.
func (m *JobManager) Get(ctx context.Context, jobID string) (*models.SyncJob, error) {
	return m.store.Get(ctx, jobID)
}

// ListActive returns all pending and in-progress jobs.
func (m *JobManager) ListActive(ctx context.Context) ([]models.SyncJob, error) {
	return m.store.ListActive(ctx)
}

// CleanupOld deletes terminal jobs older than daysOld (default retention
// when zero) and returns the deleted count.
func (m *JobManager) CleanupOld(ctx context.Context, daysOld int) (int64, error) {
	if daysOld <= 0 {
		daysOld = m.retentionDays
	}
	cutoff := m.now().AddDate(0, 0, -daysOld)
	deleted, err := m.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}
	if deleted > 0 {
		m.logger.Info("cleaned up old sync jobs",
			zap.Int64("deleted", deleted),
			zap.Int("days_old", daysOld))
	}
	return deleted, nil
}
