package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// SyncWorker drives active jobs forward from a scheduler loop: each cycle it
// lists active jobs and processes one chunk per job. The per-job chunk lease
// inside the sync service keeps multiple worker replicas from processing the
// same job concurrently.
type SyncWorker struct {
	sync     *SyncService
	jobs     *JobManager
	logger   *zap.Logger
	interval time.Duration
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewSyncWorker creates a worker ticking at the given interval.
func NewSyncWorker(sync *SyncService, jobs *JobManager, interval time.Duration, logger *zap.Logger) *SyncWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SyncWorker{
		sync:     sync,
		jobs:     jobs,
		logger:   logger,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start runs the worker loop until Stop is called.
func (w *SyncWorker) Start() {
	w.logger.Info("sync worker started", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Terminal jobs past retention get swept once an hour.
	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("sync worker stopped")
			close(w.doneChan)
			return
		case <-ticker.C:
			w.processCycle()
		case <-cleanup.C:
			if _, err := w.jobs.CleanupOld(context.Background(), 0); err != nil {
				w.logger.Warn("job cleanup failed", zap.Error(err))
			}
		}
	}
}

// Stop signals the worker and waits for the current cycle to finish.
func (w *SyncWorker) Stop() {
	close(w.stopChan)
	<-w.doneChan
}

// processCycle advances every active job by one chunk.
func (w *SyncWorker) processCycle() {
	ctx := context.Background()

	jobs, err := w.jobs.ListActive(ctx)
	if err != nil {
		w.logger.Error("failed to list active jobs", zap.Error(err))
		return
	}

	for _, job := range jobs {
		result, err := w.sync.ProcessJobChunk(ctx, job.ID)
		if err != nil {
			if errors.Is(err, ErrChunkInProgress) {
				w.logger.Debug("chunk lease held elsewhere, skipping",
					zap.String("job_id", job.ID))
				continue
			}
			w.logger.Error("chunk processing failed",
				zap.String("job_id", job.ID),
				zap.Error(err))
			continue
		}

		w.logger.Info("advanced sync job",
			zap.String("job_id", job.ID),
			zap.String("status", string(result.Status)),
			zap.Int("items", result.ItemsProcessed),
			zap.Int("pages", result.PagesProcessed),
			zap.Bool("reached_end", result.ReachedEnd))
	}
}
