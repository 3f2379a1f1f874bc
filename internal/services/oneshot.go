package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sellerops/marketsync/internal/models"
)

// strategyPreset maps a one-shot strategy onto a page cap and date window.
type strategyPreset struct {
	maxPages  int
	daysBack  int
	monthsAgo int
}

var strategyPresets = map[models.SyncStrategy]strategyPreset{
	models.StrategyLast100:     {maxPages: 1},
	models.StrategyLast30Days:  {daysBack: 30},
	models.StrategyLast6Months: {monthsAgo: 6},
	models.StrategyAllData:     {},
}

// OneShotService runs non-resumable bulk syncs with a wall-clock budget.
// Unlike the chunked path it buffers the whole fetch in memory and treats a
// blown budget as terminal.
type OneShotService struct {
	controller       *FetchController
	engine           *UpsertEngine
	logger           *zap.Logger
	manualTimeout    time.Duration
	scheduledTimeout time.Duration
	now              func() time.Time
}

// NewOneShotService creates the one-shot sync service.
func NewOneShotService(controller *FetchController, engine *UpsertEngine, manualTimeout, scheduledTimeout time.Duration, logger *zap.Logger) *OneShotService {
	if manualTimeout <= 0 {
		manualTimeout = 15 * time.Minute
	}
	if scheduledTimeout <= 0 {
		scheduledTimeout = 30 * time.Minute
	}
	return &OneShotService{
		controller:       controller,
		engine:           engine,
		logger:           logger,
		manualTimeout:    manualTimeout,
		scheduledTimeout: scheduledTimeout,
		now:              time.Now,
	}
}

// SyncSales runs one strategy end to end for the sales dataset.
func (s *OneShotService) SyncSales(ctx context.Context, apiKey string, strategy models.SyncStrategy, trigger models.TriggerType, ownerID string) (*SyncResult, error) {
	return s.run(ctx, models.DataKindSales, apiKey, strategy, trigger, ownerID)
}

// SyncProducts runs one strategy end to end for the products dataset.
func (s *OneShotService) SyncProducts(ctx context.Context, apiKey string, strategy models.SyncStrategy, trigger models.TriggerType, ownerID string) (*SyncResult, error) {
	return s.run(ctx, models.DataKindProducts, apiKey, strategy, trigger, ownerID)
}

func (s *OneShotService) run(ctx context.Context, kind models.DataKind, apiKey string, strategy models.SyncStrategy, trigger models.TriggerType, ownerID string) (*SyncResult, error) {
	preset, ok := strategyPresets[strategy]
	if !ok {
		return nil, models.ErrInvalidStrategy
	}

	budget := s.manualTimeout
	if trigger == models.TriggerScheduled {
		budget = s.scheduledTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := s.now()
	result := &SyncResult{Strategy: strategy}

	var startDate *time.Time
	if preset.daysBack > 0 {
		d := start.AddDate(0, 0, -preset.daysBack)
		startDate = &d
	} else if preset.monthsAgo > 0 {
		d := start.AddDate(0, -preset.monthsAgo, 0)
		startDate = &d
	}

	records, pages, fetchErrors, err := s.controller.FetchAllPages(ctx, kind, ownerID, apiKey, preset.maxPages, startDate)
	result.PagesFetched = pages
	result.Tally.Errors += fetchErrors
	if err != nil {
		return s.finish(result, start, err)
	}

	tally, err := s.engine.ProcessRecords(ctx, kind, records)
	result.Tally.Add(tally)
	result.ItemsProcessed = tally.Processed
	if err != nil {
		return s.finish(result, start, err)
	}

	result.Success = true
	s.logger.Info("one-shot sync completed",
		zap.String("kind", string(kind)),
		zap.String("strategy", string(strategy)),
		zap.Int("pages", pages),
		zap.Int("items", result.ItemsProcessed),
		zap.Int("new", tally.New),
		zap.Int("updated", tally.Updated),
		zap.Int("skipped", tally.Skipped))
	return s.finish(result, start, nil)
}

// finish stamps the duration and classifies the terminal error. A deadline
// hit becomes a distinct TimeoutError so callers can tell "budget blown"
// from a hard upstream failure; partial progress accounting is discarded
// either way.
func (s *OneShotService) finish(result *SyncResult, start time.Time, err error) (*SyncResult, error) {
	result.Duration = s.now().Sub(start)
	if err == nil {
		return result, nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		result.TimedOut = true
		timeoutErr := &models.TimeoutError{Budget: result.Duration.Round(time.Second).String()}
		result.Error = timeoutErr.Error()
		return result, timeoutErr
	}

	result.Error = err.Error()
	return result, err
}
