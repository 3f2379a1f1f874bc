package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sellerops/marketsync/internal/models"
	"github.com/sellerops/marketsync/internal/observability"
	"github.com/sellerops/marketsync/internal/takealot"
)

// PageSize is the fixed upstream page size.
const PageSize = 100

// Fetcher fetches one page from the upstream API.
type Fetcher interface {
	FetchPage(ctx context.Context, req takealot.PageRequest) (*takealot.Page, error)
}

// FetchController drives page fetches for a job: strictly sequential within
// a chunk (the date-cutoff heuristic depends on page order), bounded
// concurrency in the one-shot batch mode.
type FetchController struct {
	fetcher     Fetcher
	engine      *UpsertEngine
	logger      *zap.Logger
	concurrency int
}

// NewFetchController creates a controller. concurrency bounds the batch-mode
// worker group; the resumable chunk path is always sequential.
func NewFetchController(fetcher Fetcher, engine *UpsertEngine, concurrency int, logger *zap.Logger) *FetchController {
	if concurrency <= 0 {
		concurrency = 10
	}
	return &FetchController{
		fetcher:     fetcher,
		engine:      engine,
		logger:      logger,
		concurrency: concurrency,
	}
}

// FetchChunk processes up to job.PagesPerChunk pages starting at the job's
// cursor, persisting each page before fetching the next. Per-page fetch
// failures are tallied and the chunk moves on; a store write failure aborts
// the chunk and is fatal to the job.
func (c *FetchController) FetchChunk(ctx context.Context, job *models.SyncJob) (*ChunkResult, error) {
	start := time.Now()
	defer func() {
		observability.ChunkDuration.WithLabelValues(string(job.DataKind)).Observe(time.Since(start).Seconds())
	}()

	result := &ChunkResult{NextPage: job.CurrentPage}
	limit := job.PageLimit()
	page := job.CurrentPage
	dateFiltered := job.DataKind == models.DataKindSales &&
		job.DateFilterKind != models.DateFilterNone && job.FilterStart != nil

	for i := 0; i < job.PagesPerChunk; i++ {
		if limit > 0 && page > limit {
			result.ReachedEnd = true
			break
		}

		req := takealot.PageRequest{
			Kind:     job.DataKind,
			APIKey:   job.APIKey,
			Endpoint: job.Endpoint,
			Page:     page,
			PageSize: PageSize,
		}
		if dateFiltered {
			req.StartDate = job.FilterStart
			req.EndDate = job.FilterEnd
		}

		fetched, err := c.fetcher.FetchPage(ctx, req)
		result.PagesFetched++
		if err != nil {
			// Transient upstream failure: the page contributes nothing and
			// the chunk continues.
			result.FetchErrors++
			observability.PagesFetched.WithLabelValues(string(job.DataKind), "error").Inc()
			c.logger.Warn("page fetch failed, continuing chunk",
				zap.String("job_id", job.ID),
				zap.Int("page", page),
				zap.Error(err))
			page++
			result.NextPage = page
			continue
		}
		observability.PagesFetched.WithLabelValues(string(job.DataKind), "ok").Inc()

		if job.TotalPages == nil && result.TotalPagesDiscovered == nil && fetched.Total >= 0 {
			discovered := (fetched.Total + PageSize - 1) / PageSize
			result.TotalPagesDiscovered = &discovered
			if limit == 0 || discovered < limit {
				limit = discovered
			}
		}

		result.RecordsFetched += len(fetched.Records)

		records := make([]models.CanonicalRecord, 0, len(fetched.Records))
		for _, raw := range fetched.Records {
			records = append(records, Normalize(job.DataKind, raw, job.OwnerID))
		}

		if dateFiltered {
			var cutoffHit bool
			records, cutoffHit = c.applyDateWindow(records, job.FilterStart, job.FilterEnd, result)
			if cutoffHit {
				result.ReachedEnd = true
			}
		}

		tally, err := c.engine.ProcessRecords(ctx, job.DataKind, records)
		result.Tally.Add(tally)
		if err != nil {
			return result, err
		}

		shortPage := len(fetched.Records) < PageSize
		page++
		result.NextPage = page

		if shortPage || result.ReachedEnd {
			result.ReachedEnd = true
			break
		}
	}

	if limit > 0 && result.NextPage > limit {
		result.ReachedEnd = true
	}
	return result, nil
}

// applyDateWindow drops records outside [start, end] and tracks the oldest
// order date seen. Upstream returns sales in descending date order, so an
// oldest date before the window start means every later page is older still
// and the fetch can stop.
func (c *FetchController) applyDateWindow(records []models.CanonicalRecord, start, end *time.Time, result *ChunkResult) ([]models.CanonicalRecord, bool) {
	retained := make([]models.CanonicalRecord, 0, len(records))
	cutoffHit := false

	for _, rec := range records {
		orderDate, ok := OrderDate(rec)
		if !ok {
			// Undated records are retained; the window cannot judge them.
			retained = append(retained, rec)
			continue
		}

		if result.OldestSeen == nil || orderDate.Before(*result.OldestSeen) {
			d := orderDate
			result.OldestSeen = &d
		}

		if orderDate.Before(*start) {
			cutoffHit = true
			continue
		}
		if end != nil && orderDate.After(*end) {
			continue
		}
		retained = append(retained, rec)
	}

	return retained, cutoffHit
}

// pageResult carries one batch-mode page outcome back in page order.
type pageResult struct {
	page    int
	records []models.RawRecord
	err     error
}

// FetchAllPages is the one-shot batch mode: page 1 discovers the total, the
// rest are fetched by a bounded worker group. A failed page contributes an
// empty record set and bumps the error count instead of failing the batch.
func (c *FetchController) FetchAllPages(ctx context.Context, kind models.DataKind, ownerID, apiKey string, maxPages int, startDate *time.Time) ([]models.CanonicalRecord, int, int, error) {
	first, err := c.fetcher.FetchPage(ctx, takealot.PageRequest{
		Kind:      kind,
		APIKey:    apiKey,
		Page:      1,
		PageSize:  PageSize,
		StartDate: startDate,
	})
	if err != nil {
		return nil, 0, 1, err
	}
	observability.PagesFetched.WithLabelValues(string(kind), "ok").Inc()

	totalPages := 1
	if first.Total >= 0 {
		totalPages = (first.Total + PageSize - 1) / PageSize
	} else if len(first.Records) == PageSize {
		if maxPages <= 0 {
			// No summary and no cap: the worker group needs a page count up
			// front, so walk pages sequentially until one comes back short.
			return c.fetchUntilShortPage(ctx, kind, ownerID, apiKey, startDate, first.Records)
		}
		// No summary; fetch up to the cap and let short pages come back empty.
		totalPages = maxPages
	}
	if maxPages > 0 && totalPages > maxPages {
		totalPages = maxPages
	}
	if totalPages < 1 {
		totalPages = 1
	}

	pages := make([][]models.RawRecord, totalPages+1)
	pages[1] = first.Records
	fetchErrors := 0

	if totalPages > 1 {
		tasks := make(chan int)
		results := make(chan pageResult, totalPages-1)

		var wg sync.WaitGroup
		workers := c.concurrency
		if workers > totalPages-1 {
			workers = totalPages - 1
		}
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for page := range tasks {
					fetched, err := c.fetcher.FetchPage(ctx, takealot.PageRequest{
						Kind:      kind,
						APIKey:    apiKey,
						Page:      page,
						PageSize:  PageSize,
						StartDate: startDate,
					})
					if err != nil {
						results <- pageResult{page: page, err: err}
						continue
					}
					results <- pageResult{page: page, records: fetched.Records}
				}
			}()
		}

		go func() {
			for page := 2; page <= totalPages; page++ {
				tasks <- page
			}
			close(tasks)
		}()

		go func() {
			wg.Wait()
			close(results)
		}()

		for res := range results {
			if res.err != nil {
				fetchErrors++
				observability.PagesFetched.WithLabelValues(string(kind), "error").Inc()
				c.logger.Warn("batch page fetch failed",
					zap.Int("page", res.page),
					zap.Error(res.err))
				continue
			}
			observability.PagesFetched.WithLabelValues(string(kind), "ok").Inc()
			pages[res.page] = res.records
		}
	}

	var records []models.CanonicalRecord
	for page := 1; page <= totalPages; page++ {
		for _, raw := range pages[page] {
			records = append(records, Normalize(kind, raw, ownerID))
		}
	}
	return records, totalPages, fetchErrors, nil
}

// fetchUntilShortPage handles batch mode when the upstream omits the result
// total and the caller set no page cap. Pages are walked one at a time until
// one comes back short. A fetch error also ends the walk: without a total
// there is no way to tell a transient failure from the end of the data.
func (c *FetchController) fetchUntilShortPage(ctx context.Context, kind models.DataKind, ownerID, apiKey string, startDate *time.Time, firstPage []models.RawRecord) ([]models.CanonicalRecord, int, int, error) {
	raw := firstPage
	page := 1
	fetchErrors := 0

	for {
		page++
		fetched, err := c.fetcher.FetchPage(ctx, takealot.PageRequest{
			Kind:      kind,
			APIKey:    apiKey,
			Page:      page,
			PageSize:  PageSize,
			StartDate: startDate,
		})
		if err != nil {
			fetchErrors++
			observability.PagesFetched.WithLabelValues(string(kind), "error").Inc()
			c.logger.Warn("batch page fetch failed, ending walk",
				zap.Int("page", page),
				zap.Error(err))
			break
		}
		observability.PagesFetched.WithLabelValues(string(kind), "ok").Inc()
		raw = append(raw, fetched.Records...)
		if len(fetched.Records) < PageSize {
			break
		}
	}

	records := make([]models.CanonicalRecord, 0, len(raw))
	for _, r := range raw {
		records = append(records, Normalize(kind, r, ownerID))
	}
	return records, page, fetchErrors, nil
}
