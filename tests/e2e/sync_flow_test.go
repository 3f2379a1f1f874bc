package e2e_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/sellerops/marketsync/internal/models"
	"github.com/sellerops/marketsync/internal/services"
	"github.com/sellerops/marketsync/internal/takealot"
	"github.com/sellerops/marketsync/tests"
)

// stubFetcher serves canned sales pages so the flow runs against real
// MongoDB and Redis without touching the marketplace API.
type stubFetcher struct {
	pages map[int]*takealot.Page
}

func (f *stubFetcher) FetchPage(_ context.Context, req takealot.PageRequest) (*takealot.Page, error) {
	if page, ok := f.pages[req.Page]; ok {
		return page, nil
	}
	return &takealot.Page{Records: nil, Total: -1, StatusCode: 200}, nil
}

func salesPages(perPage, lastPage, total int) map[int]*takealot.Page {
	pages := make(map[int]*takealot.Page)
	fullPages := total / perPage
	id := 0
	for p := 1; p <= fullPages; p++ {
		pages[p] = salesPageAt(id, perPage, total)
		id += perPage
	}
	if lastPage > 0 {
		pages[fullPages+1] = salesPageAt(id, lastPage, total)
	}
	return pages
}

func salesPageAt(firstID, n, total int) *takealot.Page {
	records := make([]models.RawRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, models.RawRecord{
			"order_id":      fmt.Sprintf("order-%06d", firstID+i),
			"order_status":  "Shipped to Customer",
			"selling_price": 199.99,
			"total_fee":     35.50,
			"quantity":      1,
		})
	}
	return &takealot.Page{Records: records, Total: total, StatusCode: 200}
}

func setupIntegration(t *testing.T) *tests.TestContainers {
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("TEST_INTEGRATION not set, skipping integration test")
	}
	tc := tests.SetupTestContainers(t)
	t.Cleanup(tc.Cleanup)
	return tc
}

// TestSyncFlow runs a chunked sales sync end to end against containerized
// MongoDB and Redis: create, process to completion, verify persisted
// records, then confirm a re-run skips everything unchanged.
func TestSyncFlow(t *testing.T) {
	tc := setupIntegration(t)
	ctx := context.Background()
	logger := zap.NewNop()

	recordStore := services.NewMongoRecordStore(tc.MongoDB, tc.Config)
	jobStore := services.NewMongoJobStore(tc.MongoDB, tc.Config)
	locker := services.NewRedisLocker(tc.Redis)

	fetcher := &stubFetcher{pages: salesPages(100, 50, 250)}
	engine := services.NewUpsertEngine(recordStore, logger)
	controller := services.NewFetchController(fetcher, engine, tc.Config.BatchFetchConcurrency, logger)
	manager := services.NewJobManager(jobStore, locker, tc.Config.JobRetentionDays, logger)
	marker := services.NewRedisCompletionMarker(tc.Redis)
	sync := services.NewSyncService(manager, controller, locker, marker, logger)

	params := services.CreateJobParams{
		OwnerID:        "owner-1",
		DataKind:       models.DataKindSales,
		TriggerLabel:   "manual",
		APIKey:         "test-key",
		PagesPerChunk:  2,
		DateFilterKind: models.DateFilterNone,
	}

	handle, err := sync.CreateOrResumeSyncJob(ctx, params)
	require.NoError(t, err)
	require.True(t, handle.ShouldProcess)

	// Two pages per chunk against three available pages: the first chunk
	// leaves the job resumable, the second finishes it.
	result, err := sync.ProcessJobChunk(ctx, handle.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusInProgress, result.Status)
	assert.Equal(t, 200, result.ItemsProcessed)

	resumed, err := sync.CreateOrResumeSyncJob(ctx, params)
	require.NoError(t, err)
	assert.True(t, resumed.Resumed)
	assert.Equal(t, handle.JobID, resumed.JobID)
	assert.Equal(t, 3, resumed.CurrentPage)

	result, err = sync.ProcessJobChunk(ctx, handle.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, result.Status)
	assert.True(t, result.ReachedEnd)

	count, err := tc.MongoDB.Collection(tc.Config.SalesCollection).CountDocuments(ctx, bson.M{"owner_id": "owner-1"})
	require.NoError(t, err)
	assert.EqualValues(t, 250, count)

	var stored models.StoredRecord
	err = tc.MongoDB.Collection(tc.Config.SalesCollection).
		FindOne(ctx, bson.M{"_id": "owner-1_order-000000"}).Decode(&stored)
	require.NoError(t, err)
	assert.Equal(t, "order-000000", stored.NaturalKey)
	assert.Equal(t, "takealot", stored.Source)

	// The completed sync leaves a freshness mark in Redis; stats read from
	// both stores.
	stats := services.NewStatsService(recordStore, marker, logger)
	ownerStats, err := stats.Stats(ctx, "owner-1", models.DataKindSales)
	require.NoError(t, err)
	assert.EqualValues(t, 250, ownerStats.RecordCount)
	assert.NotNil(t, ownerStats.LastCompletedAt)

	// Identical upstream data on a fresh job must not rewrite anything.
	rerun, err := sync.CreateOrResumeSyncJob(ctx, params)
	require.NoError(t, err)
	assert.False(t, rerun.Resumed, "completed job is terminal, a fresh one is created")

	result, err = sync.ProcessJobChunk(ctx, rerun.JobID)
	require.NoError(t, err)
	assert.Equal(t, 200, result.ItemsProcessed)

	result, err = sync.ProcessJobChunk(ctx, rerun.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, result.Status)

	count, err = tc.MongoDB.Collection(tc.Config.SalesCollection).CountDocuments(ctx, bson.M{"owner_id": "owner-1"})
	require.NoError(t, err)
	assert.EqualValues(t, 250, count, "re-sync of unchanged data creates no duplicates")
}

// TestRedisLease verifies lease acquisition is exclusive per key until
// released or expired.
func TestRedisLease(t *testing.T) {
	tc := setupIntegration(t)
	ctx := context.Background()

	locker := services.NewRedisLocker(tc.Redis)

	acquired, err := locker.Acquire(ctx, "marketsync:lease:test", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	again, err := locker.Acquire(ctx, "marketsync:lease:test", time.Minute)
	require.NoError(t, err)
	assert.False(t, again, "held lease must not be granted twice")

	require.NoError(t, locker.Release(ctx, "marketsync:lease:test"))

	reacquired, err := locker.Acquire(ctx, "marketsync:lease:test", time.Minute)
	require.NoError(t, err)
	assert.True(t, reacquired)

	// A short TTL lease frees itself without an explicit release.
	short, err := locker.Acquire(ctx, "marketsync:lease:ttl", 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, short)

	time.Sleep(200 * time.Millisecond)

	expired, err := locker.Acquire(ctx, "marketsync:lease:ttl", time.Minute)
	require.NoError(t, err)
	assert.True(t, expired, "expired lease is reacquirable")
}

// TestJobRetention verifies terminal jobs past the retention window are
// deleted while active ones survive.
func TestJobRetention(t *testing.T) {
	tc := setupIntegration(t)
	ctx := context.Background()

	jobStore := services.NewMongoJobStore(tc.MongoDB, tc.Config)

	old := time.Now().AddDate(0, 0, -30)
	require.NoError(t, jobStore.Insert(ctx, &models.SyncJob{
		ID:              "stale-completed",
		OwnerID:         "owner-1",
		DataKind:        models.DataKindSales,
		Status:          models.JobStatusCompleted,
		LastProcessedAt: old,
	}))
	require.NoError(t, jobStore.Insert(ctx, &models.SyncJob{
		ID:              "stale-active",
		OwnerID:         "owner-1",
		DataKind:        models.DataKindSales,
		Status:          models.JobStatusInProgress,
		LastProcessedAt: old,
	}))

	manager := services.NewJobManager(jobStore, services.NewRedisLocker(tc.Redis), 7, zap.NewNop())

	deleted, err := manager.CleanupOld(ctx, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	_, err = jobStore.Get(ctx, "stale-completed")
	assert.ErrorIs(t, err, models.ErrJobNotFound)

	_, err = jobStore.Get(ctx, "stale-active")
	assert.NoError(t, err)
}
