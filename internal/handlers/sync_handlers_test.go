package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/sellerops/marketsync/internal/models"
	"github.com/sellerops/marketsync/internal/services"
	"github.com/sellerops/marketsync/internal/takealot"
)

// memJobStore is a minimal in-memory JobStore for handler tests.
type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]models.SyncJob
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]models.SyncJob)}
}

func (s *memJobStore) FindResumable(_ context.Context, ownerID string, kind models.DataKind, label string, filterKind models.DateFilterKind) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.OwnerID == ownerID && job.DataKind == kind && job.TriggerLabel == label &&
			job.DateFilterKind == filterKind && !job.Status.Terminal() {
			j := job
			return &j, nil
		}
	}
	return nil, nil
}

func (s *memJobStore) Insert(_ context.Context, job *models.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *memJobStore) Get(_ context.Context, id string) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, models.ErrJobNotFound
	}
	return &job, nil
}

func (s *memJobStore) Save(_ context.Context, job *models.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *memJobStore) ListActive(_ context.Context) ([]models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []models.SyncJob
	for _, job := range s.jobs {
		if !job.Status.Terminal() {
			active = append(active, job)
		}
	}
	return active, nil
}

func (s *memJobStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, job := range s.jobs {
		if job.Status.Terminal() && job.LastProcessedAt.Before(cutoff) {
			delete(s.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

// memRecordStore is a minimal in-memory RecordStore for handler tests.
type memRecordStore struct {
	mu   sync.Mutex
	docs map[string]models.StoredRecord
}

func newMemRecordStore() *memRecordStore {
	return &memRecordStore{docs: make(map[string]models.StoredRecord)}
}

func (s *memRecordStore) FindByNaturalKey(_ context.Context, _ models.DataKind, ownerID, naturalKey string) (*models.StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[ownerID+"_"+naturalKey]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (s *memRecordStore) CountByOwner(_ context.Context, _ models.DataKind, ownerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, doc := range s.docs {
		if doc.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (s *memRecordStore) CommitBatch(_ context.Context, _ models.DataKind, ops []services.WriteOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		if op.Create {
			s.docs[op.DocID] = op.Record
			continue
		}
		doc := s.docs[op.DocID]
		if doc.Fields == nil {
			doc.Fields = bson.M{}
		}
		for k, v := range op.Fields {
			doc.Fields[k] = v
		}
		s.docs[op.DocID] = doc
	}
	return nil
}

// memLocker always grants.
type memLocker struct{}

func (memLocker) Acquire(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (memLocker) Release(context.Context, string) error { return nil }

// memMarker is a minimal in-memory CompletionMarker for handler tests.
type memMarker struct {
	mu    sync.Mutex
	marks map[string]time.Time
}

func newMemMarker() *memMarker {
	return &memMarker{marks: make(map[string]time.Time)}
}

func (m *memMarker) MarkCompleted(_ context.Context, ownerID string, kind models.DataKind, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[ownerID+"/"+string(kind)] = at
	return nil
}

func (m *memMarker) LastCompleted(_ context.Context, ownerID string, kind models.DataKind) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.marks[ownerID+"/"+string(kind)]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

// cannedFetcher serves fixed pages.
type cannedFetcher struct {
	pages map[int]*takealot.Page
}

func (f *cannedFetcher) FetchPage(_ context.Context, req takealot.PageRequest) (*takealot.Page, error) {
	if page, ok := f.pages[req.Page]; ok {
		return page, nil
	}
	return &takealot.Page{Total: -1, StatusCode: 200}, nil
}

func salesPage(n, total int) *takealot.Page {
	records := make([]models.RawRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, models.RawRecord{
			"order_id":      fmt.Sprintf("order-%06d", i),
			"order_status":  "Shipped to Customer",
			"selling_price": 199.99,
		})
	}
	return &takealot.Page{Records: records, Total: total, StatusCode: 200}
}

func setupRouter(pages map[int]*takealot.Page) (*gin.Engine, *memJobStore) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	jobStore := newMemJobStore()
	recordStore := newMemRecordStore()
	marker := newMemMarker()
	engine := services.NewUpsertEngine(recordStore, logger)
	controller := services.NewFetchController(&cannedFetcher{pages: pages}, engine, 2, logger)
	manager := services.NewJobManager(jobStore, memLocker{}, 7, logger)
	sync := services.NewSyncService(manager, controller, memLocker{}, marker, logger)
	oneShot := services.NewOneShotService(controller, engine, time.Minute, time.Minute, logger)
	stats := services.NewStatsService(recordStore, marker, logger)

	h := NewSyncHandlers(sync, oneShot, stats, logger)

	router := gin.New()
	v1 := router.Group("/v1")
	{
		v1.GET("/health", HealthCheck)
		v1.POST("/sync/jobs", h.CreateOrResumeJob)
		v1.GET("/sync/jobs", h.ListActiveJobs)
		v1.DELETE("/sync/jobs", h.CleanupJobs)
		v1.POST("/sync/jobs/:id/process", h.ProcessChunk)
		v1.POST("/sync/jobs/:id/cancel", h.CancelJob)
		v1.GET("/sync/stats", h.GetStats)
		v1.POST("/sync/sales", h.OneShotSales)
	}
	return router, jobStore
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func createJobBody() map[string]interface{} {
	return map[string]interface{}{
		"owner_id":      "owner-1",
		"data_kind":     "sales",
		"trigger_label": "manual",
		"api_key":       "test-key",
	}
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := setupRouter(nil)

	rec := doJSON(t, router, http.MethodGet, "/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateJob_ReturnsHandle(t *testing.T) {
	router, _ := setupRouter(nil)

	rec := doJSON(t, router, http.MethodPost, "/v1/sync/jobs", createJobBody())
	require.Equal(t, http.StatusOK, rec.Code)

	var handle services.JobHandle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &handle))
	assert.NotEmpty(t, handle.JobID)
	assert.Equal(t, 1, handle.CurrentPage)
	assert.False(t, handle.Resumed)
	assert.True(t, handle.ShouldProcess)
}

func TestCreateJob_Validation(t *testing.T) {
	router, _ := setupRouter(nil)

	missing := createJobBody()
	delete(missing, "api_key")
	rec := doJSON(t, router, http.MethodPost, "/v1/sync/jobs", missing)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	badKind := createJobBody()
	badKind["data_kind"] = "invoices"
	rec = doJSON(t, router, http.MethodPost, "/v1/sync/jobs", badKind)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	badDate := createJobBody()
	badDate["date_filter_kind"] = "custom"
	badDate["custom_start"] = "yesterday"
	rec = doJSON(t, router, http.MethodPost, "/v1/sync/jobs", badDate)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessChunk_Endpoint(t *testing.T) {
	router, _ := setupRouter(map[int]*takealot.Page{1: salesPage(60, 60)})

	rec := doJSON(t, router, http.MethodPost, "/v1/sync/jobs", createJobBody())
	require.Equal(t, http.StatusOK, rec.Code)

	var handle services.JobHandle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &handle))

	rec = doJSON(t, router, http.MethodPost, "/v1/sync/jobs/"+handle.JobID+"/process", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result services.ProcessResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.True(t, result.ReachedEnd)
	assert.Equal(t, 60, result.ItemsProcessed)
}

func TestProcessChunk_UnknownJob(t *testing.T) {
	router, _ := setupRouter(nil)

	rec := doJSON(t, router, http.MethodPost, "/v1/sync/jobs/nope/process", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListActiveJobs_EmptyIsArray(t *testing.T) {
	router, _ := setupRouter(nil)

	rec := doJSON(t, router, http.MethodGet, "/v1/sync/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", rec.Body.String())
}

func TestCancelJob_Endpoint(t *testing.T) {
	router, _ := setupRouter(nil)

	rec := doJSON(t, router, http.MethodPost, "/v1/sync/jobs", createJobBody())
	require.Equal(t, http.StatusOK, rec.Code)

	var handle services.JobHandle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &handle))

	rec = doJSON(t, router, http.MethodPost, "/v1/sync/jobs/"+handle.JobID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Cancelling twice conflicts with the terminal state.
	rec = doJSON(t, router, http.MethodPost, "/v1/sync/jobs/"+handle.JobID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/sync/jobs/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCleanupJobs_Validation(t *testing.T) {
	router, _ := setupRouter(nil)

	rec := doJSON(t, router, http.MethodDelete, "/v1/sync/jobs?days_old=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/v1/sync/jobs?days_old=week", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/v1/sync/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted_count":0}`, rec.Body.String())
}

func TestGetStats_Endpoint(t *testing.T) {
	router, _ := setupRouter(map[int]*takealot.Page{1: salesPage(60, 60)})

	rec := doJSON(t, router, http.MethodPost, "/v1/sync/jobs", createJobBody())
	require.Equal(t, http.StatusOK, rec.Code)

	var handle services.JobHandle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &handle))

	rec = doJSON(t, router, http.MethodPost, "/v1/sync/jobs/"+handle.JobID+"/process", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/v1/sync/stats?owner_id=owner-1&data_kind=sales", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats services.SyncStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(60), stats.RecordCount)
	assert.NotNil(t, stats.LastCompletedAt, "completed sync leaves a freshness mark")
}

func TestGetStats_Validation(t *testing.T) {
	router, _ := setupRouter(nil)

	rec := doJSON(t, router, http.MethodGet, "/v1/sync/stats?data_kind=sales", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/v1/sync/stats?owner_id=owner-1&data_kind=invoices", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOneShotSales_Endpoint(t *testing.T) {
	router, _ := setupRouter(map[int]*takealot.Page{1: salesPage(80, 80)})

	rec := doJSON(t, router, http.MethodPost, "/v1/sync/sales", map[string]interface{}{
		"owner_id": "owner-1",
		"api_key":  "test-key",
		"strategy": "Last 100",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result services.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 80, result.ItemsProcessed)
}

func TestOneShotSales_UnknownStrategy(t *testing.T) {
	router, _ := setupRouter(nil)

	rec := doJSON(t, router, http.MethodPost, "/v1/sync/sales", map[string]interface{}{
		"owner_id": "owner-1",
		"api_key":  "test-key",
		"strategy": "Last Year",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
