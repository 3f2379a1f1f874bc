package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/sellerops/marketsync/internal/models"
	"github.com/sellerops/marketsync/internal/takealot"
)

// fakeRecordStore is an in-memory RecordStore that records every committed
// batch so tests can assert batching behaviour.
type fakeRecordStore struct {
	mu         sync.Mutex
	docs       map[string]*models.StoredRecord
	batches    [][]WriteOp
	failCommit bool
	failCount  bool
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{docs: make(map[string]*models.StoredRecord)}
}

func (s *fakeRecordStore) FindByNaturalKey(_ context.Context, _ models.DataKind, ownerID, naturalKey string) (*models.StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range s.docs {
		if doc.OwnerID == ownerID && doc.NaturalKey == naturalKey {
			copied := *doc
			copied.Fields = cloneFields(doc.Fields)
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeRecordStore) CommitBatch(_ context.Context, _ models.DataKind, ops []WriteOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCommit {
		return &models.StoreWriteError{Ops: len(ops), Err: errors.New("commit refused")}
	}

	batch := make([]WriteOp, len(ops))
	copy(batch, ops)
	s.batches = append(s.batches, batch)

	for _, op := range ops {
		if op.Create {
			doc := op.Record
			doc.Fields = cloneFields(op.Record.Fields)
			s.docs[op.DocID] = &doc
			continue
		}
		doc, ok := s.docs[op.DocID]
		if !ok {
			continue
		}
		for k, v := range op.Fields {
			if k == "last_fetched" {
				if t, isTime := v.(time.Time); isTime {
					doc.LastFetch = t
				}
				continue
			}
			doc.Fields[k] = v
		}
	}
	return nil
}

func (s *fakeRecordStore) CountByOwner(_ context.Context, _ models.DataKind, ownerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCount {
		return 0, errors.New("count refused")
	}

	var n int64
	for _, doc := range s.docs {
		if doc.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func cloneFields(fields bson.M) bson.M {
	out := bson.M{}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// fakeJobStore is an in-memory JobStore.
type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.SyncJob
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*models.SyncJob)}
}

func copyJob(job *models.SyncJob) *models.SyncJob {
	copied := *job
	return &copied
}

func (s *fakeJobStore) FindResumable(_ context.Context, ownerID string, kind models.DataKind, label string, filterKind models.DateFilterKind) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if job.OwnerID == ownerID && job.DataKind == kind && job.TriggerLabel == label &&
			job.DateFilterKind == filterKind && !job.Status.Terminal() {
			return copyJob(job), nil
		}
	}
	return nil, nil
}

func (s *fakeJobStore) Insert(_ context.Context, job *models.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("duplicate job id")
	}
	s.jobs[job.ID] = copyJob(job)
	return nil
}

func (s *fakeJobStore) Get(_ context.Context, id string) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, models.ErrJobNotFound
	}
	return copyJob(job), nil
}

func (s *fakeJobStore) Save(_ context.Context, job *models.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = copyJob(job)
	return nil
}

func (s *fakeJobStore) ListActive(_ context.Context) ([]models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active []models.SyncJob
	for _, job := range s.jobs {
		if !job.Status.Terminal() {
			active = append(active, *job)
		}
	}
	return active, nil
}

func (s *fakeJobStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
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

// fakeLocker grants or denies leases deterministically.
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	deny bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.deny || l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.held, key)
	return nil
}

// fakeMarker is an in-memory CompletionMarker.
type fakeMarker struct {
	mu       sync.Mutex
	marks    map[string]time.Time
	failMark bool
	failRead bool
}

func newFakeMarker() *fakeMarker {
	return &fakeMarker{marks: make(map[string]time.Time)}
}

func (m *fakeMarker) MarkCompleted(_ context.Context, ownerID string, kind models.DataKind, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failMark {
		return errors.New("mark refused")
	}
	m.marks[ownerID+"/"+string(kind)] = at
	return nil
}

func (m *fakeMarker) LastCompleted(_ context.Context, ownerID string, kind models.DataKind) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failRead {
		return nil, errors.New("read refused")
	}
	at, ok := m.marks[ownerID+"/"+string(kind)]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

// fakeFetcher serves canned pages and records the order pages were asked in.
type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[int]*takealot.Page
	errs     map[int]error
	fetched  []int
	requests []takealot.PageRequest
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: make(map[int]*takealot.Page), errs: make(map[int]error)}
}

func (f *fakeFetcher) FetchPage(_ context.Context, req takealot.PageRequest) (*takealot.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetched = append(f.fetched, req.Page)
	f.requests = append(f.requests, req)
	if err, ok := f.errs[req.Page]; ok {
		return nil, err
	}
	if page, ok := f.pages[req.Page]; ok {
		return page, nil
	}
	return &takealot.Page{Records: nil, Total: -1, StatusCode: 200}, nil
}

// salesPage builds a page of n sales records with sequential order ids
// starting at firstID.
func salesPage(firstID, n, total int) *takealot.Page {
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

// datedSalesPage builds a page whose records carry descending order dates
// starting at newest, one hour apart.
func datedSalesPage(firstID, n, total int, newest time.Time) *takealot.Page {
	page := salesPage(firstID, n, total)
	for i, rec := range page.Records {
		rec["order_date"] = newest.Add(time.Duration(-i) * time.Hour).Format("2006-01-02 15:04:05")
	}
	return page
}

func testEngine(store RecordStore) *UpsertEngine {
	return NewUpsertEngine(store, zap.NewNop())
}

func testController(fetcher Fetcher, engine *UpsertEngine) *FetchController {
	return NewFetchController(fetcher, engine, 2, zap.NewNop())
}
