package services

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/sellerops/marketsync/internal/config"
	"github.com/sellerops/marketsync/internal/models"
	"github.com/sellerops/marketsync/internal/utils"
)

// WriteOp is one pending store mutation produced by the upsert engine.
// Creates carry a full document; updates carry only the fields to set.
type WriteOp struct {
	DocID  string
	Create bool
	Record models.StoredRecord
	Fields bson.M
}

// RecordStore is the keyed document store synced records are written to.
// Implementations must support batched writes up to MaxBatchOps per commit.
type RecordStore interface {
	// FindByNaturalKey returns the stored record for (owner, natural key),
	// or nil when none exists.
	FindByNaturalKey(ctx context.Context, kind models.DataKind, ownerID, naturalKey string) (*models.StoredRecord, error)

	// CommitBatch applies the ops in one batched write.
	CommitBatch(ctx context.Context, kind models.DataKind, ops []WriteOp) error

	// CountByOwner returns how many records the owner has of the given kind.
	CountByOwner(ctx context.Context, kind models.DataKind, ownerID string) (int64, error)
}

// JobStore persists resumable sync jobs.
type JobStore interface {
	// FindResumable returns the pending or in-progress job matching the job
	// identity, or nil when none exists.
	FindResumable(ctx context.Context, ownerID string, kind models.DataKind, label string, filterKind models.DateFilterKind) (*models.SyncJob, error)

	Insert(ctx context.Context, job *models.SyncJob) error
	Get(ctx context.Context, id string) (*models.SyncJob, error)
	Save(ctx context.Context, job *models.SyncJob) error
	ListActive(ctx context.Context) ([]models.SyncJob, error)

	// DeleteTerminalBefore removes terminal jobs last touched before cutoff
	// and returns how many were deleted.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MongoRecordStore is the MongoDB-backed record store.
type MongoRecordStore struct {
	db          *mongo.Database
	collections map[models.DataKind]string
}

// NewMongoRecordStore creates a record store over the configured sales and
// products collections.
func NewMongoRecordStore(db *mongo.Database, cfg *config.Config) *MongoRecordStore {
	return &MongoRecordStore{
		db: db,
		collections: map[models.DataKind]string{
			models.DataKindSales:    cfg.SalesCollection,
			models.DataKindProducts: cfg.ProductsCollection,
		},
	}
}

func (s *MongoRecordStore) collection(kind models.DataKind) *mongo.Collection {
	return s.db.Collection(s.collections[kind])
}

// FindByNaturalKey implements RecordStore.
func (s *MongoRecordStore) FindByNaturalKey(ctx context.Context, kind models.DataKind, ownerID, naturalKey string) (*models.StoredRecord, error) {
	var stored models.StoredRecord
	filter := bson.M{"owner_id": ownerID, "natural_key": naturalKey}
	err := utils.FindOneWithTimeout(ctx, s.collection(kind), filter, &stored, utils.DefaultQueryTimeout)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// CommitBatch implements RecordStore. Creates use an upsert keyed on the
// deterministic document id so a concurrent create of the same record
// converges instead of erroring.
func (s *MongoRecordStore) CommitBatch(ctx context.Context, kind models.DataKind, ops []WriteOp) error {
	if len(ops) == 0 {
		return nil
	}

	writes := make([]mongo.WriteModel, 0, len(ops))
	for _, op := range ops {
		if op.Create {
			writes = append(writes, mongo.NewReplaceOneModel().
				SetFilter(bson.M{"_id": op.DocID}).
				SetReplacement(op.Record).
				SetUpsert(true))
		} else {
			writes = append(writes, mongo.NewUpdateOneModel().
				SetFilter(bson.M{"_id": op.DocID}).
				SetUpdate(bson.M{"$set": op.Fields}))
		}
	}

	if _, err := utils.BulkWriteWithTimeout(ctx, s.collection(kind), writes, 30*time.Second); err != nil {
		return &models.StoreWriteError{Ops: len(ops), Err: err}
	}
	return nil
}

// CountByOwner implements RecordStore.
func (s *MongoRecordStore) CountByOwner(ctx context.Context, kind models.DataKind, ownerID string) (int64, error) {
	return utils.CountDocumentsWithTimeout(ctx, s.collection(kind), bson.M{"owner_id": ownerID}, utils.DefaultQueryTimeout)
}

// MongoJobStore is the MongoDB-backed job store.
type MongoJobStore struct {
	db         *mongo.Database
	collection string
}

// NewMongoJobStore creates a job store over the configured collection.
func NewMongoJobStore(db *mongo.Database, cfg *config.Config) *MongoJobStore {
	return &MongoJobStore{db: db, collection: cfg.SyncJobsCollection}
}

func (s *MongoJobStore) coll() *mongo.Collection {
	return s.db.Collection(s.collection)
}

// FindResumable implements JobStore.
func (s *MongoJobStore) FindResumable(ctx context.Context, ownerID string, kind models.DataKind, label string, filterKind models.DateFilterKind) (*models.SyncJob, error) {
	var job models.SyncJob
	filter := bson.M{
		"owner_id":         ownerID,
		"data_kind":        kind,
		"trigger_label":    label,
		"date_filter_kind": filterKind,
		"status":           bson.M{"$in": []models.JobStatus{models.JobStatusPending, models.JobStatusInProgress}},
	}
	err := utils.FindOneWithTimeout(ctx, s.coll(), filter, &job, utils.DefaultQueryTimeout)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Insert implements JobStore.
func (s *MongoJobStore) Insert(ctx context.Context, job *models.SyncJob) error {
	_, err := utils.InsertOneWithTimeout(ctx, s.coll(), job, utils.DefaultQueryTimeout)
	return err
}

// Get implements JobStore.
func (s *MongoJobStore) Get(ctx context.Context, id string) (*models.SyncJob, error) {
	var job models.SyncJob
	err := utils.FindOneWithTimeout(ctx, s.coll(), bson.M{"_id": id}, &job, utils.DefaultQueryTimeout)
	if err == mongo.ErrNoDocuments {
		return nil, models.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Save implements JobStore. Jobs are single-writer per chunk lease, so a
// whole-document replace is safe here.
func (s *MongoJobStore) Save(ctx context.Context, job *models.SyncJob) error {
	ctx, cancel := context.WithTimeout(ctx, utils.DefaultQueryTimeout)
	defer cancel()

	_, err := s.coll().ReplaceOne(ctx, bson.M{"_id": job.ID}, job)
	return err
}

// ListActive implements JobStore.
func (s *MongoJobStore) ListActive(ctx context.Context) ([]models.SyncJob, error) {
	filter := bson.M{
		"status": bson.M{"$in": []models.JobStatus{models.JobStatusPending, models.JobStatusInProgress}},
	}
	cursor, err := utils.FindWithTimeout(ctx, s.coll(), filter, utils.DefaultQueryTimeout)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var jobs []models.SyncJob
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// DeleteTerminalBefore implements JobStore.
func (s *MongoJobStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	filter := bson.M{
		"status":            bson.M{"$in": []models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled}},
		"last_processed_at": bson.M{"$lt": cutoff},
	}
	res, err := utils.DeleteManyWithTimeout(ctx, s.coll(), filter, 30*time.Second)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
