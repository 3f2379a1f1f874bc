package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/sellerops/marketsync/internal/models"
	"github.com/sellerops/marketsync/internal/observability"
)

// MaxBatchOps is the store's per-batch operation ceiling. A batch is flushed
// and a new one opened when it fills, and a final flush happens at the end
// of every pass regardless of fill level.
const MaxBatchOps = 500

// UpsertEngine decides create vs. update vs. skip-unchanged for canonical
// records and writes them to the record store in bounded batches.
type UpsertEngine struct {
	store  RecordStore
	logger *zap.Logger
	now    func() time.Time
}

// NewUpsertEngine creates an upsert engine over the given record store.
func NewUpsertEngine(store RecordStore, logger *zap.Logger) *UpsertEngine {
	return &UpsertEngine{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// ProcessRecords runs one upsert pass over the records. Per-record failures
// (missing keys, lookup errors) are tallied and do not abort the pass; a
// failed batch commit does, because partial progress past a failed write
// cannot be retried safely.
func (e *UpsertEngine) ProcessRecords(ctx context.Context, kind models.DataKind, records []models.CanonicalRecord) (UpsertTally, error) {
	var tally UpsertTally
	batch := make([]WriteOp, 0, MaxBatchOps)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.store.CommitBatch(ctx, kind, batch); err != nil {
			return err
		}
		observability.BatchesCommitted.WithLabelValues(string(kind)).Inc()
		batch = batch[:0]
		return nil
	}

	for _, rec := range records {
		op, outcome, err := e.decide(ctx, kind, rec)
		if err != nil {
			if _, missing := err.(*models.MissingKeyError); missing {
				// Never written, counted as skipped.
				tally.Processed++
				tally.Skipped++
				observability.RecordsUpserted.WithLabelValues(string(kind), "missing_key").Inc()
				continue
			}
			tally.Errors++
			e.logger.Warn("record upsert failed",
				zap.String("kind", string(kind)),
				zap.String("natural_key", rec.NaturalKey),
				zap.Error(err))
			continue
		}

		tally.Processed++
		switch outcome {
		case OutcomeCreated:
			tally.New++
		case OutcomeUpdated:
			tally.Updated++
		case OutcomeSkipped:
			tally.Skipped++
		}
		observability.RecordsUpserted.WithLabelValues(string(kind), string(outcome)).Inc()

		if op != nil {
			batch = append(batch, *op)
			if len(batch) >= MaxBatchOps {
				if err := flush(); err != nil {
					return tally, err
				}
			}
		}
	}

	if err := flush(); err != nil {
		return tally, err
	}
	return tally, nil
}

// decide resolves one record against the store. A nil op with OutcomeSkipped
// means no write is needed.
func (e *UpsertEngine) decide(ctx context.Context, kind models.DataKind, rec models.CanonicalRecord) (*WriteOp, UpsertOutcome, error) {
	if rec.NaturalKey == "" {
		return nil, "", &models.MissingKeyError{Kind: kind}
	}

	stored, err := e.store.FindByNaturalKey(ctx, kind, rec.OwnerID, rec.NaturalKey)
	if err != nil {
		return nil, "", fmt.Errorf("lookup failed: %w", err)
	}

	now := e.now()

	if stored == nil {
		doc := models.StoredRecord{
			DocID:      docID(rec.OwnerID, rec.NaturalKey),
			NaturalKey: rec.NaturalKey,
			OwnerID:    rec.OwnerID,
			Source:     "takealot",
			Fields:     rec.Fields,
			FirstSeen:  now,
			LastFetch:  now,
		}
		return &WriteOp{DocID: doc.DocID, Create: true, Record: doc}, OutcomeCreated, nil
	}

	if !e.changed(stored, rec) {
		return nil, OutcomeSkipped, nil
	}

	// One changed field triggers a full update of all incoming non-nil
	// fields plus refreshed bookkeeping.
	set := bson.M{"last_fetched": now}
	for k, v := range rec.Fields {
		if v != nil {
			set[k] = v
		}
	}
	return &WriteOp{DocID: stored.DocID, Fields: set}, OutcomeUpdated, nil
}

// changed compares the fixed field set. Fields absent in the incoming record
// are never considered: they must not overwrite known-good stored values.
func (e *UpsertEngine) changed(stored *models.StoredRecord, rec models.CanonicalRecord) bool {
	for _, field := range models.CompareFields {
		incoming, ok := rec.Fields[field]
		if !ok || incoming == nil {
			continue
		}
		current := stored.Fields[field]
		if fieldDiffers(current, incoming) {
			return true
		}
	}
	return false
}

// toleranceEpsilon absorbs float64 representation noise at the tolerance
// boundary: 100.00 - 99.99 evaluates to 0.010000000000005116, which must
// still count as within tolerance.
const toleranceEpsilon = 1e-9

// fieldDiffers applies numeric tolerance when both sides coerce to numbers,
// strict inequality otherwise.
func fieldDiffers(current, incoming interface{}) bool {
	cf, cok := toFloat(current)
	nf, nok := toFloat(incoming)
	if cok && nok {
		diff := cf - nf
		if diff < 0 {
			diff = -diff
		}
		return diff > models.NumericTolerance+toleranceEpsilon
	}
	return asString(current) != asString(incoming)
}

// docID is the deterministic composite document id for a synced record.
func docID(ownerID, naturalKey string) string {
	return ownerID + "_" + naturalKey
}
