package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sellerops/marketsync/internal/models"
)

func seedOwnerDocs(store *fakeRecordStore, ownerID string, n int) {
	for i := 0; i < n; i++ {
		page := salesPage(i, 1, -1)
		rec := Normalize(models.DataKindSales, page.Records[0], ownerID)
		store.docs[docID(ownerID, rec.NaturalKey)] = &models.StoredRecord{
			DocID:      docID(ownerID, rec.NaturalKey),
			OwnerID:    ownerID,
			NaturalKey: rec.NaturalKey,
			Fields:     rec.Fields,
		}
	}
}

func TestStats_CountsOnlyTheOwner(t *testing.T) {
	store := newFakeRecordStore()
	seedOwnerDocs(store, "owner-1", 7)
	seedOwnerDocs(store, "owner-2", 3)

	marker := newFakeMarker()
	completed := time.Date(2025, 8, 20, 9, 30, 0, 0, time.UTC)
	require.NoError(t, marker.MarkCompleted(context.Background(), "owner-1", models.DataKindSales, completed))

	svc := NewStatsService(store, marker, zap.NewNop())

	stats, err := svc.Stats(context.Background(), "owner-1", models.DataKindSales)
	require.NoError(t, err)

	assert.Equal(t, int64(7), stats.RecordCount)
	require.NotNil(t, stats.LastCompletedAt)
	assert.True(t, stats.LastCompletedAt.Equal(completed))
}

func TestStats_NoCompletionYet(t *testing.T) {
	store := newFakeRecordStore()
	svc := NewStatsService(store, newFakeMarker(), zap.NewNop())

	stats, err := svc.Stats(context.Background(), "owner-1", models.DataKindProducts)
	require.NoError(t, err)

	assert.Zero(t, stats.RecordCount)
	assert.Nil(t, stats.LastCompletedAt)
}

func TestStats_MarkerFailureDegradesToCountOnly(t *testing.T) {
	store := newFakeRecordStore()
	seedOwnerDocs(store, "owner-1", 2)
	marker := newFakeMarker()
	marker.failRead = true

	svc := NewStatsService(store, marker, zap.NewNop())

	stats, err := svc.Stats(context.Background(), "owner-1", models.DataKindSales)
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.RecordCount)
	assert.Nil(t, stats.LastCompletedAt)
}

func TestStats_InvalidKindRejected(t *testing.T) {
	svc := NewStatsService(newFakeRecordStore(), newFakeMarker(), zap.NewNop())

	_, err := svc.Stats(context.Background(), "owner-1", models.DataKind("invoices"))
	assert.ErrorIs(t, err, models.ErrInvalidDataKind)
}

func TestStats_CountFailureIsAnError(t *testing.T) {
	store := newFakeRecordStore()
	store.failCount = true

	svc := NewStatsService(store, newFakeMarker(), zap.NewNop())

	_, err := svc.Stats(context.Background(), "owner-1", models.DataKindSales)
	assert.Error(t, err)
}
