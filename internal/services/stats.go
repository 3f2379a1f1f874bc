package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sellerops/marketsync/internal/models"
	"github.com/sellerops/marketsync/internal/redisclient"
)

// CompletionMarker records when a sync for (owner, kind) last ran to
// completion.
type CompletionMarker interface {
	MarkCompleted(ctx context.Context, ownerID string, kind models.DataKind, at time.Time) error
	LastCompleted(ctx context.Context, ownerID string, kind models.DataKind) (*time.Time, error)
}

// RedisCompletionMarker implements CompletionMarker on Redis. The marker is
// advisory freshness metadata, so it carries a bounded TTL rather than
// living forever.
type RedisCompletionMarker struct {
	redis *redisclient.Client
	ttl   time.Duration
}

// NewRedisCompletionMarker creates a Redis-backed completion marker.
func NewRedisCompletionMarker(redis *redisclient.Client) *RedisCompletionMarker {
	return &RedisCompletionMarker{redis: redis, ttl: 30 * 24 * time.Hour}
}

func completionKey(ownerID string, kind models.DataKind) string {
	return fmt.Sprintf("marketsync:last_completed:%s:%s", ownerID, kind)
}

// MarkCompleted implements CompletionMarker.
func (m *RedisCompletionMarker) MarkCompleted(ctx context.Context, ownerID string, kind models.DataKind, at time.Time) error {
	return m.redis.Set(ctx, completionKey(ownerID, kind), at.UTC().Format(time.RFC3339Nano), m.ttl).Err()
}

// LastCompleted implements CompletionMarker. A missing key means no sync has
// completed within the marker's TTL and is not an error.
func (m *RedisCompletionMarker) LastCompleted(ctx context.Context, ownerID string, kind models.DataKind) (*time.Time, error) {
	raw, err := m.redis.Get(ctx, completionKey(ownerID, kind)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("malformed completion marker for %s/%s: %w", ownerID, kind, err)
	}
	return &t, nil
}

// SyncStats summarizes an owner's synced data of one kind.
type SyncStats struct {
	OwnerID         string          `json:"owner_id"`
	DataKind        models.DataKind `json:"data_kind"`
	RecordCount     int64           `json:"record_count"`
	LastCompletedAt *time.Time      `json:"last_completed_at,omitempty"`
}

// StatsService answers freshness queries for dashboards: how many records an
// owner has of a kind, and when a sync for it last completed.
type StatsService struct {
	records RecordStore
	marker  CompletionMarker
	logger  *zap.Logger
}

// NewStatsService creates the stats service.
func NewStatsService(records RecordStore, marker CompletionMarker, logger *zap.Logger) *StatsService {
	return &StatsService{records: records, marker: marker, logger: logger}
}

// Stats returns the owner's record count and last completed sync time for
// the kind. A marker read failure degrades to count-only rather than failing
// the query.
func (s *StatsService) Stats(ctx context.Context, ownerID string, kind models.DataKind) (*SyncStats, error) {
	if !kind.Valid() {
		return nil, models.ErrInvalidDataKind
	}

	count, err := s.records.CountByOwner(ctx, kind, ownerID)
	if err != nil {
		return nil, fmt.Errorf("record count failed: %w", err)
	}

	last, err := s.marker.LastCompleted(ctx, ownerID, kind)
	if err != nil {
		s.logger.Warn("completion marker unavailable",
			zap.String("owner_id", ownerID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		last = nil
	}

	return &SyncStats{
		OwnerID:         ownerID,
		DataKind:        kind,
		RecordCount:     count,
		LastCompletedAt: last,
	}, nil
}
