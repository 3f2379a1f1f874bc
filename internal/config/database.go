package config

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sellerops/marketsync/internal/redisclient"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.uber.org/zap"
)

// NewMongoDB connects to MongoDB and returns the database handle plus a
// disconnect function. The handle is injected into every component that
// needs the store; nothing reads it from a global.
func NewMongoDB(cfg *Config, logger *zap.Logger) (*mongo.Database, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opts := options.Client().
		ApplyURI(cfg.MongoURI).
		SetMonitor(otelmongo.NewMonitor()).
		SetMaxPoolSize(100).
		SetMinPoolSize(10).
		SetMaxConnIdleTime(5 * time.Minute).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, nil, err
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, nil, err
	}

	db := client.Database(cfg.MongoDatabase)

	if err := ensureIndexes(db, cfg, logger); err != nil {
		logger.Error("failed to ensure indexes on startup", zap.Error(err))
	}

	logger.Info("connected to MongoDB",
		zap.String("uri", maskMongoURI(cfg.MongoURI)),
		zap.String("database", cfg.MongoDatabase),
	)

	disconnect := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			logger.Error("failed to disconnect MongoDB", zap.Error(err))
		}
	}
	return db, disconnect, nil
}

// NewRedis initializes the Redis connection wrapped with tracing.
func NewRedis(cfg *Config, logger *zap.Logger) (*redisclient.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisURI,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	traced := redisclient.NewClient(client)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := traced.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	logger.Info("connected to Redis", zap.String("uri", cfg.RedisURI))
	return traced, nil
}

// maskMongoURI masks credentials in a MongoDB URI for logging
func maskMongoURI(uri string) string {
	at := strings.LastIndex(uri, "@")
	if at == -1 {
		return uri
	}
	return "mongodb://****:****@" + uri[at+1:]
}

// ensureIndexes creates the indexes the sync engine relies on
func ensureIndexes(db *mongo.Database, cfg *Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Resume queries filter on job identity plus status.
	jobsIdx := mongo.IndexModel{
		Keys: bson.D{
			{Key: "owner_id", Value: 1},
			{Key: "data_kind", Value: 1},
			{Key: "trigger_label", Value: 1},
			{Key: "date_filter_kind", Value: 1},
			{Key: "status", Value: 1},
		},
	}
	if _, err := db.Collection(cfg.SyncJobsCollection).Indexes().CreateOne(ctx, jobsIdx); err != nil {
		return err
	}

	// Exactly one synced record per (owner, natural key).
	recordIdx := mongo.IndexModel{
		Keys: bson.D{
			{Key: "owner_id", Value: 1},
			{Key: "natural_key", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	for _, coll := range []string{cfg.SalesCollection, cfg.ProductsCollection} {
		if _, err := db.Collection(coll).Indexes().CreateOne(ctx, recordIdx); err != nil {
			return err
		}
	}

	logger.Info("ensured sync indexes")
	return nil
}
