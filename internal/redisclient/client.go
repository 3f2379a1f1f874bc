package redisclient

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Client wraps a Redis client with OpenTelemetry tracing. The sync engine
// uses it for short-lived leases that serialize job creation and chunk
// processing across replicas, and for sync-completion freshness markers.
type Client struct {
	cmdable redis.Cmdable
}

// NewClient creates a new traced Redis client for a single Redis instance
func NewClient(client *redis.Client) *Client {
	return &Client{cmdable: client}
}

func (c *Client) traced(ctx context.Context, op, key string) (context.Context, trace.Span, time.Time) {
	ctx, span := otel.Tracer("redis").Start(ctx, "redis."+op,
		trace.WithAttributes(
			attribute.String("redis.key", key),
			attribute.String("redis.operation", op),
			attribute.String("redis.client", "marketsync"),
		),
	)
	return ctx, span, time.Now()
}

func finish(span trace.Span, start time.Time, err error) {
	span.SetAttributes(attribute.Int64("redis.duration_ms", time.Since(start).Milliseconds()))
	if err != nil && err != redis.Nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	span.End()
}

// Ping wraps Redis Ping with tracing
func (c *Client) Ping(ctx context.Context) *redis.StatusCmd {
	ctx, span, start := c.traced(ctx, "ping", "")
	cmd := c.cmdable.Ping(ctx)
	finish(span, start, cmd.Err())
	return cmd
}

// Get wraps Redis Get with tracing
func (c *Client) Get(ctx context.Context, key string) *redis.StringCmd {
	ctx, span, start := c.traced(ctx, "get", key)
	cmd := c.cmdable.Get(ctx, key)
	finish(span, start, cmd.Err())
	return cmd
}

// Set wraps Redis Set with tracing
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	ctx, span, start := c.traced(ctx, "set", key)
	cmd := c.cmdable.Set(ctx, key, value, expiration)
	finish(span, start, cmd.Err())
	return cmd
}

// SetNX wraps Redis SetNX with tracing. Used for job and chunk leases.
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	ctx, span, start := c.traced(ctx, "setnx", key)
	cmd := c.cmdable.SetNX(ctx, key, value, expiration)
	finish(span, start, cmd.Err())
	return cmd
}

// Del wraps Redis Del with tracing
func (c *Client) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	key := ""
	if len(keys) > 0 {
		key = keys[0]
	}
	ctx, span, start := c.traced(ctx, "del", key)
	cmd := c.cmdable.Del(ctx, keys...)
	finish(span, start, cmd.Err())
	return cmd
}
