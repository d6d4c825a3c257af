// Package cache memoizes read-only query results for a bounded time.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/smallbiznis/corehours/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyPrefix = "corehours:query:"

// Query wraps a Store with logging and lookup metrics. Store failures never
// fail a query; the result is computed live instead.
type Query struct {
	store   Store
	log     *zap.Logger
	metrics *metrics.Metrics
}

type Params struct {
	fx.In

	Store   Store
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

func NewQuery(p Params) *Query {
	return &Query{
		store:   p.Store,
		log:     p.Log.Named("cache"),
		metrics: p.Metrics,
	}
}

// Remember returns the cached result for (op, args) or computes, stores and
// returns it. args must be JSON-encodable; its encoding forms the key.
func Remember[T any](ctx context.Context, q *Query, op string, ttl time.Duration, args any, fn func(context.Context) (T, error)) (T, error) {
	if q == nil || q.store == nil {
		return fn(ctx)
	}

	rawArgs, err := json.Marshal(args)
	if err != nil {
		q.log.Warn("cache key encode failed", zap.String("operation", op), zap.Error(err))
		return fn(ctx)
	}
	key := op + ":" + string(rawArgs)

	payload, ok, err := q.store.Get(ctx, key)
	if err != nil {
		q.log.Warn("cache get failed", zap.String("operation", op), zap.Error(err))
	}
	if ok {
		var cached T
		if err := json.Unmarshal(payload, &cached); err == nil {
			q.metrics.RecordCacheLookup(ctx, op, true)
			return cached, nil
		}
		q.log.Warn("cache entry undecodable", zap.String("operation", op))
	}
	q.metrics.RecordCacheLookup(ctx, op, false)

	result, err := fn(ctx)
	if err != nil {
		return result, err
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		q.log.Warn("cache value encode failed", zap.String("operation", op), zap.Error(err))
		return result, nil
	}
	if err := q.store.Set(ctx, key, encoded, ttl); err != nil {
		q.log.Warn("cache set failed", zap.String("operation", op), zap.Error(err))
	}
	return result, nil
}
