package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

type bucket struct {
	tokens float64
	last   time.Time
}

// LocalBucket is the in-process token bucket used when Redis is absent.
type LocalBucket struct {
	mu      sync.Mutex
	now     func() time.Time
	rate    float64
	burst   int
	buckets map[string]*bucket
}

func NewLocalBucket(rate float64, burst int, now func() time.Time) *LocalBucket {
	if now == nil {
		now = time.Now
	}
	return &LocalBucket{
		now:     now,
		rate:    rate,
		burst:   burst,
		buckets: map[string]*bucket{},
	}
}

func (b *LocalBucket) Allow(_ context.Context, key string) (Result, error) {
	if key == "" {
		return Result{}, ErrEmptyKey
	}
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	bk, ok := b.buckets[key]
	if !ok {
		bk = &bucket{tokens: float64(b.burst), last: now}
		b.buckets[key] = bk
	} else if elapsed := now.Sub(bk.last).Seconds(); elapsed > 0 {
		bk.tokens = math.Min(float64(b.burst), bk.tokens+elapsed*b.rate)
		bk.last = now
	}

	allowed := bk.tokens >= 1
	if allowed {
		bk.tokens--
	}
	b.evict(now)
	return newResult(allowed, b.burst, bk.tokens, b.rate), nil
}

// evict drops buckets idle long enough to have refilled completely.
func (b *LocalBucket) evict(now time.Time) {
	idle := bucketTTL(b.rate, b.burst)
	for key, bk := range b.buckets {
		if now.Sub(bk.last) > idle {
			delete(b.buckets, key)
		}
	}
}
