package ratelimit

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/corehours/internal/clock"
	"github.com/smallbiznis/corehours/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyPrefix = "corehours:ratelimit:"

var ErrEmptyKey = errors.New("ratelimit_key_empty")

// Limiter admits or rejects one request for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

func newResult(allowed bool, burst int, tokens, rate float64) Result {
	res := Result{Allowed: allowed, Limit: burst, Remaining: int(tokens)}
	if !allowed {
		res.RetryAfter = time.Duration((1 - tokens) / rate * float64(time.Second))
	}
	return res
}

type Params struct {
	fx.In

	Cfg    config.Config
	Client *redis.Client `optional:"true"`
	Clock  clock.Clock
	Log    *zap.Logger
}

// New returns nil when API_RATE_LIMIT is not positive, which disables limiting.
func New(p Params) Limiter {
	log := p.Log.Named("ratelimit")
	if p.Cfg.APIRateLimit <= 0 {
		return nil
	}
	burst := p.Cfg.APIRateBurst
	if burst <= 0 {
		burst = 1
	}
	if p.Client == nil {
		log.Debug("redis not configured, limiting in process",
			zap.Float64("rate", p.Cfg.APIRateLimit), zap.Int("burst", burst))
		return NewLocalBucket(p.Cfg.APIRateLimit, burst, p.Clock.Now)
	}
	return NewRedisBucket(p.Client, keyPrefix, p.Cfg.APIRateLimit, burst)
}
