package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local nowData = redis.call("TIME")
local now = (nowData[1] * 1000) + math.floor(nowData[2] / 1000)

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
  ts = now
else
  local delta = now - ts
  if delta < 0 then
    delta = 0
  end
  tokens = math.min(burst, tokens + (delta / 1000) * rate)
  ts = now
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HMSET", KEYS[1], "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", KEYS[1], ttl)

-- fractional token counts are truncated to integers by the reply conversion
return {allowed, tostring(tokens), ts}
`

var errBadReply = errors.New("ratelimit_invalid_script_reply")

// RedisBucket keeps one token bucket per key in a Redis hash so limits hold
// across server replicas.
type RedisBucket struct {
	client *redis.Client
	script *redis.Script
	prefix string
	rate   float64
	burst  int
}

func NewRedisBucket(client *redis.Client, prefix string, rate float64, burst int) *RedisBucket {
	return &RedisBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
		prefix: prefix,
		rate:   rate,
		burst:  burst,
	}
}

func (b *RedisBucket) Allow(ctx context.Context, key string) (Result, error) {
	if key == "" {
		return Result{}, ErrEmptyKey
	}
	ttl := bucketTTL(b.rate, b.burst)
	res, err := b.script.Run(ctx, b.client, []string{b.prefix + key},
		b.rate, b.burst, ttl.Milliseconds()).Slice()
	if err != nil {
		return Result{}, err
	}
	if len(res) < 3 {
		return Result{}, errBadReply
	}

	allowed := toInt(res[0]) == 1
	tokens := toFloat(res[1])
	return newResult(allowed, b.burst, tokens, b.rate), nil
}

// bucketTTL lets an idle bucket expire once it would have refilled twice.
func bucketTTL(rate float64, burst int) time.Duration {
	seconds := math.Ceil((float64(burst) / rate) * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

func toInt(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)
		return n
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	default:
		return 0
	}
}
