package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/qianfan-go/pkg/qferr"
)

// acquireScript is an atomic Lua script that reserves one request from up to
// three token buckets stored as Redis hashes. Either every enabled bucket is
// debited or none is.
// KEYS[1] = QPS bucket key
// KEYS[2] = RPM bucket key
// KEYS[3] = TPM bucket key
// ARGV[1] = current unix timestamp (milliseconds)
// ARGV[2] = QPS capacity (0 disables the bucket)
// ARGV[3] = QPS refill rate (tokens per millisecond)
// ARGV[4] = RPM capacity
// ARGV[5] = RPM refill rate
// ARGV[6] = TPM capacity
// ARGV[7] = TPM refill rate
// ARGV[8] = tokens wanted from the TPM bucket
// Returns: {1, 0} when granted, {0, wait_ms} when the caller must wait.
var acquireScript = redis.NewScript(`
		local now = tonumber(ARGV[1])

		local function level(key, capacity, rate)
			local state  = redis.call('HMGET', key, 'tokens', 'ts')
			local tokens = tonumber(state[1])
			local ts     = tonumber(state[2])
			if tokens == nil then tokens = capacity end
			if ts == nil then ts = now end
			if now > ts then
				tokens = math.min(capacity, tokens + (now - ts) * rate)
			end
			return tokens
		end

		local want   = {1, 1, tonumber(ARGV[8])}
		local levels = {}
		local wait   = 0
		for i = 1, 3 do
			local capacity = tonumber(ARGV[i * 2])
			local rate     = tonumber(ARGV[i * 2 + 1])
			if capacity > 0 then
				local tokens = level(KEYS[i], capacity, rate)
				local need   = math.min(want[i], capacity)
				if tokens < need then
					local w = math.ceil((need - tokens) / rate)
					if w > wait then wait = w end
				end
				levels[i] = tokens
			end
		end

		if wait > 0 then
			return {0, wait}
		end

		for i = 1, 3 do
			if levels[i] ~= nil then
				redis.call('HSET', KEYS[i], 'tokens', levels[i] - want[i], 'ts', now)
				redis.call('PEXPIRE', KEYS[i], 120000)
			end
		end
		return {1, 0}
`)

// creditScript adjusts a bucket level after reconciliation, clamping at
// capacity. The level may go negative.
// KEYS[1] = bucket key
// ARGV[1] = capacity
// ARGV[2] = signed adjustment
var creditScript = redis.NewScript(`
		local key      = KEYS[1]
		local capacity = tonumber(ARGV[1])
		local tokens   = tonumber(redis.call('HINCRBYFLOAT', key, 'tokens', ARGV[2]))
		if tokens > capacity then
			redis.call('HSET', key, 'tokens', capacity)
		end
		redis.call('PEXPIRE', key, 120000)
		return 1
`)

const keyspace = "qianfan:ratelimit:"

func sharedKeys(key string) []string {
	return []string{
		keyspace + key + ":qps",
		keyspace + key + ":rpm",
		keyspace + key + ":tpm",
	}
}

// perMilli converts a per-second refill rate for the script.
func perMilli(perSecond float64) float64 { return perSecond / 1000 }

func (l *Limiter) acquireShared(ctx context.Context, rdb *redis.Client, key string, limits Limits, tokens int) error {
	keys := sharedKeys(key)
	for {
		now := l.now()
		res, err := acquireScript.Run(ctx, rdb, keys,
			now.UnixMilli(),
			limits.QPS, perMilli(limits.QPS),
			limits.RPM, perMilli(float64(limits.RPM)/60),
			limits.TPM, perMilli(float64(limits.TPM)/60),
			tokens,
		).Int64Slice()
		if err != nil {
			if ctx.Err() != nil {
				return l.budgetErr(ctx, key)
			}
			// Redis unavailable: allow the request (graceful degradation).
			l.logger.Warn("shared rate limit store unavailable, allowing request",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			return nil
		}
		if len(res) == 2 && res[0] == 1 {
			return nil
		}
		wait := time.Millisecond
		if len(res) == 2 && res[1] > 0 {
			wait = time.Duration(res[1]) * time.Millisecond
		}
		if err := l.sleep(ctx, key, now, wait); err != nil {
			return err
		}
	}
}

// creditShared pushes a reconciliation adjustment to the shared TPM bucket.
// Failures only log; a missed credit corrects itself as the bucket refills.
func (l *Limiter) creditShared(rdb *redis.Client, key string, limits Limits, diff float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tpmKey := sharedKeys(key)[2]
	if err := creditScript.Run(ctx, rdb, []string{tpmKey}, limits.TPM, diff).Err(); err != nil {
		l.logger.Warn("shared rate limit credit failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// budgetErr maps a done context observed inside the shared acquire loop to
// the same errors the local path produces.
func (l *Limiter) budgetErr(ctx context.Context, key string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return &qferr.RateLimitError{Msg: "call budget expired waiting for " + key}
	}
	return ctx.Err()
}
