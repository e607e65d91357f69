/*
Copyright 2024 The remote-receipt-import Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package flow holds the shared flow-control state for remote calls: a token
// bucket rate limiter and a circuit breaker. Both live in Redis and are
// mutated through Lua scripts, so every worker process sees the same record
// and updates are atomic read-modify-writes. The current wall-clock time is
// always passed in as a script argument, never read inside Redis.
package flow

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fabrii9/remote-receipt-import/model"
)

// limiterIdleTTL evicts an untouched bucket; a fresh bucket starts full, so
// expiry never costs a caller tokens it was owed.
const limiterIdleTTL = time.Hour

// takeScript refills the bucket from elapsed time, then either consumes the
// requested tokens or reports how long until they accrue. Returns
// {1, remaining_whole_tokens} on admit, {0, wait_ms} on reject.
var takeScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local take = tonumber(ARGV[4])
local ttl_ms = tonumber(ARGV[5])

local data = redis.call('hmget', KEYS[1], 'tokens', 'last_refill_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil or last == nil then
  tokens = capacity
  last = now_ms
end

local elapsed = now_ms - last
if elapsed > 0 then
  tokens = tokens + (elapsed / 1000.0) * rate
  if tokens > capacity then
    tokens = capacity
  end
  last = now_ms
end

if tokens >= take then
  tokens = tokens - take
  redis.call('hset', KEYS[1], 'tokens', tostring(tokens), 'last_refill_ms', last)
  redis.call('pexpire', KEYS[1], ttl_ms)
  return {1, math.floor(tokens)}
end

redis.call('hset', KEYS[1], 'tokens', tostring(tokens), 'last_refill_ms', last)
redis.call('pexpire', KEYS[1], ttl_ms)
local wait_ms = math.ceil(((take - tokens) / rate) * 1000)
return {0, wait_ms}
`)

// RateLimiter is a token bucket shared by every worker through Redis. The
// refill is a pure function of elapsed time, so any caller can recompute it
// inside the script without coordination.
type RateLimiter struct {
	client   redis.UniversalClient
	key      string
	rate     float64
	capacity int
}

// NewRateLimiter returns a limiter over the record at key. rate is the
// sustained ceiling in tokens per second, capacity the burst allowance.
func NewRateLimiter(client redis.UniversalClient, key string, rate float64, capacity int) *RateLimiter {
	if rate <= 0 {
		rate = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	return &RateLimiter{client: client, key: key, rate: rate, capacity: capacity}
}

// AllowN consumes n tokens at the given time if available. When it returns
// false, the wait duration is how long until the tokens accrue.
func (l *RateLimiter) AllowN(ctx context.Context, now time.Time, n int) (bool, time.Duration, error) {
	res, err := takeScript.Run(ctx, l.client, []string{l.key},
		strconv.FormatFloat(l.rate, 'f', -1, 64),
		l.capacity,
		now.UnixMilli(),
		n,
		limiterIdleTTL.Milliseconds(),
	).Result()
	if err != nil {
		return false, 0, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return false, 0, errUnexpectedScriptReply
	}
	admitted, _ := vals[0].(int64)
	arg, _ := vals[1].(int64)
	if admitted == 1 {
		return true, 0, nil
	}
	return false, time.Duration(arg) * time.Millisecond, nil
}

// TryAcquire consumes one token if available, without waiting.
func (l *RateLimiter) TryAcquire(ctx context.Context) (bool, error) {
	ok, _, err := l.AllowN(ctx, time.Now(), 1)
	return ok, err
}

// Acquire blocks until one token is consumed or the context ends. Waiters are
// not queued; each retries when the bucket says tokens should exist, so
// admission is eventual rather than FIFO.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	for {
		ok, wait, err := l.AllowN(ctx, time.Now(), 1)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// State reads the current bucket for reporting. A missing record means a
// full bucket.
func (l *RateLimiter) State(ctx context.Context) (*model.LimiterState, error) {
	vals, err := l.client.HMGet(ctx, l.key, "tokens", "last_refill_ms").Result()
	if err != nil {
		return nil, err
	}
	state := &model.LimiterState{
		Capacity: float64(l.capacity),
		Rate:     l.rate,
		Tokens:   float64(l.capacity),
	}
	if s, ok := vals[0].(string); ok {
		if tokens, err := strconv.ParseFloat(s, 64); err == nil {
			state.Tokens = tokens
		}
	}
	if s, ok := vals[1].(string); ok {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			state.LastRefill = time.UnixMilli(ms)
		}
	}
	return state, nil
}
