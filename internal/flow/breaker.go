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

package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fabrii9/remote-receipt-import/model"
)

var errUnexpectedScriptReply = errors.New("unexpected reply shape from flow script")

// CircuitOpenError is returned when the breaker rejects a call without
// dispatching it. RetryAfter is the remaining cooldown at rejection time.
type CircuitOpenError struct {
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker is open, retry in %s", e.RetryAfter.Round(time.Second))
}

// allowScript decides whether one call may go out. While open it transitions
// to half_open once the cooldown has elapsed and hands the probe to the
// caller that crossed it; in half_open only one probe may be in flight at a
// time, with a stale-probe escape so a crashed prober cannot wedge the
// breaker. Returns {1, state} on admit, {0, state, retry_after_ms} on reject.
var allowScript = redis.NewScript(`
local now_ms = tonumber(ARGV[1])
local cooldown_ms = tonumber(ARGV[2])
local probe_ttl_ms = tonumber(ARGV[3])

local data = redis.call('hmget', KEYS[1], 'state', 'opened_at_ms', 'probe_at_ms')
local state = data[1]
if not state then
  state = 'closed'
end

if state == 'closed' then
  return {1, state}
end

if state == 'open' then
  local opened_at = tonumber(data[2]) or 0
  local since = now_ms - opened_at
  if since >= cooldown_ms then
    redis.call('hset', KEYS[1], 'state', 'half_open', 'probe_at_ms', now_ms)
    return {1, 'half_open'}
  end
  return {0, state, cooldown_ms - since}
end

-- half_open
local probe_at = tonumber(data[3]) or 0
if probe_at == 0 or (now_ms - probe_at) >= probe_ttl_ms then
  redis.call('hset', KEYS[1], 'probe_at_ms', now_ms)
  return {1, state}
end
return {0, state, probe_ttl_ms - (now_ms - probe_at)}
`)

// successScript resets the record to closed unless the breaker is open, in
// which case a straggler success from a call admitted before the trip is
// ignored.
var successScript = redis.NewScript(`
local state = redis.call('hget', KEYS[1], 'state')
if state == 'open' then
  return state
end
redis.call('hset', KEYS[1], 'state', 'closed', 'failures', 0, 'probe_at_ms', 0)
return 'closed'
`)

// failureScript counts a remote failure. A half_open probe failure reopens
// immediately and restarts the cooldown; in closed the consecutive counter
// trips the breaker at the threshold.
var failureScript = redis.NewScript(`
local now_ms = tonumber(ARGV[1])
local threshold = tonumber(ARGV[2])

local state = redis.call('hget', KEYS[1], 'state')
if not state then
  state = 'closed'
end

if state == 'open' then
  return {state, tonumber(redis.call('hget', KEYS[1], 'failures')) or 0}
end

if state == 'half_open' then
  redis.call('hset', KEYS[1], 'state', 'open', 'opened_at_ms', now_ms, 'probe_at_ms', 0)
  return {'open', threshold}
end

local failures = redis.call('hincrby', KEYS[1], 'failures', 1)
if failures >= threshold then
  redis.call('hset', KEYS[1], 'state', 'open', 'opened_at_ms', now_ms, 'probe_at_ms', 0)
  return {'open', failures}
end
return {state, failures}
`)

// CircuitBreaker guards remote calls with a record shared by every worker.
// All transitions run inside Redis, so concurrent workers cannot observe or
// produce torn state.
type CircuitBreaker struct {
	client    redis.UniversalClient
	key       string
	threshold int
	cooldown  time.Duration
}

// NewCircuitBreaker returns a breaker over the record at key. threshold is
// the consecutive-failure count that trips it, cooldown how long it stays
// open before probing.
func NewCircuitBreaker(client redis.UniversalClient, key string, threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &CircuitBreaker{client: client, key: key, threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a call may be dispatched now. It returns a
// *CircuitOpenError when the call must not go out.
func (cb *CircuitBreaker) Allow(ctx context.Context) error {
	return cb.AllowAt(ctx, time.Now())
}

// AllowAt is Allow with an explicit clock reading.
func (cb *CircuitBreaker) AllowAt(ctx context.Context, now time.Time) error {
	res, err := allowScript.Run(ctx, cb.client, []string{cb.key},
		now.UnixMilli(),
		cb.cooldown.Milliseconds(),
		cb.probeTTL().Milliseconds(),
	).Result()
	if err != nil {
		return err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return errUnexpectedScriptReply
	}
	admitted, _ := vals[0].(int64)
	if admitted == 1 {
		return nil
	}
	retryMs := int64(0)
	if len(vals) == 3 {
		retryMs, _ = vals[2].(int64)
	}
	return &CircuitOpenError{RetryAfter: time.Duration(retryMs) * time.Millisecond}
}

// MarkSuccess records a successful remote call.
func (cb *CircuitBreaker) MarkSuccess(ctx context.Context) error {
	return successScript.Run(ctx, cb.client, []string{cb.key}).Err()
}

// MarkFailure records a failed remote call and returns the breaker state
// after the transition.
func (cb *CircuitBreaker) MarkFailure(ctx context.Context) (string, error) {
	return cb.MarkFailureAt(ctx, time.Now())
}

// MarkFailureAt is MarkFailure with an explicit clock reading.
func (cb *CircuitBreaker) MarkFailureAt(ctx context.Context, now time.Time) (string, error) {
	res, err := failureScript.Run(ctx, cb.client, []string{cb.key},
		now.UnixMilli(),
		cb.threshold,
	).Result()
	if err != nil {
		return "", err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return "", errUnexpectedScriptReply
	}
	state, _ := vals[0].(string)
	return state, nil
}

// State reads the current record for reporting. A missing record is a closed
// breaker.
func (cb *CircuitBreaker) State(ctx context.Context) (*model.BreakerState, error) {
	vals, err := cb.client.HMGet(ctx, cb.key, "state", "failures", "opened_at_ms").Result()
	if err != nil {
		return nil, err
	}
	state := &model.BreakerState{State: model.BreakerClosed}
	if s, ok := vals[0].(string); ok && s != "" {
		state.State = s
	}
	if s, ok := vals[1].(string); ok {
		if n, err := strconv.Atoi(s); err == nil {
			state.Failures = n
		}
	}
	if s, ok := vals[2].(string); ok {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
			state.OpenedAt = time.UnixMilli(ms)
		}
	}
	return state, nil
}

func (cb *CircuitBreaker) probeTTL() time.Duration {
	return cb.cooldown
}
