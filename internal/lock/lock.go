// Package redlock implements a minimal single-instance Redis lock, used to
// keep one worker per import. The value guards ownership: only the holder
// that set it can unlock or extend.
package redlock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

// Both scripts compare the stored value against the caller's before acting,
// in one round trip, so a lock that expired and was reacquired by another
// worker can never be released or renewed by the previous holder.
var (
	unlockScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`)
	extendScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("pexpire", KEYS[1], ARGV[2]) else return 0 end`)
)

type Locker struct {
	client redis.UniversalClient
	key    string
	value  string // only the holder of this value can unlock or renew
}

func NewLocker(client redis.UniversalClient, key, value string) *Locker {
	return &Locker{
		client: client,
		key:    key,
		value:  value,
	}
}

// Lock takes the lock if nobody holds it. The timeout caps how long a
// crashed holder can block everyone else.
func (l *Locker) Lock(ctx context.Context, timeout time.Duration) error {
	ok, err := l.client.SetNX(ctx, l.key, l.value, timeout).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("lock for key %s is already held", l.key)
	}
	return nil
}

// Unlock releases the lock, but only for the holder that took it.
func (l *Locker) Unlock(ctx context.Context) error {
	deleted, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Int64()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return fmt.Errorf("unlock failed, either lock expired or you're not the lock holder for key %s", l.key)
	}
	return nil
}

// ExtendLock renews the holder's TTL mid-work.
func (l *Locker) ExtendLock(ctx context.Context, extension time.Duration) error {
	renewed, err := extendScript.Run(ctx, l.client, []string{l.key}, l.value, extension.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if renewed == 0 {
		return fmt.Errorf("lock extension failed for key %s, either lock expired or you're not the holder", l.key)
	}
	return nil
}

// WaitLock retries Lock with a short randomized sleep until it succeeds or
// the wait timeout passes. Context cancellation cuts the wait short.
func (l *Locker) WaitLock(ctx context.Context, lockTimeout, waitTimeout time.Duration) error {
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if err := l.Lock(ctx, lockTimeout); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(rand.Intn(100)) * time.Millisecond):
		}
	}
	return fmt.Errorf("failed to acquire lock for key %s within the wait timeout", l.key)
}
