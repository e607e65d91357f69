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

package redlock

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
)

const (
	lockKey   = "rri:lock:import:imp_01"
	lockOwner = "loc_worker_a"
)

func newTestLocker() (*Locker, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	return NewLocker(db, lockKey, lockOwner), mock
}

func TestLockAcquired(t *testing.T) {
	locker, mock := newTestLocker()
	mock.ExpectSetNX(lockKey, lockOwner, 5*time.Second).SetVal(true)

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockAlreadyHeld(t *testing.T) {
	locker, mock := newTestLocker()
	mock.ExpectSetNX(lockKey, lockOwner, 5*time.Second).SetVal(false)

	err := locker.Lock(context.Background(), 5*time.Second)
	assert.EqualError(t, err, "lock for key "+lockKey+" is already held")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnlockByOwner(t *testing.T) {
	locker, mock := newTestLocker()
	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	mock.ExpectEval(script, []string{lockKey}, lockOwner).SetVal(int64(1))

	err := locker.Unlock(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnlockByNonOwner(t *testing.T) {
	locker, mock := newTestLocker()
	// Expired or held by another worker: the compare-and-delete script
	// returns 0 and the lock stays put.
	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	mock.ExpectEval(script, []string{lockKey}, lockOwner).SetVal(int64(0))

	err := locker.Unlock(context.Background())
	assert.EqualError(t, err, "unlock failed, either lock expired or you're not the lock holder for key "+lockKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtendLockByOwner(t *testing.T) {
	locker, mock := newTestLocker()
	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
	mock.ExpectEval(script, []string{lockKey}, lockOwner, "5000").SetVal(int64(1))

	err := locker.ExtendLock(context.Background(), 5*time.Second)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtendLockByNonOwner(t *testing.T) {
	locker, mock := newTestLocker()
	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
	mock.ExpectEval(script, []string{lockKey}, lockOwner, "5000").SetVal(int64(0))

	err := locker.ExtendLock(context.Background(), 5*time.Second)
	assert.EqualError(t, err, "lock extension failed for key "+lockKey+", either lock expired or you're not the holder")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitLockAcquired(t *testing.T) {
	locker, mock := newTestLocker()
	mock.ExpectSetNX(lockKey, lockOwner, 5*time.Second).SetVal(true)

	err := locker.WaitLock(context.Background(), 5*time.Second, 2*time.Second)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitLockTimesOut(t *testing.T) {
	locker, mock := newTestLocker()
	mock.ExpectSetNX(lockKey, lockOwner, 5*time.Second).SetVal(false)

	err := locker.WaitLock(context.Background(), 5*time.Second, 500*time.Millisecond)
	assert.EqualError(t, err, "failed to acquire lock for key "+lockKey+" within the wait timeout")
	assert.NoError(t, mock.ExpectationsWereMet())
}
