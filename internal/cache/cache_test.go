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
package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
)

func newTestCache(t *testing.T) Cache {
	mr := miniredis.RunT(t)
	c, err := newRedisCache([]string{"redis://" + mr.Addr()}, false)
	assert.NoError(t, err)
	return c
}

func TestSet(t *testing.T) {
	ctx := context.Background()
	testCache := newTestCache(t)

	key := "testKey"
	value := "testValue"

	// Test setting a value
	err := testCache.Set(ctx, key, value, 10*time.Minute)
	assert.NoError(t, err)

	// Test setting a value with zero TTL
	err = testCache.Set(ctx, key, value, 0)
	assert.NoError(t, err)
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	testCache := newTestCache(t)

	key := "testKey"
	setValue := map[string]string{"hello": "world"}
	err := testCache.Set(ctx, key, setValue, 10*time.Minute)
	assert.NoError(t, err)

	// Test getting an existing value
	var getValue map[string]string
	err = testCache.Get(ctx, key, &getValue)
	assert.NoError(t, err)
	assert.Equal(t, setValue, getValue)

	// Test getting a non-existent key; a miss is not an error
	var getValue1 map[string]string
	err = testCache.Get(ctx, "nonExistentKey", &getValue1)
	assert.NoError(t, err)
	assert.Empty(t, getValue1)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	testCache := newTestCache(t)

	key := "testKey"
	value := "testValue"
	err := testCache.Set(ctx, key, value, 10*time.Minute)
	assert.NoError(t, err)

	// Test deleting an existing key
	err = testCache.Delete(ctx, key)
	assert.NoError(t, err)

	// Verify deletion
	var getValue string
	err = testCache.Get(ctx, key, &getValue)
	assert.NoError(t, err)
	assert.Empty(t, getValue)

	// Test deleting a non-existent key
	err = testCache.Delete(ctx, "nonExistentKey")
	assert.NoError(t, err)
}
