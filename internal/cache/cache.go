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
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/cache/v9"

	"github.com/fabrii9/remote-receipt-import/config"
	redis_db "github.com/fabrii9/remote-receipt-import/internal/redis-db"
)

// Cache provides the basic operations the rest of the system needs from a
// cache. The only current implementation is Redis with a local TinyLFU layer
// in front; tests substitute a map.
type Cache interface {
	// Set stores a value under key for the given time-to-live.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Get fills data with the cached value. A miss is not an error; data is
	// left untouched.
	Get(ctx context.Context, key string, data interface{}) error

	// Delete removes a key.
	Delete(ctx context.Context, key string) error
}

// RedisCache implements Cache on top of Redis with a process-local cache for
// hot keys, mainly resolved partners.
type RedisCache struct {
	cache *cache.Cache
}

// NewCache connects to the configured Redis and returns a ready Cache.
func NewCache() (Cache, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	ca, err := newRedisCache([]string{fmt.Sprintf("redis://%s", cfg.Redis.Dns)}, cfg.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	return ca, nil
}

// cacheSize defines the size of the local cache (in number of entries) used alongside Redis.
const cacheSize = 128000

func newRedisCache(addresses []string, skipTLSVerify bool) (*RedisCache, error) {
	client, err := redis_db.NewRedisClient(addresses, skipTLSVerify)
	if err != nil {
		return nil, err
	}

	c := cache.New(&cache.Options{
		Redis:      client.Client(),
		LocalCache: cache.NewTinyLFU(cacheSize, 1*time.Minute),
	})

	return &RedisCache{cache: c}, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: data,
		TTL:   ttl,
	})
}

func (r *RedisCache) Get(ctx context.Context, key string, data interface{}) error {
	err := r.cache.Get(ctx, key, &data)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}

	return err
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.cache.Delete(ctx, key)
}
