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

package rri

import (
	"embed"
	"fmt"

	"github.com/fabrii9/remote-receipt-import/config"
	"github.com/fabrii9/remote-receipt-import/database"
	"github.com/fabrii9/remote-receipt-import/internal/cache"
	"github.com/fabrii9/remote-receipt-import/internal/flow"
	"github.com/fabrii9/remote-receipt-import/internal/hooks"
	"github.com/fabrii9/remote-receipt-import/internal/notification"
	redis_db "github.com/fabrii9/remote-receipt-import/internal/redis-db"
	"github.com/fabrii9/remote-receipt-import/internal/search"
	"github.com/fabrii9/remote-receipt-import/remote"
	"github.com/redis/go-redis/v9"
)

// Rri represents the main struct for the receipt import engine. All remote
// traffic flows through the shared limiter and breaker, so every process
// pointed at the same Redis respects the same budget.
type Rri struct {
	queue      *Queue
	search     *search.TypesenseClient
	redis      redis.UniversalClient
	datasource database.IDataSource
	remote     remote.Client
	limiter    *flow.RateLimiter
	breaker    *flow.CircuitBreaker
	Hooks      hooks.HookManager
}

const (
	// Redis keys for the remote call budget. Shared across processes.
	remoteThrottleKey = "rri:throttle:remote"
	remoteBreakerKey  = "rri:breaker:remote"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// NewRri initializes a new instance of Rri with the provided database
// datasource. It fetches the configuration and wires up the Redis client,
// the remote adapter, the shared rate limiter and circuit breaker, the task
// queue and the search client.
func NewRri(db database.IDataSource) (*Rri, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}

	ca, err := cache.NewCache()
	if err != nil {
		return nil, err
	}

	newQueue := NewQueue(configuration)

	searchKey := configuration.TypeSenseKey
	if searchKey == "" {
		searchKey = "rri-api-key"
	}
	newSearch := search.NewTypesenseClient(searchKey, []string{configuration.TypeSense.Dns})

	newRri := &Rri{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		search:     newSearch,
		remote:     remote.NewClient(configuration.Remote, ca),
		limiter:    flow.NewRateLimiter(redisClient.Client(), remoteThrottleKey, configuration.Throttle.RequestsPerSecond, configuration.Throttle.Burst),
		breaker:    flow.NewCircuitBreaker(redisClient.Client(), remoteBreakerKey, configuration.Breaker.FailureThreshold, configuration.Breaker.Cooldown()),
		Hooks:      hooks.NewHookManager(redisClient.Client()),
	}
	notification.RegisterWebhookSender(func(event string, payload interface{}) error {
		return SendWebhook(NewWebhook{Event: event, Payload: payload})
	})
	return newRri, nil
}

// GetSearchClient returns the TypeSense client backing search and indexing.
func (l *Rri) GetSearchClient() *search.TypesenseClient {
	return l.search
}

// GetDataSource returns the underlying datasource.
func (l *Rri) GetDataSource() database.IDataSource {
	return l.datasource
}
