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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"

	rri "github.com/fabrii9/remote-receipt-import"
	"github.com/fabrii9/remote-receipt-import/config"
	redis_db "github.com/fabrii9/remote-receipt-import/internal/redis-db"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
)

// indexData represents the data structure used for indexing documents. It
// carries the collection name and the payload to be indexed.
type indexData struct {
	Collection string                 `json:"collection"`
	Payload    map[string]interface{} `json:"payload"`
}

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

// processImport drives one batch pass of a payment import from the queue.
// The handler re-enqueues itself until the import settles, so a returned
// error only retries the current pass.
func (b *rriInstance) processImport(ctx context.Context, t *asynq.Task) error {
	return b.rri.ProcessImportTask(ctx, t)
}

// indexData indexes a document into TypeSense for searchability.
func (b *rriInstance) indexData(ctx context.Context, t *asynq.Task) error {
	var data indexData

	if err := json.Unmarshal(t.Payload(), &data); err != nil {
		logrus.Error(err)
		return err
	}

	if err := b.rri.ProcessIndexTask(ctx, data.Collection, data.Payload); err != nil {
		log.Println("Error indexing data", err)
		return err
	}

	log.Println(" [*] Data indexed", data.Collection)
	return nil
}

func initializeQueues() map[string]int {
	return map[string]int{
		rri.IMPORT_QUEUE:  3,
		rri.WEBHOOK_QUEUE: 2,
		rri.INDEX_QUEUE:   1,
	}
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	// The per-import lock serializes batches within an import; concurrency
	// here governs how many imports and side tasks progress at once.
	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 5,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(b *rriInstance, mux *asynq.ServeMux) {
	mux.HandleFunc(rri.IMPORT_QUEUE, b.processImport)
	mux.HandleFunc(rri.INDEX_QUEUE, b.indexData)
	mux.HandleFunc(rri.WEBHOOK_QUEUE, rri.ProcessWebhook)
}

// workerCommands defines the "workers" command to start worker processes.
// The workers drain the import, webhook and index queues, and run the stale
// item sweeper alongside.
func workerCommands(b *rriInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start import workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			phClient, shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			if shutdown != nil {
				defer func() {
					if err := shutdown(ctx); err != nil {
						log.Printf("Error during shutdown: %v", err)
					}
				}()
			}
			if phClient != nil {
				defer phClient.Close()
			}

			if _, err := initializeTypeSense(ctx, conf); err != nil {
				log.Printf("TypeSense initialization error: %v", err)
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(b, mux)

			// Release items orphaned by crashed workers and re-kick their
			// imports.
			recovery := rri.NewStaleItemRecoveryProcessor(b.rri)
			recovery.Start(ctx)
			defer recovery.Stop()

			// Start asynqmon server for health checks and monitoring
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring", //  Optional: if you want to serve asynqmon under a sub-path.
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			// Start asynqmon HTTP server in a new goroutine
			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
