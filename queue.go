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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fabrii9/remote-receipt-import/config"
	redis_db "github.com/fabrii9/remote-receipt-import/internal/redis-db"

	"github.com/hibiken/asynq"
)

const (
	// IMPORT_QUEUE carries the batch tasks that drive payment imports.
	IMPORT_QUEUE = "imports"
	// WEBHOOK_QUEUE carries outbound webhook deliveries.
	WEBHOOK_QUEUE = "webhooks"
	// INDEX_QUEUE carries search index updates.
	INDEX_QUEUE = "index"
)

// Queue wraps the asynq client used to schedule import batches, webhook
// deliveries and index updates on Redis.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// ImportTaskPayload is the payload of a batch task on IMPORT_QUEUE.
type ImportTaskPayload struct {
	ImportID string `json:"import_id"`
}

// NewQueue initializes a new Queue instance from the Redis DSN in the
// provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// importKickTaskID returns the task ID used to deduplicate kick tasks for an
// import. At most one kick per import sits in the queue at a time.
func importKickTaskID(importID string) string {
	return fmt.Sprintf("import:%s:kick", importID)
}

// EnqueueImport schedules a batch task for the given import, optionally
// delayed. Kicks are deduplicated by task ID, so callers can enqueue
// liberally: if a kick for the import is already queued or running the call
// is a no-op.
func (q *Queue) EnqueueImport(ctx context.Context, importID string, delay time.Duration) error {
	ctx, span := tracer.Start(ctx, "Adding Import To Redis Queue")
	defer span.End()

	payload, err := json.Marshal(ImportTaskPayload{ImportID: importID})
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.TaskID(importKickTaskID(importID)),
		asynq.Queue(IMPORT_QUEUE),
		asynq.MaxRetry(5),
	}
	if delay > 0 {
		taskOptions = append(taskOptions, asynq.ProcessIn(delay))
	}

	task := asynq.NewTask(IMPORT_QUEUE, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued import batch: %s (delay %s)", importID, delay)
	return nil
}

// continueImport schedules the next batch of an import from inside a running
// batch task. Continuations carry no task ID: the kick ID is still held by
// the active task, and the per-import lock already keeps chains from
// overlapping.
func (q *Queue) continueImport(ctx context.Context, importID string, delay time.Duration) error {
	payload, err := json.Marshal(ImportTaskPayload{ImportID: importID})
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.Queue(IMPORT_QUEUE),
		asynq.MaxRetry(5),
	}
	if delay > 0 {
		taskOptions = append(taskOptions, asynq.ProcessIn(delay))
	}

	task := asynq.NewTask(IMPORT_QUEUE, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued import continuation: %s (delay %s)", importID, delay)
	return nil
}

// queueIndexData enqueues a task to index data in a specified search
// collection. Indexing is skipped entirely when TypeSense is not configured.
func (q *Queue) queueIndexData(id string, collection string, data interface{}) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	if cfg.TypeSense.Dns == "" {
		return nil
	}

	payload := map[string]interface{}{
		"collection": collection,
		"payload":    data,
	}

	IPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{asynq.Queue(INDEX_QUEUE)}
	task := asynq.NewTask(INDEX_QUEUE, IPayload, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued index data: %+v", id)
	return nil
}

// ImportTaskInfo reports the queued kick task for an import, if one exists.
// Returns nil without error when no kick is currently queued.
func (q *Queue) ImportTaskInfo(importID string) (*asynq.TaskInfo, error) {
	info, err := q.Inspector.GetTaskInfo(IMPORT_QUEUE, importKickTaskID(importID))
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return info, nil
}
