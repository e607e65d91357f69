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

package database

import (
	"context"
	"time"

	"github.com/fabrii9/remote-receipt-import/internal/filter"
	"github.com/fabrii9/remote-receipt-import/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	queueItem   // Interface for queue item operations
	importBatch // Interface for import batch operations
}

// queueItem defines methods for handling queue items.
type queueItem interface {
	CreateQueueItems(ctx context.Context, items []*model.QueueItem) (int, error)                                          // Inserts a slice of queue items, skipping duplicates by dedup key
	GetQueueItem(ctx context.Context, itemID string) (*model.QueueItem, error)                                            // Retrieves a queue item by ID
	GetNextBatch(ctx context.Context, importID string, batchSize int, maxAttempts int) ([]*model.QueueItem, error)        // Selects the next eligible items respecting per-partner order
	ClaimQueueItem(ctx context.Context, itemID string) (bool, error)                                                      // Atomically moves an item to processing
	MarkItemDone(ctx context.Context, itemID string, partner *model.Partner, receiptID int64, took time.Duration) error   // Finalizes a successfully applied item
	MarkItemSkipped(ctx context.Context, itemID string, reason string, partner *model.Partner, took time.Duration) error  // Finalizes an item that needed no action
	MarkItemFailed(ctx context.Context, itemID string, reason string, partner *model.Partner, took time.Duration) error   // Finalizes an item that cannot be applied
	RescheduleItem(ctx context.Context, itemID string, reason string, attempts int, at time.Time) error                   // Returns an item to pending with a retry time
	ReturnItemToPending(ctx context.Context, itemID string) error                                                         // Returns an item to pending without counting an attempt
	RequeueItem(ctx context.Context, itemID string) (*model.QueueItem, error)                                             // Manually resets a terminal item back to pending
	RequeueStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error)                                   // Releases items stuck in processing
	CountOpenItems(ctx context.Context, importID string, maxAttempts int) (int64, error)                                  // Counts items that can still be worked
	EarliestRetryAt(ctx context.Context, importID string) (*time.Time, error)                                             // Finds the soonest scheduled retry time
	GetItemsByState(ctx context.Context, importID string, status string, limit int, offset int) ([]*model.QueueItem, error) // Lists items filtered by state
	GetQueueItemsWithFilter(ctx context.Context, importID string, filters *filter.QueryFilterSet, opts *filter.QueryOptions, limit int, offset int) ([]*model.QueueItem, *int64, error) // Lists items with advanced filters and sorting
	GetRecentErrors(ctx context.Context, importID string, limit int) ([]*model.QueueItem, error)                          // Lists the most recent failed or rescheduled items
	GetImportStats(ctx context.Context, importID string) (*model.ImportStats, error)                                      // Computes per-state counts for an import
}

// importBatch defines methods for handling import batches.
type importBatch interface {
	CreateImportBatch(ctx context.Context, batch *model.ImportBatch) error                    // Records a new import batch
	GetImportBatch(ctx context.Context, importID string) (*model.ImportBatch, error)          // Retrieves an import batch by ID
	GetAllImportBatches(ctx context.Context, limit int, offset int) ([]*model.ImportBatch, error) // Retrieves import batches ordered by creation time
	GetImportBatchesWithFilter(ctx context.Context, filters *filter.QueryFilterSet, opts *filter.QueryOptions, limit int, offset int) ([]*model.ImportBatch, *int64, error) // Retrieves import batches with advanced filters and sorting
	UpdateImportBatchStatus(ctx context.Context, importID string, status string) error        // Updates the lifecycle status of an import batch
	MarkImportStarted(ctx context.Context, importID string) error                             // Marks an import batch as running
	MarkImportCompleted(ctx context.Context, importID string, status string) error            // Marks an import batch as finished with a final status
	SaveImportCheckpoint(ctx context.Context, importID string, lastItemID string) error       // Persists progress counters and the last processed item
}
