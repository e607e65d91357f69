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
package mocks

import (
	"context"
	"time"

	"github.com/fabrii9/remote-receipt-import/internal/filter"
	"github.com/fabrii9/remote-receipt-import/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Queue item methods

func (m *MockDataSource) CreateQueueItems(ctx context.Context, items []*model.QueueItem) (int, error) {
	args := m.Called(ctx, items)
	return args.Int(0), args.Error(1)
}

func (m *MockDataSource) GetQueueItem(ctx context.Context, itemID string) (*model.QueueItem, error) {
	args := m.Called(ctx, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.QueueItem), args.Error(1)
}

func (m *MockDataSource) GetNextBatch(ctx context.Context, importID string, batchSize int, maxAttempts int) ([]*model.QueueItem, error) {
	args := m.Called(ctx, importID, batchSize, maxAttempts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.QueueItem), args.Error(1)
}

func (m *MockDataSource) ClaimQueueItem(ctx context.Context, itemID string) (bool, error) {
	args := m.Called(ctx, itemID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) MarkItemDone(ctx context.Context, itemID string, partner *model.Partner, receiptID int64, took time.Duration) error {
	args := m.Called(ctx, itemID, partner, receiptID, took)
	return args.Error(0)
}

func (m *MockDataSource) MarkItemSkipped(ctx context.Context, itemID string, reason string, partner *model.Partner, took time.Duration) error {
	args := m.Called(ctx, itemID, reason, partner, took)
	return args.Error(0)
}

func (m *MockDataSource) MarkItemFailed(ctx context.Context, itemID string, reason string, partner *model.Partner, took time.Duration) error {
	args := m.Called(ctx, itemID, reason, partner, took)
	return args.Error(0)
}

func (m *MockDataSource) RescheduleItem(ctx context.Context, itemID string, reason string, attempts int, at time.Time) error {
	args := m.Called(ctx, itemID, reason, attempts, at)
	return args.Error(0)
}

func (m *MockDataSource) ReturnItemToPending(ctx context.Context, itemID string) error {
	args := m.Called(ctx, itemID)
	return args.Error(0)
}

func (m *MockDataSource) RequeueItem(ctx context.Context, itemID string) (*model.QueueItem, error) {
	args := m.Called(ctx, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.QueueItem), args.Error(1)
}

func (m *MockDataSource) RequeueStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) CountOpenItems(ctx context.Context, importID string, maxAttempts int) (int64, error) {
	args := m.Called(ctx, importID, maxAttempts)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) EarliestRetryAt(ctx context.Context, importID string) (*time.Time, error) {
	args := m.Called(ctx, importID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*time.Time), args.Error(1)
}

func (m *MockDataSource) GetItemsByState(ctx context.Context, importID string, status string, limit int, offset int) ([]*model.QueueItem, error) {
	args := m.Called(ctx, importID, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.QueueItem), args.Error(1)
}

func (m *MockDataSource) GetQueueItemsWithFilter(ctx context.Context, importID string, filters *filter.QueryFilterSet, opts *filter.QueryOptions, limit int, offset int) ([]*model.QueueItem, *int64, error) {
	args := m.Called(ctx, importID, filters, opts, limit, offset)
	var items []*model.QueueItem
	if args.Get(0) != nil {
		items = args.Get(0).([]*model.QueueItem)
	}
	var count *int64
	if args.Get(1) != nil {
		count = args.Get(1).(*int64)
	}
	return items, count, args.Error(2)
}

func (m *MockDataSource) GetRecentErrors(ctx context.Context, importID string, limit int) ([]*model.QueueItem, error) {
	args := m.Called(ctx, importID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.QueueItem), args.Error(1)
}

func (m *MockDataSource) GetImportStats(ctx context.Context, importID string) (*model.ImportStats, error) {
	args := m.Called(ctx, importID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ImportStats), args.Error(1)
}

// Import batch methods

func (m *MockDataSource) CreateImportBatch(ctx context.Context, batch *model.ImportBatch) error {
	args := m.Called(ctx, batch)
	return args.Error(0)
}

func (m *MockDataSource) GetImportBatch(ctx context.Context, importID string) (*model.ImportBatch, error) {
	args := m.Called(ctx, importID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ImportBatch), args.Error(1)
}

func (m *MockDataSource) GetAllImportBatches(ctx context.Context, limit int, offset int) ([]*model.ImportBatch, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ImportBatch), args.Error(1)
}

func (m *MockDataSource) GetImportBatchesWithFilter(ctx context.Context, filters *filter.QueryFilterSet, opts *filter.QueryOptions, limit int, offset int) ([]*model.ImportBatch, *int64, error) {
	args := m.Called(ctx, filters, opts, limit, offset)
	var batches []*model.ImportBatch
	if args.Get(0) != nil {
		batches = args.Get(0).([]*model.ImportBatch)
	}
	var count *int64
	if args.Get(1) != nil {
		count = args.Get(1).(*int64)
	}
	return batches, count, args.Error(2)
}

func (m *MockDataSource) UpdateImportBatchStatus(ctx context.Context, importID string, status string) error {
	args := m.Called(ctx, importID, status)
	return args.Error(0)
}

func (m *MockDataSource) MarkImportStarted(ctx context.Context, importID string) error {
	args := m.Called(ctx, importID)
	return args.Error(0)
}

func (m *MockDataSource) MarkImportCompleted(ctx context.Context, importID string, status string) error {
	args := m.Called(ctx, importID, status)
	return args.Error(0)
}

func (m *MockDataSource) SaveImportCheckpoint(ctx context.Context, importID string, lastItemID string) error {
	args := m.Called(ctx, importID, lastItemID)
	return args.Error(0)
}
