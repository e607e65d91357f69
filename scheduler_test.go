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
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fabrii9/remote-receipt-import/config"
	"github.com/fabrii9/remote-receipt-import/database/mocks"
	"github.com/fabrii9/remote-receipt-import/internal/flow"
	"github.com/fabrii9/remote-receipt-import/model"
	"github.com/fabrii9/remote-receipt-import/remote"
)

func testBreaker(t *testing.T, threshold int) *flow.CircuitBreaker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return flow.NewCircuitBreaker(client, "test:breaker", threshold, time.Minute)
}

func schedulerTestConfig() *config.Configuration {
	cnf := &config.Configuration{}
	cnf.Queue.BatchSize = config.DefaultBatchSize
	cnf.Queue.CheckpointInterval = config.DefaultCheckpointInterval
	cnf.Queue.MaxAttempts = 3
	cnf.Queue.BackoffBaseSec = 120
	cnf.Queue.BackoffCapSec = 3600
	config.MockConfig(cnf)
	return cnf
}

func claimedItem(attempts int) *model.QueueItem {
	item := testItem("20-30574817-3", 1, 10000)
	item.Status = model.StatusProcessing
	item.Attempts = attempts
	return item
}

func TestRecordOutcomeSuccess(t *testing.T) {
	cnf := schedulerTestConfig()
	mockDS := new(mocks.MockDataSource)
	item := claimedItem(0)
	partner := &model.Partner{ID: 77, Name: "Distribuidora Sur", TaxID: item.PartnerTaxID}

	mockDS.On("MarkItemDone", mock.Anything, item.ItemID, partner, int64(101), mock.Anything).Return(nil)
	mockDS.On("GetQueueItem", mock.Anything, item.ItemID).Return(item, nil).Maybe()

	l := &Rri{datasource: mockDS, breaker: testBreaker(t, 2)}
	err := l.recordOutcome(context.Background(), cnf, item, &applyResult{Partner: partner, ReceiptID: 101}, nil, 20*time.Millisecond)

	require.NoError(t, err)
	mockDS.AssertExpectations(t)
}

func TestRecordOutcomeTransientReschedules(t *testing.T) {
	cnf := schedulerTestConfig()
	mockDS := new(mocks.MockDataSource)
	item := claimedItem(0)
	applyErr := &remote.TransientError{Status: 503, Err: errors.New("service unavailable")}

	mockDS.On("RescheduleItem", mock.Anything, item.ItemID, applyErr.Error(), 1,
		mock.MatchedBy(func(at time.Time) bool {
			// First retry waits one backoff base from now.
			return time.Until(at) > 110*time.Second && time.Until(at) <= 120*time.Second
		})).Return(nil)
	mockDS.On("GetQueueItem", mock.Anything, item.ItemID).Return(item, nil).Maybe()

	l := &Rri{datasource: mockDS, breaker: testBreaker(t, 10)}
	err := l.recordOutcome(context.Background(), cnf, item, nil, applyErr, 20*time.Millisecond)

	require.NoError(t, err)
	mockDS.AssertExpectations(t)
}

func TestRecordOutcomeRetriesExhausted(t *testing.T) {
	cnf := schedulerTestConfig()
	mockDS := new(mocks.MockDataSource)
	item := claimedItem(cnf.Queue.MaxAttempts - 1)
	applyErr := &remote.TransientError{Err: errors.New("connection reset")}

	mockDS.On("MarkItemFailed", mock.Anything, item.ItemID,
		mock.MatchedBy(func(reason string) bool { return reason != "" }),
		(*model.Partner)(nil), mock.Anything).Return(nil)
	mockDS.On("GetQueueItem", mock.Anything, item.ItemID).Return(item, nil).Maybe()

	l := &Rri{datasource: mockDS, breaker: testBreaker(t, 10)}
	err := l.recordOutcome(context.Background(), cnf, item, nil, applyErr, 20*time.Millisecond)

	require.NoError(t, err)
	mockDS.AssertNotCalled(t, "RescheduleItem", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	mockDS.AssertExpectations(t)
}

func TestRecordOutcomeNoDebtSkips(t *testing.T) {
	cnf := schedulerTestConfig()
	mockDS := new(mocks.MockDataSource)
	item := claimedItem(0)
	applyErr := &NoDebtError{TaxID: item.PartnerTaxID}

	mockDS.On("MarkItemSkipped", mock.Anything, item.ItemID, applyErr.Error(), (*model.Partner)(nil), mock.Anything).Return(nil)
	mockDS.On("GetQueueItem", mock.Anything, item.ItemID).Return(item, nil).Maybe()

	l := &Rri{datasource: mockDS, breaker: testBreaker(t, 2)}
	err := l.recordOutcome(context.Background(), cnf, item, nil, applyErr, 20*time.Millisecond)

	require.NoError(t, err)
	mockDS.AssertExpectations(t)
}

func TestRecordOutcomePermanentErrorFails(t *testing.T) {
	cnf := schedulerTestConfig()
	mockDS := new(mocks.MockDataSource)
	item := claimedItem(0)
	applyErr := &remote.AmbiguousPartnerError{TaxID: item.PartnerTaxID, Count: 2}

	mockDS.On("MarkItemFailed", mock.Anything, item.ItemID, applyErr.Error(), (*model.Partner)(nil), mock.Anything).Return(nil)
	mockDS.On("GetQueueItem", mock.Anything, item.ItemID).Return(item, nil).Maybe()

	l := &Rri{datasource: mockDS, breaker: testBreaker(t, 2)}
	err := l.recordOutcome(context.Background(), cnf, item, nil, applyErr, 20*time.Millisecond)

	require.NoError(t, err)
	mockDS.AssertExpectations(t)
}

func TestRecordOutcomeOpensBreaker(t *testing.T) {
	cnf := schedulerTestConfig()
	mockDS := new(mocks.MockDataSource)
	applyErr := &remote.TransientError{Status: 500, Err: errors.New("internal error")}

	mockDS.On("RescheduleItem", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	mockDS.On("GetQueueItem", mock.Anything, mock.Anything).Return(claimedItem(1), nil).Maybe()

	breaker := testBreaker(t, 2)
	l := &Rri{datasource: mockDS, breaker: breaker}
	ctx := context.Background()

	// Two consecutive transient failures trip a threshold of two.
	for i := 0; i < 2; i++ {
		require.NoError(t, l.recordOutcome(ctx, cnf, claimedItem(0), nil, applyErr, time.Millisecond))
	}

	err := breaker.Allow(ctx)
	var open *flow.CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Greater(t, open.RetryAfter, time.Duration(0))
}

func TestRecordOutcomePermanentErrorResetsStreak(t *testing.T) {
	cnf := schedulerTestConfig()
	mockDS := new(mocks.MockDataSource)
	transient := &remote.TransientError{Err: errors.New("timeout")}

	mockDS.On("RescheduleItem", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	mockDS.On("MarkItemSkipped", mock.Anything, mock.Anything, mock.Anything, (*model.Partner)(nil), mock.Anything).Return(nil)
	mockDS.On("GetQueueItem", mock.Anything, mock.Anything).Return(claimedItem(0), nil).Maybe()

	breaker := testBreaker(t, 2)
	l := &Rri{datasource: mockDS, breaker: breaker}
	ctx := context.Background()

	// A transient failure, then a permanent outcome: the remote answered, so
	// the failure streak resets and the second transient does not trip.
	require.NoError(t, l.recordOutcome(ctx, cnf, claimedItem(0), nil, transient, time.Millisecond))
	require.NoError(t, l.recordOutcome(ctx, cnf, claimedItem(0), nil, &NoDebtError{TaxID: "20-1"}, time.Millisecond))
	require.NoError(t, l.recordOutcome(ctx, cnf, claimedItem(0), nil, transient, time.Millisecond))

	assert.NoError(t, breaker.Allow(ctx))
}

func TestPauseImportRejectsTerminalStatus(t *testing.T) {
	schedulerTestConfig()
	mockDS := new(mocks.MockDataSource)
	mockDS.On("GetImportBatch", mock.Anything, "imp_1").Return(&model.ImportBatch{ImportID: "imp_1", Status: model.BatchCompleted}, nil)

	l := &Rri{datasource: mockDS}
	_, err := l.PauseImport(context.Background(), "imp_1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be paused")
	mockDS.AssertNotCalled(t, "UpdateImportBatchStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestPauseImportRunning(t *testing.T) {
	schedulerTestConfig()
	mockDS := new(mocks.MockDataSource)
	running := &model.ImportBatch{ImportID: "imp_1", Status: model.BatchRunning}
	paused := &model.ImportBatch{ImportID: "imp_1", Status: model.BatchPaused}

	mockDS.On("GetImportBatch", mock.Anything, "imp_1").Return(running, nil).Once()
	mockDS.On("UpdateImportBatchStatus", mock.Anything, "imp_1", model.BatchPaused).Return(nil)
	mockDS.On("GetImportBatch", mock.Anything, "imp_1").Return(paused, nil).Once()

	l := &Rri{datasource: mockDS}
	batch, err := l.PauseImport(context.Background(), "imp_1")

	require.NoError(t, err)
	assert.Equal(t, model.BatchPaused, batch.Status)
	mockDS.AssertExpectations(t)
}

func TestCancelImportRejectsTerminalStatus(t *testing.T) {
	schedulerTestConfig()
	mockDS := new(mocks.MockDataSource)
	mockDS.On("GetImportBatch", mock.Anything, "imp_1").Return(&model.ImportBatch{ImportID: "imp_1", Status: model.BatchCancelled}, nil)

	l := &Rri{datasource: mockDS}
	_, err := l.CancelImport(context.Background(), "imp_1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be cancelled")
	mockDS.AssertNotCalled(t, "UpdateImportBatchStatus", mock.Anything, mock.Anything, mock.Anything)
}

// batchTestRri builds an Rri with a real miniredis behind the lock, limiter
// and queue, so ProcessImport can run its full batch loop against a mocked
// datasource and remote.
func batchTestRri(t *testing.T, cnf *config.Configuration, mockDS *mocks.MockDataSource, rc remote.Client, breaker *flow.CircuitBreaker) *Rri {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cnf.Redis.Dns = mr.Addr()
	config.MockConfig(cnf)
	return &Rri{
		datasource: mockDS,
		remote:     rc,
		redis:      client,
		limiter:    flow.NewRateLimiter(client, "test:limiter", 1000, 1000),
		breaker:    breaker,
		queue:      NewQueue(cnf),
	}
}

func TestProcessImportCheckpointsAtConfiguredInterval(t *testing.T) {
	cnf := schedulerTestConfig()
	cnf.Queue.BatchSize = 8
	cnf.Queue.CheckpointInterval = 2

	importID := "imp_cadence"
	batch := &model.ImportBatch{ImportID: importID, Status: model.BatchRunning, TotalItems: 5}
	items := make([]*model.QueueItem, 5)
	for i := range items {
		items[i] = testItem("20-30574817-3", i+1, 1000)
		items[i].ImportID = importID
	}

	// Every item replays an already-created receipt, so the loop settles all
	// five without touching the debt path.
	rc := &MockRemoteClient{
		mockFindReceipt: func(ctx context.Context, reference string) (*model.Receipt, error) {
			return &model.Receipt{ID: 501, State: "posted"}, nil
		},
	}

	mockDS := new(mocks.MockDataSource)
	mockDS.On("GetImportBatch", mock.Anything, importID).Return(batch, nil)
	mockDS.On("GetNextBatch", mock.Anything, importID, 8, cnf.Queue.MaxAttempts).Return(items, nil)
	mockDS.On("ClaimQueueItem", mock.Anything, mock.Anything).Return(true, nil)
	mockDS.On("MarkItemDone", mock.Anything, mock.Anything, (*model.Partner)(nil), int64(501), mock.Anything).Return(nil).Times(5)
	mockDS.On("GetQueueItem", mock.Anything, mock.Anything).Return(items[0], nil).Maybe()
	mockDS.On("SaveImportCheckpoint", mock.Anything, importID, items[1].ItemID).Return(nil).Once()
	mockDS.On("SaveImportCheckpoint", mock.Anything, importID, items[3].ItemID).Return(nil).Once()
	mockDS.On("SaveImportCheckpoint", mock.Anything, importID, items[4].ItemID).Return(nil).Once()
	mockDS.On("CountOpenItems", mock.Anything, importID, cnf.Queue.MaxAttempts).Return(int64(2), nil)
	mockDS.On("EarliestRetryAt", mock.Anything, importID).Return((*time.Time)(nil), nil)

	l := batchTestRri(t, cnf, mockDS, rc, testBreaker(t, 10))
	err := l.ProcessImport(context.Background(), importID)

	require.NoError(t, err)
	mockDS.AssertExpectations(t)
}

func TestProcessImportCircuitOpenAbortsBatch(t *testing.T) {
	cnf := schedulerTestConfig()
	cnf.Queue.BatchSize = 8

	importID := "imp_breaker"
	batch := &model.ImportBatch{ImportID: importID, Status: model.BatchRunning, TotalItems: 3}
	items := make([]*model.QueueItem, 3)
	for i := range items {
		items[i] = testItem("20-30574817-3", i+1, 1000)
		items[i].ImportID = importID
	}

	breaker := testBreaker(t, 1)
	state, err := breaker.MarkFailure(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.BreakerOpen, state)

	mockDS := new(mocks.MockDataSource)
	mockDS.On("GetImportBatch", mock.Anything, importID).Return(batch, nil)
	mockDS.On("GetNextBatch", mock.Anything, importID, 8, cnf.Queue.MaxAttempts).Return(items, nil)
	mockDS.On("ClaimQueueItem", mock.Anything, items[0].ItemID).Return(true, nil).Once()
	mockDS.On("ReturnItemToPending", mock.Anything, items[0].ItemID).Return(nil).Once()

	l := batchTestRri(t, cnf, mockDS, &MockRemoteClient{}, breaker)
	err = l.ProcessImport(context.Background(), importID)

	require.NoError(t, err)
	mockDS.AssertExpectations(t)
	mockDS.AssertNotCalled(t, "SaveImportCheckpoint", mock.Anything, mock.Anything, mock.Anything)
	mockDS.AssertNotCalled(t, "MarkItemDone", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
