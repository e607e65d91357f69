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
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fabrii9/remote-receipt-import/config"
	"github.com/fabrii9/remote-receipt-import/internal/apierror"
	"github.com/fabrii9/remote-receipt-import/internal/flow"
	redlock "github.com/fabrii9/remote-receipt-import/internal/lock"
	"github.com/fabrii9/remote-receipt-import/internal/notification"
	"github.com/fabrii9/remote-receipt-import/model"
	"github.com/fabrii9/remote-receipt-import/remote"
)

var tracer = otel.Tracer("rri.scheduler")

// importLockDuration bounds how long one worker may hold an import. A batch
// of 30 at 5 calls per second finishes in well under a minute; the generous
// TTL covers remote slowness without risking two workers on one import.
const importLockDuration = 30 * time.Minute

// ProcessImportTask is the asynq handler for IMPORT_QUEUE. Each task drives
// exactly one batch of its import; when eligible items remain afterwards the
// handler enqueues the next batch itself.
func (l *Rri) ProcessImportTask(ctx context.Context, t *asynq.Task) error {
	var payload ImportTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to decode import task payload: %w", err)
	}
	return l.ProcessImport(ctx, payload.ImportID)
}

// ProcessImport runs one batch of the given import: select up to the batch
// size of eligible items, claim and reconcile them one at a time under the
// shared rate limit, then either chain the next batch or finalize the import.
// Only storage failures return an error; per-item remote failures are
// absorbed into the item's own state.
func (l *Rri) ProcessImport(ctx context.Context, importID string) error {
	ctx, span := tracer.Start(ctx, "Processing Import Batch")
	defer span.End()
	span.SetAttributes(attribute.String("import.id", importID))

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	batch, err := l.datasource.GetImportBatch(ctx, importID)
	if err != nil {
		return err
	}
	if !batch.IsActive() {
		logrus.Infof("import %s is %s, nothing to process", importID, batch.Status)
		return nil
	}
	if batch.Status == model.BatchPaused {
		logrus.Infof("import %s is paused, waiting for resume", importID)
		return nil
	}

	locker := redlock.NewLocker(l.redis, fmt.Sprintf("rri:lock:import:%s", importID), model.GenerateUUIDWithSuffix("loc"))
	if err := locker.Lock(ctx, importLockDuration); err != nil {
		logrus.Infof("import %s is already being driven by another worker: %v", importID, err)
		return nil
	}
	defer func() {
		if err := locker.Unlock(context.Background()); err != nil {
			logrus.Warnf("failed to release lock for import %s: %v", importID, err)
		}
	}()

	if batch.Status == model.BatchQueued {
		if err := l.datasource.MarkImportStarted(ctx, importID); err != nil {
			return err
		}
		if err := notification.NotifyEvent(getEventFromStatus(model.BatchRunning), batch); err != nil {
			logrus.Warnf("failed to send import.started webhook for %s: %v", importID, err)
		}
	}

	items, err := l.datasource.GetNextBatch(ctx, importID, cfg.Queue.BatchSize, cfg.Queue.MaxAttempts)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return l.finalizeOrReschedule(ctx, importID, false)
	}

	logrus.Infof("processing batch of %d items for import %s", len(items), importID)

	processed := 0
	lastItemID := ""
	for _, item := range items {
		current, err := l.datasource.GetImportBatch(ctx, importID)
		if err != nil {
			return err
		}
		if current.Status != model.BatchRunning {
			logrus.Infof("import %s moved to %s mid batch, stopping after %d items", importID, current.Status, processed)
			if lastItemID != "" {
				if err := l.datasource.SaveImportCheckpoint(ctx, importID, lastItemID); err != nil {
					return err
				}
			}
			return nil
		}

		claimed, err := l.datasource.ClaimQueueItem(ctx, item.ItemID)
		if err != nil {
			return err
		}
		if !claimed {
			continue
		}

		if err := l.limiter.Acquire(ctx); err != nil {
			l.releaseItem(item.ItemID)
			return fmt.Errorf("rate limiter failed for item %s: %w", item.ItemID, err)
		}

		if err := l.breaker.Allow(ctx); err != nil {
			var open *flow.CircuitOpenError
			if errors.As(err, &open) {
				return l.handleCircuitOpen(ctx, importID, item.ItemID, lastItemID, open)
			}
			l.releaseItem(item.ItemID)
			return fmt.Errorf("circuit breaker check failed for item %s: %w", item.ItemID, err)
		}

		start := time.Now()
		result, applyErr := l.applyPayment(ctx, item)
		if err := l.recordOutcome(ctx, cfg, item, result, applyErr, time.Since(start)); err != nil {
			return err
		}

		processed++
		lastItemID = item.ItemID
		if processed%cfg.Queue.CheckpointInterval == 0 {
			if err := l.datasource.SaveImportCheckpoint(ctx, importID, lastItemID); err != nil {
				return err
			}
		}
	}

	if lastItemID != "" {
		if err := l.datasource.SaveImportCheckpoint(ctx, importID, lastItemID); err != nil {
			return err
		}
	}

	return l.finalizeOrReschedule(ctx, importID, len(items) == cfg.Queue.BatchSize)
}

// recordOutcome moves one claimed item to its next state based on what the
// reconciliation attempt produced. Transient remote failures feed the breaker
// and reschedule the item with a doubling delay until the attempt cap;
// permanent ones settle the item and reset the breaker's failure streak,
// since the remote system did answer. Only storage errors are returned.
func (l *Rri) recordOutcome(ctx context.Context, cfg *config.Configuration, item *model.QueueItem, result *applyResult, applyErr error, took time.Duration) error {
	if applyErr == nil {
		if err := l.breaker.MarkSuccess(ctx); err != nil {
			logrus.Warnf("failed to record breaker success: %v", err)
		}
		if err := l.datasource.MarkItemDone(ctx, item.ItemID, result.Partner, result.ReceiptID, took); err != nil {
			return err
		}
		l.postItemActions(item.ItemID)
		return nil
	}

	if remote.IsTransient(applyErr) {
		state, err := l.breaker.MarkFailure(ctx)
		if err != nil {
			logrus.Warnf("failed to record breaker failure: %v", err)
		} else if state == model.BreakerOpen {
			notification.NotifyError(fmt.Errorf("circuit breaker opened after repeated remote failures, last: %v", applyErr))
		}

		attempts := item.Attempts + 1
		if attempts >= cfg.Queue.MaxAttempts {
			reason := fmt.Sprintf("retries exhausted after %d attempts: %v", attempts, applyErr)
			if err := l.datasource.MarkItemFailed(ctx, item.ItemID, reason, nil, took); err != nil {
				return err
			}
			logrus.Warnf("item %s failed permanently: %s", item.ItemID, reason)
		} else {
			delay := model.RetryBackoff(attempts, cfg.Queue.BackoffBase(), cfg.Queue.BackoffCap())
			if err := l.datasource.RescheduleItem(ctx, item.ItemID, applyErr.Error(), attempts, time.Now().Add(delay)); err != nil {
				return err
			}
			logrus.Infof("item %s rescheduled in %s after attempt %d: %v", item.ItemID, delay, attempts, applyErr)
		}
		l.postItemActions(item.ItemID)
		return nil
	}

	if err := l.breaker.MarkSuccess(ctx); err != nil {
		logrus.Warnf("failed to record breaker success: %v", err)
	}
	reason := applyErr.Error()
	if stateForApplyError(applyErr) == model.StatusSkipped {
		if err := l.datasource.MarkItemSkipped(ctx, item.ItemID, reason, nil, took); err != nil {
			return err
		}
		logrus.Infof("item %s skipped: %s", item.ItemID, reason)
	} else {
		if err := l.datasource.MarkItemFailed(ctx, item.ItemID, reason, nil, took); err != nil {
			return err
		}
		logrus.Warnf("item %s failed: %s", item.ItemID, reason)
	}
	l.postItemActions(item.ItemID)
	return nil
}

// handleCircuitOpen aborts the batch when the breaker rejects a call. The
// item goes back to pending with its attempt counter untouched, because the
// remote system was never asked, and the import re-enqueues itself for when
// the cooldown ends.
func (l *Rri) handleCircuitOpen(ctx context.Context, importID, itemID, lastItemID string, open *flow.CircuitOpenError) error {
	if err := l.datasource.ReturnItemToPending(ctx, itemID); err != nil {
		return err
	}
	if lastItemID != "" {
		if err := l.datasource.SaveImportCheckpoint(ctx, importID, lastItemID); err != nil {
			return err
		}
	}

	delay := open.RetryAfter
	if delay <= 0 {
		delay = time.Second
	}
	logrus.Warnf("circuit open, pausing import %s for %s", importID, delay)
	return l.queue.continueImport(ctx, importID, delay)
}

// finalizeOrReschedule closes the loop after a batch: chain the next batch
// immediately when this one was full, schedule a delayed kick when open items
// are waiting on retry deadlines, and complete the import when nothing
// workable remains.
func (l *Rri) finalizeOrReschedule(ctx context.Context, importID string, fullBatch bool) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	open, err := l.datasource.CountOpenItems(ctx, importID, cfg.Queue.MaxAttempts)
	if err != nil {
		return err
	}

	if open > 0 {
		delay := time.Duration(0)
		if !fullBatch {
			next, err := l.datasource.EarliestRetryAt(ctx, importID)
			if err != nil {
				return err
			}
			if next != nil {
				if until := time.Until(*next); until > 0 {
					delay = until
				}
			} else {
				// Open items with no deadline and no eligible batch: they are
				// blocked behind a processing predecessor, likely one claimed
				// by a crashed worker. Check back after the stale sweep had a
				// chance to release it.
				delay = cfg.Queue.BackoffBase()
			}
		}
		return l.queue.continueImport(ctx, importID, delay)
	}

	if err := l.datasource.SaveImportCheckpoint(ctx, importID, ""); err != nil {
		// The checkpoint columns are recomputed on completion below; a miss
		// here only leaves last_item_id stale.
		logrus.Warnf("failed to refresh checkpoint for import %s: %v", importID, err)
	}
	if err := l.datasource.MarkImportCompleted(ctx, importID, model.BatchCompleted); err != nil {
		return err
	}

	completed, err := l.datasource.GetImportBatch(ctx, importID)
	if err != nil {
		return err
	}
	logrus.Infof("import %s completed: %d done, %d failed, %d skipped of %d",
		importID, completed.SuccessCount, completed.FailedCount, completed.SkippedCount, completed.TotalItems)

	if err := notification.NotifyEvent(getEventFromStatus(completed.Status), completed); err != nil {
		logrus.Warnf("failed to send import.completed webhook for %s: %v", importID, err)
	}
	if err := l.Hooks.ExecutePostHooks(ctx, importID, completed); err != nil {
		logrus.Warnf("failed to fire post-import hooks for %s: %v", importID, err)
	}
	l.postBatchActions(importID)
	return nil
}

// releaseItem is the best-effort unclaim used when a batch aborts between the
// claim and the remote call. Failures are only logged; the stale sweep will
// release the item anyway.
func (l *Rri) releaseItem(itemID string) {
	if err := l.datasource.ReturnItemToPending(context.Background(), itemID); err != nil {
		logrus.Warnf("failed to return item %s to pending: %v", itemID, err)
	}
}

// postItemActions pushes the item's fresh state to the search index in the
// background.
func (l *Rri) postItemActions(itemID string) {
	go func() {
		item, err := l.datasource.GetQueueItem(context.Background(), itemID)
		if err != nil {
			notification.NotifyError(err)
			return
		}
		if err := l.queue.queueIndexData(item.ItemID, "queue_items", item); err != nil {
			notification.NotifyError(err)
		}
	}()
}

// postBatchActions pushes the batch record to the search index in the
// background.
func (l *Rri) postBatchActions(importID string) {
	go func() {
		batch, err := l.datasource.GetImportBatch(context.Background(), importID)
		if err != nil {
			notification.NotifyError(err)
			return
		}
		if err := l.queue.queueIndexData(batch.ImportID, "import_batches", batch); err != nil {
			notification.NotifyError(err)
		}
	}()
}

// PauseImport stops an import at the next item boundary. The batch that is
// currently running finishes its in-flight item, checkpoints and stops; no
// new batches start until the import is resumed.
func (l *Rri) PauseImport(ctx context.Context, importID string) (*model.ImportBatch, error) {
	ctx, span := tracer.Start(ctx, "Pausing Import")
	defer span.End()

	batch, err := l.datasource.GetImportBatch(ctx, importID)
	if err != nil {
		return nil, err
	}
	if batch.Status != model.BatchQueued && batch.Status != model.BatchRunning {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("Import with status '%s' cannot be paused", batch.Status), nil)
	}

	if err := l.datasource.UpdateImportBatchStatus(ctx, importID, model.BatchPaused); err != nil {
		return nil, err
	}
	if err := notification.NotifyEvent(getEventFromStatus(model.BatchPaused), map[string]string{"import_id": importID}); err != nil {
		logrus.Warnf("failed to send import.paused webhook for %s: %v", importID, err)
	}
	return l.datasource.GetImportBatch(ctx, importID)
}

// ResumeImport puts a paused import back in the queue and kicks a batch.
func (l *Rri) ResumeImport(ctx context.Context, importID string) (*model.ImportBatch, error) {
	ctx, span := tracer.Start(ctx, "Resuming Import")
	defer span.End()

	batch, err := l.datasource.GetImportBatch(ctx, importID)
	if err != nil {
		return nil, err
	}
	if batch.Status != model.BatchPaused {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("Import with status '%s' cannot be resumed", batch.Status), nil)
	}

	if err := l.datasource.UpdateImportBatchStatus(ctx, importID, model.BatchQueued); err != nil {
		return nil, err
	}
	if err := l.queue.EnqueueImport(ctx, importID, 0); err != nil {
		return nil, err
	}
	if err := notification.NotifyEvent("import.resumed", map[string]string{"import_id": importID}); err != nil {
		logrus.Warnf("failed to send import.resumed webhook for %s: %v", importID, err)
	}
	return l.datasource.GetImportBatch(ctx, importID)
}

// CancelImport permanently stops an import. Unprocessed items stay in the
// queue table for audit but will never be selected again.
func (l *Rri) CancelImport(ctx context.Context, importID string) (*model.ImportBatch, error) {
	ctx, span := tracer.Start(ctx, "Cancelling Import")
	defer span.End()

	batch, err := l.datasource.GetImportBatch(ctx, importID)
	if err != nil {
		return nil, err
	}
	if !batch.IsActive() {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("Import with status '%s' cannot be cancelled", batch.Status), nil)
	}

	if err := l.datasource.UpdateImportBatchStatus(ctx, importID, model.BatchCancelled); err != nil {
		return nil, err
	}
	if err := notification.NotifyEvent(getEventFromStatus(model.BatchCancelled), map[string]string{"import_id": importID}); err != nil {
		logrus.Warnf("failed to send import.cancelled webhook for %s: %v", importID, err)
	}
	if err := l.Hooks.ExecutePostHooks(ctx, importID, map[string]string{"import_id": importID}); err != nil {
		logrus.Warnf("failed to fire post-import hooks for %s: %v", importID, err)
	}
	l.postBatchActions(importID)
	return l.datasource.GetImportBatch(ctx, importID)
}
