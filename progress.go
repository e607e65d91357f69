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
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/fabrii9/remote-receipt-import/internal/apierror"
	"github.com/fabrii9/remote-receipt-import/internal/filter"
	"github.com/fabrii9/remote-receipt-import/model"
)

const exportPageSize = 500

// GetImportBatch returns the durable record of one import.
func (l *Rri) GetImportBatch(ctx context.Context, importID string) (*model.ImportBatch, error) {
	return l.datasource.GetImportBatch(ctx, importID)
}

// GetAllImportBatches lists imports, newest first.
func (l *Rri) GetAllImportBatches(ctx context.Context, limit, offset int) ([]*model.ImportBatch, error) {
	return l.datasource.GetAllImportBatches(ctx, limit, offset)
}

// GetImportStats returns the per-state item counts of an import, computed
// from the queue table at call time.
func (l *Rri) GetImportStats(ctx context.Context, importID string) (*model.ImportStats, error) {
	return l.datasource.GetImportStats(ctx, importID)
}

// ListImportItems pages through an import's items, optionally filtered to one
// state. An empty status lists everything in source row order.
func (l *Rri) ListImportItems(ctx context.Context, importID, status string, limit, offset int) ([]*model.QueueItem, error) {
	if status != "" {
		switch status {
		case model.StatusPending, model.StatusProcessing, model.StatusDone, model.StatusFailed, model.StatusSkipped:
		default:
			return nil, apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("Unknown item status '%s'", status), nil)
		}
	}
	return l.datasource.GetItemsByState(ctx, importID, status, limit, offset)
}

// ListImportItemsFiltered pages through an import's items using parsed query
// filters and sort options instead of a single status value.
func (l *Rri) ListImportItemsFiltered(ctx context.Context, importID string, filters *filter.QueryFilterSet, opts *filter.QueryOptions, limit, offset int) ([]*model.QueueItem, *int64, error) {
	return l.datasource.GetQueueItemsWithFilter(ctx, importID, filters, opts, limit, offset)
}

// GetImportBatchesFiltered lists imports using parsed query filters and sort
// options.
func (l *Rri) GetImportBatchesFiltered(ctx context.Context, filters *filter.QueryFilterSet, opts *filter.QueryOptions, limit, offset int) ([]*model.ImportBatch, *int64, error) {
	return l.datasource.GetImportBatchesWithFilter(ctx, filters, opts, limit, offset)
}

// GetRecentErrors lists the items of an import that most recently recorded an
// error, newest first.
func (l *Rri) GetRecentErrors(ctx context.Context, importID string, limit int) ([]*model.QueueItem, error) {
	return l.datasource.GetRecentErrors(ctx, importID, limit)
}

// RequeueItem resets a failed item for another run and kicks the scheduler.
// If the import had already completed it is reopened first, so the chain of
// batch tasks starts again.
func (l *Rri) RequeueItem(ctx context.Context, itemID string) (*model.QueueItem, error) {
	ctx, span := tracer.Start(ctx, "Requeuing Item")
	defer span.End()

	item, err := l.datasource.RequeueItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	batch, err := l.datasource.GetImportBatch(ctx, item.ImportID)
	if err != nil {
		return nil, err
	}
	if !batch.IsActive() {
		if err := l.datasource.UpdateImportBatchStatus(ctx, item.ImportID, model.BatchQueued); err != nil {
			return nil, err
		}
	}

	if err := l.queue.EnqueueImport(ctx, item.ImportID, 0); err != nil {
		return nil, err
	}

	logrus.Infof("item %s requeued for import %s", itemID, item.ImportID)
	l.postItemActions(item.ItemID)
	return item, nil
}

// ExportResults writes the full audit trail of an import as CSV, one line per
// source row in source order.
func (l *Rri) ExportResults(ctx context.Context, importID string, w io.Writer) error {
	ctx, span := tracer.Start(ctx, "Exporting Import Results")
	defer span.End()

	if _, err := l.datasource.GetImportBatch(ctx, importID); err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	defer writer.Flush()

	header := []string{"row_number", "tax_id", "partner_name", "payment_date", "amount", "memo", "status", "receipt_id", "attempts", "last_error", "processing_time_ms"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for offset := 0; ; offset += exportPageSize {
		items, err := l.datasource.GetItemsByState(ctx, importID, "", exportPageSize, offset)
		if err != nil {
			return err
		}
		for _, item := range items {
			receiptID := ""
			if item.ReceiptID != 0 {
				receiptID = strconv.FormatInt(item.ReceiptID, 10)
			}
			record := []string{
				strconv.Itoa(item.RowNumber),
				item.PartnerTaxID,
				item.PartnerName,
				item.PaymentDate.Format("2006-01-02"),
				item.Amount.String(),
				item.Memo,
				item.Status,
				receiptID,
				strconv.Itoa(item.Attempts),
				item.LastError,
				strconv.FormatInt(item.ProcessingMs, 10),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
		if len(items) < exportPageSize {
			break
		}
	}

	writer.Flush()
	return writer.Error()
}

// RemoteFlowState is the operator's view of the shared call budget.
type RemoteFlowState struct {
	Breaker *model.BreakerState `json:"breaker"`
	Limiter *model.LimiterState `json:"limiter"`
}

// GetRemoteFlowState reads the shared circuit breaker and rate limiter
// records for reporting.
func (l *Rri) GetRemoteFlowState(ctx context.Context) (*RemoteFlowState, error) {
	breaker, err := l.breaker.State(ctx)
	if err != nil {
		return nil, err
	}
	limiter, err := l.limiter.State(ctx)
	if err != nil {
		return nil, err
	}
	return &RemoteFlowState{Breaker: breaker, Limiter: limiter}, nil
}
