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
	"io"

	"github.com/sirupsen/logrus"

	"github.com/fabrii9/remote-receipt-import/internal/apierror"
	"github.com/fabrii9/remote-receipt-import/internal/files"
	"github.com/fabrii9/remote-receipt-import/internal/notification"
	"github.com/fabrii9/remote-receipt-import/model"
)

// ImportPayments parses an uploaded payment file, records the import batch
// and its queue items durably, and kicks the first batch task. The returned
// batch is in queued state; progress is polled afterwards, not awaited.
//
// Parsing is all-or-nothing per file only in the sense that a file yielding
// zero usable rows is rejected; individual bad rows are reported by the
// parser and the good rows still import.
func (l *Rri) ImportPayments(ctx context.Context, source string, reader io.Reader, filename string) (*model.ImportBatch, error) {
	ctx, span := tracer.Start(ctx, "Importing Payment File")
	defer span.End()

	var rows []model.PaymentRow
	importID, total, err := files.ImportPaymentFile(ctx, reader, filename, func(ctx context.Context, importID string, row model.PaymentRow) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Failed to parse payment file", err.Error())
	}
	if total == 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Payment file contains no importable rows", nil)
	}

	items := make([]*model.QueueItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, model.NewQueueItem(importID, row))
	}

	batch := &model.ImportBatch{
		ImportID:   importID,
		FileName:   filename,
		Source:     source,
		Status:     model.BatchQueued,
		TotalItems: len(items),
	}
	if err := l.datasource.CreateImportBatch(ctx, batch); err != nil {
		return nil, err
	}

	inserted, err := l.datasource.CreateQueueItems(ctx, items)
	if err != nil {
		return nil, err
	}
	if inserted != len(items) {
		logrus.Warnf("import %s: %d of %d rows were already queued", importID, len(items)-inserted, len(items))
	}

	if err := l.queue.EnqueueImport(ctx, importID, 0); err != nil {
		return nil, err
	}

	logrus.Infof("import %s created from %s with %d items", importID, filename, len(items))
	if err := notification.NotifyEvent(getEventFromStatus(batch.Status), batch); err != nil {
		logrus.Warnf("failed to send import.created webhook for %s: %v", importID, err)
	}
	if err := l.Hooks.ExecutePreHooks(ctx, importID, batch); err != nil {
		logrus.Warnf("failed to fire pre-import hooks for %s: %v", importID, err)
	}
	l.postBatchActions(importID)
	return batch, nil
}
