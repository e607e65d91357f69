package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fabrii9/remote-receipt-import/internal/apierror"
	"github.com/fabrii9/remote-receipt-import/internal/filter"
	"github.com/fabrii9/remote-receipt-import/model"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

const queueItemColumns = `id, item_id, import_id, row_number, dedup_key, partner_tax_id, payment_date, memo, amount, priority, status, attempts, scheduled_at, last_error, partner_id, partner_name, receipt_id, processing_time_ms, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQueueItem(row rowScanner, extra ...interface{}) (*model.QueueItem, error) {
	item := &model.QueueItem{}
	var paymentDate, scheduledAt sql.NullTime
	var memo, lastError, partnerName sql.NullString
	var partnerID, receiptID, processingMs sql.NullInt64

	dest := []interface{}{
		&item.ID, &item.ItemID, &item.ImportID, &item.RowNumber, &item.DedupKey,
		&item.PartnerTaxID, &paymentDate, &memo, &item.Amount, &item.Priority,
		&item.Status, &item.Attempts, &scheduledAt, &lastError, &partnerID,
		&partnerName, &receiptID, &processingMs, &item.CreatedAt, &item.UpdatedAt,
	}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if paymentDate.Valid {
		item.PaymentDate = paymentDate.Time
	}
	if scheduledAt.Valid {
		t := scheduledAt.Time
		item.ScheduledAt = &t
	}
	item.Memo = memo.String
	item.LastError = lastError.String
	item.PartnerID = partnerID.Int64
	item.PartnerName = partnerName.String
	item.ReceiptID = receiptID.Int64
	item.ProcessingMs = processingMs.Int64
	return item, nil
}

func partnerColumns(partner *model.Partner) (sql.NullInt64, sql.NullString) {
	if partner == nil {
		return sql.NullInt64{}, sql.NullString{}
	}
	return sql.NullInt64{Int64: partner.ID, Valid: true}, sql.NullString{String: partner.Name, Valid: true}
}

// CreateQueueItems inserts imported rows in a single transaction. Rows whose
// dedup key already exists are silently skipped, so re-uploading the same file
// never produces duplicate work. It returns the number of rows actually
// inserted.
func (d Datasource) CreateQueueItems(ctx context.Context, items []*model.QueueItem) (int, error) {
	ctx, span := otel.Tracer("Queue items").Start(ctx, "Saving queue items to db")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	inserted := 0
	for _, item := range items {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO queue_items (item_id, import_id, row_number, dedup_key, partner_tax_id, payment_date, memo, amount, priority, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (dedup_key) DO NOTHING
		`, item.ItemID, item.ImportID, item.RowNumber, item.DedupKey, item.PartnerTaxID, item.PaymentDate, item.Memo, item.Amount, item.Priority, model.StatusPending)
		if err != nil {
			_ = tx.Rollback()
			return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to insert queue item", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			_ = tx.Rollback()
			return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
		}
		inserted += int(rows)
	}

	if err := tx.Commit(); err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	return inserted, nil
}

func (d Datasource) GetQueueItem(ctx context.Context, itemID string) (*model.QueueItem, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM queue_items
		WHERE item_id = $1
	`, queueItemColumns), itemID)

	item, err := scanQueueItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Queue item with ID '%s' not found", itemID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve queue item", err)
	}

	return item, nil
}

// GetNextBatch selects the next eligible items for one import. An item is
// eligible when it is pending with no retry deadline or a deadline in the
// past, or failed with a deadline in the past, and its attempts are below the
// limit. The NOT EXISTS clause holds an item back while any earlier row for
// the same partner is still pending or processing, which keeps same-partner
// rows in source order across the whole run.
func (d Datasource) GetNextBatch(ctx context.Context, importID string, batchSize int, maxAttempts int) ([]*model.QueueItem, error) {
	ctx, span := otel.Tracer("Queue items").Start(ctx, "Selecting next batch from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM queue_items q
		WHERE q.import_id = $1
		AND q.attempts < $2
		AND (
			(q.status = 'pending' AND (q.scheduled_at IS NULL OR q.scheduled_at <= NOW()))
			OR (q.status = 'failed' AND q.scheduled_at IS NOT NULL AND q.scheduled_at <= NOW())
		)
		AND NOT EXISTS (
			SELECT 1 FROM queue_items prior
			WHERE prior.import_id = q.import_id
			AND prior.partner_tax_id = q.partner_tax_id
			AND prior.row_number < q.row_number
			AND prior.status IN ('pending', 'processing')
		)
		ORDER BY q.priority ASC, q.row_number ASC
		LIMIT $3
	`, queueItemColumns), importID, maxAttempts, batchSize)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to select next batch", err)
	}
	defer rows.Close()

	var items []*model.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan queue item", err)
		}
		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over queue items", err)
	}

	return items, nil
}

// ClaimQueueItem atomically moves an item into processing. It reports false
// when the item was already claimed or finished by someone else, which lets
// concurrent schedulers race on the same batch without double-processing.
func (d Datasource) ClaimQueueItem(ctx context.Context, itemID string) (bool, error) {
	ctx, span := otel.Tracer("Queue items").Start(ctx, "Claiming queue item")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE queue_items
		SET status = $2, updated_at = NOW()
		WHERE item_id = $1 AND status IN ('pending', 'failed')
	`, itemID, model.StatusProcessing)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim queue item", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}

	return rowsAffected > 0, nil
}

func (d Datasource) MarkItemDone(ctx context.Context, itemID string, partner *model.Partner, receiptID int64, took time.Duration) error {
	ctx, span := otel.Tracer("Queue items").Start(ctx, "Marking queue item done")
	defer span.End()

	partnerID, partnerName := partnerColumns(partner)
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE queue_items
		SET status = $2, partner_id = $3, partner_name = $4, receipt_id = $5, processing_time_ms = $6, last_error = NULL, scheduled_at = NULL, updated_at = NOW()
		WHERE item_id = $1 AND status = 'processing'
	`, itemID, model.StatusDone, partnerID, partnerName, receiptID, took.Milliseconds())
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark queue item done", err)
	}

	return checkItemUpdated(result, itemID)
}

func (d Datasource) MarkItemSkipped(ctx context.Context, itemID string, reason string, partner *model.Partner, took time.Duration) error {
	ctx, span := otel.Tracer("Queue items").Start(ctx, "Marking queue item skipped")
	defer span.End()

	partnerID, partnerName := partnerColumns(partner)
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE queue_items
		SET status = $2, partner_id = $3, partner_name = $4, last_error = $5, processing_time_ms = $6, scheduled_at = NULL, updated_at = NOW()
		WHERE item_id = $1 AND status = 'processing'
	`, itemID, model.StatusSkipped, partnerID, partnerName, reason, took.Milliseconds())
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark queue item skipped", err)
	}

	return checkItemUpdated(result, itemID)
}

func (d Datasource) MarkItemFailed(ctx context.Context, itemID string, reason string, partner *model.Partner, took time.Duration) error {
	ctx, span := otel.Tracer("Queue items").Start(ctx, "Marking queue item failed")
	defer span.End()

	partnerID, partnerName := partnerColumns(partner)
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE queue_items
		SET status = $2, partner_id = $3, partner_name = $4, last_error = $5, processing_time_ms = $6, scheduled_at = NULL, updated_at = NOW()
		WHERE item_id = $1 AND status = 'processing'
	`, itemID, model.StatusFailed, partnerID, partnerName, reason, took.Milliseconds())
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark queue item failed", err)
	}

	return checkItemUpdated(result, itemID)
}

// RescheduleItem returns an item to pending after a transient remote failure,
// recording the new attempt count and the time at which the item becomes
// eligible again. Nothing sleeps on the deadline; the next batch selection
// simply skips the item until the deadline has passed.
func (d Datasource) RescheduleItem(ctx context.Context, itemID string, reason string, attempts int, at time.Time) error {
	ctx, span := otel.Tracer("Queue items").Start(ctx, "Rescheduling queue item")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE queue_items
		SET status = $2, attempts = $3, last_error = $4, scheduled_at = $5, updated_at = NOW()
		WHERE item_id = $1 AND status = 'processing'
	`, itemID, model.StatusPending, attempts, reason, at)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reschedule queue item", err)
	}

	return checkItemUpdated(result, itemID)
}

// ReturnItemToPending puts a processing item back in the queue without
// touching its attempt counter. Used when the circuit breaker rejects the
// call before the remote system was ever reached.
func (d Datasource) ReturnItemToPending(ctx context.Context, itemID string) error {
	ctx, span := otel.Tracer("Queue items").Start(ctx, "Returning queue item to pending")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE queue_items
		SET status = $2, scheduled_at = NULL, updated_at = NOW()
		WHERE item_id = $1 AND status = 'processing'
	`, itemID, model.StatusPending)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to return queue item to pending", err)
	}

	return checkItemUpdated(result, itemID)
}

// RequeueItem manually resets a failed item so the scheduler can try it
// again from scratch.
func (d Datasource) RequeueItem(ctx context.Context, itemID string) (*model.QueueItem, error) {
	ctx, span := otel.Tracer("Queue items").Start(ctx, "Requeuing queue item")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE queue_items
		SET status = $2, attempts = 0, scheduled_at = NULL, last_error = NULL, updated_at = NOW()
		WHERE item_id = $1 AND status = 'failed'
		RETURNING %s
	`, queueItemColumns), itemID, model.StatusPending)

	item, err := scanQueueItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Queue item with ID '%s' not found in failed state", itemID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to requeue queue item", err)
	}

	return item, nil
}

// RequeueStaleProcessing releases items stuck in processing longer than the
// given age back to pending. Run at startup so items claimed by a crashed
// worker are picked up again.
func (d Datasource) RequeueStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, span := otel.Tracer("Queue items").Start(ctx, "Releasing stale processing items")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE queue_items
		SET status = $1, scheduled_at = NULL, updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $2
	`, model.StatusPending, time.Now().Add(-olderThan))
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to release stale processing items", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}

	return rowsAffected, nil
}

// CountOpenItems counts the items of an import that can still be worked,
// including those waiting on a retry deadline.
func (d Datasource) CountOpenItems(ctx context.Context, importID string, maxAttempts int) (int64, error) {
	var count int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM queue_items
		WHERE import_id = $1
		AND attempts < $2
		AND (status IN ('pending', 'processing') OR (status = 'failed' AND scheduled_at IS NOT NULL))
	`, importID, maxAttempts).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count open items", err)
	}

	return count, nil
}

// EarliestRetryAt returns the soonest retry deadline among an import's
// pending items, or nil when none of them is waiting on one.
func (d Datasource) EarliestRetryAt(ctx context.Context, importID string) (*time.Time, error) {
	var at sql.NullTime
	err := d.Conn.QueryRowContext(ctx, `
		SELECT MIN(scheduled_at)
		FROM queue_items
		WHERE import_id = $1 AND status = 'pending' AND scheduled_at IS NOT NULL
	`, importID).Scan(&at)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get earliest retry time", err)
	}

	if !at.Valid {
		return nil, nil
	}
	return &at.Time, nil
}

func (d Datasource) GetItemsByState(ctx context.Context, importID string, status string, limit int, offset int) ([]*model.QueueItem, error) {
	ctx, span := otel.Tracer("Queue items").Start(ctx, "Fetching queue items by state")
	defer span.End()

	query := fmt.Sprintf(`
		SELECT %s
		FROM queue_items
		WHERE import_id = $1
		ORDER BY row_number ASC
		LIMIT $2 OFFSET $3
	`, queueItemColumns)
	args := []interface{}{importID, limit, offset}

	if status != "" {
		query = fmt.Sprintf(`
			SELECT %s
			FROM queue_items
			WHERE import_id = $1 AND status = $2
			ORDER BY row_number ASC
			LIMIT $3 OFFSET $4
		`, queueItemColumns)
		args = []interface{}{importID, status, limit, offset}
	}

	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve queue items", err)
	}
	defer rows.Close()

	var items []*model.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan queue item", err)
		}
		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over queue items", err)
	}

	return items, nil
}

// GetQueueItemsWithFilter retrieves one import's items with filtering,
// sorting, and an optional total count. Filter fields and the sort field are
// validated against the queue_items allowlist before any SQL is assembled.
func (d Datasource) GetQueueItemsWithFilter(ctx context.Context, importID string, filters *filter.QueryFilterSet, opts *filter.QueryOptions, limit, offset int) ([]*model.QueueItem, *int64, error) {
	ctx, span := otel.Tracer("Queue items").Start(ctx, "Fetching queue items with filters")
	defer span.End()

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	if err := filter.ValidateSortByForTable(opts, "queue_items"); err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrBadRequest, "Invalid sort_by field", nil)
	}

	// import_id takes $1, filter conditions number from $2
	result, err := filter.BuildWithOptions(filters, "queue_items", "", 2, opts)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("Invalid filter: %s", err.Error()), err)
	}

	selectFields := queueItemColumns
	if opts != nil && opts.IncludeCount {
		selectFields += ", COUNT(*) OVER() AS total_count"
	}

	baseQuery := fmt.Sprintf(`
		SELECT %s
		FROM queue_items
		WHERE import_id = $1
	`, selectFields)

	args := []interface{}{importID}
	args = append(args, result.Args...)
	argPos := result.NextArgPos

	if len(result.Conditions) > 0 {
		baseQuery += " AND " + strings.Join(result.Conditions, " AND ")
	}

	baseQuery += " ORDER BY " + result.OrderBy
	baseQuery += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := d.Conn.QueryContext(ctx, baseQuery, args...)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve queue items", err)
	}
	defer rows.Close()

	var items []*model.QueueItem
	var totalCount *int64

	for rows.Next() {
		var item *model.QueueItem
		if opts != nil && opts.IncludeCount {
			var count int64
			item, err = scanQueueItem(rows, &count)
			if totalCount == nil {
				totalCount = &count
			}
		} else {
			item, err = scanQueueItem(rows)
		}
		if err != nil {
			return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan queue item", err)
		}
		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over queue items", err)
	}

	return items, totalCount, nil
}

// GetRecentErrors lists the most recently updated items that carry an error
// message, newest first.
func (d Datasource) GetRecentErrors(ctx context.Context, importID string, limit int) ([]*model.QueueItem, error) {
	ctx, span := otel.Tracer("Queue items").Start(ctx, "Fetching recent errors")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM queue_items
		WHERE import_id = $1 AND last_error IS NOT NULL AND last_error <> ''
		ORDER BY updated_at DESC
		LIMIT $2
	`, queueItemColumns), importID, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve recent errors", err)
	}
	defer rows.Close()

	var items []*model.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan queue item", err)
		}
		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over queue items", err)
	}

	return items, nil
}

// GetImportStats computes the per-state item counts for one import straight
// from the queue table, so the numbers are always consistent with the items
// themselves rather than with any cached counter.
func (d Datasource) GetImportStats(ctx context.Context, importID string) (*model.ImportStats, error) {
	ctx, span := otel.Tracer("Queue items").Start(ctx, "Computing import stats")
	defer span.End()

	stats := &model.ImportStats{ImportID: importID}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'done'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'skipped')
		FROM queue_items
		WHERE import_id = $1
	`, importID).Scan(&stats.Pending, &stats.Processing, &stats.Done, &stats.Failed, &stats.Skipped)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to compute import stats", err)
	}

	var startedAt, completedAt sql.NullTime
	err = d.Conn.QueryRowContext(ctx, `
		SELECT started_at, completed_at
		FROM import_batches
		WHERE import_id = $1
	`, importID).Scan(&startedAt, &completedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Import with ID '%s' not found", importID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve import batch times", err)
	}

	if startedAt.Valid {
		t := startedAt.Time
		stats.StartedAt = &t
		end := time.Now()
		if completedAt.Valid {
			end = completedAt.Time
		}
		stats.Elapsed = end.Sub(t).Round(time.Second).String()
	}

	return stats, nil
}

func checkItemUpdated(result sql.Result, itemID string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Queue item with ID '%s' not found in expected state", itemID), nil)
	}
	return nil
}
