package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/fabrii9/remote-receipt-import/internal/apierror"
	"github.com/fabrii9/remote-receipt-import/internal/filter"
	"github.com/fabrii9/remote-receipt-import/model"
)

const importBatchColumns = `id, import_id, file_name, source, status, total_items, processed_items, success_count, failed_count, skipped_count, last_item_id, started_at, completed_at, created_at, updated_at`

func scanImportBatch(row rowScanner, extra ...interface{}) (*model.ImportBatch, error) {
	batch := &model.ImportBatch{}
	var fileName, source, lastItemID sql.NullString
	var startedAt, completedAt sql.NullTime

	dest := []interface{}{
		&batch.ID, &batch.ImportID, &fileName, &source, &batch.Status,
		&batch.TotalItems, &batch.ProcessedItems, &batch.SuccessCount,
		&batch.FailedCount, &batch.SkippedCount, &lastItemID,
		&startedAt, &completedAt, &batch.CreatedAt, &batch.UpdatedAt,
	}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	batch.FileName = fileName.String
	batch.Source = source.String
	batch.LastItemID = lastItemID.String
	if startedAt.Valid {
		t := startedAt.Time
		batch.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		batch.CompletedAt = &t
	}
	return batch, nil
}

func (d Datasource) CreateImportBatch(ctx context.Context, batch *model.ImportBatch) error {
	ctx, span := otel.Tracer("Import batches").Start(ctx, "Saving import batch to db")
	defer span.End()

	err := d.Conn.QueryRowContext(ctx, `
		INSERT INTO import_batches (import_id, file_name, source, status, total_items)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, batch.ImportID, batch.FileName, batch.Source, batch.Status, batch.TotalItems).Scan(&batch.ID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record import batch", err)
	}

	return nil
}

func (d Datasource) GetImportBatch(ctx context.Context, importID string) (*model.ImportBatch, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM import_batches
		WHERE import_id = $1
	`, importBatchColumns), importID)

	batch, err := scanImportBatch(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Import with ID '%s' not found", importID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve import batch", err)
	}

	return batch, nil
}

func (d Datasource) GetAllImportBatches(ctx context.Context, limit int, offset int) ([]*model.ImportBatch, error) {
	ctx, span := otel.Tracer("Import batches").Start(ctx, "Fetching import batches")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM import_batches
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, importBatchColumns), limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve import batches", err)
	}
	defer rows.Close()

	var batches []*model.ImportBatch
	for rows.Next() {
		batch, err := scanImportBatch(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan import batch", err)
		}
		batches = append(batches, batch)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over import batches", err)
	}

	return batches, nil
}

// GetImportBatchesWithFilter retrieves import batches with filtering, sorting,
// and an optional total count, validated against the import_batches allowlist.
func (d Datasource) GetImportBatchesWithFilter(ctx context.Context, filters *filter.QueryFilterSet, opts *filter.QueryOptions, limit, offset int) ([]*model.ImportBatch, *int64, error) {
	ctx, span := otel.Tracer("Import batches").Start(ctx, "Fetching import batches with filters")
	defer span.End()

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	if err := filter.ValidateSortByForTable(opts, "import_batches"); err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrBadRequest, "Invalid sort_by field", nil)
	}

	result, err := filter.BuildWithOptions(filters, "import_batches", "", 1, opts)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("Invalid filter: %s", err.Error()), err)
	}

	selectFields := importBatchColumns
	if opts != nil && opts.IncludeCount {
		selectFields += ", COUNT(*) OVER() AS total_count"
	}

	baseQuery := fmt.Sprintf(`
		SELECT %s
		FROM import_batches
	`, selectFields)

	var args []interface{}
	args = append(args, result.Args...)
	argPos := result.NextArgPos

	if len(result.Conditions) > 0 {
		baseQuery += " WHERE " + strings.Join(result.Conditions, " AND ")
	}

	baseQuery += " ORDER BY " + result.OrderBy
	baseQuery += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := d.Conn.QueryContext(ctx, baseQuery, args...)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve import batches", err)
	}
	defer rows.Close()

	var batches []*model.ImportBatch
	var totalCount *int64

	for rows.Next() {
		var batch *model.ImportBatch
		if opts != nil && opts.IncludeCount {
			var count int64
			batch, err = scanImportBatch(rows, &count)
			if totalCount == nil {
				totalCount = &count
			}
		} else {
			batch, err = scanImportBatch(rows)
		}
		if err != nil {
			return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan import batch", err)
		}
		batches = append(batches, batch)
	}

	if err = rows.Err(); err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over import batches", err)
	}

	return batches, totalCount, nil
}

func (d Datasource) UpdateImportBatchStatus(ctx context.Context, importID string, status string) error {
	ctx, span := otel.Tracer("Import batches").Start(ctx, "Updating import batch status")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE import_batches
		SET status = $2, updated_at = NOW()
		WHERE import_id = $1
	`, importID, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update import batch status", err)
	}

	return checkBatchUpdated(result, importID)
}

// MarkImportStarted moves the batch to running. The start time is only set
// once, so pausing and resuming keeps the original elapsed clock.
func (d Datasource) MarkImportStarted(ctx context.Context, importID string) error {
	ctx, span := otel.Tracer("Import batches").Start(ctx, "Marking import batch started")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE import_batches
		SET status = $2, started_at = COALESCE(started_at, NOW()), updated_at = NOW()
		WHERE import_id = $1
	`, importID, model.BatchRunning)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark import batch started", err)
	}

	return checkBatchUpdated(result, importID)
}

func (d Datasource) MarkImportCompleted(ctx context.Context, importID string, status string) error {
	ctx, span := otel.Tracer("Import batches").Start(ctx, "Marking import batch completed")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE import_batches
		SET status = $2, completed_at = NOW(), updated_at = NOW()
		WHERE import_id = $1
	`, importID, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark import batch completed", err)
	}

	return checkBatchUpdated(result, importID)
}

// SaveImportCheckpoint persists the resume point. The counters are recomputed
// from the queue table instead of trusting in-memory tallies, so a checkpoint
// written after a partial crash recovery still reflects reality.
func (d Datasource) SaveImportCheckpoint(ctx context.Context, importID string, lastItemID string) error {
	ctx, span := otel.Tracer("Import batches").Start(ctx, "Saving import checkpoint")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE import_batches
		SET last_item_id = $2,
			processed_items = (SELECT COUNT(*) FROM queue_items WHERE import_id = $1 AND status IN ('done', 'failed', 'skipped')),
			success_count = (SELECT COUNT(*) FROM queue_items WHERE import_id = $1 AND status = 'done'),
			failed_count = (SELECT COUNT(*) FROM queue_items WHERE import_id = $1 AND status = 'failed'),
			skipped_count = (SELECT COUNT(*) FROM queue_items WHERE import_id = $1 AND status = 'skipped'),
			updated_at = NOW()
		WHERE import_id = $1
	`, importID, lastItemID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save import checkpoint", err)
	}

	return checkBatchUpdated(result, importID)
}

func checkBatchUpdated(result sql.Result, importID string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Import with ID '%s' not found", importID), nil)
	}
	return nil
}
