package filter

import (
	"fmt"
	"strings"
)

func Validate(filters *QueryFilterSet, table string) error {
	if filters == nil {
		return nil
	}

	validFields := GetValidFieldsForTable(table)
	if len(validFields) == 0 {
		return fmt.Errorf("unsupported table for advanced filtering: %s", table)
	}

	for _, f := range filters.Filters {
		if !validFields[f.Field] {
			return fmt.Errorf("invalid field '%s' for table '%s'", f.Field, table)
		}
	}

	return nil
}

func GetValidFieldsForTable(table string) map[string]bool {
	switch table {
	case "queue_items":
		return map[string]bool{
			"item_id":            true,
			"import_id":          true,
			"row_number":         true,
			"partner_tax_id":     true,
			"partner_id":         true,
			"partner_name":       true,
			"payment_date":       true,
			"memo":               true,
			"amount":             true,
			"priority":           true,
			"status":             true,
			"attempts":           true,
			"scheduled_at":       true,
			"last_error":         true,
			"receipt_id":         true,
			"processing_time_ms": true,
			"created_at":         true,
			"updated_at":         true,
		}
	case "import_batches":
		return map[string]bool{
			"import_id":       true,
			"file_name":       true,
			"source":          true,
			"status":          true,
			"total_items":     true,
			"processed_items": true,
			"success_count":   true,
			"failed_count":    true,
			"skipped_count":   true,
			"started_at":      true,
			"completed_at":    true,
			"created_at":      true,
			"updated_at":      true,
		}
	default:
		return map[string]bool{}
	}
}

// GetSortableFieldsForTable returns fields that can be sorted.
// All filterable fields are sortable.
func GetSortableFieldsForTable(table string) map[string]bool {
	return GetValidFieldsForTable(table)
}

// ValidateSortField validates that the sort field is allowed for the table.
func ValidateSortField(sortBy, table string) error {
	if sortBy == "" {
		return nil
	}

	sortableFields := GetSortableFieldsForTable(table)
	if len(sortableFields) == 0 {
		return fmt.Errorf("sorting not supported for table: %s", table)
	}

	if !sortableFields[sortBy] {
		return fmt.Errorf("cannot sort by '%s' for table '%s': field is not filterable", sortBy, table)
	}

	return nil
}

// ValidateSortByForTable normalizes opts.SortBy and validates it against the
// table. A nil options value or an empty SortBy always passes.
func ValidateSortByForTable(opts *QueryOptions, table string) error {
	if opts == nil || opts.SortBy == "" {
		return nil
	}
	opts.SortBy = strings.ToLower(strings.TrimSpace(opts.SortBy))
	return ValidateSortField(opts.SortBy, table)
}

// GetDefaultSortField returns the default sort field for a table. Queue items
// default to source row order, everything else to creation time.
func GetDefaultSortField(table string) string {
	if table == "queue_items" {
		return "row_number"
	}
	return "created_at"
}
