package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

func Build(filters *QueryFilterSet, table string, alias string, startArgPos int) (*BuildResult, error) {
	if filters == nil || len(filters.Filters) == 0 {
		return &BuildResult{
			Conditions: []string{},
			Args:       []interface{}{},
			NextArgPos: startArgPos,
		}, nil
	}

	if err := Validate(filters, table); err != nil {
		return nil, err
	}

	result := &BuildResult{
		Conditions: make([]string, 0, len(filters.Filters)),
		Args:       make([]interface{}, 0),
		NextArgPos: startArgPos,
	}

	argPos := startArgPos

	for _, f := range filters.Filters {
		cond, args, nextArgPos := buildStandardCondition(f, table, alias, argPos)
		if cond != "" {
			result.Conditions = append(result.Conditions, cond)
			result.Args = append(result.Args, args...)
			argPos = nextArgPos
		}
	}

	result.NextArgPos = argPos
	return result, nil
}

func buildStandardCondition(f QueryFilter, table string, tableAlias string, argPosition int) (condition string, args []interface{}, newArgPosition int) {
	// Resolve field to safe column name (breaks taint chain for static analyzers)
	safeField := safeColumnForTableAndField(table, f.Field)
	if safeField == "" {
		return "", nil, argPosition
	}

	fieldName := safeField
	if tableAlias != "" {
		fieldName = fmt.Sprintf("%s.%s", tableAlias, safeField)
	}

	switch f.Operator {
	case OpEqual:
		if tsVal, ok := f.Value.(TimestampValue); ok {
			floor, ceiling := computeTimestampRange(tsVal)
			condition = fmt.Sprintf("%s >= $%d AND %s < $%d", fieldName, argPosition, fieldName, argPosition+1)
			args = []interface{}{floor, ceiling}
			newArgPosition = argPosition + 2
			return
		}
		if timeVal, ok := f.Value.(time.Time); ok {
			tsVal := TimestampValue{Time: timeVal, Precision: getDatePrecisionFromTime(timeVal)}
			floor, ceiling := computeTimestampRange(tsVal)
			condition = fmt.Sprintf("%s >= $%d AND %s < $%d", fieldName, argPosition, fieldName, argPosition+1)
			args = []interface{}{floor, ceiling}
			newArgPosition = argPosition + 2
			return
		}

		condition = fmt.Sprintf("%s = $%d", fieldName, argPosition)
		args = []interface{}{extractValueForSQL(f.Value)}
		newArgPosition = argPosition + 1

	case OpNotEqual:
		condition = fmt.Sprintf("%s != $%d", fieldName, argPosition)
		args = []interface{}{extractValueForSQL(f.Value)}
		newArgPosition = argPosition + 1

	case OpGreaterThan:
		condition = fmt.Sprintf("%s > $%d", fieldName, argPosition)
		args = []interface{}{extractValueForSQL(f.Value)}
		newArgPosition = argPosition + 1

	case OpGreaterThanOrEqual:
		condition = fmt.Sprintf("%s >= $%d", fieldName, argPosition)
		args = []interface{}{extractValueForSQL(f.Value)}
		newArgPosition = argPosition + 1

	case OpLessThan:
		condition = fmt.Sprintf("%s < $%d", fieldName, argPosition)
		args = []interface{}{extractValueForSQL(f.Value)}
		newArgPosition = argPosition + 1

	case OpLessThanOrEqual:
		condition = fmt.Sprintf("%s <= $%d", fieldName, argPosition)
		args = []interface{}{extractValueForSQL(f.Value)}
		newArgPosition = argPosition + 1

	case OpLike:
		condition = fmt.Sprintf("%s LIKE $%d", fieldName, argPosition)
		args = []interface{}{extractValueForSQL(f.Value)}
		newArgPosition = argPosition + 1

	case OpILike:
		condition = fmt.Sprintf("%s ILIKE $%d", fieldName, argPosition)
		args = []interface{}{extractValueForSQL(f.Value)}
		newArgPosition = argPosition + 1

	case OpIn:
		if len(f.Values) > 0 {
			if isStringArray(f.Values) {
				condition = fmt.Sprintf("%s = ANY($%d)", fieldName, argPosition)
				args = []interface{}{pq.Array(convertToStringArray(f.Values))}
			} else {
				placeholders := make([]string, len(f.Values))
				args = make([]interface{}, len(f.Values))
				for i, val := range f.Values {
					placeholders[i] = fmt.Sprintf("$%d", argPosition+i)
					args[i] = extractValueForSQL(val)
				}
				condition = fmt.Sprintf("%s IN (%s)", fieldName, strings.Join(placeholders, ", "))
			}
			newArgPosition = argPosition + len(f.Values)
		}

	case OpBetween:
		if len(f.Values) == 2 {
			condition = fmt.Sprintf("%s BETWEEN $%d AND $%d", fieldName, argPosition, argPosition+1)
			args = []interface{}{extractValueForSQL(f.Values[0]), extractValueForSQL(f.Values[1])}
			newArgPosition = argPosition + 2
		}

	case OpIsNull:
		condition = fmt.Sprintf("%s IS NULL", fieldName)
		args = []interface{}{}
		newArgPosition = argPosition

	case OpIsNotNull:
		condition = fmt.Sprintf("%s IS NOT NULL", fieldName)
		args = []interface{}{}
		newArgPosition = argPosition

	default:
		return "", nil, argPosition
	}

	return condition, args, newArgPosition
}

// BuildWithOptions builds filter conditions and includes sorting options.
// It validates both filters and sort options, returning an error if either is invalid.
func BuildWithOptions(filters *QueryFilterSet, table string, alias string, startArgPos int, opts *QueryOptions) (*BuildResult, error) {
	// First build the filter conditions
	result, err := Build(filters, table, alias, startArgPos)
	if err != nil {
		return nil, err
	}

	order := SortDesc
	sortBy := ""
	if opts != nil {
		order = opts.DefaultSortOrder()
		sortBy = opts.SortBy
		if sortBy != "" {
			if err := ValidateSortField(sortBy, table); err != nil {
				return nil, err
			}
		}
	}
	result.OrderBy = BuildOrderBy(sortBy, order, table, alias)

	return result, nil
}

// ResolveSortField maps a requested sort field to a safe column name.
// It returns only string literals from a switch; user input selects which constant to return.
// This breaks the taint chain for static analyzers.
func ResolveSortField(table, sortBy string) string {
	normalized := strings.ToLower(strings.TrimSpace(sortBy))
	if normalized == "" {
		return GetDefaultSortField(table)
	}
	allowed := GetValidFieldsForTable(table)
	if allowed == nil || !allowed[normalized] {
		return GetDefaultSortField(table)
	}
	return safeColumnForSort(table, normalized)
}

// safeColumnForTableAndField maps a field name to a safe column name using only string literals.
// Returns empty string for unknown fields to break the taint chain for static analyzers.
func safeColumnForTableAndField(table, logicalName string) string {
	switch table {
	case "queue_items":
		switch logicalName {
		case "item_id":
			return "item_id"
		case "import_id":
			return "import_id"
		case "row_number":
			return "row_number"
		case "partner_tax_id":
			return "partner_tax_id"
		case "partner_id":
			return "partner_id"
		case "partner_name":
			return "partner_name"
		case "payment_date":
			return "payment_date"
		case "memo":
			return "memo"
		case "amount":
			return "amount"
		case "priority":
			return "priority"
		case "status":
			return "status"
		case "attempts":
			return "attempts"
		case "scheduled_at":
			return "scheduled_at"
		case "last_error":
			return "last_error"
		case "receipt_id":
			return "receipt_id"
		case "processing_time_ms":
			return "processing_time_ms"
		case "created_at":
			return "created_at"
		case "updated_at":
			return "updated_at"
		}
	case "import_batches":
		switch logicalName {
		case "import_id":
			return "import_id"
		case "file_name":
			return "file_name"
		case "source":
			return "source"
		case "status":
			return "status"
		case "total_items":
			return "total_items"
		case "processed_items":
			return "processed_items"
		case "success_count":
			return "success_count"
		case "failed_count":
			return "failed_count"
		case "skipped_count":
			return "skipped_count"
		case "started_at":
			return "started_at"
		case "completed_at":
			return "completed_at"
		case "created_at":
			return "created_at"
		case "updated_at":
			return "updated_at"
		}
	}
	return ""
}

// safeColumnForSort returns a safe column for sorting, with fallback to default.
func safeColumnForSort(table, logicalName string) string {
	if col := safeColumnForTableAndField(table, logicalName); col != "" {
		return col
	}
	return GetDefaultSortField(table)
}

// BuildOrderBy constructs an ORDER BY clause using only safe, constant column names.
func BuildOrderBy(sortBy string, sortOrder SortOrder, table string, alias string) string {
	safeField := ResolveSortField(table, sortBy)
	fieldName := safeField
	if alias != "" {
		fieldName = fmt.Sprintf("%s.%s", alias, safeField)
	}

	direction := "DESC"
	if sortOrder == SortAsc {
		direction = "ASC"
	}

	return fmt.Sprintf("%s %s", fieldName, direction)
}
