package filter

import (
	"fmt"
	"net/url"
	"strings"
	"testing"
)

func TestResolveOperator(t *testing.T) {
	tests := []struct {
		input    string
		expected Operator
	}{
		{"eq", OpEqual},
		{"EQ", OpEqual},
		{"ne", OpNotEqual},
		{"neq", OpNotEqual},
		{"gt", OpGreaterThan},
		{"gte", OpGreaterThanOrEqual},
		{"gteq", OpGreaterThanOrEqual},
		{"lt", OpLessThan},
		{"lte", OpLessThanOrEqual},
		{"lteq", OpLessThanOrEqual},
		{"in", OpIn},
		{"between", OpBetween},
		{"like", OpLike},
		{"ilike", OpILike},
		{"isnull", OpIsNull},
		{"isnotnull", OpIsNotNull},
		{"invalid", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := ResolveOperator(tt.input)
			if result != tt.expected {
				t.Errorf("ResolveOperator(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestParseFromQuery(t *testing.T) {
	t.Run("parses basic equality filter", func(t *testing.T) {
		params := url.Values{"status_eq": {"failed"}}
		result := ParseFromQuery(params, nil)

		if len(result.Errors) > 0 {
			t.Fatalf("unexpected errors: %v", result.Errors)
		}
		if len(result.Filters.Filters) != 1 {
			t.Fatalf("expected 1 filter, got %d", len(result.Filters.Filters))
		}

		f := result.Filters.Filters[0]
		if f.Field != "status" || f.Operator != OpEqual || f.Value != "failed" {
			t.Errorf("unexpected filter: %+v", f)
		}
	})

	t.Run("parses IN operator with multiple values", func(t *testing.T) {
		params := url.Values{"status_in": {"failed,skipped,done"}}
		result := ParseFromQuery(params, nil)

		if len(result.Errors) > 0 {
			t.Fatalf("unexpected errors: %v", result.Errors)
		}

		f := result.Filters.Filters[0]
		if f.Operator != OpIn || len(f.Values) != 3 {
			t.Errorf("expected IN with 3 values, got: %+v", f)
		}
	})

	t.Run("parses BETWEEN operator", func(t *testing.T) {
		params := url.Values{"amount_between": {"100|500"}}
		result := ParseFromQuery(params, nil)

		if len(result.Errors) > 0 {
			t.Fatalf("unexpected errors: %v", result.Errors)
		}

		f := result.Filters.Filters[0]
		if f.Operator != OpBetween || len(f.Values) != 2 {
			t.Errorf("expected BETWEEN with 2 values, got: %+v", f)
		}
	})

	t.Run("returns error for invalid BETWEEN format", func(t *testing.T) {
		params := url.Values{"amount_between": {"100"}}
		result := ParseFromQuery(params, nil)

		if len(result.Errors) != 1 {
			t.Fatalf("expected 1 error, got %d", len(result.Errors))
		}
		if result.Errors[0].Param != "amount_between" {
			t.Errorf("expected error for amount_between, got: %s", result.Errors[0].Param)
		}
	})

	t.Run("skips reserved parameters", func(t *testing.T) {
		params := url.Values{
			"limit":     {"10"},
			"offset":    {"0"},
			"sort_by":   {"created_at"},
			"status_eq": {"failed"},
		}
		result := ParseFromQuery(params, nil)

		if len(result.Filters.Filters) != 1 {
			t.Errorf("expected 1 filter (reserved params skipped), got %d", len(result.Filters.Filters))
		}
	})

	t.Run("enforces max filters limit", func(t *testing.T) {
		params := url.Values{}
		for i := 0; i < 25; i++ {
			params[fmt.Sprintf("field%d_eq", i)] = []string{"value"}
		}

		opts := &ParseOptions{MaxFilters: 5}
		result := ParseFromQuery(params, opts)

		if len(result.Filters.Filters) > 5 {
			t.Errorf("expected max 5 filters, got %d", len(result.Filters.Filters))
		}
	})

	t.Run("enforces max IN values limit", func(t *testing.T) {
		values := make([]string, 150)
		for i := range values {
			values[i] = "val"
		}
		params := url.Values{"status_in": {strings.Join(values, ",")}}

		opts := &ParseOptions{MaxInValues: 100}
		result := ParseFromQuery(params, opts)

		if len(result.Errors) != 1 {
			t.Errorf("expected 1 error for exceeding IN values, got %d", len(result.Errors))
		}
	})

	t.Run("parses underscore fields correctly", func(t *testing.T) {
		params := url.Values{"created_at_gte": {"2024-01-01"}}
		result := ParseFromQuery(params, nil)

		if len(result.Errors) > 0 {
			t.Fatalf("unexpected errors: %v", result.Errors)
		}

		f := result.Filters.Filters[0]
		if f.Field != "created_at" || f.Operator != OpGreaterThanOrEqual {
			t.Errorf("expected field=created_at, op=gte, got: %+v", f)
		}
	})

	t.Run("handles isnull operator", func(t *testing.T) {
		params := url.Values{"receipt_id_isnull": {"true"}}
		result := ParseFromQuery(params, nil)

		if len(result.Errors) > 0 {
			t.Fatalf("unexpected errors: %v", result.Errors)
		}

		f := result.Filters.Filters[0]
		if f.Operator != OpIsNull {
			t.Errorf("expected OpIsNull, got: %s", f.Operator)
		}
	})
}

func TestValidate(t *testing.T) {
	t.Run("validates known fields for queue_items", func(t *testing.T) {
		filters := &QueryFilterSet{
			Filters: []QueryFilter{
				{Field: "status", Operator: OpEqual, Value: "failed"},
				{Field: "attempts", Operator: OpGreaterThan, Value: 2},
			},
		}

		err := Validate(filters, "queue_items")
		if err != nil {
			t.Errorf("expected no error, got: %v", err)
		}
	})

	t.Run("validates known fields for import_batches", func(t *testing.T) {
		filters := &QueryFilterSet{
			Filters: []QueryFilter{
				{Field: "source", Operator: OpEqual, Value: "api"},
				{Field: "failed_count", Operator: OpGreaterThan, Value: 0},
			},
		}

		err := Validate(filters, "import_batches")
		if err != nil {
			t.Errorf("expected no error, got: %v", err)
		}
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		filters := &QueryFilterSet{
			Filters: []QueryFilter{
				{Field: "unknown_field", Operator: OpEqual, Value: "test"},
			},
		}

		err := Validate(filters, "queue_items")
		if err == nil {
			t.Error("expected error for unknown field")
		}
	})

	t.Run("rejects batch fields on queue_items", func(t *testing.T) {
		filters := &QueryFilterSet{
			Filters: []QueryFilter{
				{Field: "total_items", Operator: OpEqual, Value: 5},
			},
		}

		err := Validate(filters, "queue_items")
		if err == nil {
			t.Error("expected error for batch field on queue_items")
		}
	})

	t.Run("rejects unsupported table", func(t *testing.T) {
		filters := &QueryFilterSet{
			Filters: []QueryFilter{
				{Field: "any", Operator: OpEqual, Value: "test"},
			},
		}

		err := Validate(filters, "unknown_table")
		if err == nil {
			t.Error("expected error for unsupported table")
		}
	})

	t.Run("returns nil for nil filters", func(t *testing.T) {
		err := Validate(nil, "queue_items")
		if err != nil {
			t.Errorf("expected nil for nil filters, got: %v", err)
		}
	})
}

func TestValidateSortField(t *testing.T) {
	t.Run("allows any filterable field for sorting", func(t *testing.T) {
		fields := []string{"status", "amount", "attempts", "created_at", "row_number", "partner_tax_id"}
		for _, field := range fields {
			err := ValidateSortField(field, "queue_items")
			if err != nil {
				t.Errorf("expected %s to be sortable, got error: %v", field, err)
			}
		}
	})

	t.Run("rejects non-filterable field", func(t *testing.T) {
		err := ValidateSortField("nonexistent_field", "queue_items")
		if err == nil {
			t.Error("expected error for non-filterable field")
		}
	})

	t.Run("allows empty sort field", func(t *testing.T) {
		err := ValidateSortField("", "queue_items")
		if err != nil {
			t.Errorf("expected no error for empty sort field, got: %v", err)
		}
	})

	t.Run("rejects unsupported table", func(t *testing.T) {
		err := ValidateSortField("any_field", "unknown_table")
		if err == nil {
			t.Error("expected error for unsupported table")
		}
	})
}

func TestValidateSortByForTable(t *testing.T) {
	t.Run("returns nil for nil opts", func(t *testing.T) {
		err := ValidateSortByForTable(nil, "import_batches")
		if err != nil {
			t.Errorf("expected no error for nil opts, got: %v", err)
		}
	})

	t.Run("returns nil for empty sort_by", func(t *testing.T) {
		opts := &QueryOptions{SortBy: ""}
		err := ValidateSortByForTable(opts, "import_batches")
		if err != nil {
			t.Errorf("expected no error for empty sort_by, got: %v", err)
		}
	})

	t.Run("allows valid field and normalizes to lowercase", func(t *testing.T) {
		opts := &QueryOptions{SortBy: "Created_At"}
		err := ValidateSortByForTable(opts, "import_batches")
		if err != nil {
			t.Errorf("expected no error for valid field, got: %v", err)
		}
		if opts.SortBy != "created_at" {
			t.Errorf("expected SortBy normalized to created_at, got: %q", opts.SortBy)
		}
	})

	t.Run("rejects invalid field", func(t *testing.T) {
		opts := &QueryOptions{SortBy: "evil_field"}
		err := ValidateSortByForTable(opts, "import_batches")
		if err == nil {
			t.Error("expected error for invalid field")
		}
	})

	t.Run("rejects SQL injection attempt", func(t *testing.T) {
		opts := &QueryOptions{SortBy: "'; DROP TABLE queue_items;--"}
		err := ValidateSortByForTable(opts, "queue_items")
		if err == nil {
			t.Error("expected error for SQL injection attempt")
		}
	})

	t.Run("validates against correct table", func(t *testing.T) {
		opts := &QueryOptions{SortBy: "attempts"}
		err := ValidateSortByForTable(opts, "queue_items")
		if err != nil {
			t.Errorf("attempts is valid for queue_items, got: %v", err)
		}

		opts2 := &QueryOptions{SortBy: "attempts"}
		err2 := ValidateSortByForTable(opts2, "import_batches")
		if err2 == nil {
			t.Error("attempts is invalid for import_batches, expected error")
		}
	})
}

func TestGetValidFieldsForTable(t *testing.T) {
	tests := []struct {
		table          string
		expectedFields []string
	}{
		{"queue_items", []string{"item_id", "import_id", "status", "attempts", "amount", "partner_tax_id", "scheduled_at"}},
		{"import_batches", []string{"import_id", "file_name", "source", "status", "failed_count", "completed_at"}},
	}

	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			fields := GetValidFieldsForTable(tt.table)
			for _, f := range tt.expectedFields {
				if !fields[f] {
					t.Errorf("expected field %s to be valid for table %s", f, tt.table)
				}
			}
		})
	}

	t.Run("returns empty for unknown table", func(t *testing.T) {
		fields := GetValidFieldsForTable("unknown")
		if len(fields) != 0 {
			t.Errorf("expected empty map for unknown table, got %d fields", len(fields))
		}
	})
}

func TestBuild(t *testing.T) {
	t.Run("builds equality condition", func(t *testing.T) {
		filters := &QueryFilterSet{
			Filters: []QueryFilter{
				{Field: "status", Operator: OpEqual, Value: "failed"},
			},
		}

		result, err := Build(filters, "queue_items", "q", 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(result.Conditions) != 1 {
			t.Fatalf("expected 1 condition, got %d", len(result.Conditions))
		}
		if result.Conditions[0] != "q.status = $1" {
			t.Errorf("unexpected condition: %s", result.Conditions[0])
		}
		if len(result.Args) != 1 || result.Args[0] != "failed" {
			t.Errorf("unexpected args: %v", result.Args)
		}
	})

	t.Run("builds multiple conditions", func(t *testing.T) {
		filters := &QueryFilterSet{
			Filters: []QueryFilter{
				{Field: "status", Operator: OpEqual, Value: "failed"},
				{Field: "attempts", Operator: OpGreaterThan, Value: int64(2)},
			},
		}

		result, err := Build(filters, "queue_items", "q", 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(result.Conditions) != 2 {
			t.Fatalf("expected 2 conditions, got %d", len(result.Conditions))
		}
		if result.NextArgPos != 3 {
			t.Errorf("expected NextArgPos=3, got %d", result.NextArgPos)
		}
	})

	t.Run("builds BETWEEN condition", func(t *testing.T) {
		filters := &QueryFilterSet{
			Filters: []QueryFilter{
				{Field: "amount", Operator: OpBetween, Values: []interface{}{100, 500}},
			},
		}

		result, err := Build(filters, "queue_items", "", 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if result.Conditions[0] != "amount BETWEEN $1 AND $2" {
			t.Errorf("unexpected condition: %s", result.Conditions[0])
		}
	})

	t.Run("builds IN condition with string array", func(t *testing.T) {
		// String slices take the pq.Array / ANY($1) fast path, one arg, one placeholder.
		filters := &QueryFilterSet{
			Filters: []QueryFilter{
				{Field: "status", Operator: OpIn, Values: []interface{}{"failed", "skipped"}},
			},
		}

		result, err := Build(filters, "queue_items", "", 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if result.Conditions[0] != "status = ANY($1)" {
			t.Errorf("unexpected condition: %s", result.Conditions[0])
		}
		if len(result.Args) != 1 {
			t.Errorf("expected 1 arg (pq.Array), got %d", len(result.Args))
		}
		if result.NextArgPos != 2 {
			t.Errorf("expected NextArgPos=2, got %d", result.NextArgPos)
		}
	})

	t.Run("builds IN condition with non-string values", func(t *testing.T) {
		filters := &QueryFilterSet{
			Filters: []QueryFilter{
				{Field: "attempts", Operator: OpIn, Values: []interface{}{1, 2}},
			},
		}

		result, err := Build(filters, "queue_items", "", 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if result.Conditions[0] != "attempts IN ($1, $2)" {
			t.Errorf("unexpected condition: %s", result.Conditions[0])
		}
		if result.NextArgPos != 3 {
			t.Errorf("expected NextArgPos=3, got %d", result.NextArgPos)
		}
	})

	t.Run("builds IS NULL condition", func(t *testing.T) {
		filters := &QueryFilterSet{
			Filters: []QueryFilter{
				{Field: "receipt_id", Operator: OpIsNull},
			},
		}

		result, err := Build(filters, "queue_items", "q", 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if result.Conditions[0] != "q.receipt_id IS NULL" {
			t.Errorf("unexpected condition: %s", result.Conditions[0])
		}
		if result.NextArgPos != 1 {
			t.Errorf("IS NULL should not consume args, NextArgPos=%d", result.NextArgPos)
		}
	})

	t.Run("expands day-precision equality to a range", func(t *testing.T) {
		params := url.Values{"payment_date_eq": {"2024-03-15"}}
		parsed := ParseFromQuery(params, nil)
		if len(parsed.Errors) > 0 {
			t.Fatalf("unexpected parse errors: %v", parsed.Errors)
		}

		result, err := Build(parsed.Filters, "queue_items", "", 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if result.Conditions[0] != "payment_date >= $1 AND payment_date < $2" {
			t.Errorf("unexpected condition: %s", result.Conditions[0])
		}
		if len(result.Args) != 2 {
			t.Errorf("expected floor and ceiling args, got %d", len(result.Args))
		}
	})

	t.Run("returns empty for nil filters", func(t *testing.T) {
		result, err := Build(nil, "queue_items", "q", 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(result.Conditions) != 0 {
			t.Errorf("expected 0 conditions for nil filters, got %d", len(result.Conditions))
		}
	})

	t.Run("returns error for invalid field", func(t *testing.T) {
		filters := &QueryFilterSet{
			Filters: []QueryFilter{
				{Field: "invalid_field", Operator: OpEqual, Value: "test"},
			},
		}

		_, err := Build(filters, "queue_items", "q", 1)
		if err == nil {
			t.Error("expected error for invalid field")
		}
	})
}

func TestBuildWithOptions(t *testing.T) {
	t.Run("builds with sort options", func(t *testing.T) {
		filters := &QueryFilterSet{
			Filters: []QueryFilter{
				{Field: "status", Operator: OpEqual, Value: "failed"},
			},
		}
		opts := &QueryOptions{SortBy: "amount", SortOrder: SortDesc}

		result, err := BuildWithOptions(filters, "queue_items", "q", 1, opts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if result.OrderBy != "q.amount DESC" {
			t.Errorf("expected 'q.amount DESC', got: %s", result.OrderBy)
		}
	})

	t.Run("uses default sort when no options", func(t *testing.T) {
		result, err := BuildWithOptions(nil, "import_batches", "b", 1, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if result.OrderBy != "b.created_at DESC" {
			t.Errorf("expected default 'b.created_at DESC', got: %s", result.OrderBy)
		}
	})

	t.Run("queue items default to row order", func(t *testing.T) {
		result, err := BuildWithOptions(nil, "queue_items", "", 1, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if result.OrderBy != "row_number DESC" {
			t.Errorf("expected default 'row_number DESC', got: %s", result.OrderBy)
		}
	})

	t.Run("returns error for invalid sort field", func(t *testing.T) {
		opts := &QueryOptions{SortBy: "nonexistent_field"}

		_, err := BuildWithOptions(nil, "queue_items", "q", 1, opts)
		if err == nil {
			t.Error("expected error for invalid sort field")
		}
	})
}

func TestBuildOrderBy(t *testing.T) {
	tests := []struct {
		sortBy    string
		sortOrder SortOrder
		table     string
		alias     string
		expected  string
	}{
		{"created_at", SortDesc, "queue_items", "q", "q.created_at DESC"},
		{"amount", SortAsc, "queue_items", "q", "q.amount ASC"},
		{"status", SortDesc, "queue_items", "", "status DESC"},
		{"file_name", SortAsc, "import_batches", "", "file_name ASC"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := BuildOrderBy(tt.sortBy, tt.sortOrder, tt.table, tt.alias)
			if result != tt.expected {
				t.Errorf("BuildOrderBy(%q, %q, %q, %q) = %q, want %q",
					tt.sortBy, tt.sortOrder, tt.table, tt.alias, result, tt.expected)
			}
		})
	}

	t.Run("falls back to default for invalid sortBy", func(t *testing.T) {
		result := BuildOrderBy("'; DROP TABLE import_batches;--", SortDesc, "import_batches", "")
		if result != "created_at DESC" {
			t.Errorf("expected fallback to created_at DESC for injection attempt, got %q", result)
		}
	})
}

func TestQueryOptionsDefaultSortOrder(t *testing.T) {
	tests := []struct {
		input    SortOrder
		expected SortOrder
	}{
		{"", SortDesc},
		{"invalid", SortDesc},
		{SortAsc, SortAsc},
		{SortDesc, SortDesc},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			opts := &QueryOptions{SortOrder: tt.input}
			result := opts.DefaultSortOrder()
			if result != tt.expected {
				t.Errorf("DefaultSortOrder() = %q, want %q", result, tt.expected)
			}
		})
	}
}
