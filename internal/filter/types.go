package filter

import "time"

// Operator is a comparison applied to one field of a list query.
type Operator string

const (
	OpEqual              Operator = "eq"
	OpNotEqual           Operator = "ne"
	OpGreaterThan        Operator = "gt"
	OpGreaterThanOrEqual Operator = "gte"
	OpLessThan           Operator = "lt"
	OpLessThanOrEqual    Operator = "lte"
	OpIn                 Operator = "in"
	OpBetween            Operator = "between"
	OpLike               Operator = "like"
	OpILike              Operator = "ilike"
	OpIsNull             Operator = "isnull"
	OpIsNotNull          Operator = "isnotnull"
)

// QueryFilter is one parsed field/operator/value triple. Value carries single
// operands, Values the operand lists of in and between.
type QueryFilter struct {
	Field    string        `json:"field"`
	Operator Operator      `json:"operator"`
	Value    interface{}   `json:"value,omitempty"`
	Values   []interface{} `json:"values,omitempty"`
}

// QueryFilterSet is the full set of filters extracted from one request. All
// filters combine with AND.
type QueryFilterSet struct {
	Filters []QueryFilter `json:"filters"`
}

// TimestampValue keeps a parsed timestamp together with the string it came
// from, so equality on a coarse date can expand to the range it covers.
type TimestampValue struct {
	Time      time.Time
	Original  string
	Precision string
}

// SortOrder is the direction of the ORDER BY clause built for a query.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// QueryOptions carries the sorting and count preferences of a list request.
type QueryOptions struct {
	SortBy       string    `json:"sort_by,omitempty"`
	SortOrder    SortOrder `json:"sort_order,omitempty"`
	IncludeCount bool      `json:"include_count,omitempty"`
}

// DefaultSortOrder falls back to descending when the requested order is
// missing or unrecognized. Queue listings read newest first by default.
func (o *QueryOptions) DefaultSortOrder() SortOrder {
	if o.SortOrder != SortAsc && o.SortOrder != SortDesc {
		return SortDesc
	}
	return o.SortOrder
}

// BuildResult is the SQL fragment a filter set compiles to. Conditions join
// with AND into the WHERE clause; NextArgPos is the placeholder index the
// caller should continue from.
type BuildResult struct {
	Conditions []string
	Args       []interface{}
	NextArgPos int
	OrderBy    string
}

// ParseOptions bounds how much filtering one request may ask for. Zero
// fields fall back to the package defaults.
type ParseOptions struct {
	MaxFilters  int
	MaxInValues int
	MaxCharLen  int
}

// ParseError reports one rejected query parameter. Parsing continues past
// bad parameters so a response can name all of them at once.
type ParseError struct {
	Param   string
	Message string
}

// ParseResult is what a parse pass produced: the usable filters plus the
// errors for whatever could not be understood.
type ParseResult struct {
	Filters *QueryFilterSet
	Errors  []ParseError
}
