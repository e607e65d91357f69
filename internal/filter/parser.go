package filter

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	defaultMaxFilters  = 20
	defaultMaxInValues = 100
	defaultMaxCharLen  = 1000
)

// splitFilterKey breaks a query param name into its field and operator
// segments. Only the text after the last underscore is a candidate operator,
// so fields with underscores in their own names (tax_id, payment_date,
// last_error) parse correctly. ok is false when the key carries no
// recognized operator suffix, which usually means it is an ordinary query
// param rather than a filter.
func splitFilterKey(key string) (field string, op Operator, ok bool) {
	sep := strings.LastIndex(key, "_")
	if sep <= 0 {
		return "", "", false
	}
	op = ResolveOperator(key[sep+1:])
	if op == "" {
		return "", "", false
	}
	return key[:sep], op, true
}

// buildFilter fills in the filter's value side for one raw query value,
// honoring the operator's arity: between takes a pipe-separated pair, in
// takes a bounded comma-separated list, null checks take nothing.
func buildFilter(field string, op Operator, raw string, maxInValues int) (QueryFilter, error) {
	f := QueryFilter{Field: field, Operator: op}

	switch op {
	case OpBetween:
		pair := strings.Split(raw, "|")
		if len(pair) != 2 {
			return f, fmt.Errorf("between operator requires exactly 2 pipe-separated values (value1|value2)")
		}
		f.Values = []interface{}{parseValue(pair[0]), parseValue(pair[1])}

	case OpIn:
		list := strings.Split(raw, ",")
		if len(list) > maxInValues {
			return f, fmt.Errorf("IN operator exceeds maximum values (%d)", maxInValues)
		}
		f.Values = make([]interface{}, len(list))
		for i, v := range list {
			f.Values[i] = parseValue(strings.TrimSpace(v))
		}

	case OpIsNull, OpIsNotNull:
		// null checks carry no value

	default:
		f.Value = parseValue(raw)
	}
	return f, nil
}

// ParseFromQuery parses URL query parameters of the form field_operator=value
// into a ParseResult. Invalid params produce errors rather than being
// silently dropped; params without a recognized operator suffix are ignored.
func ParseFromQuery(queryParams url.Values, opts *ParseOptions) *ParseResult {
	maxFilters := defaultMaxFilters
	maxInValues := defaultMaxInValues
	maxCharLen := defaultMaxCharLen
	if opts != nil {
		if opts.MaxFilters > 0 {
			maxFilters = opts.MaxFilters
		}
		if opts.MaxInValues > 0 {
			maxInValues = opts.MaxInValues
		}
		if opts.MaxCharLen > 0 {
			maxCharLen = opts.MaxCharLen
		}
	}

	result := &ParseResult{
		Filters: &QueryFilterSet{Filters: make([]QueryFilter, 0)},
		Errors:  make([]ParseError, 0),
	}

	for key, values := range queryParams {
		if len(values) == 0 || isReservedParam(key) {
			continue
		}

		field, op, ok := splitFilterKey(key)
		if !ok {
			continue
		}

		if len(result.Filters.Filters) >= maxFilters {
			result.Errors = append(result.Errors, ParseError{
				Param:   key,
				Message: fmt.Sprintf("exceeded maximum number of filters (%d)", maxFilters),
			})
			continue
		}

		raw := values[0]
		if len(raw) > maxCharLen {
			result.Errors = append(result.Errors, ParseError{
				Param:   key,
				Message: fmt.Sprintf("value exceeds maximum length (%d chars)", maxCharLen),
			})
			continue
		}

		f, err := buildFilter(field, op, raw, maxInValues)
		if err != nil {
			result.Errors = append(result.Errors, ParseError{Param: key, Message: err.Error()})
			continue
		}

		result.Filters.Filters = append(result.Filters.Filters, f)
	}

	return result
}
