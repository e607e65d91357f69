package filter

import "strings"

var operatorNames = map[string]Operator{
	"eq":        OpEqual,
	"ne":        OpNotEqual,
	"neq":       OpNotEqual,
	"gt":        OpGreaterThan,
	"gte":       OpGreaterThanOrEqual,
	"gteq":      OpGreaterThanOrEqual,
	"lt":        OpLessThan,
	"lte":       OpLessThanOrEqual,
	"lteq":      OpLessThanOrEqual,
	"in":        OpIn,
	"between":   OpBetween,
	"like":      OpLike,
	"ilike":     OpILike,
	"isnull":    OpIsNull,
	"isnotnull": OpIsNotNull,
}

func ResolveOperator(s string) Operator {
	return operatorNames[strings.ToLower(s)]
}
