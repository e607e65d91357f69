package filter

import (
	"fmt"
)

func isStringArray(values []interface{}) bool {
	for _, v := range values {
		if _, ok := v.(string); !ok {
			return false
		}
	}
	return true
}

func convertToStringArray(values []interface{}) []string {
	result := make([]string, len(values))
	for i, v := range values {
		result[i] = fmt.Sprintf("%v", v)
	}
	return result
}

func extractValueForSQL(value interface{}) interface{} {
	if tsVal, ok := value.(TimestampValue); ok {
		return tsVal.Time
	}
	return value
}
