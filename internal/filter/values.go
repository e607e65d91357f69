package filter

import "strconv"

// parseValue types a raw query value: integers and floats stay numeric so
// amount comparisons work, literal true/false become bools, anything that
// parses as a date becomes a TimestampValue carrying its precision, and the
// rest passes through as a string.
func parseValue(value string) interface{} {
	if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
		return intVal
	}

	if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
		return floatVal
	}

	switch value {
	case "true":
		return true
	case "false":
		return false
	}

	if timeVal, err := ParseDateTime(value); err == nil {
		return TimestampValue{
			Time:      timeVal,
			Original:  value,
			Precision: getDatePrecisionFromString(value),
		}
	}

	return value
}
