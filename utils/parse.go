package utils

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseFloatFields splits a whitespace delimited line into floats. Unlike a lenient parse, a token
// that is not a number is an error naming its position within the line.
func ParseFloatFields(line string) ([]float64, error) {
	fields := strings.Fields(line)
	converted := make([]float64, 0, len(fields))
	for i, field := range fields {
		value, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "token %d (%q) is not a number", i+1, field)
		}
		converted = append(converted, value)
	}
	return converted, nil
}

// FormatFloatFields renders values as a single space delimited line, using the shortest
// representation that parses back to the same value.
func FormatFloatFields(values ...float64) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, strconv.FormatFloat(v, 'g', -1, 64))
	}
	return strings.Join(parts, " ")
}
