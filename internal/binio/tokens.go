package binio

import (
	"strconv"
	"strings"
)

// ParseFloatToken parses one numeric token. A malformed token is not an
// error: it yields zero and ok=false so that slightly damaged text-derived
// coefficient files still load.
func ParseFloatToken(token string) (float64, bool) {
	value, err := strconv.ParseFloat(strings.TrimSpace(token), 64)
	if err != nil {
		return 0, false
	}

	return value, true
}

// ParseFloatTokens splits line on whitespace and commas and parses every
// token with ParseFloatToken. The second result counts malformed tokens.
func ParseFloatTokens(line string) ([]float64, int) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == ';'
	})

	values := make([]float64, len(fields))
	malformed := 0

	for i, field := range fields {
		value, ok := ParseFloatToken(field)
		if !ok {
			malformed++
		}

		values[i] = value
	}

	return values, malformed
}
