package config

import (
	"strconv"
	"strings"
)

type unitDesc struct {
	base   string
	factor float64
}

var units = map[string]unitDesc{
	"d":   {"s", 86400},
	"h":   {"s", 3600},
	"min": {"s", 60},
	"s":   {"s", 1},
	"ms":  {"s", 1e-3},
	"us":  {"s", 1e-6},
	"ns":  {"s", 1e-9},
	"ps":  {"s", 1e-12},
	"fs":  {"s", 1e-15},
}

// ParseQuantity parses a number with an optional measurement unit and
// converts it to expectedUnit. Several terms are summed, so "1h 30min"
// parses as 5400 when expectedUnit is "s". A plain number is taken to be
// in expectedUnit already.
func ParseQuantity(s, expectedUnit string) (float64, error) {
	bad := func() error {
		expected := "a number"
		if expectedUnit != "" {
			expected = "a quantity in " + expectedUnit + ", e.g. 10" + expectedUnit
		}
		return &FormatError{Text: s, Expected: expected}
	}

	rest := strings.TrimSpace(s)
	if rest == "" {
		return 0, bad()
	}
	var (
		total float64
		terms int
	)
	for rest != "" {
		numLen := scanNumber(rest, terms == 0)
		if numLen == 0 {
			return 0, bad()
		}
		num, err := strconv.ParseFloat(rest[:numLen], 64)
		if err != nil {
			return 0, bad()
		}
		rest = strings.TrimLeft(rest[numLen:], " \t")
		unitLen := 0
		for unitLen < len(rest) && isUnitChar(rest[unitLen]) {
			unitLen++
		}
		unit := rest[:unitLen]
		rest = strings.TrimLeft(rest[unitLen:], " \t")

		switch {
		case unit == "" && terms == 0 && rest == "":
			return num, nil
		case unit == "":
			return 0, bad()
		}
		desc, ok := units[unit]
		if !ok || expectedUnit == "" {
			return 0, bad()
		}
		target, ok := units[expectedUnit]
		if !ok || target.base != desc.base {
			return 0, bad()
		}
		total += num * desc.factor / target.factor
		terms++
	}
	return total, nil
}

func scanNumber(s string, allowSign bool) int {
	i := 0
	if allowSign && i < len(s) && (s[i] == '-' || s[i] == '+') {
		i++
	}
	digits := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
			digits++
		}
	}
	if digits == 0 {
		return 0
	}
	if i+1 < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if s[j] == '-' || s[j] == '+' {
			j++
		}
		if j < len(s) && s[j] >= '0' && s[j] <= '9' {
			for j < len(s) && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			i = j
		}
	}
	return i
}

func isUnitChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
