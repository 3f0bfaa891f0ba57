package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Money is an amount in minor currency units (cents).
type Money int64

// ParseMoney parses an integer amount of minor units. Fractional input is
// rejected instead of rounded.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, Invalid("price", "is required")
	}
	if strings.ContainsAny(s, ".eE") {
		return 0, Invalid("price", "must be an integer number of minor units")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, Invalid("price", "must be an integer number of minor units")
	}
	return Money(v), nil
}

// MoneyFromJSON parses a JSON number holding minor units.
func MoneyFromJSON(n json.Number) (Money, error) {
	return ParseMoney(n.String())
}

// String renders the amount as major.minor, e.g. 10050 -> "100.50".
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}
