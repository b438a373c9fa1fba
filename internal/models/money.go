package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money is an amount in BRL cents.
type Money int64

func Reais(v float64) Money { return Money(math.Round(v * 100)) }

func (m Money) Float() float64 { return float64(m) / 100 }

// String renders the amount the way riders see it, e.g. "R$ 1.250,00".
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := strconv.FormatInt(v/100, 10)
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("%sR$ %s,%02d", sign, b.String(), v%100)
}

// ParseMoney accepts "R$ 12,50", "12,50", "1.250,00" and "12.5".
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "R$"))
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Reais(f), nil
}
