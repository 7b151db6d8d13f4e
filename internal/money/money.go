package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooManyDecimals = errors.New("amount has too many decimal places")
	ErrOutOfRange      = errors.New("amount out of range")
)

const Symbol = "₹"

// MaxMinor bounds every amount the ledger accepts: one lakh crore rupees.
// Sums of many such amounts stay far from int64 overflow.
const MaxMinor int64 = 100_000_000_000_000

// InRange reports whether |value| <= MaxMinor.
func InRange(value int64) bool {
	return value >= -MaxMinor && value <= MaxMinor
}

// ParseMinor reads a decimal rupee string into paise.
func ParseMinor(input string) (int64, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return 0, ErrInvalidAmount
	}
	sign := int64(1)
	switch trimmed[0] {
	case '-':
		sign = -1
		trimmed = trimmed[1:]
	case '+':
		trimmed = trimmed[1:]
	}
	trimmed = strings.ReplaceAll(trimmed, ",", "")
	whole, frac, _ := strings.Cut(trimmed, ".")
	if whole == "" {
		whole = "0"
	}
	if !isDigits(whole) || !isDigits(frac) {
		return 0, ErrInvalidAmount
	}
	if len(frac) > 2 {
		return 0, ErrTooManyDecimals
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units > MaxMinor/100 {
		return 0, ErrOutOfRange
	}
	paise := int64(0)
	if frac != "" {
		frac += strings.Repeat("0", 2-len(frac))
		paise, _ = strconv.ParseInt(frac, 10, 64)
	}
	value := units*100 + paise
	if value > MaxMinor {
		return 0, ErrOutOfRange
	}
	return sign * value, nil
}

// FormatMinor renders paise as a plain decimal string, e.g. "-1234.50".
func FormatMinor(value int64) string {
	negative := value < 0
	if negative {
		value = -value
	}
	formatted := fmt.Sprintf("%d.%02d", value/100, value%100)
	if negative {
		return "-" + formatted
	}
	return formatted
}

// Display renders an absolute amount with the currency symbol and Indian
// digit grouping, e.g. "₹1,23,456.00".
func Display(value int64) string {
	if value < 0 {
		value = -value
	}
	return Symbol + group(strconv.FormatInt(value/100, 10)) + fmt.Sprintf(".%02d", value%100)
}

func Abs(value int64) int64 {
	if value < 0 {
		return -value
	}
	return value
}

func group(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]
	var parts []string
	for len(head) > 2 {
		parts = append([]string{head[len(head)-2:]}, parts...)
		head = head[:len(head)-2]
	}
	if head != "" {
		parts = append([]string{head}, parts...)
	}
	return strings.Join(parts, ",") + "," + tail
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
