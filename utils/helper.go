package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// RoundMoney rounds a currency amount to 2 decimal places, half away from
// zero. Every amount crossing a persistence or comparison boundary goes
// through here so 0.005 never flips direction depending on call site.
// decimal.Round already rounds half away from zero.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// SameMoney compares two amounts at the 2-decimal boundary.
func SameMoney(a, b decimal.Decimal) bool {
	return RoundMoney(a).Equal(RoundMoney(b))
}

func DereferencePtr[T any](ptr *T) T {
	var zero T
	if ptr == nil {
		return zero
	}
	return *ptr
}

func Ptr[T any](v T) *T {
	return &v
}

func UniqueSlice[T comparable](input []T) []T {
	seen := make(map[T]struct{}, len(input))
	result := make([]T, 0, len(input))
	for _, v := range input {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

func SplitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
