package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNextAverageCost(t *testing.T) {
	cases := []struct {
		name   string
		oldQty string
		oldAvg string
		inQty  string
		inCost string
		want   string
	}{
		{"first receipt sets the average", "0", "0", "10", "2.50", "2.50"},
		{"equal quantities blend evenly", "10", "2.00", "10", "4.00", "3.00"},
		{"weighting follows quantity", "30", "1.00", "10", "5.00", "2.00"},
		{"rounded to 4 decimals", "3", "1.00", "1", "2.00", "1.25"},
		{"repeating fraction", "1", "1.00", "2", "2.00", "1.6667"},
		{"receipt into negative-free zero keeps incoming cost", "0", "7.00", "5", "3.00", "3.00"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := NextAverageCost(d(c.oldQty), d(c.oldAvg), d(c.inQty), d(c.inCost))
			if !got.Equal(d(c.want)) {
				t.Errorf("NextAverageCost(%s@%s + %s@%s) = %s, want %s",
					c.oldQty, c.oldAvg, c.inQty, c.inCost, got, c.want)
			}
		})
	}
}

func TestNextAverageCost_NonPositiveResultKeepsOldAverage(t *testing.T) {
	got := NextAverageCost(d("-5"), d("2.00"), d("5"), d("9.00"))
	if !got.Equal(d("2.00")) {
		t.Errorf("NextAverageCost with zero resulting qty = %s, want old average 2.00", got)
	}
}
