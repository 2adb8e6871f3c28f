package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestComputeFine(t *testing.T) {
	due := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	rate := decimal.NewFromInt(5)

	cases := []struct {
		name string
		ref  time.Time
		rate decimal.Decimal
		want string
	}{
		{"returned early", due.Add(-48 * time.Hour), rate, "0"},
		{"returned at the due instant", due, rate, "0"},
		{"one minute late owes a full day", due.Add(time.Minute), rate, "5"},
		{"exactly one day late", due.Add(24 * time.Hour), rate, "5"},
		{"one day and one second rounds to two", due.Add(24*time.Hour + time.Second), rate, "10"},
		// 14-day loan returned on day 20: six days over.
		{"six days overdue", due.Add(6 * 24 * time.Hour), rate, "30"},
		{"fractional rate", due.Add(3 * 24 * time.Hour), decimal.RequireFromString("2.50"), "7.5"},
		{"zero rate", due.Add(10 * 24 * time.Hour), decimal.Zero, "0"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeFine(due, tc.ref, tc.rate)
			if !got.Equal(decimal.RequireFromString(tc.want)) {
				t.Fatalf("ComputeFine(due, %v, %s) = %s, want %s", tc.ref, tc.rate, got, tc.want)
			}
		})
	}
}

func TestDaysOverdueMatchesFineCeiling(t *testing.T) {
	due := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	rate := decimal.NewFromInt(7)

	for _, over := range []time.Duration{
		0,
		time.Second,
		12 * time.Hour,
		24 * time.Hour,
		36 * time.Hour,
		14 * 24 * time.Hour,
	} {
		ref := due.Add(over)
		days := DaysOverdue(due, ref)
		fine := ComputeFine(due, ref, rate)
		want := rate.Mul(decimal.NewFromInt(days))
		if !fine.Equal(want) {
			t.Fatalf("over=%v: fine %s does not equal rate*days %s (days=%d)", over, fine, want, days)
		}
	}
}

func TestDaysOverdueNeverNegative(t *testing.T) {
	due := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	if got := DaysOverdue(due, due.Add(-30*24*time.Hour)); got != 0 {
		t.Fatalf("expected 0 days for a loan returned a month early, got %d", got)
	}
}
