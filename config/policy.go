package config

import (
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Circulation policy knobs. All env-tunable with fixed defaults so a bare
// deployment behaves like the standard library desk rules.
//
// - LOAN_PERIOD_DAYS (default 14)
// - FINE_RATE_PER_DAY (default "5", decimal)
// - RENEWAL_OVERDUE_GRACE_DAYS (default 3)
// - RESERVATION_HOLD_HOURS (default 48)
// - RECONCILE_INTERVAL_SECONDS (default 30, clamped to 10..60)
// - RESERVE_WHILE_AVAILABLE (default false)

func LoanPeriod() time.Duration {
	days := intFromEnv("LOAN_PERIOD_DAYS", 14)
	if days <= 0 {
		days = 14
	}
	return time.Duration(days) * 24 * time.Hour
}

func FineRatePerDay() decimal.Decimal {
	raw := strings.TrimSpace(os.Getenv("FINE_RATE_PER_DAY"))
	if raw == "" {
		return decimal.NewFromInt(5)
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil || rate.IsNegative() {
		return decimal.NewFromInt(5)
	}
	return rate
}

// RenewalOverdueGrace is how far past due a loan may be and still be renewed.
func RenewalOverdueGrace() time.Duration {
	days := intFromEnv("RENEWAL_OVERDUE_GRACE_DAYS", 3)
	if days < 0 {
		days = 3
	}
	return time.Duration(days) * 24 * time.Hour
}

// ReservationHoldPeriod is how long a promoted reservation is held for its
// user before the reconciler expires it.
func ReservationHoldPeriod() time.Duration {
	hours := intFromEnv("RESERVATION_HOLD_HOURS", 48)
	if hours <= 0 {
		hours = 48
	}
	return time.Duration(hours) * time.Hour
}

func ReconcileInterval() time.Duration {
	secs := intFromEnv("RECONCILE_INTERVAL_SECONDS", 30)
	if secs < 10 {
		secs = 10
	}
	if secs > 60 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}

// ReserveWhileAvailable allows a waitlist entry on a title that still has its
// copy on the shelf. Off means reservations require the title to be checked
// out.
func ReserveWhileAvailable() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("RESERVE_WHILE_AVAILABLE")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
