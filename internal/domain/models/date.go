package models

import "time"

const (
	DateLayout   = "2006-01-02"
	ExpiryLayout = "02-Jan-2006"
)

// DateOf returns t's calendar date as UTC midnight.
func DateOf(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// YearsToExpiry returns calendar days between the observation date and expiry over 365,
// floored at zero.
func YearsToExpiry(observedAt, expiry time.Time) float64 {
	days := DateOf(expiry).Sub(DateOf(observedAt.UTC())).Hours() / 24
	if days <= 0 {
		return 0
	}
	return days / 365
}
