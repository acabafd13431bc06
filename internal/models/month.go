package models

import "time"

// MonthBucket returns the first day of the month containing t, in UTC.
// All ledger and quota records group under this date.
func MonthBucket(t time.Time) time.Time {
	utc := t.UTC()
	return time.Date(utc.Year(), utc.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// PreviousMonthBucket returns the first day of the month preceding bucket.
func PreviousMonthBucket(bucket time.Time) time.Time {
	return MonthBucket(bucket.AddDate(0, 0, -1))
}

// SameMonth reports whether two timestamps fall in the same month bucket.
func SameMonth(a, b time.Time) bool {
	return MonthBucket(a).Equal(MonthBucket(b))
}
