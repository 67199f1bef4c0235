package schema

import (
	"fmt"
	"time"
)

// Date is a UTC calendar day. Daily buckets are keyed by the trade's
// execution date, never by processing time.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf truncates a timestamp to its UTC calendar day.
func DateOf(ts time.Time) Date {
	ts = ts.UTC()
	return Date{Year: ts.Year(), Month: ts.Month(), Day: ts.Day()}
}

// DateOfUnixNano truncates an epoch-nanosecond timestamp to its UTC day.
func DateOfUnixNano(ns int64) Date {
	return DateOf(time.Unix(0, ns))
}

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// Next returns the following calendar day.
func (d Date) Next() Date {
	return DateOf(d.Time().AddDate(0, 0, 1))
}

// Before reports whether d is earlier than other.
func (d Date) Before(other Date) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}
