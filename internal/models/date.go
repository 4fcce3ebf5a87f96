package models

import (
	"fmt"
	"time"
)

// DateLayout is the ISO calendar date format used for reservation windows.
const DateLayout = "2006-01-02"

// MaxStartDay keeps start_at + N months on the same day of month for every month length.
const MaxStartDay = 28

// MaxYear is the last year a Date can hold in its four-digit form.
const MaxYear = 9999

// Date is a calendar day in YYYY-MM-DD form. The zero value "" means unbounded
// where a window allows it. ISO dates order correctly as strings.
type Date string

// ParseDate validates s as a YYYY-MM-DD calendar date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date(t.Format(DateLayout)), nil
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

// Time returns midnight UTC of d.
func (d Date) Time() time.Time {
	t, _ := time.Parse(DateLayout, string(d))
	return t
}

// Year returns the calendar year.
func (d Date) Year() int { return d.Time().Year() }

// Day returns the day of month.
func (d Date) Day() int { return d.Time().Day() }

// AddMonths adds calendar months keeping the day of month. Callers guarantee Day() <= MaxStartDay.
// ok is false when the result would pass MaxYear.
func (d Date) AddMonths(months int) (Date, bool) {
	t := d.Time().AddDate(0, months, 0)
	if t.Year() > MaxYear {
		return "", false
	}
	return DateOf(t), true
}

// IsZero reports whether d is the unbounded marker.
func (d Date) IsZero() bool { return d == "" }

func (d Date) String() string { return string(d) }

// Before reports d < other.
func (d Date) Before(other Date) bool { return d < other }
