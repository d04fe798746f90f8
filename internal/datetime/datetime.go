// Package datetime models calendar date-times that are either floating
// (no zone attached, iCalendar "form #1") or bound to a location.
package datetime

import (
	"time"
)

const (
	// LayoutFloating is the iCalendar DATE-TIME form without a zone suffix.
	LayoutFloating = "20060102T150405"
	// LayoutUTC is the iCalendar DATE-TIME form for UTC values.
	LayoutUTC = "20060102T150405Z"
)

// Value is a date-time that may or may not carry a zone.
//
// For naive values only the wall clock fields are meaningful; they are kept
// in a UTC-located time.Time so that arithmetic and comparison never apply
// a zone offset.
type Value struct {
	t     time.Time
	naive bool
}

// Of returns an aware Value for t.
func Of(t time.Time) Value {
	return Value{t: t}
}

// Floating returns a naive Value holding t's wall clock, dropping its zone.
func Floating(t time.Time) Value {
	wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	return Value{t: wall, naive: true}
}

// Naive builds a naive Value from wall clock fields.
func Naive(year int, month time.Month, day, hour, min, sec int) Value {
	return Value{t: time.Date(year, month, day, hour, min, sec, 0, time.UTC), naive: true}
}

// ParseFloating parses a "YYYYMMDDTHHMMSS" value.
func ParseFloating(s string) (Value, error) {
	t, err := time.Parse(LayoutFloating, s)
	if err != nil {
		return Value{}, err
	}
	return Value{t: t, naive: true}, nil
}

// ToNaiveUTC converts an aware value to UTC and strips the zone. Naive
// values are returned unchanged.
func ToNaiveUTC(v Value) Value {
	if v.naive {
		return v
	}
	return Floating(v.t.UTC())
}

func (v Value) IsNaive() bool { return v.naive }

func (v Value) IsZero() bool { return v.t.IsZero() }

// Time returns the underlying time. Naive values come back located in UTC
// and must be read as wall clock only.
func (v Value) Time() time.Time { return v.t }

// Location returns nil for naive values.
func (v Value) Location() *time.Location {
	if v.naive {
		return nil
	}
	return v.t.Location()
}

// Equal reports whether both values are of the same kind and denote the
// same wall clock (naive) or instant (aware).
func (v Value) Equal(o Value) bool {
	if v.naive != o.naive {
		return false
	}
	return v.t.Equal(o.t)
}

// ICS renders the value as an iCalendar DATE-TIME. Aware values are
// rendered in UTC.
func (v Value) ICS() string {
	if v.naive {
		return v.t.Format(LayoutFloating)
	}
	return v.t.UTC().Format(LayoutUTC)
}

func (v Value) String() string {
	if v.naive {
		return v.t.Format("2006-01-02T15:04:05")
	}
	return v.t.Format(time.RFC3339)
}

func (v Value) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}
