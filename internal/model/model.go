package model

import "time"

// Event is the part of a VEVENT that decides which time zones an export
// must describe, and over which dates.
type Event struct {
	SourceID string // feed ID from config
	UID      string

	Summary string

	AllDay bool

	// Start / End in the event's own zone. Values whose TZID the zone
	// database cannot resolve are read as UTC; callers pad windows accordingly.
	Start time.Time
	End   time.Time

	// TZIDs lists every TZID parameter found on the event, deduplicated,
	// in order of appearance.
	TZIDs []string

	RawRRule string
	RDates   []time.Time
	ExDates  []time.Time
}

// Usage is the span of instants for which local times in one zone occur
// in an export.
type Usage struct {
	TZID   string
	First  time.Time
	Last   time.Time
	Events int
}
