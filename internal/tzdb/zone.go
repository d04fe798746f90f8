// Package tzdb is a read-only view of a time zone database: for a named
// zone it yields either a fixed offset or the zone's ordered transition
// history.
package tzdb

import (
	"errors"
	"fmt"
	"time"
)

// BeginningOfTime is the instant of the pseudo-transition that carries the
// local time type in effect before a zone's first recorded transition.
var BeginningOfTime = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)

// ErrUnknownZone is returned (wrapped) when no source knows a zone name.
var ErrUnknownZone = errors.New("tzdb: unknown time zone")

var errBadData = errors.New("tzdb: malformed time zone information")

// Transition is one entry of a zone history.
type Transition struct {
	At     time.Time     // UTC instant the rule takes effect
	Offset time.Duration // UTC offset from At onwards
	IsDST  bool
	Abbrev string
}

// Zone is either *Static or *Dynamic.
type Zone interface {
	Name() string
	zone()
}

// Static is a zone with a single fixed offset and no history.
type Static struct {
	ZoneName string
	Abbrev   string
	Offset   time.Duration
}

func (z *Static) Name() string { return z.ZoneName }
func (*Static) zone()          {}

// Dynamic is a zone with a chronological transition history. Transitions
// must not be modified by callers.
type Dynamic struct {
	ZoneName    string
	Transitions []Transition
}

func (z *Dynamic) Name() string { return z.ZoneName }
func (*Dynamic) zone()          {}

// OffsetTypeError reports a zone definition whose offset is not a duration.
type OffsetTypeError struct {
	Zone  string
	Field string
	Got   string
}

func (e *OffsetTypeError) Error() string {
	return fmt.Sprintf("tzdb: zone %q: %s must be a duration, got %s", e.Zone, e.Field, e.Got)
}
