// Package vtimezone builds the VTIMEZONE component tree for a zone, limited
// to the observances needed to interpret local times within a window.
package vtimezone

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vtzcal/internal/datetime"
	"vtzcal/internal/tzdb"
)

// Kind is the observance sub-component type.
type Kind int

const (
	Standard Kind = iota
	Daylight
)

func (k Kind) String() string {
	if k == Daylight {
		return "DAYLIGHT"
	}
	return "STANDARD"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Observance is one STANDARD or DAYLIGHT sub-component.
type Observance struct {
	Kind       Kind             `json:"kind"`
	Name       string           `json:"tzname"`
	Start      datetime.Value   `json:"dtstart"`
	OffsetFrom time.Duration    `json:"-"`
	OffsetTo   time.Duration    `json:"-"`
	RDates     []datetime.Value `json:"rdate,omitempty"`
}

// MarshalJSON renders offsets in their iCalendar form.
func (o *Observance) MarshalJSON() ([]byte, error) {
	type plain Observance
	return json.Marshal(struct {
		*plain
		OffsetFrom string `json:"tzoffsetfrom"`
		OffsetTo   string `json:"tzoffsetto"`
	}{(*plain)(o), FormatOffset(o.OffsetFrom), FormatOffset(o.OffsetTo)})
}

// Timezone is the root VTIMEZONE component.
type Timezone struct {
	TZID        string        `json:"tzid"`
	Observances []*Observance `json:"observances"`
}

// StaticStart is the DTSTART of the single observance emitted for
// fixed-offset zones.
var StaticStart = datetime.Naive(1601, time.January, 1, 0, 0, 0)

// Window bounds the instants whose local times must be interpretable.
// A zero bound means "now".
type Window struct {
	First time.Time
	Last  time.Time
}

// BuildConfig controls Build.
type BuildConfig struct {
	Window

	// Now supplies the instant used for zero window bounds. It is read at
	// most once per build. If nil, time.Now is used.
	Now func() time.Time
}

func (cfg BuildConfig) bounds() (time.Time, time.Time) {
	first, last := cfg.First, cfg.Last
	if first.IsZero() || last.IsZero() {
		now := time.Now()
		if cfg.Now != nil {
			now = cfg.Now()
		}
		if first.IsZero() {
			first = now
		}
		if last.IsZero() {
			last = now
		}
	}
	return first, last
}

// ErrInvertedWindow is returned when the window ends before it starts.
var ErrInvertedWindow = errors.New("vtimezone: window end is before start")

// OffsetError reports an offset that cannot be rendered as a UTC offset.
type OffsetError struct {
	Zone   string
	Abbrev string
	Offset time.Duration
}

func (e *OffsetError) Error() string {
	return fmt.Sprintf("vtimezone: zone %q (%s): offset %v is not a whole-second duration under 24h", e.Zone, e.Abbrev, e.Offset)
}

// Lookuper resolves zone names; *tzdb.Database implements it.
type Lookuper interface {
	Lookup(name string) (tzdb.Zone, error)
}

// BuildNamed looks up name and builds its VTIMEZONE.
func BuildNamed(db Lookuper, name string, cfg BuildConfig) (*Timezone, error) {
	zone, err := db.Lookup(name)
	if err != nil {
		return nil, err
	}
	return Build(zone, cfg)
}

// Build returns the VTIMEZONE tree for zone.
//
// Static zones yield one STANDARD observance starting at StaticStart and
// ignore the window. For dynamic zones every transition from the one in
// effect at cfg.First through the first one after cfg.Last is rendered,
// grouped by abbreviation: the first transition of each abbreviation
// becomes an observance, later ones become its RDATEs. Same-named
// transitions are assumed to share offsets.
func Build(zone tzdb.Zone, cfg BuildConfig) (*Timezone, error) {
	switch z := zone.(type) {
	case *tzdb.Static:
		return buildStatic(z)
	case *tzdb.Dynamic:
		first, last := cfg.bounds()
		if last.Before(first) {
			return nil, fmt.Errorf("%w: %s < %s", ErrInvertedWindow, last.Format(time.RFC3339), first.Format(time.RFC3339))
		}
		return buildDynamic(z, first, last)
	case nil:
		return nil, errors.New("vtimezone: nil zone")
	default:
		return nil, fmt.Errorf("vtimezone: unsupported zone type %T", zone)
	}
}

func buildStatic(z *tzdb.Static) (*Timezone, error) {
	if err := checkOffset(z.ZoneName, z.Abbrev, z.Offset); err != nil {
		return nil, err
	}
	return &Timezone{
		TZID: z.ZoneName,
		Observances: []*Observance{{
			Kind:       Standard,
			Name:       z.ZoneName,
			Start:      StaticStart,
			OffsetFrom: z.Offset,
			OffsetTo:   z.Offset,
		}},
	}, nil
}

func buildDynamic(z *tzdb.Dynamic, first, last time.Time) (*Timezone, error) {
	trs := z.Transitions
	if len(trs) == 0 {
		return nil, fmt.Errorf("vtimezone: zone %q has no transitions", z.ZoneName)
	}

	lo, hi := transitionRange(trs, first, last)

	tz := &Timezone{TZID: z.ZoneName}
	byName := make(map[string]*Observance)

	for i := lo; i <= hi; i++ {
		tr := trs[i]
		if err := checkOffset(z.ZoneName, tr.Abbrev, tr.Offset); err != nil {
			return nil, err
		}
		start := localStart(tr)

		if obs, ok := byName[tr.Abbrev]; ok {
			obs.RDates = append(obs.RDates, start)
			continue
		}

		// The first transition of a history has nothing before it.
		from := tr.Offset
		if i > 0 {
			from = trs[i-1].Offset
			if err := checkOffset(z.ZoneName, trs[i-1].Abbrev, from); err != nil {
				return nil, err
			}
		}

		kind := Standard
		if tr.IsDST {
			kind = Daylight
		}
		obs := &Observance{
			Kind:       kind,
			Name:       tr.Abbrev,
			Start:      start,
			OffsetFrom: from,
			OffsetTo:   tr.Offset,
		}
		byName[tr.Abbrev] = obs
		tz.Observances = append(tz.Observances, obs)
	}

	return tz, nil
}

// transitionRange returns the inclusive index range [lo, hi]: lo is the
// latest transition strictly before first (index 0 if none), hi the
// earliest transition strictly after last (the final index if none).
func transitionRange(trs []tzdb.Transition, first, last time.Time) (lo, hi int) {
	lo, hi = 0, len(trs)-1
	loAt, hiAt := trs[lo].At, trs[hi].At
	for i, tr := range trs {
		if tr.At.After(loAt) && tr.At.Before(first) {
			lo, loAt = i, tr.At
		}
		if tr.At.Before(hiAt) && tr.At.After(last) {
			hi, hiAt = i, tr.At
		}
	}
	return lo, hi
}

// localStart is the wall clock at which tr takes effect, in tr's own offset.
func localStart(tr tzdb.Transition) datetime.Value {
	return datetime.Floating(tr.At.UTC().Add(tr.Offset))
}

func checkOffset(zone, abbrev string, off time.Duration) error {
	if off%time.Second != 0 || off <= -24*time.Hour || off >= 24*time.Hour {
		return &OffsetError{Zone: zone, Abbrev: abbrev, Offset: off}
	}
	return nil
}

// FormatOffset renders an offset as an iCalendar UTC-OFFSET (±HHMM, or
// ±HHMMSS when seconds are present).
func FormatOffset(off time.Duration) string {
	sign := '+'
	if off < 0 {
		sign = '-'
		off = -off
	}
	secs := int(off / time.Second)
	h, m, s := secs/3600, secs/60%60, secs%60
	if s != 0 {
		return fmt.Sprintf("%c%02d%02d%02d", sign, h, m, s)
	}
	return fmt.Sprintf("%c%02d%02d", sign, h, m)
}
