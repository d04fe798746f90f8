package ics

import (
	"errors"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	appLog "vtzcal/internal/log"
	"vtzcal/internal/model"
)

const defaultMaxOccurrences = 5000

// UsageConfig controls how far recurring events are followed.
type UsageConfig struct {
	// Horizon caps recurrence expansion; open-ended rules are followed up
	// to this instant.
	Horizon time.Time

	// Pad widens every window on both sides. Times whose TZID the zone
	// database does not know were read as UTC, so this should be at least a day.
	Pad time.Duration

	// MaxOccurrences bounds expansion per event. Zero means 5000.
	MaxOccurrences int
}

// Usages returns, per referenced TZID, the span of instants the events
// occupy, sorted by TZID.
func Usages(events []model.Event, cfg UsageConfig) ([]model.Usage, error) {
	if cfg.Horizon.IsZero() {
		return nil, errors.New("usage: horizon is required")
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxOccurrences
	}

	byTZID := make(map[string]*model.Usage)
	for _, ev := range events {
		if len(ev.TZIDs) == 0 {
			continue
		}
		first, last := eventSpan(ev, cfg)
		for _, tzid := range ev.TZIDs {
			u, ok := byTZID[tzid]
			if !ok {
				byTZID[tzid] = &model.Usage{TZID: tzid, First: first, Last: last, Events: 1}
				continue
			}
			if first.Before(u.First) {
				u.First = first
			}
			if last.After(u.Last) {
				u.Last = last
			}
			u.Events++
		}
	}

	out := make([]model.Usage, 0, len(byTZID))
	for _, u := range byTZID {
		u.First = u.First.Add(-cfg.Pad)
		u.Last = u.Last.Add(cfg.Pad)
		out = append(out, *u)
	}
	slices.SortFunc(out, func(a, b model.Usage) int {
		switch {
		case a.TZID < b.TZID:
			return -1
		case a.TZID > b.TZID:
			return 1
		}
		return 0
	})
	return out, nil
}

// eventSpan is [start, end] for single events. For recurring events the
// end is that of the last occurrence at or before the horizon.
func eventSpan(ev model.Event, cfg UsageConfig) (time.Time, time.Time) {
	first, last := ev.Start, ev.End
	for _, t := range ev.RDates {
		if t.Before(first) {
			first = t
		}
	}

	if ev.RawRRule == "" && len(ev.RDates) == 0 {
		return first, last
	}

	set, err := recurrenceSet(ev)
	if err != nil {
		appLog.Error("usage: failed to parse RRULE; using DTSTART only", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return first, last
	}

	occ := set.Between(ev.Start.Add(-time.Nanosecond), cfg.Horizon, true)
	if len(occ) > cfg.MaxOccurrences {
		appLog.Warn("usage: occurrence cap reached", "uid", ev.UID, "cap", cfg.MaxOccurrences)
		occ = occ[:cfg.MaxOccurrences]
	}
	if len(occ) > 0 {
		if end := occ[len(occ)-1].Add(ev.End.Sub(ev.Start)); end.After(last) {
			last = end
		}
	}
	return first, last
}

func recurrenceSet(ev model.Event) (*rrule.Set, error) {
	set := &rrule.Set{}
	if ev.RawRRule != "" {
		r, err := rrule.StrToRRule(ev.RawRRule)
		if err != nil {
			return nil, err
		}
		r.DTStart(ev.Start)
		set.RRule(r)
	}
	for _, t := range ev.RDates {
		set.RDate(t)
	}
	for _, t := range ev.ExDates {
		set.ExDate(t.In(ev.Start.Location()))
	}
	return set, nil
}
