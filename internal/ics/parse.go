package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "vtzcal/internal/log"
	"vtzcal/internal/model"
)

// Document is a parsed feed with its VTIMEZONE blocks removed; those are
// rebuilt from the time zone database on export.
type Document struct {
	Feed Feed

	// Components holds every top-level component except VTIMEZONE, in
	// feed order.
	Components []ical.Component

	// Events holds the zone-relevant view of each VEVENT that has a
	// usable DTSTART.
	Events []model.Event

	DroppedTimezones int
}

// Locator resolves TZID parameters to locations. *tzdb.Database
// implements it.
type Locator interface {
	Location(tzid string) (*time.Location, error)
}

type runtimeLocator struct{}

func (runtimeLocator) Location(tzid string) (*time.Location, error) {
	return time.LoadLocation(tzid)
}

// ParseFeed parses one iCalendar payload. Local times are interpreted
// with zones from src, or from the runtime database when src is nil.
func ParseFeed(feed Feed, body []byte, src Locator) (*Document, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feed.ID, err)
	}

	doc := &Document{Feed: feed}
	if src == nil {
		src = runtimeLocator{}
	}
	locs := &locationCache{src: src, locs: make(map[string]*time.Location)}

	for _, comp := range cal.Components {
		switch c := comp.(type) {
		case *ical.VTimezone:
			doc.DroppedTimezones++
			continue
		case *ical.VEvent:
			ev, err := parseVEvent(feed, c, locs)
			if err != nil {
				appLog.Warn("vevent has no usable start; exported without zone usage", "id", feed.ID, "uid", ev.UID, "cause", err)
			} else {
				doc.Events = append(doc.Events, ev)
			}
		}
		doc.Components = append(doc.Components, comp)
	}

	appLog.Debug("feed parsed", "id", feed.ID, "components", len(doc.Components), "events", len(doc.Events), "dropped_vtimezones", doc.DroppedTimezones)
	return doc, nil
}

func parseVEvent(feed Feed, ve *ical.VEvent, locs *locationCache) (model.Event, error) {
	ev := model.Event{SourceID: feed.ID}
	var haveStart, haveEnd bool

	for _, p := range ve.Properties {
		tzid := firstParam(p.ICalParameters, "TZID")
		if tzid != "" {
			ev.TZIDs = appendUnique(ev.TZIDs, tzid)
		}

		switch strings.ToUpper(p.IANAToken) {
		case string(ical.PropertyUid):
			ev.UID = p.Value
		case string(ical.PropertySummary):
			ev.Summary = p.Value
		case string(ical.PropertyDtstart):
			t, allDay, err := parseICSTime(p.Value, tzid, locs)
			if err != nil {
				return ev, fmt.Errorf("DTSTART: %w", err)
			}
			ev.Start, ev.AllDay, haveStart = t, allDay || isDateValue(p.ICalParameters), true
		case string(ical.PropertyDtend):
			if t, _, err := parseICSTime(p.Value, tzid, locs); err == nil {
				ev.End, haveEnd = t, true
			}
		case string(ical.PropertyRrule):
			ev.RawRRule = p.Value
		case string(ical.PropertyRdate):
			ev.RDates = append(ev.RDates, parseTimeList(p.Value, tzid, locs)...)
		case string(ical.PropertyExdate):
			ev.ExDates = append(ev.ExDates, parseTimeList(p.Value, tzid, locs)...)
		}
	}

	if !haveStart {
		return ev, errors.New("missing DTSTART")
	}
	if !haveEnd || ev.End.Before(ev.Start) {
		ev.End = ev.Start
		if ev.AllDay {
			ev.End = ev.Start.AddDate(0, 0, 1)
		}
	}
	return ev, nil
}

func firstParam(params map[string][]string, name string) string {
	if vs := params[name]; len(vs) > 0 {
		return strings.Trim(vs[0], `"`)
	}
	return ""
}

func isDateValue(params map[string][]string) bool {
	return strings.EqualFold(firstParam(params, "VALUE"), "DATE")
}

func appendUnique(list []string, s string) []string {
	for _, have := range list {
		if have == s {
			return list
		}
	}
	return append(list, s)
}

// parseTimeList parses a comma-separated RDATE/EXDATE value. PERIOD
// values contribute their start.
func parseTimeList(v, tzid string, locs *locationCache) []time.Time {
	var out []time.Time
	for _, part := range strings.Split(v, ",") {
		part, _, _ = strings.Cut(strings.TrimSpace(part), "/")
		if part == "" {
			continue
		}
		if t, _, err := parseICSTime(part, tzid, locs); err == nil {
			out = append(out, t)
		}
	}
	return out
}

type locationCache struct {
	src  Locator
	locs map[string]*time.Location
}

// get resolves tzid once per feed. Unknown ids map to UTC; the export
// pads usage windows to absorb the difference.
func (c *locationCache) get(tzid string) *time.Location {
	if tzid == "" {
		return time.UTC
	}
	if loc, ok := c.locs[tzid]; ok {
		return loc
	}
	loc, err := c.src.Location(tzid)
	if err != nil {
		appLog.Debug("unresolved TZID; using UTC", "tzid", tzid, "cause", err)
		loc = time.UTC
	}
	c.locs[tzid] = loc
	return loc
}

// parseICSTime parses DATE, floating DATE-TIME and UTC DATE-TIME values.
func parseICSTime(v, tzid string, locs *locationCache) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, false, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	case strings.Contains(v, "T"):
		t, err := time.ParseInLocation("20060102T150405", v, locs.get(tzid))
		return t, false, err
	default:
		t, err := time.ParseInLocation("20060102", v, locs.get(tzid))
		return t, true, err
	}
}
