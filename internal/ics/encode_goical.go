package ics

import (
	"fmt"
	"io"
	"strings"

	ical "github.com/arran4/golang-ical"
	goical "github.com/emersion/go-ical"

	"vtzcal/internal/vtimezone"
)

// GoICalEncoder renders through github.com/emersion/go-ical, whose
// encoder refuses calendars missing VERSION or PRODID.
type GoICalEncoder struct {
	ProductID string
}

func (e *GoICalEncoder) Encode(w io.Writer, zones ...*vtimezone.Timezone) error {
	return e.EncodeCalendar(w, zones, nil)
}

// EncodeCalendar carries comps over by serializing them and decoding the
// result with go-ical. Events therefore need exactly one UID and DTSTAMP.
func (e *GoICalEncoder) EncodeCalendar(w io.Writer, zones []*vtimezone.Timezone, comps []ical.Component) error {
	cal := goical.NewCalendar()
	cal.Props.SetText(goical.PropVersion, "2.0")
	cal.Props.SetText(goical.PropProductID, e.ProductID)

	for _, tz := range zones {
		cal.Children = append(cal.Children, goICalTimezone(tz))
	}

	if len(comps) > 0 {
		src := ical.NewCalendar()
		src.Components = comps
		decoded, err := goical.NewDecoder(strings.NewReader(src.Serialize())).Decode()
		if err != nil {
			return fmt.Errorf("ics: convert components: %w", err)
		}
		cal.Children = append(cal.Children, decoded.Children...)
	}
	return goical.NewEncoder(w).Encode(cal)
}

func goICalTimezone(tz *vtimezone.Timezone) *goical.Component {
	comp := goical.NewComponent(goical.CompTimezone)
	setRaw(comp.Props, goical.PropTimezoneID, tz.TZID)

	for _, obs := range tz.Observances {
		name := goical.CompTimezoneStandard
		if obs.Kind == vtimezone.Daylight {
			name = goical.CompTimezoneDaylight
		}
		sub := goical.NewComponent(name)
		setRaw(sub.Props, goical.PropTimezoneName, obs.Name)
		setRaw(sub.Props, goical.PropDateTimeStart, obs.Start.ICS())
		setRaw(sub.Props, goical.PropTimezoneOffsetFrom, vtimezone.FormatOffset(obs.OffsetFrom))
		setRaw(sub.Props, goical.PropTimezoneOffsetTo, vtimezone.FormatOffset(obs.OffsetTo))
		for _, rd := range obs.RDates {
			p := goical.NewProp(goical.PropRecurrenceDates)
			p.Value = rd.ICS()
			sub.Props.Add(p)
		}
		comp.Children = append(comp.Children, sub)
	}
	return comp
}

// setRaw stores value without text escaping.
func setRaw(props goical.Props, name, value string) {
	p := goical.NewProp(name)
	p.Value = value
	props.Set(p)
}
