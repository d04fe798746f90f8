package ics

import (
	"fmt"
	"io"

	ical "github.com/arran4/golang-ical"

	"vtzcal/internal/vtimezone"
)

// DefaultProductID is the PRODID of calendars written by vtzcal.
const DefaultProductID = "-//vtzcal//VTIMEZONE export//EN"

// Encoder writes VTIMEZONE trees as an iCalendar object.
type Encoder interface {
	Encode(w io.Writer, zones ...*vtimezone.Timezone) error
	// EncodeCalendar writes zones followed by already parsed components,
	// such as the events of merged feeds.
	EncodeCalendar(w io.Writer, zones []*vtimezone.Timezone, comps []ical.Component) error
}

const (
	EncoderGolangICal = "golang-ical"
	EncoderGoICal     = "go-ical"
)

// NewEncoder returns the encoder registered under name; "" selects
// golang-ical.
func NewEncoder(name, productID string) (Encoder, error) {
	if productID == "" {
		productID = DefaultProductID
	}
	switch name {
	case "", EncoderGolangICal:
		return &GolangICalEncoder{ProductID: productID}, nil
	case EncoderGoICal:
		return &GoICalEncoder{ProductID: productID}, nil
	default:
		return nil, fmt.Errorf("ics: unknown encoder %q", name)
	}
}

// GolangICalEncoder renders through github.com/arran4/golang-ical.
type GolangICalEncoder struct {
	ProductID string
}

func (e *GolangICalEncoder) Encode(w io.Writer, zones ...*vtimezone.Timezone) error {
	return e.EncodeCalendar(w, zones, nil)
}

func (e *GolangICalEncoder) EncodeCalendar(w io.Writer, zones []*vtimezone.Timezone, comps []ical.Component) error {
	cal := ical.NewCalendar()
	cal.SetProductId(e.ProductID)
	for _, tz := range zones {
		cal.Components = append(cal.Components, NewVTimezone(tz))
	}
	cal.Components = append(cal.Components, comps...)
	_, err := io.WriteString(w, cal.Serialize())
	return err
}

// NewVTimezone converts a tree into a golang-ical component, ready to be
// appended to any calendar's Components.
func NewVTimezone(tz *vtimezone.Timezone) *ical.VTimezone {
	vtz := &ical.VTimezone{}
	vtz.AddProperty(ical.ComponentProperty(ical.PropertyTzid), tz.TZID)

	for _, obs := range tz.Observances {
		var sub *ical.ComponentBase
		if obs.Kind == vtimezone.Daylight {
			d := &ical.Daylight{}
			vtz.Components = append(vtz.Components, d)
			sub = &d.ComponentBase
		} else {
			s := &ical.Standard{}
			vtz.Components = append(vtz.Components, s)
			sub = &s.ComponentBase
		}

		sub.AddProperty(ical.ComponentProperty(ical.PropertyTzname), obs.Name)
		sub.AddProperty(ical.ComponentProperty(ical.PropertyDtstart), obs.Start.ICS())
		sub.AddProperty(ical.ComponentProperty(ical.PropertyTzoffsetfrom), vtimezone.FormatOffset(obs.OffsetFrom))
		sub.AddProperty(ical.ComponentProperty(ical.PropertyTzoffsetto), vtimezone.FormatOffset(obs.OffsetTo))
		for _, rd := range obs.RDates {
			sub.AddProperty(ical.ComponentProperty(ical.PropertyRdate), rd.ICS())
		}
	}
	return vtz
}
