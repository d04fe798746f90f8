package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"vtzcal/internal/ics"
	appLog "vtzcal/internal/log"
	"vtzcal/internal/model"
	"vtzcal/internal/tzdb"
	"vtzcal/internal/vtimezone"
)

// ZoneDB is the part of *tzdb.Database an export needs: zone lookup for
// the rebuilt VTIMEZONEs and locations for reading event times.
type ZoneDB interface {
	vtimezone.Lookuper
	ics.Locator
}

// Exporter merges the configured feeds into one calendar whose VTIMEZONE
// blocks are rebuilt from the time zone database.
type Exporter struct {
	Fetcher *ics.Fetcher
	DB      ZoneDB
	Feeds   []ics.Feed

	// Encoder writes the merged calendar. If nil, golang-ical is used
	// with ProductID.
	Encoder   ics.Encoder
	ProductID string

	// Horizon and Backfill bound usage windows around the run time.
	Horizon  time.Duration
	Backfill time.Duration
	// Pad widens every usage window on both sides.
	Pad time.Duration

	// Now is read once per run. If nil, time.Now is used.
	Now func() time.Time

	mu   sync.RWMutex
	last *Result
}

// Result is the outcome of one run.
type Result struct {
	Bytes       []byte
	GeneratedAt time.Time

	Feeds  int
	Events int
	// Zones lists the TZIDs described by the export, sorted.
	Zones []string
	// Skipped lists referenced TZIDs the database does not know.
	Skipped []string
	// FeedErrors holds fetch and parse failures of individual feeds.
	FeedErrors []error
}

// Last returns the most recent successful result, or nil.
func (e *Exporter) Last() *Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// Run fetches, parses and merges every feed. Individual feed failures are
// tolerated as long as one feed succeeds; zone build failures other than
// unknown zones abort the run.
func (e *Exporter) Run(ctx context.Context) (*Result, error) {
	if e.Fetcher == nil || e.DB == nil {
		return nil, errors.New("export: fetcher and database are required")
	}
	now := time.Now()
	if e.Now != nil {
		now = e.Now()
	}
	now = now.UTC()

	res := &Result{GeneratedAt: now}

	fetched, errs := e.Fetcher.FetchAll(ctx, e.Feeds)
	res.FeedErrors = append(res.FeedErrors, errs...)

	var docs []*ics.Document
	var events []model.Event
	for _, f := range fetched {
		doc, err := ics.ParseFeed(f.Feed, f.Body, e.DB)
		if err != nil {
			appLog.Error("feed parse failed", err, "id", f.Feed.ID)
			res.FeedErrors = append(res.FeedErrors, err)
			continue
		}
		docs = append(docs, doc)
		events = append(events, doc.Events...)
	}
	if len(docs) == 0 && len(e.Feeds) > 0 {
		return nil, fmt.Errorf("export: no feed could be loaded: %w", errors.Join(res.FeedErrors...))
	}
	res.Feeds = len(docs)
	res.Events = len(events)

	usages, err := ics.Usages(events, ics.UsageConfig{Horizon: now.Add(e.Horizon), Pad: e.Pad})
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	var zones []*vtimezone.Timezone
	for _, u := range usages {
		first, last := clamp(u, now.Add(-e.Backfill))
		tz, err := vtimezone.BuildNamed(e.DB, u.TZID, vtimezone.BuildConfig{
			Window: vtimezone.Window{First: first, Last: last},
			Now:    func() time.Time { return now },
		})
		if errors.Is(err, tzdb.ErrUnknownZone) {
			appLog.Warn("export: unknown TZID skipped", "tzid", u.TZID, "events", u.Events)
			res.Skipped = append(res.Skipped, u.TZID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("export: %s: %w", u.TZID, err)
		}
		zones = append(zones, tz)
		res.Zones = append(res.Zones, u.TZID)
	}

	var comps []ical.Component
	for _, doc := range docs {
		for _, comp := range doc.Components {
			if ve, ok := comp.(*ical.VEvent); ok {
				ensureUID(ve)
				ensureStamp(ve, now)
			}
			comps = append(comps, comp)
		}
	}

	enc := e.Encoder
	if enc == nil {
		productID := e.ProductID
		if productID == "" {
			productID = ics.DefaultProductID
		}
		enc = &ics.GolangICalEncoder{ProductID: productID}
	}
	var buf bytes.Buffer
	if err := enc.EncodeCalendar(&buf, zones, comps); err != nil {
		return nil, fmt.Errorf("export: encode: %w", err)
	}
	res.Bytes = buf.Bytes()

	e.mu.Lock()
	e.last = res
	e.mu.Unlock()

	appLog.Info("export finished",
		"feeds", res.Feeds,
		"events", res.Events,
		"zones", len(res.Zones),
		"skipped", len(res.Skipped),
		"bytes", len(res.Bytes),
	)
	return res, nil
}

// clamp raises the window start to lower. Windows lying entirely before
// lower collapse onto their end so the zone is still described.
func clamp(u model.Usage, lower time.Time) (time.Time, time.Time) {
	first, last := u.First, u.Last
	if first.Before(lower) {
		first = lower
	}
	if first.After(last) {
		first = last
	}
	return first, last
}

func ensureUID(ve *ical.VEvent) {
	if p := ve.GetProperty(ical.ComponentProperty(ical.PropertyUid)); p != nil && p.Value != "" {
		return
	}
	ve.SetProperty(ical.ComponentProperty(ical.PropertyUid), uuid.NewString())
}

// ensureStamp fills in a missing DTSTAMP with the run time.
func ensureStamp(ve *ical.VEvent, now time.Time) {
	if p := ve.GetProperty(ical.ComponentProperty(ical.PropertyDtstamp)); p != nil && p.Value != "" {
		return
	}
	ve.SetProperty(ical.ComponentProperty(ical.PropertyDtstamp), now.UTC().Format("20060102T150405Z"))
}

// WriteFile writes the export atomically with 0600 permissions.
func (r *Result) WriteFile(path string) error {
	if path == "" {
		return errors.New("export: output path is empty")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".vtzcal-export-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(r.Bytes); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
