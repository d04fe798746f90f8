package tzdb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// DefaultDirs are the usual zoneinfo locations on Unix systems.
var DefaultDirs = []string{
	"/usr/share/zoneinfo",
	"/usr/lib/zoneinfo",
	"/usr/share/lib/zoneinfo",
}

// DefaultUntil bounds transitions generated from POSIX footer rules.
var DefaultUntil = time.Date(2038, time.January, 1, 0, 0, 0, 0, time.UTC)

// Database resolves zone names against, in order, custom definitions,
// TZif files under Dirs and the Go runtime's own tzdata. The zero value
// searches no directories and extends footer rules up to DefaultUntil.
type Database struct {
	Dirs  []string
	Until time.Time

	mu     sync.RWMutex
	custom map[string]zoneDef
	cache  map[string]Zone
}

func New(dirs []string, until time.Time) *Database {
	if until.IsZero() {
		until = DefaultUntil
	}
	return &Database{
		Dirs:   dirs,
		Until:  until,
		custom: make(map[string]zoneDef),
		cache:  make(map[string]Zone),
	}
}

// initLocked allocates the maps of a zero Database. db.mu must be held
// for writing.
func (db *Database) initLocked() {
	if db.custom == nil {
		db.custom = make(map[string]zoneDef)
	}
	if db.cache == nil {
		db.cache = make(map[string]Zone)
	}
}

func (db *Database) until() time.Time {
	if db.Until.IsZero() {
		return DefaultUntil
	}
	return db.Until
}

// Lookup returns the zone called name.
func (db *Database) Lookup(name string) (Zone, error) {
	if name == "" || name == "Local" || !filepath.IsLocal(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownZone, name)
	}

	db.mu.RLock()
	z, ok := db.cache[name]
	def, isCustom := db.custom[name]
	db.mu.RUnlock()
	if ok {
		return z, nil
	}

	var err error
	switch {
	case isCustom:
		z, err = def.zone()
	default:
		z, err = db.loadFile(name)
		if errors.Is(err, fs.ErrNotExist) {
			z, err = db.loadRuntime(name)
		}
	}
	if err != nil {
		return nil, err
	}

	db.mu.Lock()
	db.initLocked()
	db.cache[name] = z
	db.mu.Unlock()
	return z, nil
}

func (db *Database) loadFile(name string) (Zone, error) {
	for _, dir := range db.Dirs {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
		if err != nil {
			continue
		}
		if !isTZif(data) {
			continue
		}
		z, err := FromTZif(name, data, db.until())
		if err != nil {
			return nil, fmt.Errorf("tzdb: %s in %s: %w", name, dir, err)
		}
		return z, nil
	}
	return nil, fs.ErrNotExist
}

func (db *Database) loadRuntime(name string) (Zone, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownZone, name)
	}
	return FromLocation(loc, db.until()), nil
}

// FromTZif builds a zone from TZif data. Transitions past the last
// explicit record are generated from the footer rule up to until.
func FromTZif(name string, data []byte, until time.Time) (Zone, error) {
	tz, err := parseTZif(data)
	if err != nil {
		return nil, err
	}
	history := tz.history()

	if tz.footer != "" {
		if loc, err := time.LoadLocationFromTZData(name, data); err == nil {
			after := history[len(history)-1].At
			if len(history) == 1 {
				after = time.Unix(0, 0)
			}
			history = append(history, walkBounds(loc, history[len(history)-1], after, until)...)
		}
	}

	if len(history) == 1 {
		return &Static{ZoneName: name, Abbrev: history[0].Abbrev, Offset: history[0].Offset}, nil
	}
	return &Dynamic{ZoneName: name, Transitions: history}, nil
}

// FromLocation enumerates the transitions of a runtime location.
func FromLocation(loc *time.Location, until time.Time) Zone {
	early := time.Date(1800, time.January, 1, 0, 0, 0, 0, time.UTC).In(loc)
	abbrev, off := early.Zone()
	history := []Transition{{
		At:     BeginningOfTime,
		Offset: time.Duration(off) * time.Second,
		IsDST:  early.IsDST(),
		Abbrev: abbrev,
	}}
	history = append(history, walkBounds(loc, history[0], early, until)...)

	if len(history) == 1 {
		return &Static{ZoneName: loc.String(), Abbrev: abbrev, Offset: history[0].Offset}
	}
	return &Dynamic{ZoneName: loc.String(), Transitions: history}
}

// walkBounds follows ZoneBounds from after (exclusive) up to until and
// keeps the bounds where the local time type differs from prev.
//
// For rule-based periods the runtime also reports bounds at year ends, and
// close to a year end it can report an end that is not after t. Neither is
// a transition: the first is dropped as a repeat of prev, the second is
// stepped over an hour at a time.
func walkBounds(loc *time.Location, prev Transition, after, until time.Time) []Transition {
	var out []Transition
	t := after.In(loc)
	for t.Before(until) {
		_, end := t.ZoneBounds()
		if end.IsZero() {
			return out
		}
		if !end.After(t) {
			next := t.Add(time.Hour)
			end = next
			if start, _ := next.ZoneBounds(); start.After(t) && !start.After(next) {
				end = start
			}
		}
		if end.After(until) {
			return out
		}

		t = end.In(loc)
		abbrev, off := t.Zone()
		tr := Transition{
			At:     t.UTC(),
			Offset: time.Duration(off) * time.Second,
			IsDST:  t.IsDST(),
			Abbrev: abbrev,
		}
		if sameType(tr, prev) {
			continue
		}
		out = append(out, tr)
		prev = tr
	}
	return out
}

// sameType reports whether a and b switch to the same local time type.
func sameType(a, b Transition) bool {
	return a.Offset == b.Offset && a.IsDST == b.IsDST && a.Abbrev == b.Abbrev
}

// Names lists zones found under Dirs plus custom zones, sorted.
func (db *Database) Names() ([]string, error) {
	var names []string
	for _, dir := range db.Dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == dir && errors.Is(err, fs.ErrNotExist) {
					return fs.SkipDir
				}
				return err
			}
			rel, _ := filepath.Rel(dir, path)
			rel = filepath.ToSlash(rel)
			if d.IsDir() {
				if rel == "posix" || rel == "right" {
					return fs.SkipDir
				}
				return nil
			}
			if rel == "localtime" || rel == "posixrules" || strings.HasPrefix(rel, ".") {
				return nil
			}
			if ok, _ := hasTZifMagic(path); ok {
				names = append(names, rel)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("tzdb: walk %s: %w", dir, err)
		}
	}

	db.mu.RLock()
	for name := range db.custom {
		names = append(names, name)
	}
	db.mu.RUnlock()

	slices.Sort(names)
	return slices.Compact(names), nil
}

func hasTZifMagic(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := f.Read(magic); err != nil {
		return false, err
	}
	return isTZif(magic), nil
}
