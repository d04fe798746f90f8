package tzdb

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Custom zone file format:
//
//	zones:
//	  - name: Example/Fixed
//	    abbrev: EXF
//	    offset: 5h30m
//	  - name: Example/Island
//	    transitions:
//	      - at: 2020-03-29T01:00:00Z
//	        offset: "+01:00"
//	        dst: true
//	        abbrev: ISST
//
// Offsets are kept as raw YAML nodes until the zone is looked up, so a bad
// definition only fails the zones that use it.

type customFile struct {
	Zones []zoneDef `yaml:"zones"`
}

type zoneDef struct {
	Name        string          `yaml:"name"`
	Abbrev      string          `yaml:"abbrev"`
	Offset      yaml.Node       `yaml:"offset"`
	Transitions []transitionDef `yaml:"transitions"`
}

type transitionDef struct {
	At     time.Time `yaml:"at"`
	Offset yaml.Node `yaml:"offset"`
	DST    bool      `yaml:"dst"`
	Abbrev string    `yaml:"abbrev"`
}

// LoadCustomFile reads custom zone definitions from a YAML file.
func (db *Database) LoadCustomFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return db.LoadCustom(f)
}

// LoadCustom reads custom zone definitions. Definitions replace any
// earlier ones with the same name.
func (db *Database) LoadCustom(r io.Reader) error {
	var file customFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("tzdb: decode custom zones: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	db.initLocked()
	for _, def := range file.Zones {
		if def.Name == "" {
			return errors.New("tzdb: custom zone without name")
		}
		db.custom[def.Name] = def
		delete(db.cache, def.Name)
	}
	return nil
}

func (def zoneDef) zone() (Zone, error) {
	if len(def.Transitions) == 0 {
		off, err := parseOffsetNode(def.Name, "offset", &def.Offset)
		if err != nil {
			return nil, err
		}
		abbrev := def.Abbrev
		if abbrev == "" {
			abbrev = def.Name
		}
		return &Static{ZoneName: def.Name, Abbrev: abbrev, Offset: off}, nil
	}

	history := make([]Transition, 0, len(def.Transitions))
	for i, td := range def.Transitions {
		off, err := parseOffsetNode(def.Name, fmt.Sprintf("transitions[%d].offset", i), &td.Offset)
		if err != nil {
			return nil, err
		}
		if td.Abbrev == "" {
			return nil, fmt.Errorf("tzdb: zone %q: transitions[%d] has no abbrev", def.Name, i)
		}
		history = append(history, Transition{
			At:     td.At.UTC(),
			Offset: off,
			IsDST:  td.DST,
			Abbrev: td.Abbrev,
		})
	}
	slices.SortStableFunc(history, func(a, b Transition) int { return a.At.Compare(b.At) })
	return &Dynamic{ZoneName: def.Name, Transitions: history}, nil
}

func parseOffsetNode(zone, field string, n *yaml.Node) (time.Duration, error) {
	if n.Kind == 0 {
		return 0, fmt.Errorf("tzdb: zone %q: %s is missing", zone, field)
	}
	if n.Kind != yaml.ScalarNode {
		return 0, &OffsetTypeError{Zone: zone, Field: field, Got: nodeKind(n.Kind)}
	}
	switch tag := n.ShortTag(); tag {
	case "!!str":
		off, err := ParseOffset(n.Value)
		if err != nil {
			return 0, fmt.Errorf("tzdb: zone %q: %s: %w", zone, field, err)
		}
		return off, nil
	case "!!null":
		return 0, fmt.Errorf("tzdb: zone %q: %s is missing", zone, field)
	default:
		return 0, &OffsetTypeError{Zone: zone, Field: field, Got: strings.TrimPrefix(tag, "!!")}
	}
}

func nodeKind(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}

// ParseOffset accepts a Go duration ("5h30m", "-3h") or a signed clock
// offset ("+05:30", "-0800", "+01:00:30").
func ParseOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty offset")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	orig := s

	sign := time.Duration(1)
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		sign = -1
		s = s[1:]
	default:
		return 0, fmt.Errorf("invalid offset %q", orig)
	}

	digits := strings.ReplaceAll(s, ":", "")
	if len(digits) != 4 && len(digits) != 6 {
		return 0, fmt.Errorf("invalid offset %q", orig)
	}
	var parts [3]int
	for i := 0; i*2 < len(digits); i++ {
		v, err := strconv.Atoi(digits[i*2 : i*2+2])
		if err != nil {
			return 0, fmt.Errorf("invalid offset %q", orig)
		}
		parts[i] = v
	}
	if parts[1] >= 60 || parts[2] >= 60 {
		return 0, fmt.Errorf("invalid offset %q", orig)
	}
	d := time.Duration(parts[0])*time.Hour + time.Duration(parts[1])*time.Minute + time.Duration(parts[2])*time.Second
	return sign * d, nil
}
