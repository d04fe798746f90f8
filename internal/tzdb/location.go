package tzdb

import (
	"fmt"
	"time"
)

// Location returns a runtime location for the zone called name, for
// interpreting wall clock times given in that zone.
func (db *Database) Location(name string) (*time.Location, error) {
	z, err := db.Lookup(name)
	if err != nil {
		return nil, err
	}
	return ToLocation(z)
}

// ToLocation converts z into a *time.Location. Dynamic zones follow their
// transitions only; past the last one the last offset stays in effect.
func ToLocation(z Zone) (*time.Location, error) {
	switch z := z.(type) {
	case *Static:
		return time.FixedZone(z.Abbrev, int(z.Offset/time.Second)), nil
	case *Dynamic:
		data, err := marshalTZif(z.Transitions)
		if err != nil {
			return nil, fmt.Errorf("tzdb: %s: %w", z.ZoneName, err)
		}
		loc, err := time.LoadLocationFromTZData(z.ZoneName, data)
		if err != nil {
			return nil, fmt.Errorf("tzdb: %s: %w", z.ZoneName, err)
		}
		return loc, nil
	default:
		return nil, fmt.Errorf("tzdb: unsupported zone %T", z)
	}
}
