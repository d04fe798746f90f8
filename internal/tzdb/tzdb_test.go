package tzdb

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/go-cmp/cmp"
)

var (
	lmt = localType{offset: -(4*time.Hour + 56*time.Minute + 2*time.Second), abbrev: "LMT"}
	est = localType{offset: -5 * time.Hour, abbrev: "EST"}
	edt = localType{offset: -4 * time.Hour, isDST: true, abbrev: "EDT"}
)

func TestFromTZif_NoTransitionsIsStatic(t *testing.T) {
	data := encodeTZif([]localType{{offset: 5*time.Hour + 30*time.Minute, abbrev: "IST"}}, nil, nil, "IST-5:30")

	z, err := FromTZif("Asia/Kolkata", data, DefaultUntil)
	if err != nil {
		t.Fatalf("FromTZif: %v", err)
	}
	want := &Static{ZoneName: "Asia/Kolkata", Abbrev: "IST", Offset: 5*time.Hour + 30*time.Minute}
	if diff := cmp.Diff(want, z); diff != "" {
		t.Fatalf("zone mismatch (-want +got):\n%s", diff)
	}
}

func TestFromTZif_ExplicitTransitions(t *testing.T) {
	times := []int64{
		time.Date(1883, time.November, 18, 17, 0, 0, 0, time.UTC).Unix(),
		time.Date(1918, time.March, 31, 7, 0, 0, 0, time.UTC).Unix(),
		time.Date(1918, time.October, 27, 6, 0, 0, 0, time.UTC).Unix(),
	}
	data := encodeTZif([]localType{lmt, est, edt}, times, []uint8{1, 2, 1}, "")

	z, err := FromTZif("Test/NewYork", data, DefaultUntil)
	if err != nil {
		t.Fatalf("FromTZif: %v", err)
	}
	dyn, ok := z.(*Dynamic)
	if !ok {
		t.Fatalf("expected *Dynamic, got %T", z)
	}

	want := []Transition{
		{At: BeginningOfTime, Offset: lmt.offset, Abbrev: "LMT"},
		{At: time.Unix(times[0], 0).UTC(), Offset: -5 * time.Hour, Abbrev: "EST"},
		{At: time.Unix(times[1], 0).UTC(), Offset: -4 * time.Hour, IsDST: true, Abbrev: "EDT"},
		{At: time.Unix(times[2], 0).UTC(), Offset: -5 * time.Hour, Abbrev: "EST"},
	}
	if diff := cmp.Diff(want, dyn.Transitions); diff != "" {
		t.Fatalf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestFromTZif_ExtendsFromFooter(t *testing.T) {
	times := []int64{time.Date(2007, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()}
	data := encodeTZif([]localType{lmt, est, edt}, times, []uint8{1}, "EST5EDT,M3.2.0,M11.1.0")
	until := time.Date(2010, time.January, 1, 0, 0, 0, 0, time.UTC)

	z, err := FromTZif("Test/Slim", data, until)
	if err != nil {
		t.Fatalf("FromTZif: %v", err)
	}
	dyn := z.(*Dynamic)

	// pseudo + explicit + 2 per year for 2007..2009
	if got, want := len(dyn.Transitions), 2+6; got != want {
		t.Fatalf("expected %d transitions, got %d: %+v", want, got, dyn.Transitions)
	}
	first := dyn.Transitions[2]
	wantFirst := Transition{
		At:     time.Date(2007, time.March, 11, 7, 0, 0, 0, time.UTC),
		Offset: -4 * time.Hour,
		IsDST:  true,
		Abbrev: "EDT",
	}
	if diff := cmp.Diff(wantFirst, first); diff != "" {
		t.Fatalf("first generated transition mismatch (-want +got):\n%s", diff)
	}
	last := dyn.Transitions[len(dyn.Transitions)-1]
	if !last.At.Equal(time.Date(2009, time.November, 1, 6, 0, 0, 0, time.UTC)) || last.Abbrev != "EST" {
		t.Fatalf("unexpected last transition: %+v", last)
	}
}

// checkHistory verifies that every transition after the first changes the
// local time type and agrees with loc on both sides of the instant.
func checkHistory(t *testing.T, trs []Transition, loc *time.Location) {
	t.Helper()
	for i := 1; i < len(trs); i++ {
		prev, tr := trs[i-1], trs[i]
		if !tr.At.After(prev.At) {
			t.Fatalf("transition %d at %v does not follow %v", i, tr.At, prev.At)
		}
		if sameType(prev, tr) {
			t.Fatalf("transition %d at %v repeats %s %v", i, tr.At, tr.Abbrev, tr.Offset)
		}
		if i == 1 {
			continue
		}
		if abbrev, off := tr.At.In(loc).Zone(); abbrev != tr.Abbrev || time.Duration(off)*time.Second != tr.Offset {
			t.Fatalf("transition %d at %v: location has %s %ds, history has %s %v", i, tr.At, abbrev, off, tr.Abbrev, tr.Offset)
		}
		if _, off := tr.At.Add(-time.Second).In(loc).Zone(); time.Duration(off)*time.Second != prev.Offset {
			t.Fatalf("transition %d at %v: offset before is %ds, want %v", i, tr.At, off, prev.Offset)
		}
	}
}

func TestFromTZif_FooterAcrossManyYears(t *testing.T) {
	times := []int64{time.Date(2007, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()}
	data := encodeTZif([]localType{lmt, est, edt}, times, []uint8{1}, "EST5EDT,M3.2.0,M11.1.0")
	until := time.Date(2040, time.January, 1, 0, 0, 0, 0, time.UTC)

	z, err := FromTZif("Test/Slim", data, until)
	if err != nil {
		t.Fatalf("FromTZif: %v", err)
	}
	trs := z.(*Dynamic).Transitions

	// pseudo + explicit + 2 per year for 2007..2039
	if got, want := len(trs), 2+2*33; got != want {
		t.Fatalf("expected %d transitions, got %d", want, got)
	}
	perYear := make(map[int]int)
	for _, tr := range trs[2:] {
		perYear[tr.At.Year()]++
	}
	for year := 2007; year <= 2039; year++ {
		if perYear[year] != 2 {
			t.Fatalf("expected 2 transitions in %d, got %d", year, perYear[year])
		}
	}
	last := trs[len(trs)-1]
	if !last.At.Equal(time.Date(2039, time.November, 6, 6, 0, 0, 0, time.UTC)) || last.Abbrev != "EST" {
		t.Fatalf("unexpected last transition: %+v", last)
	}

	loc, err := time.LoadLocationFromTZData("Test/Slim", data)
	if err != nil {
		t.Fatal(err)
	}
	checkHistory(t, trs, loc)

	built, err := ToLocation(z)
	if err != nil {
		t.Fatalf("ToLocation: %v", err)
	}
	if abbrev, off := time.Date(2009, time.July, 1, 12, 0, 0, 0, time.UTC).In(built).Zone(); abbrev != "EDT" || off != -4*3600 {
		t.Fatalf("2009-07-01 resolves to %s %d, want EDT -14400", abbrev, off)
	}
}

func TestParseTZif_RejectsGarbage(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("TZif"), []byte("NOPE0000000000000000")} {
		if _, err := parseTZif(data); !errors.Is(err, errBadData) {
			t.Fatalf("parseTZif(%q): expected errBadData, got %v", data, err)
		}
	}
}

func TestDatabase_LookupFromDir(t *testing.T) {
	dir := t.TempDir()
	times := []int64{time.Date(1918, time.March, 31, 7, 0, 0, 0, time.UTC).Unix()}
	data := encodeTZif([]localType{est, edt}, times, []uint8{1}, "")

	writeFile(t, filepath.Join(dir, "Test", "Zone"), data)
	writeFile(t, filepath.Join(dir, "posix", "Test", "Zone"), data)
	writeFile(t, filepath.Join(dir, "zone1970.tab"), []byte("# not a zone\n"))

	db := New([]string{dir}, time.Time{})
	z, err := db.Lookup("Test/Zone")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if z.Name() != "Test/Zone" {
		t.Fatalf("unexpected name %q", z.Name())
	}
	if _, ok := z.(*Dynamic); !ok {
		t.Fatalf("expected *Dynamic, got %T", z)
	}

	names, err := db.Names()
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	if diff := cmp.Diff([]string{"Test/Zone"}, names); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestDatabase_LookupRejectsUnsafeNames(t *testing.T) {
	db := New(nil, time.Time{})
	for _, name := range []string{"", "Local", "../etc/passwd", "/etc/localtime"} {
		if _, err := db.Lookup(name); !errors.Is(err, ErrUnknownZone) {
			t.Fatalf("Lookup(%q): expected ErrUnknownZone, got %v", name, err)
		}
	}
}

func TestDatabase_RuntimeFallback(t *testing.T) {
	db := New([]string{t.TempDir()}, time.Time{})

	utc, err := db.Lookup("UTC")
	if err != nil {
		t.Fatalf("Lookup(UTC): %v", err)
	}
	if s, ok := utc.(*Static); !ok || s.Offset != 0 {
		t.Fatalf("expected static UTC, got %#v", utc)
	}

	paris, err := db.Lookup("Europe/Paris")
	if err != nil {
		t.Fatalf("Lookup(Europe/Paris): %v", err)
	}
	dyn, ok := paris.(*Dynamic)
	if !ok {
		t.Fatalf("expected *Dynamic, got %T", paris)
	}
	want := time.Date(2024, time.March, 31, 1, 0, 0, 0, time.UTC)
	found := false
	for _, tr := range dyn.Transitions {
		if tr.At.Equal(want) {
			found = true
			if tr.Abbrev != "CEST" || !tr.IsDST || tr.Offset != 2*time.Hour {
				t.Fatalf("unexpected 2024 spring transition: %+v", tr)
			}
		}
	}
	if !found {
		t.Fatalf("2024 spring transition not found")
	}

	if _, err := db.Lookup("Nowhere/Special"); !errors.Is(err, ErrUnknownZone) {
		t.Fatalf("expected ErrUnknownZone, got %v", err)
	}
}

func TestDatabase_RuntimeZoneReachesUntil(t *testing.T) {
	until := time.Date(2045, time.January, 1, 0, 0, 0, 0, time.UTC)
	db := New([]string{t.TempDir()}, until)

	z, err := db.Lookup("America/New_York")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	trs := z.(*Dynamic).Transitions

	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	checkHistory(t, trs, loc)

	last := trs[len(trs)-1]
	if !last.At.Equal(time.Date(2044, time.November, 6, 6, 0, 0, 0, time.UTC)) || last.Abbrev != "EST" {
		t.Fatalf("history stops early, last transition: %+v", last)
	}
}

func TestDatabase_ZeroValue(t *testing.T) {
	var db Database
	custom := "zones:\n  - name: Example/Fixed\n    abbrev: EXF\n    offset: \"+05:30\"\n"
	if err := db.LoadCustom(strings.NewReader(custom)); err != nil {
		t.Fatalf("LoadCustom: %v", err)
	}
	if _, err := db.Lookup("Example/Fixed"); err != nil {
		t.Fatalf("Lookup custom: %v", err)
	}

	var empty Database
	z, err := empty.Lookup("America/New_York")
	if err != nil {
		t.Fatalf("Lookup runtime: %v", err)
	}
	trs := z.(*Dynamic).Transitions
	if got := trs[len(trs)-1].At.Year(); got != DefaultUntil.Year()-1 {
		t.Fatalf("expected history up to %d, got %d", DefaultUntil.Year()-1, got)
	}
}

func TestDatabase_Location(t *testing.T) {
	db := New(nil, time.Time{})
	err := db.LoadCustom(strings.NewReader(`
zones:
  - name: Example/Fixed
    abbrev: EXF
    offset: "+05:30"
  - name: Example/Island
    transitions:
      - at: 2020-10-25T01:00:00Z
        offset: "+00:00"
        abbrev: ISMT
      - at: 2021-03-28T01:00:00Z
        offset: "+01:00"
        dst: true
        abbrev: ISST
`))
	if err != nil {
		t.Fatalf("LoadCustom: %v", err)
	}

	tests := []struct {
		zone   string
		at     time.Time
		abbrev string
		offset int
	}{
		{"Example/Fixed", time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC), "EXF", 19800},
		{"Example/Island", time.Date(2019, time.July, 1, 0, 0, 0, 0, time.UTC), "ISMT", 0},
		{"Example/Island", time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC), "ISMT", 0},
		{"Example/Island", time.Date(2021, time.March, 28, 1, 0, 0, 0, time.UTC), "ISST", 3600},
		{"Example/Island", time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC), "ISST", 3600},
		{"Europe/Paris", time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC), "CEST", 7200},
	}
	for _, tt := range tests {
		loc, err := db.Location(tt.zone)
		if err != nil {
			t.Fatalf("Location(%s): %v", tt.zone, err)
		}
		if abbrev, off := tt.at.In(loc).Zone(); abbrev != tt.abbrev || off != tt.offset {
			t.Fatalf("%s at %v: got %s %d, want %s %d", tt.zone, tt.at, abbrev, off, tt.abbrev, tt.offset)
		}
	}

	if _, err := db.Location("Nowhere/Special"); !errors.Is(err, ErrUnknownZone) {
		t.Fatalf("expected ErrUnknownZone, got %v", err)
	}
}

func TestDatabase_CustomZones(t *testing.T) {
	db := New(nil, time.Time{})
	err := db.LoadCustom(strings.NewReader(`
zones:
  - name: Example/Fixed
    abbrev: EXF
    offset: 5h30m
  - name: Example/Island
    transitions:
      - at: 2021-03-28T01:00:00Z
        offset: "+01:00"
        dst: true
        abbrev: ISST
      - at: 2020-10-25T01:00:00Z
        offset: "+00:00"
        abbrev: ISMT
  - name: Example/Broken
    offset: 3600
`))
	if err != nil {
		t.Fatalf("LoadCustom: %v", err)
	}

	fixed, err := db.Lookup("Example/Fixed")
	if err != nil {
		t.Fatalf("Lookup fixed: %v", err)
	}
	if diff := cmp.Diff(&Static{ZoneName: "Example/Fixed", Abbrev: "EXF", Offset: 5*time.Hour + 30*time.Minute}, fixed); diff != "" {
		t.Fatalf("fixed mismatch (-want +got):\n%s", diff)
	}

	island, err := db.Lookup("Example/Island")
	if err != nil {
		t.Fatalf("Lookup island: %v", err)
	}
	trs := island.(*Dynamic).Transitions
	if len(trs) != 2 || trs[0].Abbrev != "ISMT" || trs[1].Abbrev != "ISST" || trs[1].Offset != time.Hour {
		t.Fatalf("expected sorted transitions, got %+v", trs)
	}

	_, err = db.Lookup("Example/Broken")
	var typeErr *OffsetTypeError
	if !errors.As(err, &typeErr) {
		t.Fatalf("expected *OffsetTypeError, got %v", err)
	}
	if typeErr.Got != "int" || !strings.Contains(err.Error(), "must be a duration") {
		t.Fatalf("unexpected error detail: %v", err)
	}
}

func TestParseOffset(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "5h30m", want: 5*time.Hour + 30*time.Minute},
		{in: "-3h", want: -3 * time.Hour},
		{in: "+05:30", want: 5*time.Hour + 30*time.Minute},
		{in: "-0800", want: -8 * time.Hour},
		{in: "+01:00:30", want: time.Hour + 30*time.Second},
		{in: "0", want: 0},
		{in: "", wantErr: true},
		{in: "5", wantErr: true},
		{in: "+0575", wantErr: true},
		{in: "+1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOffset(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseOffset(%q): expected error, got %v", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseOffset(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("ParseOffset(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}
