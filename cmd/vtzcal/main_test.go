package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vtzcal/internal/ics"
	"vtzcal/internal/tzdb"
	"vtzcal/internal/vtimezone"
)

var errClose = errors.New("close failed")

type recordingFile struct {
	bytes.Buffer
	closed   bool
	closeErr error
	writeErr error
}

func (f *recordingFile) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.Buffer.Write(p)
}

func (f *recordingFile) Close() error {
	f.closed = true
	return f.closeErr
}

func stubCreate(t *testing.T, f *recordingFile) {
	t.Helper()
	orig := createFile
	createFile = func(string) (io.WriteCloser, error) { return f, nil }
	t.Cleanup(func() { createFile = orig })
}

func fixedTree(t *testing.T) *vtimezone.Timezone {
	t.Helper()
	tz, err := vtimezone.Build(&tzdb.Static{ZoneName: "Example/Fixed", Abbrev: "EXF", Offset: 5*time.Hour + 30*time.Minute}, vtimezone.BuildConfig{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return tz
}

func TestWriteZone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zone.ics")
	enc := &ics.GolangICalEncoder{ProductID: ics.DefaultProductID}

	if err := writeZone(path, enc, fixedTree(t)); err != nil {
		t.Fatalf("writeZone: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(got), "TZID:Example/Fixed") {
		t.Fatalf("unexpected content:\n%s", got)
	}
}

func TestWriteZone_ReportsCloseError(t *testing.T) {
	f := &recordingFile{closeErr: errClose}
	stubCreate(t, f)

	err := writeZone("zone.ics", &ics.GolangICalEncoder{ProductID: ics.DefaultProductID}, fixedTree(t))
	if !errors.Is(err, errClose) {
		t.Fatalf("expected close error, got %v", err)
	}
	if f.Len() == 0 {
		t.Fatal("nothing was encoded before close")
	}
}

func TestWriteZone_EncodeErrorWins(t *testing.T) {
	errWrite := errors.New("disk full")
	f := &recordingFile{closeErr: errClose, writeErr: errWrite}
	stubCreate(t, f)

	err := writeZone("zone.ics", &ics.GolangICalEncoder{ProductID: ics.DefaultProductID}, fixedTree(t))
	if !errors.Is(err, errWrite) {
		t.Fatalf("expected write error, got %v", err)
	}
	if !f.closed {
		t.Fatal("file left open after a failed encode")
	}
}

func TestParseWindowFlag(t *testing.T) {
	if got, err := parseWindowFlag("from", ""); err != nil || !got.IsZero() {
		t.Fatalf("empty flag: got %v, %v", got, err)
	}
	got, err := parseWindowFlag("from", "2024-01-01T09:00:00+09:00")
	if err != nil {
		t.Fatalf("parseWindowFlag: %v", err)
	}
	if !got.Equal(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected time %v", got)
	}
	if _, err := parseWindowFlag("to", "tomorrow"); err == nil || !strings.Contains(err.Error(), "--to") {
		t.Fatalf("expected flag name in error, got %v", err)
	}
}
