package tzdb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"slices"
	"time"
)

// TZif layout per RFC 8536. Version 1 files carry 32-bit transition
// times; version 2+ repeat the data with 64-bit times followed by a POSIX
// TZ footer, and only the second block is used.

type localType struct {
	offset time.Duration
	isDST  bool
	abbrev string
}

type tzif struct {
	types  []localType
	times  []int64
	index  []uint8
	footer string
}

type byteReader struct {
	p   []byte
	bad bool
}

func (r *byteReader) read(n int) []byte {
	if n < 0 || len(r.p) < n {
		r.p = nil
		r.bad = true
		return nil
	}
	out := r.p[:n]
	r.p = r.p[n:]
	return out
}

func (r *byteReader) uint32() uint32 {
	p := r.read(4)
	if len(p) < 4 {
		return 0
	}
	return uint32(p[0])<<24 | uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3])
}

func (r *byteReader) uint64() uint64 {
	hi := r.uint32()
	lo := r.uint32()
	return uint64(hi)<<32 | uint64(lo)
}

const (
	cntIsUT = iota
	cntIsStd
	cntLeap
	cntTime
	cntType
	cntChar
)

func (r *byteReader) header() (version byte, n [6]int, ok bool) {
	if magic := r.read(4); string(magic) != "TZif" {
		return 0, n, false
	}
	p := r.read(16)
	if len(p) != 16 {
		return 0, n, false
	}
	switch p[0] {
	case 0, '2', '3', '4':
		version = p[0]
	default:
		return 0, n, false
	}
	for i := range n {
		n[i] = int(r.uint32())
	}
	return version, n, !r.bad
}

// isTZif reports whether data starts with the TZif magic.
func isTZif(data []byte) bool {
	return bytes.HasPrefix(data, []byte("TZif"))
}

func parseTZif(data []byte) (*tzif, error) {
	r := &byteReader{p: data}

	version, n, ok := r.header()
	if !ok {
		return nil, errBadData
	}

	size := 4
	if version != 0 {
		r.read(n[cntTime]*5 + n[cntType]*6 + n[cntChar] + n[cntLeap]*8 + n[cntIsStd] + n[cntIsUT])
		if version, n, ok = r.header(); !ok || version == 0 {
			return nil, errBadData
		}
		size = 8
	}

	times := &byteReader{p: r.read(n[cntTime] * size)}
	index := r.read(n[cntTime])
	types := &byteReader{p: r.read(n[cntType] * 6)}
	abbrevs := r.read(n[cntChar])
	r.read(n[cntLeap]*(size+4) + n[cntIsStd] + n[cntIsUT])
	if r.bad {
		return nil, errBadData
	}
	if n[cntType] == 0 {
		return nil, errBadData
	}

	out := &tzif{
		types: make([]localType, n[cntType]),
		times: make([]int64, n[cntTime]),
		index: index,
	}

	for i := range out.types {
		off := int32(types.uint32())
		dst := types.read(1)
		ai := types.read(1)
		if types.bad {
			return nil, errBadData
		}
		if int(ai[0]) >= len(abbrevs) {
			return nil, errBadData
		}
		out.types[i] = localType{
			offset: time.Duration(off) * time.Second,
			isDST:  dst[0] != 0,
			abbrev: cString(abbrevs[ai[0]:]),
		}
	}

	for i := range out.times {
		if size == 4 {
			out.times[i] = int64(int32(times.uint32()))
		} else {
			out.times[i] = int64(times.uint64())
		}
		if int(index[i]) >= len(out.types) {
			return nil, errBadData
		}
	}
	if times.bad {
		return nil, errBadData
	}

	if rest := r.p; len(rest) > 2 && rest[0] == '\n' {
		if end := bytes.IndexByte(rest[1:], '\n'); end >= 0 {
			out.footer = string(rest[1 : end+1])
		}
	}

	return out, nil
}

func cString(p []byte) string {
	if i := bytes.IndexByte(p, 0); i >= 0 {
		p = p[:i]
	}
	return string(p)
}

// history converts the explicit records into transitions, prefixed with
// the pseudo-transition for local time type 0. Records before
// BeginningOfTime only move the initial type forward.
func (t *tzif) history() []Transition {
	initial := t.types[0]
	begin := BeginningOfTime.Unix()

	out := make([]Transition, 1, len(t.times)+1)
	for i, sec := range t.times {
		lt := t.types[t.index[i]]
		if sec <= begin {
			initial = lt
			continue
		}
		out = append(out, Transition{
			At:     time.Unix(sec, 0).UTC(),
			Offset: lt.offset,
			IsDST:  lt.isDST,
			Abbrev: lt.abbrev,
		})
	}
	out[0] = Transition{
		At:     BeginningOfTime,
		Offset: initial.offset,
		IsDST:  initial.isDST,
		Abbrev: initial.abbrev,
	}
	return out
}

// encodeTZif writes a version 2 TZif file with an empty version 1 block.
func encodeTZif(types []localType, times []int64, index []uint8, footer string) []byte {
	var chars []byte
	abbrIdx := make([]byte, len(types))
	for i, lt := range types {
		abbrIdx[i] = byte(len(chars))
		chars = append(chars, lt.abbrev...)
		chars = append(chars, 0)
	}

	var out []byte
	header := func(counts [6]int) {
		out = append(out, "TZif2"...)
		out = append(out, make([]byte, 15)...)
		for _, c := range counts {
			out = binary.BigEndian.AppendUint32(out, uint32(c))
		}
	}

	header([6]int{})
	header([6]int{cntTime: len(times), cntType: len(types), cntChar: len(chars)})
	for _, sec := range times {
		out = binary.BigEndian.AppendUint64(out, uint64(sec))
	}
	out = append(out, index...)
	for i, lt := range types {
		out = binary.BigEndian.AppendUint32(out, uint32(int32(lt.offset/time.Second)))
		dst := byte(0)
		if lt.isDST {
			dst = 1
		}
		out = append(out, dst, abbrIdx[i])
	}
	out = append(out, chars...)
	out = append(out, '\n')
	out = append(out, footer...)
	return append(out, '\n')
}

// marshalTZif encodes a transition history. A leading transition at
// BeginningOfTime only selects local time type 0.
func marshalTZif(trs []Transition) ([]byte, error) {
	var (
		types []localType
		times []int64
		index []uint8
	)
	for i, tr := range trs {
		lt := localType{offset: tr.Offset, isDST: tr.IsDST, abbrev: tr.Abbrev}
		idx := slices.Index(types, lt)
		if idx < 0 {
			if len(types) == 256 {
				return nil, errors.New("tzdb: too many local time types")
			}
			types = append(types, lt)
			idx = len(types) - 1
		}
		if i == 0 && !tr.At.After(BeginningOfTime) {
			continue
		}
		times = append(times, tr.At.Unix())
		index = append(index, uint8(idx))
	}
	if len(types) == 0 {
		return nil, errors.New("tzdb: empty transition history")
	}
	return encodeTZif(types, times, index, ""), nil
}
