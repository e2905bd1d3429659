package seglog

import (
	"errors"
	"testing"

	"github.com/downfa11-org/raftlog/pkg/codec"
	"github.com/downfa11-org/raftlog/pkg/types"
)

func entry(index, term uint64, payload string) *types.LogEntry {
	return &types.LogEntry{Index: index, Term: term, Kind: types.EntryCommand, Payload: []byte(payload)}
}

func mustAppend(t *testing.T, s *LogSegment, entries ...*types.LogEntry) {
	t.Helper()
	if err := s.Append(entries...); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func checkInvariants(t *testing.T, s *LogSegment) {
	t.Helper()
	if s.NumEntries() != int(s.EndIndex()-int64(s.StartIndex())+1) {
		t.Fatalf("%s: %d records for range [%d, %d]", s, s.NumEntries(), s.StartIndex(), s.EndIndex())
	}
	want := codec.HeaderSize
	for i, r := range s.records {
		if r.Entry.Index != s.StartIndex()+uint64(i) {
			t.Fatalf("%s: record %d holds index %d", s, i, r.Entry.Index)
		}
		if r.Offset != want {
			t.Fatalf("%s: record %d at offset %d, want %d", s, i, r.Offset, want)
		}
		if i > 0 && r.Entry.Term < s.records[i-1].Entry.Term {
			t.Fatalf("%s: term regressed at index %d", s, r.Entry.Index)
		}
		want += codec.FrameSize(r.Entry)
	}
	if s.TotalSize() != want {
		t.Fatalf("%s: totalSize %d, want %d", s, s.TotalSize(), want)
	}
}

func TestSegmentNewOpen(t *testing.T) {
	s := newOpenSegment(5)
	if !s.IsOpen() {
		t.Fatal("fresh segment is not open")
	}
	if s.StartIndex() != 5 || s.EndIndex() != 4 {
		t.Fatalf("fresh segment range [%d, %d], want [5, 4]", s.StartIndex(), s.EndIndex())
	}
	if s.NumEntries() != 0 || s.TotalSize() != codec.HeaderSize {
		t.Fatalf("fresh segment has %d entries, %d bytes", s.NumEntries(), s.TotalSize())
	}
}

func TestSegmentAppendAndGet(t *testing.T) {
	s := newOpenSegment(0)
	mustAppend(t, s, entry(0, 1, "a"), entry(1, 1, "b"))
	mustAppend(t, s, entry(2, 2, "c"))
	checkInvariants(t, s)

	if got := s.Get(1); got == nil || string(got.Payload) != "b" || got.Term != 1 {
		t.Fatalf("Get(1) = %v", got)
	}
	if got := s.Get(3); got != nil {
		t.Fatalf("Get(3) = %v, want nil", got)
	}
	if r := s.LastRecord(); r == nil || r.Entry.Index != 2 {
		t.Fatalf("LastRecord = %v", r)
	}
	if s.EndIndex() != 2 {
		t.Fatalf("EndIndex = %d, want 2", s.EndIndex())
	}
}

func TestSegmentAppendValidation(t *testing.T) {
	s := newOpenSegment(0)
	mustAppend(t, s, entry(0, 1, "a"))

	if err := s.Append(entry(2, 1, "gap")); !errors.Is(err, ErrIndexGap) {
		t.Fatalf("gap append: got %v, want ErrIndexGap", err)
	}
	if err := s.Append(entry(1, 1, "b"), entry(2, 2, "c")); !errors.Is(err, ErrMixedTerm) {
		t.Fatalf("mixed-term batch: got %v, want ErrMixedTerm", err)
	}
	if err := s.Append(entry(1, 1, "b"), entry(3, 1, "skip")); !errors.Is(err, ErrIndexGap) {
		t.Fatalf("gapped batch: got %v, want ErrIndexGap", err)
	}

	// rejected batches must leave the segment untouched
	if s.NumEntries() != 1 || s.EndIndex() != 0 {
		t.Fatalf("failed appends mutated segment: %d entries, end %d", s.NumEntries(), s.EndIndex())
	}
	checkInvariants(t, s)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Append(entry(1, 1, "b")); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("append to sealed: got %v, want ErrNotOpen", err)
	}
}

func TestSegmentFirstAppendMustMatchStart(t *testing.T) {
	s := newOpenSegment(10)
	if err := s.Append(entry(9, 1, "low")); !errors.Is(err, ErrIndexGap) {
		t.Fatalf("append below start: got %v, want ErrIndexGap", err)
	}
	if err := s.Append(entry(11, 1, "high")); !errors.Is(err, ErrIndexGap) {
		t.Fatalf("append past start: got %v, want ErrIndexGap", err)
	}
	mustAppend(t, s, entry(10, 1, "ok"))
	checkInvariants(t, s)
}

func TestSegmentTruncate(t *testing.T) {
	s := newOpenSegment(0)
	mustAppend(t, s, entry(0, 1, "a"), entry(1, 1, "b"), entry(2, 1, "c"))
	cutOffset := s.Record(1).Offset

	if err := s.Truncate(1); err != nil {
		t.Fatalf("Truncate(1): %v", err)
	}
	if s.IsOpen() {
		t.Fatal("truncated segment must be sealed")
	}
	if s.EndIndex() != 0 || s.NumEntries() != 1 {
		t.Fatalf("after Truncate(1): end %d, %d entries", s.EndIndex(), s.NumEntries())
	}
	if s.TotalSize() != cutOffset {
		t.Fatalf("after Truncate(1): totalSize %d, want %d", s.TotalSize(), cutOffset)
	}
	if s.Get(1) != nil || s.Get(2) != nil {
		t.Fatal("truncated entries still readable")
	}
	checkInvariants(t, s)
}

func TestSegmentTruncateAll(t *testing.T) {
	s := newOpenSegment(3)
	mustAppend(t, s, entry(3, 1, "a"), entry(4, 1, "b"))

	if err := s.Truncate(3); err != nil {
		t.Fatalf("Truncate(3): %v", err)
	}
	if s.NumEntries() != 0 || s.TotalSize() != codec.HeaderSize {
		t.Fatalf("emptied segment: %d entries, %d bytes", s.NumEntries(), s.TotalSize())
	}
	if s.EndIndex() != 2 {
		t.Fatalf("emptied segment end %d, want 2", s.EndIndex())
	}
}

func TestSegmentTruncateBounds(t *testing.T) {
	s := newOpenSegment(3)
	mustAppend(t, s, entry(3, 1, "a"), entry(4, 1, "b"))

	if err := s.Truncate(2); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Truncate(2): got %v, want ErrOutOfRange", err)
	}
	if err := s.Truncate(6); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Truncate(6): got %v, want ErrOutOfRange", err)
	}

	// end+1 is a legal no-op cut that still seals
	if err := s.Truncate(5); err != nil {
		t.Fatalf("Truncate(5): %v", err)
	}
	if s.NumEntries() != 2 || s.IsOpen() {
		t.Fatalf("Truncate(end+1) dropped entries or kept segment open")
	}
}

func TestSegmentRoll(t *testing.T) {
	s := newOpenSegment(0)
	e := entry(0, 1, "12345678901234567890")
	frame := codec.FrameSize(e)
	max := codec.HeaderSize + 2*frame

	mustAppend(t, s, e)
	if s.wouldExceed(frame, max) {
		t.Fatal("second entry should still fit")
	}
	mustAppend(t, s, entry(1, 1, "12345678901234567890"))
	if !s.wouldExceed(frame, max) {
		t.Fatal("third entry must trigger a roll")
	}
	if !s.IsFull(max) {
		t.Fatal("segment at threshold must report full")
	}
}

func TestSegmentDoubleClose(t *testing.T) {
	s := newOpenSegment(0)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("second Close: got %v, want ErrNotOpen", err)
	}
}
