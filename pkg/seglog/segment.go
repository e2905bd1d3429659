package seglog

import (
	"fmt"

	"github.com/downfa11-org/raftlog/pkg/codec"
	"github.com/downfa11-org/raftlog/pkg/types"
)

// LogSegment is the in-memory cache for one segment file. All updates go
// through the segment first and are then written to the file in the same
// order, so the record offsets always mirror the file layout.
//
// The SegmentedLog owning the segment serializes all mutations.
type LogSegment struct {
	startIndex uint64
	endIndex   int64
	isOpen     bool
	records    []*types.LogRecord
	totalSize  uint64
}

func newOpenSegment(start uint64) *LogSegment {
	return &LogSegment{
		startIndex: start,
		endIndex:   int64(start) - 1,
		isOpen:     true,
		totalSize:  codec.HeaderSize,
	}
}

func (s *LogSegment) StartIndex() uint64 { return s.startIndex }
func (s *LogSegment) EndIndex() int64    { return s.endIndex }
func (s *LogSegment) IsOpen() bool       { return s.isOpen }
func (s *LogSegment) TotalSize() uint64  { return s.totalSize }

func (s *LogSegment) NumEntries() int {
	return len(s.records)
}

// IsFull reports whether the segment has reached the roll threshold.
func (s *LogSegment) IsFull(maxBytes uint64) bool {
	return s.totalSize >= maxBytes
}

// wouldExceed reports whether appending frameSize more bytes crosses the
// roll threshold. An empty segment never reports true: an entry larger
// than the threshold still has to land somewhere.
func (s *LogSegment) wouldExceed(frameSize, maxBytes uint64) bool {
	return len(s.records) > 0 && s.totalSize+frameSize > maxBytes
}

// Append adds one or more entries to an open segment. The batch must be
// of a single term and strictly contiguous, and its first entry must
// directly follow the segment's current end.
func (s *LogSegment) Append(entries ...*types.LogEntry) error {
	if !s.isOpen {
		return fmt.Errorf("%w: append to log-%d", ErrNotOpen, s.startIndex)
	}
	if len(entries) == 0 {
		return nil
	}

	term := entries[0].Term
	next := uint64(s.endIndex + 1)
	for _, e := range entries {
		if e.Term != term {
			return fmt.Errorf("%w: term %d in batch of term %d", ErrMixedTerm, e.Term, term)
		}
		if e.Index != next {
			return fmt.Errorf("%w: entry index %d, expected %d", ErrIndexGap, e.Index, next)
		}
		next++
	}

	for _, e := range entries {
		s.records = append(s.records, &types.LogRecord{Offset: s.totalSize, Entry: e})
		s.totalSize += codec.FrameSize(e)
		s.endIndex = int64(e.Index)
	}
	return nil
}

// Get returns the entry at index, or nil when the index falls outside
// [startIndex, endIndex].
func (s *LogSegment) Get(index uint64) *types.LogEntry {
	r := s.Record(index)
	if r == nil {
		return nil
	}
	return r.Entry
}

// Record returns the record at index, or nil when out of range.
func (s *LogSegment) Record(index uint64) *types.LogRecord {
	if index < s.startIndex || int64(index) > s.endIndex {
		return nil
	}
	return s.records[index-s.startIndex]
}

// LastRecord returns the newest record, or nil for an empty segment.
func (s *LogSegment) LastRecord() *types.LogRecord {
	if len(s.records) == 0 {
		return nil
	}
	return s.records[len(s.records)-1]
}

// Truncate drops all records with index >= from and seals the segment.
// The owning log decides whether to rebuild an open tail afterwards.
// totalSize shrinks to the offset of the first removed record, so it
// keeps matching the file once the file is cut to the same length.
func (s *LogSegment) Truncate(from uint64) error {
	if from < s.startIndex || int64(from) > s.endIndex+1 {
		return fmt.Errorf("%w: truncate(%d) on segment [%d, %d]", ErrOutOfRange, from, s.startIndex, s.endIndex)
	}
	if int64(from) <= s.endIndex {
		first := s.records[from-s.startIndex]
		s.records = s.records[:from-s.startIndex]
		s.totalSize = first.Offset
	}
	s.endIndex = int64(from) - 1
	s.isOpen = false
	return nil
}

// Close seals an open segment.
func (s *LogSegment) Close() error {
	if !s.isOpen {
		return fmt.Errorf("%w: close on sealed log-%d", ErrNotOpen, s.startIndex)
	}
	s.isOpen = false
	return nil
}

func (s *LogSegment) String() string {
	if s.isOpen {
		return fmt.Sprintf("log-%d-inprogress", s.startIndex)
	}
	return fmt.Sprintf("log-%d-%d", s.startIndex, s.endIndex)
}
