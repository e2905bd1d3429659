package seglog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/downfa11-org/raftlog/pkg/codec"
	"github.com/downfa11-org/raftlog/pkg/metrics"
	"github.com/downfa11-org/raftlog/pkg/types"
	"github.com/downfa11-org/raftlog/util"
	"golang.org/x/exp/mmap"
)

type segmentFile struct {
	name   string
	start  uint64
	end    int64
	isOpen bool
}

// loadDir scans the storage directory, validates the segment file set
// and replays every file into memory. A torn tail on the in-progress
// file is discarded silently; any damage to a sealed file is fatal.
func (l *SegmentedLog) loadDir() error {
	dirEntries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("failed to read storage directory %s: %w", l.dir, err)
	}

	var files []segmentFile
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		start, end, isOpen, ok := parseSegmentName(de.Name())
		if !ok {
			util.Debug("Ignoring non-segment file %s", de.Name())
			continue
		}
		if !isOpen && end < int64(start) {
			return fmt.Errorf("%w: sealed file %s with end before start", ErrCorruptDirectory, de.Name())
		}
		files = append(files, segmentFile{name: de.Name(), start: start, end: end, isOpen: isOpen})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].start < files[j].start })

	for i, f := range files {
		if i > 0 {
			prev := files[i-1]
			if prev.start == f.start {
				return fmt.Errorf("%w: duplicate start index in %s and %s", ErrCorruptDirectory, prev.name, f.name)
			}
			if prev.isOpen {
				return fmt.Errorf("%w: in-progress file %s is not the last segment", ErrCorruptDirectory, prev.name)
			}
			if prev.end+1 != int64(f.start) {
				return fmt.Errorf("%w: %s and %s are not contiguous", ErrCorruptDirectory, prev.name, f.name)
			}
		}
	}

	for _, f := range files {
		seg, err := l.loadSegment(f)
		if err != nil {
			return err
		}
		l.segments = append(l.segments, seg)
	}

	if len(l.segments) > 0 {
		l.lastCompacted = int64(l.segments[0].StartIndex()) - 1

		tail := l.segments[len(l.segments)-1]
		if tail.IsOpen() {
			f, err := openAppendFile(filepath.Join(l.dir, openFileName(tail.StartIndex())))
			if err != nil {
				return err
			}
			l.file = f
			l.writer = bufio.NewWriter(f)
		}
	}

	l.updateGaugesLocked()
	return nil
}

// loadSegment replays one segment file into an in-memory segment.
func (l *SegmentedLog) loadSegment(sf segmentFile) (*LogSegment, error) {
	path := filepath.Join(l.dir, sf.name)

	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	fileSize := uint64(r.Len())
	br := bufio.NewReader(io.NewSectionReader(r, 0, int64(fileSize)))

	if err := codec.CheckHeader(br); err != nil {
		r.Close()
		if !sf.isOpen {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptSegment, sf.name, err)
		}
		// A crash can tear even the header write of a brand new
		// in-progress file. Rebuild the file as empty.
		util.Warn("Discarding unreadable header of %s: %v", sf.name, err)
		if err := rewriteEmptySegment(path); err != nil {
			return nil, err
		}
		metrics.TornTailsRecovered.Inc()
		return newOpenSegment(sf.start), nil
	}

	seg := newOpenSegment(sf.start)
	torn := false
	var replayErr error

	for {
		if !sf.isOpen && seg.EndIndex() == sf.end {
			break // declared range fully replayed; the rest is padding
		}

		e, _, err := codec.ReadFrame(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			if !sf.isOpen {
				replayErr = fmt.Errorf("%w: %s at offset %d: %v", ErrCorruptSegment, sf.name, seg.TotalSize(), err)
				break
			}
			util.Warn("Discarding torn tail of %s at offset %d: %v", sf.name, seg.TotalSize(), err)
			torn = true
			break
		}

		if err := l.checkReplayedEntry(seg, e); err != nil {
			if !sf.isOpen {
				replayErr = fmt.Errorf("%w: %s: %v", ErrCorruptSegment, sf.name, err)
				break
			}
			util.Warn("Discarding inconsistent tail of %s: %v", sf.name, err)
			torn = true
			break
		}

		if err := seg.Append(e); err != nil {
			replayErr = fmt.Errorf("%w: %s: %v", ErrCorruptSegment, sf.name, err)
			break
		}
	}

	if cerr := r.Close(); cerr != nil && replayErr == nil {
		replayErr = cerr
	}
	if replayErr != nil {
		return nil, replayErr
	}

	if !sf.isOpen {
		if seg.EndIndex() != sf.end {
			return nil, fmt.Errorf("%w: %s holds entries up to %d, name declares %d",
				ErrCorruptSegment, sf.name, seg.EndIndex(), sf.end)
		}
		if fileSize > seg.TotalSize() {
			util.Warn("Truncating %d padding bytes off sealed %s", fileSize-seg.TotalSize(), sf.name)
			if err := truncateAndSync(path, int64(seg.TotalSize())); err != nil {
				return nil, err
			}
		}
		if err := seg.Close(); err != nil {
			return nil, err
		}
		return seg, nil
	}

	if torn || fileSize > seg.TotalSize() {
		if err := truncateAndSync(path, int64(seg.TotalSize())); err != nil {
			return nil, err
		}
		metrics.TornTailsRecovered.Inc()
	}
	return seg, nil
}

// checkReplayedEntry enforces the in-segment invariants on an entry read
// back from disk: gap-free indices and non-decreasing terms.
func (l *SegmentedLog) checkReplayedEntry(seg *LogSegment, e *types.LogEntry) error {
	expected := uint64(seg.EndIndex() + 1)
	if e.Index != expected {
		return fmt.Errorf("entry index %d, expected %d", e.Index, expected)
	}
	if last := seg.LastRecord(); last != nil && e.Term < last.Entry.Term {
		return fmt.Errorf("term %d after term %d at index %d", e.Term, last.Entry.Term, e.Index)
	}
	return nil
}

func rewriteEmptySegment(path string) error {
	f, err := os.OpenFile(path, os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to rewrite %s: %w", path, err)
	}
	if err := codec.WriteHeader(f); err != nil {
		f.Close()
		return err
	}
	if err := fdatasync(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func truncateAndSync(path string, size int64) error {
	if err := os.Truncate(path, size); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	err = fdatasync(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
