package seglog

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/downfa11-org/raftlog/pkg/codec"
	"github.com/downfa11-org/raftlog/pkg/config"
	"github.com/downfa11-org/raftlog/pkg/metrics"
	"github.com/downfa11-org/raftlog/pkg/types"
	"github.com/downfa11-org/raftlog/util"
)

// SegmentedLog owns an ordered collection of segments backed by one
// storage directory. Writes go to the in-memory tail segment first and
// then to its file in the same order, so the cache always mirrors disk.
//
// Mutators are serialized internally; readers share a lock with each
// other and exclude mutators, so a read observes a consistent prefix.
type SegmentedLog struct {
	mu  sync.RWMutex
	dir string

	maxBytes      uint64
	syncMode      string
	batchEntries  int
	batchInterval time.Duration

	segments []*LogSegment

	// write handle of the open tail segment, nil when no segment is open
	file   *os.File
	writer *bufio.Writer

	lastCompacted int64
	closed        bool

	pending       int // entries written but not yet fsynced (batch mode)
	activeReaders int32

	done      chan struct{}
	closeOnce sync.Once
	shutdown  sync.WaitGroup
}

// Open loads the log from cfg.StorageDir, creating the directory if
// missing, and recovers from whatever a previous process left behind.
func Open(cfg *config.Config) (*SegmentedLog, error) {
	dir := cfg.StorageDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}

	maxBytes := cfg.SegmentMaxBytes
	if maxBytes <= 0 {
		maxBytes = config.DefaultSegmentMaxBytes
	}
	syncMode := cfg.SyncMode
	if syncMode == "" {
		syncMode = config.SyncAlways
	}

	l := &SegmentedLog{
		dir:           dir,
		maxBytes:      uint64(maxBytes),
		syncMode:      syncMode,
		batchEntries:  cfg.SyncBatchEntries,
		batchInterval: time.Duration(cfg.SyncBatchIntervalMS) * time.Millisecond,
		lastCompacted: -1,
		done:          make(chan struct{}),
	}

	if err := l.loadDir(); err != nil {
		return nil, err
	}

	if l.syncMode == config.SyncBatch {
		if l.batchEntries <= 0 {
			l.batchEntries = 256
		}
		if l.batchInterval <= 0 {
			l.batchInterval = 50 * time.Millisecond
		}
		l.shutdown.Add(1)
		go func() {
			defer l.shutdown.Done()
			l.flushLoop()
		}()
	}

	util.Info("Opened segmented log in %s: %d segments, last index %d", dir, len(l.segments), l.lastIndexLocked())
	return l, nil
}

// Append adds a single entry to the log and applies the sync policy.
func (l *SegmentedLog) Append(e *types.LogEntry) error {
	return l.AppendBatch([]*types.LogEntry{e})
}

// AppendBatch adds contiguous entries in one shot. Entries may span
// terms as long as terms never decrease; the batch lands in the tail
// segment, rolling it before an entry would cross the threshold.
func (l *SegmentedLog) AppendBatch(entries []*types.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	start := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if err := l.validateBatchLocked(entries); err != nil {
		return err
	}

	for _, e := range entries {
		if err := l.ensureTailLocked(e); err != nil {
			return err
		}
		tail := l.segments[len(l.segments)-1]
		if err := tail.Append(e); err != nil {
			return err
		}
		if _, err := codec.WriteFrame(l.writer, e); err != nil {
			return fmt.Errorf("failed to write frame for %s: %w", e, err)
		}
	}

	if err := l.applySyncPolicyLocked(len(entries)); err != nil {
		return err
	}

	metrics.EntriesAppended.Add(float64(len(entries)))
	metrics.AppendLatencyHist.Observe(time.Since(start).Seconds())
	l.updateGaugesLocked()
	return nil
}

func (l *SegmentedLog) validateBatchLocked(entries []*types.LogEntry) error {
	// A virgin log accepts any base index: the first entry establishes
	// it (a node bootstrapping from a snapshot starts past zero).
	if len(l.segments) > 0 || l.lastCompacted >= 0 {
		expected := uint64(l.lastIndexLocked() + 1)
		if entries[0].Index != expected {
			return fmt.Errorf("%w: append at %d, expected %d", ErrIndexGap, entries[0].Index, expected)
		}
	}

	next := entries[0].Index
	term := entries[0].Term
	for _, e := range entries {
		if e.Index != next {
			return fmt.Errorf("%w: entry %d in batch, expected %d", ErrIndexGap, e.Index, next)
		}
		if e.Term < term {
			return fmt.Errorf("%w: term %d after term %d", ErrMixedTerm, e.Term, term)
		}
		next++
		term = e.Term
	}
	return nil
}

// ensureTailLocked makes sure an open segment exists that can take e,
// sealing a full tail and starting a fresh one when needed.
func (l *SegmentedLog) ensureTailLocked(e *types.LogEntry) error {
	if n := len(l.segments); n > 0 && l.segments[n-1].IsOpen() {
		tail := l.segments[n-1]
		if !tail.wouldExceed(codec.FrameSize(e), l.maxBytes) {
			return nil
		}
		if err := l.sealTailLocked(); err != nil {
			return err
		}
		metrics.SegmentRolls.Inc()
	}
	return l.startOpenSegmentLocked(e.Index)
}

// sealTailLocked flushes and closes the open tail segment, renaming its
// file to the sealed form.
func (l *SegmentedLog) sealTailLocked() error {
	tail := l.segments[len(l.segments)-1]

	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("flush failed sealing %s: %w", tail, err)
	}
	if err := fdatasync(l.file); err != nil {
		return fmt.Errorf("sync failed sealing %s: %w", tail, err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close failed sealing %s: %w", tail, err)
	}
	l.file = nil
	l.writer = nil
	l.pending = 0

	oldPath := l.openPath(tail.StartIndex())
	newPath := l.sealedPath(tail.StartIndex(), tail.EndIndex())
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("rename failed sealing %s: %w", tail, err)
	}
	l.syncDir()

	util.Debug("Sealed segment %s (%d entries, %d bytes)", tail, tail.NumEntries(), tail.TotalSize())
	return tail.Close()
}

func (l *SegmentedLog) startOpenSegmentLocked(start uint64) error {
	path := l.openPath(start)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create segment file %s: %w", path, err)
	}
	if err := codec.WriteHeader(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write segment header: %w", err)
	}
	fadviseSequential(f)

	l.file = f
	l.writer = bufio.NewWriter(f)
	l.segments = append(l.segments, newOpenSegment(start))
	l.syncDir()

	util.Debug("Started open segment log-%d-inprogress", start)
	return nil
}

// Get returns the entry at index, or nil when the index was never
// written, was truncated away, or lies below the compaction watermark.
func (l *SegmentedLog) Get(index uint64) *types.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.getLocked(index)
}

func (l *SegmentedLog) getLocked(index uint64) *types.LogEntry {
	seg := l.findSegmentLocked(index)
	if seg == nil {
		return nil
	}
	return seg.Get(index)
}

// findSegmentLocked binary-searches segments by start index.
func (l *SegmentedLog) findSegmentLocked(index uint64) *LogSegment {
	i := sort.Search(len(l.segments), func(i int) bool {
		return l.segments[i].StartIndex() > index
	}) - 1
	if i < 0 {
		return nil
	}
	seg := l.segments[i]
	if int64(index) > seg.EndIndex() {
		return nil
	}
	return seg
}

// EntryIterator walks an inclusive index range of the log lazily. It is
// single-pass and not restartable; a missing index ends the walk.
type EntryIterator struct {
	log  *SegmentedLog
	next uint64
	to   uint64
	done bool
}

// GetRange returns a lazy iterator over entries in [from, to].
func (l *SegmentedLog) GetRange(from, to uint64) *EntryIterator {
	return &EntryIterator{log: l, next: from, to: to, done: to < from}
}

// Next returns the next entry, or nil once the range or the log is
// exhausted.
func (it *EntryIterator) Next() *types.LogEntry {
	if it.done {
		return nil
	}
	e := it.log.Get(it.next)
	if e == nil || it.next == it.to {
		it.done = true
	}
	it.next++
	return e
}

// LastIndex returns the index of the newest entry, or -1 when the log
// holds none (a compacted-empty log reports its watermark).
func (l *SegmentedLog) LastIndex() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastIndexLocked()
}

func (l *SegmentedLog) lastIndexLocked() int64 {
	if n := len(l.segments); n > 0 {
		return l.segments[n-1].EndIndex()
	}
	return l.lastCompacted
}

// FirstIndex returns the index of the oldest retained entry, or -1 when
// the log holds none.
func (l *SegmentedLog) FirstIndex() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, seg := range l.segments {
		if seg.NumEntries() > 0 {
			return int64(seg.StartIndex())
		}
	}
	return -1
}

// LastTerm returns the term of the newest entry, 0 when the log is empty.
func (l *SegmentedLog) LastTerm() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.segments) - 1; i >= 0; i-- {
		if r := l.segments[i].LastRecord(); r != nil {
			return r.Entry.Term
		}
	}
	return 0
}

// LastCompacted returns the compaction watermark, -1 for a fresh log
// that never compacted. Open sets it to one below the start index of the
// oldest segment found on disk.
func (l *SegmentedLog) LastCompacted() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastCompacted
}

// Truncate drops every entry with index >= from, cutting files to match.
// The segment containing from survives as the re-opened tail; segments
// past it are deleted outright. When from is that segment's start index,
// nothing of it survives and its file is deleted too; the next append
// then starts a fresh open segment. Truncating past the end is a no-op.
func (l *SegmentedLog) Truncate(from uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if int64(from) <= l.lastCompacted {
		return fmt.Errorf("%w: truncate(%d) below compaction watermark %d", ErrOutOfRange, from, l.lastCompacted)
	}
	if len(l.segments) == 0 || int64(from) > l.lastIndexLocked() {
		return nil
	}

	idx := -1
	for i, seg := range l.segments {
		if from >= seg.StartIndex() && int64(from) <= seg.EndIndex() {
			idx = i
			break
		}
	}
	if idx < 0 {
		// from <= lastIndex and above the watermark but inside no segment,
		// so it lies below the first segment's start (a log whose first
		// entry set a base past the watermark): every segment goes.
		idx = 0
	}

	// Later segments go away entirely, tail file handle first.
	if err := l.closeTailFileLocked(); err != nil {
		return err
	}
	for _, seg := range l.segments[idx+1:] {
		if err := l.removeSegmentFileLocked(seg); err != nil {
			return err
		}
	}

	seg := l.segments[idx]
	if from <= seg.StartIndex() {
		// Nothing of this segment survives; delete the file rather than
		// keep a zero-entry one.
		if err := l.removeSegmentFileLocked(seg); err != nil {
			return err
		}
		l.segments = l.segments[:idx]
	} else {
		reopened, err := l.truncateSegmentLocked(seg, from)
		if err != nil {
			return err
		}
		l.segments = append(l.segments[:idx], reopened)
	}

	l.syncDir()
	metrics.TruncationsTotal.Inc()
	l.updateGaugesLocked()
	util.Info("Truncated log from index %d, last index now %d", from, l.lastIndexLocked())
	return nil
}

// truncateSegmentLocked cuts seg at from and rebuilds it as a fresh open
// tail whose file is renamed to the in-progress form.
func (l *SegmentedLog) truncateSegmentLocked(seg *LogSegment, from uint64) (*LogSegment, error) {
	oldPath := l.sealedPath(seg.StartIndex(), seg.EndIndex())
	if seg.IsOpen() {
		oldPath = l.openPath(seg.StartIndex())
	}

	if err := seg.Truncate(from); err != nil {
		return nil, err
	}

	if err := os.Truncate(oldPath, int64(seg.TotalSize())); err != nil {
		return nil, fmt.Errorf("failed to truncate %s: %w", oldPath, err)
	}

	newPath := l.openPath(seg.StartIndex())
	if oldPath != newPath {
		if err := os.Rename(oldPath, newPath); err != nil {
			return nil, fmt.Errorf("failed to rename %s: %w", oldPath, err)
		}
	}

	f, err := openAppendFile(newPath)
	if err != nil {
		return nil, err
	}
	if err := fdatasync(f); err != nil {
		f.Close()
		return nil, err
	}

	// The truncated segment is sealed by contract; the coordinator's
	// explicit re-open step builds a fresh open segment around the
	// surviving records.
	reopened := newOpenSegment(seg.StartIndex())
	reopened.records = seg.records
	reopened.endIndex = seg.EndIndex()
	reopened.totalSize = seg.TotalSize()

	l.file = f
	l.writer = bufio.NewWriter(f)
	l.pending = 0
	return reopened, nil
}

func (l *SegmentedLog) closeTailFileLocked() error {
	if l.file == nil {
		return nil
	}
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("flush failed closing tail: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close failed closing tail: %w", err)
	}
	l.file = nil
	l.writer = nil
	l.pending = 0
	return nil
}

func (l *SegmentedLog) removeSegmentFileLocked(seg *LogSegment) error {
	path := l.sealedPath(seg.StartIndex(), seg.EndIndex())
	if seg.IsOpen() {
		path = l.openPath(seg.StartIndex())
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	util.Debug("Removed segment file %s", path)
	return nil
}

// Compact deletes whole sealed segments whose entries all lie at or
// below upTo, advancing the watermark. The segment holding the newest
// entry always survives so the last term stays known. While read
// sessions are active, Compact removes nothing and returns nil; it does
// not retry on its own later.
func (l *SegmentedLog) Compact(upTo uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if readers := atomic.LoadInt32(&l.activeReaders); readers > 0 {
		util.Debug("Compaction deferred (active readers: %d)", readers)
		return nil
	}

	removed := 0
	for len(l.segments) > 1 {
		seg := l.segments[0]
		if seg.IsOpen() || seg.EndIndex() > int64(upTo) {
			break
		}
		if err := l.removeSegmentFileLocked(seg); err != nil {
			return err
		}
		l.lastCompacted = seg.EndIndex()
		l.segments = l.segments[1:]
		removed++
	}

	if removed > 0 {
		l.syncDir()
		metrics.CompactionsTotal.Add(float64(removed))
		l.updateGaugesLocked()
		util.Info("Compacted %d segments, watermark now %d", removed, l.lastCompacted)
	}
	return nil
}

// Flush forces everything written so far to durable storage.
func (l *SegmentedLog) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushSyncLocked()
}

func (l *SegmentedLog) flushSyncLocked() error {
	if l.file == nil {
		return nil
	}
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}

	start := time.Now()
	if err := fdatasync(l.file); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	metrics.FsyncTotal.Inc()
	metrics.FsyncLatencyHist.Observe(time.Since(start).Seconds())
	l.pending = 0
	return nil
}

func (l *SegmentedLog) applySyncPolicyLocked(appended int) error {
	if l.syncMode == config.SyncAlways {
		return l.flushSyncLocked()
	}

	l.pending += appended
	if l.pending >= l.batchEntries {
		return l.flushSyncLocked()
	}
	// Keep the OS-visible file current even between fsyncs so readers
	// of the raw file and crash recovery see whole frames.
	return l.writer.Flush()
}

func (l *SegmentedLog) flushLoop() {
	ticker := time.NewTicker(l.batchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			if l.pending > 0 && !l.closed {
				if err := l.flushSyncLocked(); err != nil {
					util.Error("interval flush failed: %v", err)
				}
			}
			l.mu.Unlock()
		case <-l.done:
			return
		}
	}
}

// Close flushes, releases file handles and marks the log closed.
func (l *SegmentedLog) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		l.shutdown.Wait()

		l.mu.Lock()
		defer l.mu.Unlock()
		if ferr := l.flushSyncLocked(); ferr != nil {
			err = ferr
		}
		if l.file != nil {
			if cerr := l.file.Close(); cerr != nil && err == nil {
				err = cerr
			}
			l.file = nil
			l.writer = nil
		}
		l.closed = true
		util.Info("Closed segmented log in %s", l.dir)
	})
	return err
}

// NumSegments returns the current number of segments.
func (l *SegmentedLog) NumSegments() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.segments)
}

// Size returns the summed byte size of all segments.
func (l *SegmentedLog) Size() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sizeLocked()
}

func (l *SegmentedLog) sizeLocked() uint64 {
	var total uint64
	for _, seg := range l.segments {
		total += seg.TotalSize()
	}
	return total
}

func (l *SegmentedLog) updateGaugesLocked() {
	metrics.SegmentsTotal.Set(float64(len(l.segments)))
	metrics.LogSizeBytes.Set(float64(l.sizeLocked()))
}

// syncDir fsyncs the storage directory so file creates, renames and
// deletes survive a crash. Best effort on platforms where directories
// cannot be synced.
func (l *SegmentedLog) syncDir() {
	d, err := os.Open(l.dir)
	if err != nil {
		util.Debug("dir open for sync failed: %v", err)
		return
	}
	if err := d.Sync(); err != nil {
		util.Debug("dir sync failed: %v", err)
	}
	d.Close()
}
