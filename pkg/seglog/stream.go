package seglog

import (
	"fmt"
	"net"
	"os"
	"sync/atomic"
)

// SendSegmentToConn streams the raw bytes of the segment containing
// index to conn, header and frames as they sit on disk. A follower
// catching up can replay the stream with the same codec that reads
// segment files.
func (l *SegmentedLog) SendSegmentToConn(conn net.Conn, index uint64) (int64, error) {
	l.mu.Lock()
	seg := l.findSegmentLocked(index)
	if seg == nil {
		l.mu.Unlock()
		return 0, fmt.Errorf("%w: no segment holds index %d", ErrOutOfRange, index)
	}

	path := l.sealedPath(seg.StartIndex(), seg.EndIndex())
	if seg.IsOpen() {
		path = l.openPath(seg.StartIndex())
		if l.writer != nil {
			if err := l.writer.Flush(); err != nil {
				l.mu.Unlock()
				return 0, err
			}
		}
	}
	size := int64(seg.TotalSize())
	l.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	atomic.AddInt32(&l.activeReaders, 1)
	defer atomic.AddInt32(&l.activeReaders, -1)

	if err := streamFile(conn, f, size); err != nil {
		return 0, fmt.Errorf("failed to stream %s: %w", path, err)
	}
	return size, nil
}
