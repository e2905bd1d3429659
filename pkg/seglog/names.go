package seglog

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Segment files are named log-<start>-<end> once sealed and
// log-<start>-inprogress while open. Indices are zero-padded to a fixed
// width so lexicographic order matches numeric order.
const (
	segmentPrefix  = "log-"
	inProgressMark = "inprogress"
	indexWidth     = 20
)

func sealedFileName(start uint64, end int64) string {
	return fmt.Sprintf("%s%0*d-%0*d", segmentPrefix, indexWidth, start, indexWidth, end)
}

func openFileName(start uint64) string {
	return fmt.Sprintf("%s%0*d-%s", segmentPrefix, indexWidth, start, inProgressMark)
}

func (l *SegmentedLog) sealedPath(start uint64, end int64) string {
	return filepath.Join(l.dir, sealedFileName(start, end))
}

func (l *SegmentedLog) openPath(start uint64) string {
	return filepath.Join(l.dir, openFileName(start))
}

// parseSegmentName decodes a segment file name. ok is false for files
// that are not segment files at all.
func parseSegmentName(name string) (start uint64, end int64, isOpen bool, ok bool) {
	rest, found := strings.CutPrefix(name, segmentPrefix)
	if !found {
		return 0, 0, false, false
	}
	startStr, endStr, found := strings.Cut(rest, "-")
	if !found {
		return 0, 0, false, false
	}

	start, err := strconv.ParseUint(startStr, 10, 64)
	if err != nil {
		return 0, 0, false, false
	}

	if endStr == inProgressMark {
		return start, int64(start) - 1, true, true
	}
	e, err := strconv.ParseUint(endStr, 10, 63)
	if err != nil {
		return 0, 0, false, false
	}
	return start, int64(e), false, true
}
