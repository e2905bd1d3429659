package seglog

import "errors"

var (
	// ErrIndexGap reports an append whose index does not follow the last
	// index of the log, or a batch with non-contiguous indices.
	ErrIndexGap = errors.New("seglog: index gap")

	// ErrNotOpen reports an append against a sealed segment.
	ErrNotOpen = errors.New("seglog: segment not open")

	// ErrMixedTerm reports a single append batch spanning multiple terms.
	ErrMixedTerm = errors.New("seglog: mixed terms in batch")

	// ErrOutOfRange reports a truncate or read below the compaction watermark.
	ErrOutOfRange = errors.New("seglog: index out of range")

	// ErrCorruptSegment reports a sealed segment file that failed replay.
	ErrCorruptSegment = errors.New("seglog: corrupt sealed segment")

	// ErrCorruptDirectory reports overlapping, duplicated or gapped
	// segment files in a storage directory.
	ErrCorruptDirectory = errors.New("seglog: corrupt storage directory")

	// ErrClosed reports an operation on a closed log.
	ErrClosed = errors.New("seglog: log closed")
)
