package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/downfa11-org/raftlog/pkg/types"
)

// SegmentMagic is the fixed header every segment file starts with.
// The first entry frame begins at offset len(SegmentMagic).
const SegmentMagic = "RAFTSEG1"

// HeaderSize is the length of the segment file header in bytes.
const HeaderSize = uint64(len(SegmentMagic))

// Frame layout: uvarint body length, body, 4-byte big-endian CRC32 of the body.
// Body layout: kind (1 byte), index (8 bytes BE), term (8 bytes BE), payload.
const (
	bodyFixedSize = 1 + 8 + 8
	crcSize       = 4

	// maxBodySize bounds the length prefix so a garbage varint cannot
	// drive a multi-gigabyte allocation during replay.
	maxBodySize = 64 << 20
)

var (
	// ErrBadVarint reports a malformed or absurd length prefix.
	ErrBadVarint = errors.New("codec: bad varint length prefix")

	// ErrTruncatedFrame reports a frame with fewer bytes on disk than its
	// length prefix promises. At the tail of an in-progress segment this
	// is a torn write, not corruption.
	ErrTruncatedFrame = errors.New("codec: truncated frame")

	// ErrCorruptFrame reports a checksum mismatch or an undecodable body.
	ErrCorruptFrame = errors.New("codec: corrupt frame")
)

// BodySize returns the serialized body length for an entry.
func BodySize(e *types.LogEntry) uint64 {
	return uint64(bodyFixedSize + len(e.Payload))
}

// FrameSize returns the total on-disk frame length for an entry.
func FrameSize(e *types.LogEntry) uint64 {
	bodyLen := BodySize(e)
	return uint64(uvarintSize(bodyLen)) + bodyLen + crcSize
}

func uvarintSize(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

func encodeBody(e *types.LogEntry) []byte {
	body := make([]byte, bodyFixedSize+len(e.Payload))
	body[0] = byte(e.Kind)
	binary.BigEndian.PutUint64(body[1:9], e.Index)
	binary.BigEndian.PutUint64(body[9:17], e.Term)
	copy(body[bodyFixedSize:], e.Payload)
	return body
}

func decodeBody(body []byte) (*types.LogEntry, error) {
	if len(body) < bodyFixedSize {
		return nil, fmt.Errorf("%w: body of %d bytes", ErrCorruptFrame, len(body))
	}
	e := &types.LogEntry{
		Kind:  types.EntryKind(body[0]),
		Index: binary.BigEndian.Uint64(body[1:9]),
		Term:  binary.BigEndian.Uint64(body[9:17]),
	}
	if payload := body[bodyFixedSize:]; len(payload) > 0 {
		e.Payload = make([]byte, len(payload))
		copy(e.Payload, payload)
	}
	return e, nil
}

// Marshal serializes an entry to a complete frame.
func Marshal(e *types.LogEntry) []byte {
	body := encodeBody(e)

	buf := make([]byte, 0, FrameSize(e))
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(body)))
	buf = append(buf, lenBuf[:n]...)
	buf = append(buf, body...)

	var crcBuf [crcSize]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc32.ChecksumIEEE(body))
	return append(buf, crcBuf[:]...)
}

// WriteFrame writes the framed entry to w and returns the bytes written.
func WriteFrame(w io.Writer, e *types.LogEntry) (int, error) {
	return w.Write(Marshal(e))
}

// ByteScanner is the reader a frame is decoded from. bufio.Reader satisfies it.
type ByteScanner interface {
	io.Reader
	io.ByteReader
}

// ReadFrame decodes the next frame from r. It returns the entry and the
// number of bytes consumed. A clean EOF before the first length byte
// returns (nil, 0, io.EOF); anything shorter than a whole frame returns
// ErrTruncatedFrame, and a checksum mismatch returns ErrCorruptFrame.
func ReadFrame(r ByteScanner) (*types.LogEntry, uint64, error) {
	bodyLen, err := binary.ReadUvarint(r)
	if err != nil {
		if err == io.EOF {
			return nil, 0, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, 0, fmt.Errorf("%w: partial length prefix", ErrTruncatedFrame)
		}
		return nil, 0, fmt.Errorf("%w: %v", ErrBadVarint, err)
	}
	if bodyLen < bodyFixedSize || bodyLen > maxBodySize {
		return nil, 0, fmt.Errorf("%w: length %d", ErrBadVarint, bodyLen)
	}

	buf := make([]byte, bodyLen+crcSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, 0, fmt.Errorf("%w: %d byte body", ErrTruncatedFrame, bodyLen)
	}

	body := buf[:bodyLen]
	want := binary.BigEndian.Uint32(buf[bodyLen:])
	if got := crc32.ChecksumIEEE(body); got != want {
		return nil, 0, fmt.Errorf("%w: crc 0x%08x, want 0x%08x", ErrCorruptFrame, got, want)
	}

	e, err := decodeBody(body)
	if err != nil {
		return nil, 0, err
	}
	return e, uint64(uvarintSize(bodyLen)) + bodyLen + crcSize, nil
}

// WriteHeader writes the segment magic to a fresh segment file.
func WriteHeader(w io.Writer) error {
	_, err := io.WriteString(w, SegmentMagic)
	return err
}

// CheckHeader verifies the segment magic at the start of a file.
func CheckHeader(r io.Reader) error {
	got := make([]byte, len(SegmentMagic))
	if _, err := io.ReadFull(r, got); err != nil {
		return fmt.Errorf("%w: missing segment header", ErrTruncatedFrame)
	}
	if string(got) != SegmentMagic {
		return fmt.Errorf("%w: bad segment header %q", ErrCorruptFrame, got)
	}
	return nil
}
