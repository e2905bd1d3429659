package codec_test

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/downfa11-org/raftlog/pkg/codec"
	"github.com/downfa11-org/raftlog/pkg/types"
)

func reader(b []byte) *bufio.Reader {
	return bufio.NewReader(bytes.NewReader(b))
}

func TestFrameRoundTrip(t *testing.T) {
	entries := []*types.LogEntry{
		{Index: 0, Term: 0, Kind: types.EntryCommand},
		{Index: 1, Term: 1, Kind: types.EntryCommand, Payload: []byte("a")},
		{Index: 42, Term: 7, Kind: types.EntryNoop},
		{Index: 1 << 40, Term: 1 << 30, Kind: types.EntryConfiguration, Payload: bytes.Repeat([]byte("x"), 4096)},
		{Index: 3, Term: 2, Kind: types.EntryBarrier, Payload: []byte{0, 1, 2, 0xff}},
	}

	for _, want := range entries {
		frame := codec.Marshal(want)
		if uint64(len(frame)) != codec.FrameSize(want) {
			t.Fatalf("FrameSize(%s) = %d, frame is %d bytes", want, codec.FrameSize(want), len(frame))
		}

		got, n, err := codec.ReadFrame(reader(frame))
		if err != nil {
			t.Fatalf("ReadFrame(%s): %v", want, err)
		}
		if n != uint64(len(frame)) {
			t.Fatalf("ReadFrame consumed %d of %d bytes", n, len(frame))
		}
		if got.Index != want.Index || got.Term != want.Term || got.Kind != want.Kind || !bytes.Equal(got.Payload, want.Payload) {
			t.Fatalf("round trip mismatch: got %s, want %s", got, want)
		}
	}
}

func TestReadFrameCleanEOF(t *testing.T) {
	_, _, err := codec.ReadFrame(reader(nil))
	if err != io.EOF {
		t.Fatalf("expected io.EOF on empty input, got %v", err)
	}
}

func TestReadFrameTruncated(t *testing.T) {
	e := &types.LogEntry{Index: 5, Term: 2, Payload: []byte("payload")}
	frame := codec.Marshal(e)

	// every strict prefix must classify as a truncated frame
	for cut := 1; cut < len(frame); cut++ {
		_, _, err := codec.ReadFrame(reader(frame[:cut]))
		if !errors.Is(err, codec.ErrTruncatedFrame) {
			t.Fatalf("prefix of %d/%d bytes: got %v, want ErrTruncatedFrame", cut, len(frame), err)
		}
	}
}

func TestReadFrameCorrupt(t *testing.T) {
	e := &types.LogEntry{Index: 5, Term: 2, Payload: []byte("payload")}
	frame := codec.Marshal(e)

	for bit := range frame[1:] { // keep the length prefix intact
		mutated := append([]byte(nil), frame...)
		mutated[1+bit] ^= 0x01

		_, _, err := codec.ReadFrame(reader(mutated))
		if !errors.Is(err, codec.ErrCorruptFrame) {
			t.Fatalf("bitflip at byte %d: got %v, want ErrCorruptFrame", 1+bit, err)
		}
	}
}

func TestReadFrameBadVarint(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"length below fixed body size", append([]byte{3}, bytes.Repeat([]byte{0}, 7)...)},
		{"absurd length", append([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, make([]byte, 32)...)},
	}
	for _, tt := range tests {
		_, _, err := codec.ReadFrame(reader(tt.input))
		if !errors.Is(err, codec.ErrBadVarint) {
			t.Fatalf("%s: got %v, want ErrBadVarint", tt.name, err)
		}
	}
}

func TestSegmentHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := codec.WriteHeader(&buf); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if uint64(buf.Len()) != codec.HeaderSize {
		t.Fatalf("header is %d bytes, want %d", buf.Len(), codec.HeaderSize)
	}
	if err := codec.CheckHeader(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("CheckHeader: %v", err)
	}

	if err := codec.CheckHeader(bytes.NewReader([]byte("WRONGMAG"))); !errors.Is(err, codec.ErrCorruptFrame) {
		t.Fatalf("bad magic: got %v, want ErrCorruptFrame", err)
	}
	if err := codec.CheckHeader(bytes.NewReader([]byte("RA"))); !errors.Is(err, codec.ErrTruncatedFrame) {
		t.Fatalf("short header: got %v, want ErrTruncatedFrame", err)
	}
}
