//go:build !linux
// +build !linux

package seglog

import (
	"io"
	"net"
	"os"
)

func fdatasync(f *os.File) error {
	return f.Sync()
}

func fadviseSequential(*os.File) {}

func openAppendFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
}

func streamFile(conn net.Conn, f *os.File, size int64) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := io.CopyN(conn, f, size)
	return err
}
