//go:build linux
// +build linux

package seglog

import (
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// fdatasync flushes file data without forcing a metadata write when the
// kernel can avoid one.
func fdatasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}

// fadviseSequential hints the kernel that the file will be written and
// read front to back.
func fadviseSequential(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}

func openAppendFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	fadviseSequential(f)
	return f, nil
}

// streamFile copies size bytes of f to conn, using sendfile when the
// connection exposes a raw TCP socket.
func streamFile(conn net.Conn, f *os.File, size int64) error {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		_, err := io.CopyN(conn, f, size)
		return err
	}

	rawConn, err := tcp.SyscallConn()
	if err != nil {
		return err
	}

	var sendErr error
	if err := rawConn.Control(func(fd uintptr) {
		inFd := int(f.Fd())
		var offset int64
		for offset < size {
			n, err := unix.Sendfile(int(fd), inFd, &offset, int(size-offset))
			if err != nil {
				sendErr = err
				return
			}
			if n == 0 {
				break
			}
		}
	}); err != nil {
		return err
	}
	return sendErr
}
