//go:build unix

package connlivecheck

import (
	"errors"
	"io"
	"net"
	"syscall"
)

func init() {
	Check = checkUnix
}

func checkUnix(c net.Conn) error {
	sysConn, ok := c.(syscall.Conn)
	if !ok {
		return nil
	}
	rawConn, err := sysConn.SyscallConn()
	if err != nil {
		return nil
	}

	var sysErr error
	peekErr := rawConn.Read(func(fd uintptr) bool {
		var buf [1]byte
		n, _, err := syscall.Recvfrom(int(fd), buf[:], syscall.MSG_PEEK|syscall.MSG_DONTWAIT)
		switch {
		case n == 0 && err == nil:
			sysErr = io.EOF
		case errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK):
			sysErr = nil
		case err != nil:
			sysErr = err
		}
		return true
	})
	if peekErr != nil {
		return nil
	}
	return sysErr
}
