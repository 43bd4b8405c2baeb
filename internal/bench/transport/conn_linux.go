//go:build linux

package transport

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

func (c *Conn) writeBuffers(bufs [][]byte, zerocopy bool) (int, error) {
	pending := c.view(bufs)
	total := 0

	for len(pending) > 0 {
		var n int
		var opErr error
		err := c.raw.Write(func(fd uintptr) bool {
			n, opErr = c.sendmsg(int(fd), pending, zerocopy)
			return !errors.Is(opErr, unix.EAGAIN)
		})
		if err == nil {
			err = opErr
		}
		if n > 0 {
			total += n
			pending = Consume(pending, n)
		}
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return total, os.NewSyscallError("sendmsg", err)
		}
	}

	return total, nil
}

// sendmsg issues one vectored send. With zerocopy set, ENOBUFS and EINVAL make
// this single call retry immediately without the offload flag.
func (c *Conn) sendmsg(fd int, bufs [][]byte, zerocopy bool) (int, error) {
	const flags = unix.MSG_NOSIGNAL
	if !zerocopy {
		return unix.SendmsgBuffers(fd, bufs, nil, nil, flags)
	}

	c.stats.Attempts++
	n, err := unix.SendmsgBuffers(fd, bufs, nil, nil, flags|unix.MSG_ZEROCOPY)
	if errors.Is(err, unix.ENOBUFS) || errors.Is(err, unix.EINVAL) {
		c.stats.Fallbacks++
		return unix.SendmsgBuffers(fd, bufs, nil, nil, flags)
	}
	return n, err
}

func (c *Conn) readBuffers(bufs [][]byte) (int, error) {
	var n int
	var opErr error
	err := c.raw.Read(func(fd uintptr) bool {
		n, _, _, _, opErr = unix.RecvmsgBuffers(int(fd), bufs, nil, 0)
		return !errors.Is(opErr, unix.EAGAIN)
	})
	if err == nil {
		err = opErr
	}
	if err != nil {
		return 0, os.NewSyscallError("recvmsg", err)
	}
	if n <= 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (c *Conn) enableOffload() error {
	var opErr error
	err := c.raw.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ZEROCOPY, 1)
	})
	if err == nil {
		err = opErr
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOffloadUnsupported, os.NewSyscallError("setsockopt SO_ZEROCOPY", err))
	}
	return nil
}
