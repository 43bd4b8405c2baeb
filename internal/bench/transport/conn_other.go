//go:build !linux

package transport

import (
	"io"
	"net"
)

func (c *Conn) writeBuffers(bufs [][]byte, _ bool) (int, error) {
	nb := net.Buffers(c.view(bufs))
	n, err := nb.WriteTo(c.tcp)
	return int(n), err
}

// readBuffers reads once into the first buffer that still has room.
func (c *Conn) readBuffers(bufs [][]byte) (int, error) {
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		n, err := c.tcp.Read(b)
		if n == 0 && err == nil {
			err = io.EOF
		}
		return n, err
	}
	return 0, io.EOF
}

func (c *Conn) enableOffload() error {
	return ErrOffloadUnsupported
}
