// Package transport wraps a TCP connection with the three kinds of socket calls
// the strategies need: plain single-buffer I/O, vectored (scatter/gather) I/O,
// and vectored sends with kernel zero-copy offload.
//
// On Linux the vectored calls go straight to sendmsg(2)/recvmsg(2) through the
// connection's syscall.RawConn so the Go runtime poller still handles
// readiness and deadlines. Other platforms fall back to net.Buffers.
package transport

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// ErrOffloadUnsupported is returned by EnableOffload when the platform or
// socket cannot pin send buffers.
var ErrOffloadUnsupported = errors.New("zero-copy offload unsupported")

// OffloadStats counts offloaded send attempts on one connection.
type OffloadStats struct {
	// Attempts is the number of sendmsg calls issued with the offload flag.
	Attempts uint64 `json:"attempts"`
	// Fallbacks is the number of those calls retried without the flag after
	// ENOBUFS or EINVAL.
	Fallbacks uint64 `json:"fallbacks"`
}

// Conn is a TCP connection owned by exactly one worker.
// It is not safe for concurrent use.
type Conn struct {
	tcp     *net.TCPConn
	raw     syscall.RawConn
	scratch [][]byte
	offload bool
	stats   OffloadStats
}

// New wraps c, which must be a *net.TCPConn.
func New(c net.Conn) (*Conn, error) {
	tcp, ok := c.(*net.TCPConn)
	if !ok {
		return nil, fmt.Errorf("transport: %T is not a TCP connection", c)
	}
	raw, err := tcp.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("transport: raw conn: %w", err)
	}
	return &Conn{tcp: tcp, raw: raw}, nil
}

// Write sends b with a single-buffer send.
func (c *Conn) Write(b []byte) (int, error) {
	return c.tcp.Write(b)
}

// Read receives into b with a single-buffer receive.
func (c *Conn) Read(b []byte) (int, error) {
	return c.tcp.Read(b)
}

// WriteBuffers sends every buffer in bufs, in order, with vectored sends.
// bufs itself is not modified.
func (c *Conn) WriteBuffers(bufs [][]byte) (int, error) {
	return c.writeBuffers(bufs, false)
}

// WriteBuffersZeroCopy is WriteBuffers with the kernel offload flag set on each
// send. Without a prior successful EnableOffload it behaves as WriteBuffers.
//
// Completion notifications queued by the kernel are never read, so the pinned
// pages may still be in use by the NIC when the caller reuses or frees bufs.
func (c *Conn) WriteBuffersZeroCopy(bufs [][]byte) (int, error) {
	return c.writeBuffers(bufs, c.offload)
}

// ReadBuffers issues one vectored receive scattering into bufs in order.
// A zero-byte result is reported as io.EOF.
func (c *Conn) ReadBuffers(bufs [][]byte) (int, error) {
	return c.readBuffers(bufs)
}

// EnableOffload asks the kernel to allow zero-copy sends on this socket.
func (c *Conn) EnableOffload() error {
	if err := c.enableOffload(); err != nil {
		return err
	}
	c.offload = true
	return nil
}

// Offloaded reports whether EnableOffload succeeded.
func (c *Conn) Offloaded() bool {
	return c.offload
}

// OffloadStats returns the offload counters accumulated so far.
func (c *Conn) OffloadStats() OffloadStats {
	return c.stats
}

// SetReadDeadline sets the deadline for future receives.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.tcp.SetReadDeadline(t)
}

// SetDeadline sets the deadline for future sends and receives. A deadline in
// the past wakes any call currently blocked on the connection.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.tcp.SetDeadline(t)
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.tcp.RemoteAddr()
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.tcp.Close()
}

// view copies the slice headers of bufs into the connection's scratch list so
// partial sends can advance it without touching the caller's list.
func (c *Conn) view(bufs [][]byte) [][]byte {
	c.scratch = append(c.scratch[:0], bufs...)
	return c.scratch
}

// Consume drops the first n bytes from bufs, trimming the first remaining
// buffer in place. Callers pass a copy of any list they need to keep.
func Consume(bufs [][]byte, n int) [][]byte {
	for len(bufs) > 0 && n >= len(bufs[0]) {
		n -= len(bufs[0])
		bufs = bufs[1:]
	}
	if len(bufs) > 0 && n > 0 {
		bufs[0] = bufs[0][n:]
	}
	return bufs
}
