package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tcpPair returns two connected transport Conns over loopback.
func tcpPair(t *testing.T) (*Conn, *Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	dialed, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server, ok := <-accepted
	require.True(t, ok, "accept failed")

	a, err := New(server)
	require.NoError(t, err)
	b, err := New(dialed)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func fields(n, size int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = bytes.Repeat([]byte{byte('a' + i)}, size)
	}
	return out
}

func readUnit(t *testing.T, c *Conn, size int) []byte {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, size)
	_, err := io.ReadFull(c, buf)
	require.NoError(t, err)
	return buf
}

func TestNew_RejectsNonTCP(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	_, err := New(a)
	assert.Error(t, err)
}

func TestWriteBuffers_SendsFieldsInOrder(t *testing.T) {
	sender, receiver := tcpPair(t)
	bufs := fields(8, 64)

	n, err := sender.WriteBuffers(bufs)
	require.NoError(t, err)
	assert.Equal(t, 512, n)

	assert.Equal(t, bytes.Join(bufs, nil), readUnit(t, receiver, 512))
	assert.Len(t, bufs[0], 64, "caller's list must not be advanced")
}

func TestWriteBuffers_LargeUnitSurvivesPartialSends(t *testing.T) {
	sender, receiver := tcpPair(t)
	bufs := fields(8, 1<<20)

	done := make(chan error, 1)
	go func() {
		_, err := sender.WriteBuffers(bufs)
		done <- err
	}()

	got := readUnit(t, receiver, 8<<20)
	require.NoError(t, <-done)
	assert.True(t, bytes.Equal(bytes.Join(bufs, nil), got))
}

func TestReadBuffers_ScattersIntoFields(t *testing.T) {
	sender, receiver := tcpPair(t)
	want := fields(8, 16)
	_, err := sender.Write(bytes.Join(want, nil))
	require.NoError(t, err)

	got := make([][]byte, 8)
	for i := range got {
		got[i] = make([]byte, 16)
	}
	require.NoError(t, receiver.SetReadDeadline(time.Now().Add(5*time.Second)))

	total := 0
	pending := append([][]byte(nil), got...)
	for total < 128 {
		n, err := receiver.ReadBuffers(pending)
		require.NoError(t, err)
		total += n
		pending = Consume(pending, n)
	}
	assert.Equal(t, want, got)
}

func TestReadBuffers_EOFOnPeerClose(t *testing.T) {
	sender, receiver := tcpPair(t)
	require.NoError(t, sender.Close())
	require.NoError(t, receiver.SetReadDeadline(time.Now().Add(5*time.Second)))

	_, err := receiver.ReadBuffers(fields(8, 8))
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, IsPeerClosed(err))
}

func TestWriteBuffersZeroCopy(t *testing.T) {
	sender, receiver := tcpPair(t)
	bufs := fields(8, 4096)

	offloadErr := sender.EnableOffload()
	if offloadErr != nil {
		assert.ErrorIs(t, offloadErr, ErrOffloadUnsupported)
		assert.False(t, sender.Offloaded())
	}

	_, err := sender.WriteBuffersZeroCopy(bufs)
	require.NoError(t, err)
	assert.Equal(t, bytes.Join(bufs, nil), readUnit(t, receiver, 8*4096))

	stats := sender.OffloadStats()
	if offloadErr == nil {
		assert.True(t, sender.Offloaded())
		assert.GreaterOrEqual(t, stats.Attempts, uint64(1))
		assert.LessOrEqual(t, stats.Fallbacks, stats.Attempts)
	} else {
		assert.Zero(t, stats.Attempts)
	}
}

func TestConsume(t *testing.T) {
	bufs := [][]byte{[]byte("abc"), []byte("de"), []byte("fgh")}

	rest := Consume(append([][]byte(nil), bufs...), 4)
	require.Len(t, rest, 2)
	assert.Equal(t, "e", string(rest[0]))
	assert.Equal(t, "fgh", string(rest[1]))

	assert.Empty(t, Consume(append([][]byte(nil), bufs...), 8))
	assert.Len(t, Consume(append([][]byte(nil), bufs...), 0), 3)
}

func TestErrorClassification(t *testing.T) {
	reset := &net.OpError{Op: "write", Net: "tcp", Err: os.NewSyscallError("sendmsg", syscall.ECONNRESET)}
	pipe := fmt.Errorf("send: %w", syscall.EPIPE)

	assert.True(t, IsPeerClosed(io.EOF))
	assert.True(t, IsPeerClosed(reset))
	assert.True(t, IsPeerClosed(pipe))
	assert.False(t, IsPeerClosed(errors.New("boom")))

	assert.True(t, IsTransient(os.NewSyscallError("recvmsg", syscall.EINTR)))
	assert.False(t, IsTransient(io.EOF))

	assert.True(t, IsTimeout(os.ErrDeadlineExceeded))
	assert.False(t, IsTimeout(io.EOF))
}
