package strategy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/copyperf/internal/bench/message"
	"github.com/wesleyorama2/copyperf/internal/bench/transport"
)

func tcpPair(t *testing.T) (*transport.Conn, *transport.Conn) {
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

	a, err := transport.New(server)
	require.NoError(t, err)
	b, err := transport.New(dialed)
	require.NoError(t, err)
	require.NoError(t, b.SetReadDeadline(time.Now().Add(10*time.Second)))

	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

// noOffloadConn refuses send offload as a kernel without SO_ZEROCOPY would.
type noOffloadConn struct {
	*transport.Conn
}

func (noOffloadConn) EnableOffload() error {
	return fmt.Errorf("%w: test socket", transport.ErrOffloadUnsupported)
}

// chunkConn serves a fixed byte stream at most chunk bytes per call.
type chunkConn struct {
	r     *bytes.Reader
	chunk int
	sent  bytes.Buffer
}

func (c *chunkConn) Write(b []byte) (int, error) { return c.sent.Write(b) }

func (c *chunkConn) Read(b []byte) (int, error) {
	if len(b) > c.chunk {
		b = b[:c.chunk]
	}
	return c.r.Read(b)
}

func (c *chunkConn) WriteBuffers(bufs [][]byte) (int, error) {
	n := 0
	for _, b := range bufs {
		m, _ := c.sent.Write(b)
		n += m
	}
	return n, nil
}

func (c *chunkConn) WriteBuffersZeroCopy(bufs [][]byte) (int, error) { return c.WriteBuffers(bufs) }

func (c *chunkConn) ReadBuffers(bufs [][]byte) (int, error) {
	for _, b := range bufs {
		if len(b) > 0 {
			return c.Read(b)
		}
	}
	return 0, io.EOF
}

func (c *chunkConn) EnableOffload() error { return transport.ErrOffloadUnsupported }

// countingConn counts the receive calls that reach the connection.
type countingConn struct {
	*chunkConn
	reads int
}

func (c *countingConn) Read(b []byte) (int, error) {
	c.reads++
	return c.chunkConn.Read(b)
}

func (c *countingConn) ReadBuffers(bufs [][]byte) (int, error) {
	c.reads++
	return c.chunkConn.ReadBuffers(bufs)
}

type failingAllocator struct{}

func (failingAllocator) Alloc(int) ([]byte, error) { return nil, errors.New("out of memory") }
func (failingAllocator) Free([]byte)               {}

func quietOptions() (Options, *test.Hook) {
	logger, hook := test.NewNullLogger()
	return Options{Logger: logrus.NewEntry(logger)}, hook
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"copy", KindCopy},
		{"two_copy", KindCopy},
		{"A1", KindCopy},
		{"scatter-gather", KindScatterGather},
		{"one_copy", KindScatterGather},
		{"a2", KindScatterGather},
		{"zerocopy", KindZeroCopy},
		{" Zero_Copy ", KindZeroCopy},
		{"A3", KindZeroCopy},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Parse("sendfile")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestKindLabel(t *testing.T) {
	assert.Equal(t, "two_copy", KindCopy.Label())
	assert.Equal(t, "one_copy", KindScatterGather.Label())
	assert.Equal(t, "zero_copy", KindZeroCopy.Label())
	assert.Equal(t, "unknown", Kind("x").Label())
	assert.Len(t, Kinds(), 3)
}

func TestNewSender_UnknownKind(t *testing.T) {
	msg, err := message.Build(4, nil)
	require.NoError(t, err)
	defer msg.Destroy()

	_, err = NewSender(Kind("bogus"), &chunkConn{}, msg, Options{})
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = NewReceiver(Kind("bogus"), &chunkConn{}, 4, Options{})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

// Every receiver must reassemble the exact unit any sender put on the wire.
func TestStrategies_ProduceIdenticalUnits(t *testing.T) {
	const fieldSize = 4096
	const units = 3

	msg, err := message.Build(fieldSize, nil)
	require.NoError(t, err)
	defer msg.Destroy()

	want, err := msg.Materialize()
	require.NoError(t, err)
	defer want.Release()

	for _, sk := range Kinds() {
		for _, rk := range Kinds() {
			t.Run(fmt.Sprintf("%s_to_%s", sk.Label(), rk.Label()), func(t *testing.T) {
				a, b := tcpPair(t)
				opts, _ := quietOptions()

				sender, err := NewSender(sk, a, msg, opts)
				require.NoError(t, err)
				defer sender.Close()
				receiver, err := NewReceiver(rk, b, fieldSize, opts)
				require.NoError(t, err)
				defer receiver.Close()

				sendErr := make(chan error, 1)
				go func() {
					for i := 0; i < units; i++ {
						if _, err := sender.Send(); err != nil {
							sendErr <- err
							return
						}
					}
					sendErr <- nil
				}()

				for i := 0; i < units; i++ {
					n, err := receiver.ReceiveUnit()
					require.NoError(t, err)
					assert.Equal(t, want.Len(), n)
					require.NoError(t, message.Verify(receiver.Fields()))
					assert.True(t, bytes.Equal(want.Bytes(), bytes.Join(receiver.Fields(), nil)))
				}
				require.NoError(t, <-sendErr)
			})
		}
	}
}

func TestZeroCopy_OffloadUnavailableMatchesScatterGather(t *testing.T) {
	const fieldSize = 512

	msg, err := message.Build(fieldSize, nil)
	require.NoError(t, err)
	defer msg.Destroy()

	capture := func(kind Kind, wrap func(*transport.Conn) Conn) []byte {
		a, b := tcpPair(t)
		opts, _ := quietOptions()

		sender, err := NewSender(kind, wrap(a), msg, opts)
		require.NoError(t, err)
		defer sender.Close()

		n, err := sender.Send()
		require.NoError(t, err)
		assert.Equal(t, message.UnitSize(fieldSize), n)
		require.NoError(t, a.Close())

		got, err := io.ReadAll(b)
		require.NoError(t, err)
		return got
	}

	plain := func(c *transport.Conn) Conn { return c }
	refused := func(c *transport.Conn) Conn { return noOffloadConn{c} }

	sg := capture(KindScatterGather, plain)
	zc := capture(KindZeroCopy, refused)
	assert.Equal(t, sg, zc)
}

func TestZeroCopySender_LogsFallback(t *testing.T) {
	msg, err := message.Build(8, nil)
	require.NoError(t, err)
	defer msg.Destroy()

	a, _ := tcpPair(t)
	opts, hook := quietOptions()

	sender, err := NewSender(KindZeroCopy, noOffloadConn{a}, msg, opts)
	require.NoError(t, err)

	reporter, ok := sender.(OffloadReporter)
	require.True(t, ok)
	assert.False(t, reporter.Offloaded())
	assert.Zero(t, reporter.OffloadStats().Attempts)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "fallback mode")
}

func TestReceiveUnit_ContinuesPartialReads(t *testing.T) {
	msg, err := message.Build(16, nil)
	require.NoError(t, err)
	defer msg.Destroy()
	unit, err := msg.Materialize()
	require.NoError(t, err)

	for _, kind := range Kinds() {
		t.Run(kind.Label(), func(t *testing.T) {
			stream := bytes.Repeat(unit.Bytes(), 2)
			conn := &chunkConn{r: bytes.NewReader(stream), chunk: 5}

			r, err := NewReceiver(kind, conn, 16, Options{})
			require.NoError(t, err)
			defer r.Close()

			for i := 0; i < 2; i++ {
				n, err := r.ReceiveUnit()
				require.NoError(t, err)
				assert.Equal(t, 128, n)
				assert.NoError(t, message.Verify(r.Fields()))
			}

			n, err := r.ReceiveUnit()
			assert.Zero(t, n)
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

// Receive is one call: a 1024-byte unit arriving 100 bytes at a time takes
// eleven of them.
func TestReceive_OneCallPerIteration(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(kind.Label(), func(t *testing.T) {
			conn := &countingConn{chunkConn: &chunkConn{r: bytes.NewReader(bytes.Repeat([]byte{'A'}, 1024)), chunk: 100}}

			r, err := NewReceiver(kind, conn, 128, Options{})
			require.NoError(t, err)
			defer r.Close()

			calls, total := 0, 0
			for {
				n, err := r.Receive()
				if errors.Is(err, io.EOF) {
					assert.Zero(t, n)
					break
				}
				require.NoError(t, err)
				assert.LessOrEqual(t, n, 100)
				calls++
				total += n
			}

			assert.Equal(t, 11, calls)
			assert.Equal(t, 1024, total)
			assert.Equal(t, 12, conn.reads, "eleven data calls and the one that saw EOF")
		})
	}
}

func TestReceiveUnit_TruncatedUnit(t *testing.T) {
	for _, kind := range Kinds() {
		t.Run(kind.Label(), func(t *testing.T) {
			conn := &chunkConn{r: bytes.NewReader(bytes.Repeat([]byte{'A'}, 20)), chunk: 7}

			r, err := NewReceiver(kind, conn, 16, Options{})
			require.NoError(t, err)
			defer r.Close()

			n, err := r.ReceiveUnit()
			assert.Equal(t, 20, n)
			assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
		})
	}
}

func TestCopySender_SendsMaterializedUnit(t *testing.T) {
	msg, err := message.Build(3, nil)
	require.NoError(t, err)
	defer msg.Destroy()

	conn := &chunkConn{}
	s, err := NewSender(KindCopy, conn, msg, Options{})
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 2; i++ {
		n, err := s.Send()
		require.NoError(t, err)
		assert.Equal(t, 24, n)
	}
	assert.Equal(t, "AAABBBCCCDDDEEEFFFGGGHHHAAABBBCCCDDDEEEFFFGGGHHH", conn.sent.String())
}

func TestNewReceiver_AllocationFailure(t *testing.T) {
	for _, kind := range Kinds() {
		_, err := NewReceiver(kind, &chunkConn{}, 64, Options{Allocator: failingAllocator{}})
		assert.ErrorIs(t, err, message.ErrAllocation, kind.String())
	}
}
