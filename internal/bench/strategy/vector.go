package strategy

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/copyperf/internal/bench/message"
	"github.com/wesleyorama2/copyperf/internal/bench/transport"
)

// vectorSender hands the borrowed message fields to one vectored send.
type vectorSender struct {
	conn Conn
	bufs message.BufferList
}

func newVectorSender(conn Conn, msg *message.Message) *vectorSender {
	return &vectorSender{conn: conn, bufs: msg.Buffers()}
}

func (s *vectorSender) Send() (int, error) {
	return s.conn.WriteBuffers(s.bufs)
}

func (s *vectorSender) Close() error {
	s.bufs = nil
	return nil
}

// zeroCopySender requests kernel send offload on every call. When the socket
// refuses offload at setup it stays a plain vectored sender for the whole
// connection.
//
// Offload completions are never read back from the socket error queue, so the
// kernel may still reference the message pages after Send returns.
type zeroCopySender struct {
	vectorSender
	offloaded bool
}

func newZeroCopySender(conn Conn, msg *message.Message, logger *logrus.Entry) *zeroCopySender {
	s := &zeroCopySender{vectorSender: vectorSender{conn: conn, bufs: msg.Buffers()}}
	if err := conn.EnableOffload(); err != nil {
		logger.WithError(err).Warn("zero-copy offload unavailable, running in fallback mode")
		return s
	}
	s.offloaded = true
	return s
}

func (s *zeroCopySender) Send() (int, error) {
	if !s.offloaded {
		return s.conn.WriteBuffers(s.bufs)
	}
	return s.conn.WriteBuffersZeroCopy(s.bufs)
}

func (s *zeroCopySender) Offloaded() bool {
	return s.offloaded
}

func (s *zeroCopySender) OffloadStats() transport.OffloadStats {
	if r, ok := s.conn.(interface{ OffloadStats() transport.OffloadStats }); ok {
		return r.OffloadStats()
	}
	return transport.OffloadStats{}
}

// vectorReceiver scatters each unit into independently allocated fields.
type vectorReceiver struct {
	conn    Conn
	alloc   message.Allocator
	fields  [][]byte
	pending [][]byte
	size    int
}

func newVectorReceiver(conn Conn, fieldSize int, alloc message.Allocator) (*vectorReceiver, error) {
	r := &vectorReceiver{
		conn:    conn,
		alloc:   alloc,
		fields:  make([][]byte, 0, message.FieldCount),
		pending: make([][]byte, 0, message.FieldCount),
		size:    message.UnitSize(fieldSize),
	}
	for i := 0; i < message.FieldCount; i++ {
		buf, err := alloc.Alloc(fieldSize)
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("%w: receive field %d (%d bytes): %v", message.ErrAllocation, i, fieldSize, err)
		}
		r.fields = append(r.fields, buf)
	}
	return r, nil
}

func (r *vectorReceiver) Receive() (int, error) {
	for {
		n, err := r.conn.ReadBuffers(r.fields)
		if n > 0 {
			return n, nil
		}
		if err == nil || errors.Is(err, io.EOF) {
			return 0, io.EOF
		}
		if !transport.IsTransient(err) {
			return 0, err
		}
	}
}

func (r *vectorReceiver) ReceiveUnit() (int, error) {
	r.pending = append(r.pending[:0], r.fields...)
	pending := r.pending

	off := 0
	for off < r.size {
		n, err := r.conn.ReadBuffers(pending)
		if n > 0 {
			off += n
			pending = transport.Consume(pending, n)
		}
		if err != nil {
			if transport.IsTransient(err) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return endOfStream(off)
			}
			return off, err
		}
		if n == 0 {
			return endOfStream(off)
		}
	}
	return off, nil
}

func (r *vectorReceiver) Fields() [][]byte {
	return r.fields
}

func (r *vectorReceiver) Close() error {
	for _, f := range r.fields {
		r.alloc.Free(f)
	}
	r.fields = nil
	r.pending = nil
	return nil
}

var (
	_ OffloadReporter = (*zeroCopySender)(nil)
	_ Sender          = (*copySender)(nil)
	_ Sender          = (*vectorSender)(nil)
	_ Sender          = (*zeroCopySender)(nil)
	_ Receiver        = (*copyReceiver)(nil)
	_ Receiver        = (*vectorReceiver)(nil)
)
