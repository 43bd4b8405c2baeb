package strategy

import (
	"errors"
	"fmt"
	"io"

	"github.com/wesleyorama2/copyperf/internal/bench/message"
	"github.com/wesleyorama2/copyperf/internal/bench/transport"
)

// copySender sends a unit materialized once per connection.
type copySender struct {
	conn Conn
	unit *message.TransferUnit
}

func newCopySender(conn Conn, msg *message.Message) (*copySender, error) {
	unit, err := msg.Materialize()
	if err != nil {
		return nil, err
	}
	return &copySender{conn: conn, unit: unit}, nil
}

func (s *copySender) Send() (int, error) {
	b := s.unit.Bytes()
	total := 0
	for total < len(b) {
		n, err := s.conn.Write(b[total:])
		total += n
		if err != nil {
			if transport.IsTransient(err) {
				continue
			}
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

func (s *copySender) Close() error {
	s.unit.Release()
	return nil
}

// copyReceiver reads each unit into one contiguous buffer.
type copyReceiver struct {
	conn   Conn
	alloc  message.Allocator
	buf    []byte
	fields [][]byte
}

func newCopyReceiver(conn Conn, fieldSize int, alloc message.Allocator) (*copyReceiver, error) {
	size := message.UnitSize(fieldSize)
	buf, err := alloc.Alloc(size)
	if err != nil {
		return nil, fmt.Errorf("%w: receive buffer (%d bytes): %v", message.ErrAllocation, size, err)
	}

	fields := make([][]byte, message.FieldCount)
	for i := range fields {
		fields[i] = buf[i*fieldSize : (i+1)*fieldSize : (i+1)*fieldSize]
	}
	return &copyReceiver{conn: conn, alloc: alloc, buf: buf, fields: fields}, nil
}

func (r *copyReceiver) Receive() (int, error) {
	for {
		n, err := r.conn.Read(r.buf)
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

func (r *copyReceiver) ReceiveUnit() (int, error) {
	off := 0
	for off < len(r.buf) {
		n, err := r.conn.Read(r.buf[off:])
		off += n
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

func (r *copyReceiver) Fields() [][]byte {
	return r.fields
}

func (r *copyReceiver) Close() error {
	if r.buf != nil {
		r.alloc.Free(r.buf)
		r.buf, r.fields = nil, nil
	}
	return nil
}

// endOfStream maps a peer close after off bytes of a unit to the Receive contract.
func endOfStream(off int) (int, error) {
	if off == 0 {
		return 0, io.EOF
	}
	return off, io.ErrUnexpectedEOF
}
