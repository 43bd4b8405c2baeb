// Package strategy implements the three ways a worker moves a Transfer Unit
// across its connection.
//
//   - copy: the message is materialized once into a contiguous buffer and sent
//     with single-buffer calls.
//   - scatter-gather: the message fields are handed to one vectored call.
//   - zerocopy: as scatter-gather, with kernel send offload requested per call
//     and a per-call fallback when the kernel refuses it.
//
// Every strategy puts the same bytes on the wire. A receiver of any strategy
// can read a unit sent by any other.
package strategy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/copyperf/internal/bench/message"
	"github.com/wesleyorama2/copyperf/internal/bench/transport"
)

// Kind identifies a strategy.
type Kind string

const (
	// KindCopy materializes the message and uses single-buffer I/O.
	KindCopy Kind = "copy"

	// KindScatterGather passes the fields to vectored I/O.
	KindScatterGather Kind = "scatter-gather"

	// KindZeroCopy is KindScatterGather with kernel send offload.
	KindZeroCopy Kind = "zerocopy"
)

// ErrUnknownKind is returned by Parse for an unrecognized strategy name.
var ErrUnknownKind = errors.New("unknown strategy")

// Kinds returns every strategy in report order.
func Kinds() []Kind {
	return []Kind{KindCopy, KindScatterGather, KindZeroCopy}
}

// Label returns the name used in reports and CSV rows.
func (k Kind) Label() string {
	switch k {
	case KindCopy:
		return "two_copy"
	case KindScatterGather:
		return "one_copy"
	case KindZeroCopy:
		return "zero_copy"
	default:
		return "unknown"
	}
}

func (k Kind) String() string {
	return string(k)
}

// Parse accepts a kind name, a report label, or a part alias (A1, A2, A3).
func Parse(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "copy", "two_copy", "a1":
		return KindCopy, nil
	case "scatter-gather", "scatter_gather", "one_copy", "a2":
		return KindScatterGather, nil
	case "zerocopy", "zero-copy", "zero_copy", "a3":
		return KindZeroCopy, nil
	default:
		return "", fmt.Errorf("%w %q (use copy, scatter-gather or zerocopy)", ErrUnknownKind, s)
	}
}

// Conn is the socket surface a strategy drives. *transport.Conn implements it.
type Conn interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	WriteBuffers(bufs [][]byte) (int, error)
	WriteBuffersZeroCopy(bufs [][]byte) (int, error)
	ReadBuffers(bufs [][]byte) (int, error)
	EnableOffload() error
}

var _ Conn = (*transport.Conn)(nil)

// Sender transmits Transfer Units.
type Sender interface {
	// Send transmits one complete Transfer Unit. On error, n is the number of
	// bytes the kernel accepted before the failure.
	Send() (n int, err error)

	// Close releases buffers the sender owns. It does not close the
	// connection or destroy the message.
	Close() error
}

// Receiver receives Transfer Units.
type Receiver interface {
	// Receive issues exactly one receive call into the unit-sized
	// destination and returns how many bytes it delivered, which may be
	// less than a unit. A zero-byte result (orderly shutdown) returns
	// (0, io.EOF).
	Receive() (n int, err error)

	// ReceiveUnit continues receive calls until one complete Transfer Unit
	// has arrived. An orderly shutdown before any byte of the unit returns
	// (0, io.EOF); one in the middle of a unit returns the bytes read and
	// io.ErrUnexpectedEOF.
	ReceiveUnit() (n int, err error)

	// Fields returns the destination split into its fields. After
	// ReceiveUnit it holds the whole unit; after Receive only the first n
	// bytes are fresh. The slices are owned by the receiver.
	Fields() [][]byte

	// Close releases the receive buffers.
	Close() error
}

// OffloadReporter is implemented by senders that request send offload.
type OffloadReporter interface {
	OffloadStats() transport.OffloadStats
	// Offloaded reports whether the connection accepted offload at all.
	Offloaded() bool
}

// Options carries the dependencies shared by all strategies.
type Options struct {
	// Allocator provides receive buffers. Defaults to message.HeapAllocator.
	Allocator message.Allocator

	// Logger receives strategy events such as offload fallback.
	Logger *logrus.Entry
}

func (o Options) withDefaults() Options {
	if o.Allocator == nil {
		o.Allocator = message.HeapAllocator{}
	}
	if o.Logger == nil {
		o.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return o
}

// NewSender returns the sender for kind. msg is borrowed and must outlive the
// sender.
func NewSender(kind Kind, conn Conn, msg *message.Message, opts Options) (Sender, error) {
	opts = opts.withDefaults()

	switch kind {
	case KindCopy:
		return newCopySender(conn, msg)
	case KindScatterGather:
		return newVectorSender(conn, msg), nil
	case KindZeroCopy:
		return newZeroCopySender(conn, msg, opts.Logger), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, string(kind))
	}
}

// NewReceiver returns the receiver for kind, sized for units of fieldSize
// fields. Receivers of scatter-gather and zerocopy are identical.
func NewReceiver(kind Kind, conn Conn, fieldSize int, opts Options) (Receiver, error) {
	opts = opts.withDefaults()

	switch kind {
	case KindCopy:
		return newCopyReceiver(conn, fieldSize, opts.Allocator)
	case KindScatterGather, KindZeroCopy:
		return newVectorReceiver(conn, fieldSize, opts.Allocator)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, string(kind))
	}
}
