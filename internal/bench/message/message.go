// Package message provides the fixed-shape payload exchanged by every strategy.
//
// A Message owns FieldCount independently allocated buffers of equal size. Each
// field is filled with its own byte value so a receiver can check that a unit
// arrived intact regardless of how it was scattered into memory.
//
// # Ownership
//
// The Message owns its fields. Buffers() hands out a borrowed descriptor list:
// the caller must not Destroy the Message while a network call using the list is
// in flight. Materialize() returns a TransferUnit that owns its own contiguous
// copy and is released independently.
package message

import (
	"errors"
	"fmt"
)

// FieldCount is the number of fields in every Message.
const FieldCount = 8

// ErrAllocation is returned when a field or transfer unit cannot be allocated.
var ErrAllocation = errors.New("allocation failure")

// Pattern returns the fill byte of field i ('A' for field 0, 'B' for field 1, ...).
func Pattern(i int) byte {
	return 'A' + byte(i)
}

// FieldSizeFor returns the per-field size for a configured total message size.
//
// The result is messageSize / FieldCount (integer division). A message smaller
// than FieldCount bytes has no valid field size and is rejected.
func FieldSizeFor(messageSize int) (int, error) {
	fieldSize := messageSize / FieldCount
	if fieldSize <= 0 {
		return 0, fmt.Errorf("message size %d is smaller than %d fields", messageSize, FieldCount)
	}
	return fieldSize, nil
}

// UnitSize returns the Transfer Unit size for a field size.
func UnitSize(fieldSize int) int {
	return FieldCount * fieldSize
}

// BufferList is an ordered list of buffers described to a single vectored call.
type BufferList [][]byte

// Len returns the total number of bytes described by the list.
func (l BufferList) Len() int {
	n := 0
	for _, b := range l {
		n += len(b)
	}
	return n
}

// Message is the 8-field payload.
type Message struct {
	fields    [FieldCount][]byte
	fieldSize int
	alloc     Allocator
	destroyed bool
}

// Build allocates and pattern-fills a Message.
//
// If any field cannot be allocated, the fields already obtained are released
// before ErrAllocation is returned.
func Build(fieldSize int, alloc Allocator) (*Message, error) {
	if alloc == nil {
		alloc = HeapAllocator{}
	}

	m := &Message{fieldSize: fieldSize, alloc: alloc}
	for i := 0; i < FieldCount; i++ {
		buf, err := alloc.Alloc(fieldSize)
		if err != nil {
			for j := 0; j < i; j++ {
				alloc.Free(m.fields[j])
				m.fields[j] = nil
			}
			return nil, fmt.Errorf("%w: field %d (%d bytes): %v", ErrAllocation, i, fieldSize, err)
		}
		fill(buf, Pattern(i))
		m.fields[i] = buf
	}

	return m, nil
}

// FieldSize returns the size of each field.
func (m *Message) FieldSize() int {
	return m.fieldSize
}

// Size returns the Transfer Unit size of the message.
func (m *Message) Size() int {
	return UnitSize(m.fieldSize)
}

// Field returns field i. The returned slice is owned by the Message.
func (m *Message) Field(i int) []byte {
	return m.fields[i]
}

// Buffers returns a descriptor list over the fields, in field order.
// The list borrows the fields; see the package documentation.
func (m *Message) Buffers() BufferList {
	l := make(BufferList, FieldCount)
	for i := range m.fields {
		l[i] = m.fields[i]
	}
	return l
}

// Materialize copies every field, in order, into one new contiguous buffer.
func (m *Message) Materialize() (*TransferUnit, error) {
	buf, err := m.alloc.Alloc(m.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: transfer unit (%d bytes): %v", ErrAllocation, m.Size(), err)
	}

	off := 0
	for _, f := range m.fields {
		off += copy(buf[off:], f)
	}

	return &TransferUnit{buf: buf, alloc: m.alloc}, nil
}

// Destroy releases all fields. It is safe to call more than once.
func (m *Message) Destroy() {
	if m == nil || m.destroyed {
		return
	}
	for i := range m.fields {
		m.alloc.Free(m.fields[i])
		m.fields[i] = nil
	}
	m.destroyed = true
}

// TransferUnit is a contiguous, owned copy of a Message.
type TransferUnit struct {
	buf   []byte
	alloc Allocator
}

// Bytes returns the unit's contents.
func (u *TransferUnit) Bytes() []byte {
	return u.buf
}

// Len returns the unit size in bytes.
func (u *TransferUnit) Len() int {
	return len(u.buf)
}

// Release frees the unit's buffer. It is safe to call more than once.
func (u *TransferUnit) Release() {
	if u == nil || u.buf == nil {
		return
	}
	u.alloc.Free(u.buf)
	u.buf = nil
}

// Verify checks that fields holds one complete unit matching the fill pattern.
func Verify(fields [][]byte) error {
	if len(fields) != FieldCount {
		return fmt.Errorf("unit has %d fields, want %d", len(fields), FieldCount)
	}
	for i, f := range fields {
		want := Pattern(i)
		for off, b := range f {
			if b != want {
				return fmt.Errorf("field %d byte %d: got %q, want %q", i, off, b, want)
			}
		}
	}
	return nil
}

func fill(b []byte, v byte) {
	if len(b) == 0 {
		return
	}
	b[0] = v
	for filled := 1; filled < len(b); filled *= 2 {
		copy(b[filled:], b[:filled])
	}
}
