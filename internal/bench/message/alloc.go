package message

import (
	"fmt"
	"strings"
)

// DefaultHeapLimit caps a single heap allocation (1 GiB).
const DefaultHeapLimit = 1 << 30

// Allocator hands out and reclaims the buffers a Message and its receivers use.
type Allocator interface {
	Alloc(n int) ([]byte, error)
	Free(b []byte)
}

// HeapAllocator allocates from the Go heap.
//
// Requests above Limit fail with an error instead of letting the runtime
// abort the process.
type HeapAllocator struct {
	Limit int
}

// Alloc returns a zeroed buffer of n bytes.
func (a HeapAllocator) Alloc(n int) ([]byte, error) {
	limit := a.Limit
	if limit <= 0 {
		limit = DefaultHeapLimit
	}
	if n <= 0 || n > limit {
		return nil, fmt.Errorf("heap: invalid size %d (limit %d)", n, limit)
	}
	return make([]byte, n), nil
}

// Free is a no-op; the garbage collector reclaims heap buffers.
func (HeapAllocator) Free([]byte) {}

// NewAllocator returns the allocator registered under name ("heap" or "page").
func NewAllocator(name string) (Allocator, error) {
	switch strings.ToLower(name) {
	case "", "heap":
		return HeapAllocator{}, nil
	case "page":
		return PageAllocator{}, nil
	default:
		return nil, fmt.Errorf("unknown allocator %q", name)
	}
}
