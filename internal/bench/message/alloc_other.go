//go:build !unix

package message

// PageAllocator falls back to the heap where anonymous mappings are unavailable.
type PageAllocator struct{}

// Alloc returns a heap buffer of n bytes.
func (PageAllocator) Alloc(n int) ([]byte, error) {
	return HeapAllocator{}.Alloc(n)
}

// Free is a no-op.
func (PageAllocator) Free([]byte) {}
