//go:build unix

package message

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// PageAllocator maps page-aligned anonymous memory outside the Go heap.
// Aligned buffers let the kernel pin whole pages for offloaded sends.
type PageAllocator struct{}

// Alloc maps at least n bytes rounded up to the page size.
func (PageAllocator) Alloc(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("mmap: invalid size %d", n)
	}
	page := os.Getpagesize()
	size := (n + page - 1) / page * page

	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	return b[:n], nil
}

// Free unmaps a buffer returned by Alloc.
func (PageAllocator) Free(b []byte) {
	if cap(b) == 0 {
		return
	}
	_ = unix.Munmap(b[:cap(b)])
}
