// Package shmpool mmaps a client-supplied shared-memory file descriptor
// so wl_buffer contents can be read directly, the server-side half of
// the mmap dance a wl_shm client performs to fill the buffer it hands
// over.
package shmpool

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Format is a wl_shm pixel format. Only the two required formats are
// distinguished by name; anything else keeps its raw value and
// String prints it as unknown(0x...) so callers can log it.
type Format uint32

const (
	FormatARGB8888 Format = 0
	FormatXRGB8888 Format = 1
)

func (f Format) String() string {
	switch f {
	case FormatARGB8888:
		return "ARGB8888"
	case FormatXRGB8888:
		return "XRGB8888"
	default:
		return fmt.Sprintf("unknown(0x%08x)", uint32(f))
	}
}

// Supported reports whether f is one of the two formats the core
// uploads; anything else is logged and not uploaded.
func Supported(f Format) bool {
	return f == FormatARGB8888 || f == FormatXRGB8888
}

// Pool is a client's wl_shm_pool: a single mmap'd region multiple
// buffers can be carved out of by offset.
type Pool struct {
	data []byte
	fd   int
}

// NewPool mmaps fd for size bytes. The Pool keeps fd to re-map it on
// Resize, so fd must stay open while the pool is in use; Close unmaps
// the region but does not close fd.
func NewPool(fd int, size int32) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shmpool: invalid size %d", size)
	}
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shmpool: mmap: %w", err)
	}
	return &Pool{data: data, fd: fd}, nil
}

// Resize grows the mapping to match a pool.resize request. A size that
// does not exceed the current mapping is ignored and returns nil.
func (p *Pool) Resize(newSize int32) error {
	if int(newSize) <= len(p.data) {
		return nil
	}
	if err := unix.Munmap(p.data); err != nil {
		return err
	}
	data, err := unix.Mmap(p.fd, 0, int(newSize), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return err
	}
	p.data = data
	return nil
}

// Read returns a copy of the buffer's pixel bytes at the given offset,
// stride and height. Returns an error if the region would read past
// the mapping, which a malformed client request could otherwise turn
// into an out-of-bounds slice.
func (p *Pool) Read(offset, stride, height int32) ([]byte, error) {
	n := int64(stride) * int64(height)
	if offset < 0 || n < 0 || int64(offset)+n > int64(len(p.data)) {
		return nil, fmt.Errorf("shmpool: buffer region out of bounds")
	}
	out := make([]byte, n)
	copy(out, p.data[offset:int64(offset)+n])
	return out, nil
}

func (p *Pool) Close() error {
	return unix.Munmap(p.data)
}
