// Package texture defines the core-facing texture handle: an opaque,
// refcounted reference to a GL texture the renderer owns. The core
// never touches GL state directly; it only carries this
// handle between the Surface that uploaded it and the Shell surface
// that advertises it to the Compositor's draw pass.
package texture

// Handle is a refcounted reference to a renderer-owned texture. The
// zero value is the invalid handle (Valid() == false), matching a
// surface that has never committed a buffer.
type Handle struct {
	id       uint64
	w, h     int
	refcount *int
	release  func(id uint64)
}

// New wraps a renderer-assigned id with an initial refcount of 1.
func New(id uint64, w, h int, release func(id uint64)) Handle {
	rc := 1
	return Handle{id: id, w: w, h: h, refcount: &rc, release: release}
}

func (h Handle) Valid() bool {
	return h.refcount != nil
}

func (h Handle) ID() uint64 { return h.id }
func (h Handle) Width() int  { return h.w }
func (h Handle) Height() int { return h.h }

// Retain returns a new reference sharing the same underlying texture,
// incrementing the refcount. Used when a Shell surface advertises the
// texture its Surface just uploaded.
func (h Handle) Retain() Handle {
	if h.refcount != nil {
		*h.refcount++
	}
	return h
}

// Release drops this reference; when the last reference is released
// the renderer's release callback frees the underlying GL texture.
func (h *Handle) Release() {
	if h.refcount == nil {
		return
	}
	*h.refcount--
	if *h.refcount <= 0 && h.release != nil {
		h.release(h.id)
	}
	h.refcount = nil
}
