// Package registry implements the resource registry: a mapping from a
// client's wire object handles to typed per-object state, with
// single-destruction and weak-lookup semantics.
//
// One Registry is owned per client connection, matching real Wayland's
// per-client object-id namespace; the compositor as a whole holds one
// Registry per connected wire.Client.
package registry

import "fmt"

// Dispatcher is the per-interface request vtable a resource is bound
// to. Dispatch receives only the opcode and argument bytes; a vtable
// that needs its own handle captures it when it is built.
type Dispatcher interface {
	Dispatch(opcode uint16, args []byte) error
}

// DispatcherFunc adapts a plain function to the Dispatcher interface,
// the common case where a resource's vtable is a closure capturing the
// server context it needs (registry, renderer, compositor) rather than
// a dedicated type.
type DispatcherFunc func(opcode uint16, args []byte) error

func (f DispatcherFunc) Dispatch(opcode uint16, args []byte) error {
	return f(opcode, args)
}

// Resource is a protocol object: a stable wire handle, the version
// negotiated at bind time, and the typed data supplied at creation.
// Resource is the only strong reference to Data; everything else must
// go through Registry.Lookup or a Handle by value.
type Resource struct {
	Handle    uint32
	Interface string
	Version   uint32
	Data      any
	Vtable    Dispatcher

	destroyed bool
	onDestroy func()
}

// Destroy invalidates the resource and runs its installed destructor
// exactly once. Safe to call more than once; the second call is a
// no-op, matching real libwayland's resource_destroy semantics.
func (r *Resource) Destroy() {
	if r == nil || r.destroyed {
		return
	}
	r.destroyed = true
	if r.onDestroy != nil {
		r.onDestroy()
	}
}

// Valid reports whether the resource has not yet been destroyed.
func (r *Resource) Valid() bool {
	return r != nil && !r.destroyed
}

// Registry owns the handle -> Resource mapping for one client. Not
// safe for concurrent use: the compositor is single-threaded.
type Registry struct {
	byHandle map[uint32]*Resource
}

func New() *Registry {
	return &Registry{byHandle: make(map[uint32]*Resource)}
}

// Create allocates and stores a resource at the given wire handle. The
// destructor, if any, is installed exactly once and fires on Destroy.
func (reg *Registry) Create(handle uint32, iface string, version uint32, data any, vtable Dispatcher, onDestroy func()) *Resource {
	r := &Resource{
		Handle:    handle,
		Interface: iface,
		Version:   version,
		Data:      data,
		Vtable:    vtable,
	}
	r.onDestroy = func() {
		delete(reg.byHandle, handle)
		if onDestroy != nil {
			onDestroy()
		}
	}
	reg.byHandle[handle] = r
	return r
}

// Lookup resolves a raw handle. A destroyed or never-allocated handle
// resolves to nil ("invalid"), never to stale data.
func (reg *Registry) Lookup(handle uint32) *Resource {
	r, ok := reg.byHandle[handle]
	if !ok || r.destroyed {
		return nil
	}
	return r
}

// Destroy removes the mapping for handle and runs its destructor. A
// destroy of an unknown handle is a protocol-misuse no-op,
// reported via the returned error for the caller to log at WARN.
func (reg *Registry) Destroy(handle uint32) error {
	r := reg.Lookup(handle)
	if r == nil {
		return fmt.Errorf("destroy of unknown resource %d", handle)
	}
	r.Destroy()
	return nil
}

// Len reports the number of live resources, used by tests to verify
// resource monotonicity.
func (reg *Registry) Len() int {
	return len(reg.byHandle)
}

// GetTyped downcasts a resource's data to T, returning ok=false for an
// invalid handle or a type mismatch.
func GetTyped[T any](reg *Registry, handle uint32) (T, bool) {
	var zero T
	r := reg.Lookup(handle)
	if r == nil {
		return zero, false
	}
	t, ok := r.Data.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
