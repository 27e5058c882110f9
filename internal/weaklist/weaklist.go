// Package weaklist implements the weak-reference list used to track
// the compositor's windows:
// entries are held weakly, so a client-driven destroy is what actually
// frees a window, and iteration silently skips anything already
// collected rather than requiring explicit bookkeeping everywhere a
// window might disappear.
package weaklist

import (
	"iter"
	"weak"
)

// List is an ordered collection of weak references to *T. Insertion
// order is preserved; dead entries are dropped lazily on the next
// scan rather than eagerly, so iteration skips entries whose weak
// reference no longer resolves.
type List[T any] struct {
	entries []weak.Pointer[T]
}

// Append adds a new weak reference to ptr at the end of the list.
func (l *List[T]) Append(ptr *T) {
	l.entries = append(l.entries, weak.Make(ptr))
}

// All iterates live entries in insertion order, compacting dead ones
// out of the backing slice as it goes.
func (l *List[T]) All() iter.Seq[*T] {
	return func(yield func(*T) bool) {
		live := l.entries[:0]
		stopped := false
		for _, w := range l.entries {
			p := w.Value()
			if p == nil {
				continue // collected; drop from the compacted slice
			}
			live = append(live, w)
			if !stopped && !yield(p) {
				stopped = true // keep compacting, stop calling yield
			}
		}
		l.entries = live
	}
}

// First returns the first live entry, or nil if the list is empty or
// every entry has been collected. Used for "the active window is the
// first live entry in insertion order".
func (l *List[T]) First() *T {
	for p := range l.All() {
		return p
	}
	return nil
}

// Len reports the number of entries currently stored, live or not;
// callers that need the live count should range over All and count.
func (l *List[T]) Len() int {
	return len(l.entries)
}
