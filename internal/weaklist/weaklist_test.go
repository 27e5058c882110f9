package weaklist

import (
	"runtime"
	"testing"
)

type window struct{ name string }

func TestAppendAndAllInOrder(t *testing.T) {
	var l List[window]
	a := &window{name: "a"}
	b := &window{name: "b"}
	l.Append(a)
	l.Append(b)

	var got []string
	for w := range l.All() {
		got = append(got, w.name)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("All() order = %v, want [a b]", got)
	}
}

func TestFirstReturnsInsertionOrder(t *testing.T) {
	var l List[window]
	l.Append(&window{name: "first"})
	l.Append(&window{name: "second"})
	if got := l.First(); got == nil || got.name != "first" {
		t.Errorf("First() = %v, want {first}", got)
	}
}

func TestFirstOnEmptyIsNil(t *testing.T) {
	var l List[window]
	if got := l.First(); got != nil {
		t.Errorf("First() on empty list = %v, want nil", got)
	}
}

func TestAllSkipsCollectedEntries(t *testing.T) {
	var l List[window]
	keep := &window{name: "keep"}
	l.Append(keep)
	appendCollectible(&l)

	// Force the collectible entry's weak reference to clear.
	runtime.GC()
	runtime.GC()

	var got []string
	for w := range l.All() {
		got = append(got, w.name)
	}
	if len(got) != 1 || got[0] != "keep" {
		t.Errorf("All() after GC = %v, want [keep]", got)
	}
	runtime.KeepAlive(keep)
}

// appendCollectible appends a window with no other reference kept by the
// caller, so it becomes eligible for collection once this call returns.
func appendCollectible(l *List[window]) {
	w := &window{name: "collectible"}
	l.Append(w)
}

func TestAllStopEarlyStillCompacts(t *testing.T) {
	var l List[window]
	l.Append(&window{name: "a"})
	l.Append(&window{name: "b"})
	l.Append(&window{name: "c"})

	count := 0
	for range l.All() {
		count++
		if count == 1 {
			break
		}
	}
	if l.Len() != 3 {
		t.Errorf("Len() after early-stop iteration = %d, want 3 (nothing collected)", l.Len())
	}
}
