package compositor

import (
	"testing"

	"github.com/HidenoriMatsubayashi/waffle/internal/output"
	"github.com/HidenoriMatsubayashi/waffle/internal/registry"
	"github.com/HidenoriMatsubayashi/waffle/internal/seat"
	"github.com/HidenoriMatsubayashi/waffle/internal/serial"
	"github.com/HidenoriMatsubayashi/waffle/internal/shell"
	"github.com/HidenoriMatsubayashi/waffle/internal/surface"
	"github.com/HidenoriMatsubayashi/waffle/internal/texture"
	"github.com/HidenoriMatsubayashi/waffle/internal/vec2"
	"github.com/HidenoriMatsubayashi/waffle/internal/wire"
)

type fakeSink struct {
	events []sentEvent
}

type sentEvent struct {
	object uint32
	opcode uint16
}

func (f *fakeSink) SendEvent(object uint32, opcode uint16, args []byte) error {
	f.events = append(f.events, sentEvent{object, opcode})
	return nil
}

type fakeBackend struct {
	valid    bool
	delegate InputDelegate
}

func (b *fakeBackend) Valid() bool                        { return b.valid }
func (b *fakeBackend) Dispatch() bool                      { return b.valid }
func (b *fakeBackend) SetInputDelegate(d InputDelegate)    { b.delegate = d }

type fakeRenderer struct {
	draws    int
	presents int
}

func (r *fakeRenderer) DrawBackground(tex texture.Handle)              {}
func (r *fakeRenderer) Draw(tex texture.Handle, pos, size vec2.Vec2)    { r.draws++ }
func (r *fakeRenderer) Present()                                       { r.presents++ }
func (r *fakeRenderer) SetViewport(w, h int)                           {}

func newTestWindow(sink *fakeSink, s *seat.Seat, surfaceHandle uint32, w, h float64) *shell.Surface {
	underlying := surface.New(surfaceHandle, sink, serial.NewClock())
	underlying.Texture = texture.New(1, int(w), int(h), nil)
	underlying.Size = vec2.New(w, h)
	win := shell.New(shell.KindXdg, sink, underlying)
	win.SetSeatResolver(func() *seat.Seat { return s })
	return win
}

func TestHandleEventReturnsFalseWhenBackendInvalid(t *testing.T) {
	backend := &fakeBackend{valid: false}
	c := New(backend, &fakeRenderer{}, &serial.Counter{}, serial.NewClock(), texture.Handle{})
	if c.HandleEvent() {
		t.Errorf("HandleEvent() with an invalid backend = true, want false")
	}
}

func TestAddWindowBecomesActiveWindow(t *testing.T) {
	backend := &fakeBackend{valid: true}
	c := New(backend, &fakeRenderer{}, &serial.Counter{}, serial.NewClock(), texture.Handle{})

	sink := &fakeSink{}
	s := seat.New(1, sink, 5, seat.CapPointer)
	win := newTestWindow(sink, s, 100, 4, 4)
	c.AddWindow(win)

	if c.ActiveWindow() != win {
		t.Errorf("ActiveWindow() = %v, want the just-added window", c.ActiveWindow())
	}
}

func TestPointerMoveRoutesToActiveWindowSeat(t *testing.T) {
	backend := &fakeBackend{valid: true}
	c := New(backend, &fakeRenderer{}, &serial.Counter{}, serial.NewClock(), texture.Handle{})

	sink := &fakeSink{}
	s := seat.New(1, sink, 5, seat.CapPointer)
	reg := registry.New()
	vtable := seat.NewVtable(s, reg)
	reg.Create(1, "wl_seat", 5, s, vtable, nil)
	bindPointer(t, reg, 300)

	win := newTestWindow(sink, s, 100, 4, 4)
	c.AddWindow(win)

	c.OnPointerMove(10, 10)

	if len(sink.events) == 0 {
		t.Fatalf("OnPointerMove produced no events")
	}
	if sink.events[0].opcode != seat.PointerEvEnter {
		t.Errorf("first event opcode = %d, want PointerEvEnter (%d)", sink.events[0].opcode, seat.PointerEvEnter)
	}
}

// bindPointer drives the seat's own wl_seat vtable exactly as a real
// client's get_pointer request would, so compositor tests exercise the
// same binding path production code does.
func bindPointer(t *testing.T, reg *registry.Registry, newID uint32) {
	t.Helper()
	var w wire.ArgWriter
	w.PutUint(newID)
	if err := reg.Lookup(1).Vtable.Dispatch(seat.OpGetPointer, w.Bytes()); err != nil {
		t.Fatalf("get_pointer: %v", err)
	}
}

func TestOnPointerMoveNoopWithoutActiveWindow(t *testing.T) {
	backend := &fakeBackend{valid: true}
	c := New(backend, &fakeRenderer{}, &serial.Counter{}, serial.NewClock(), texture.Handle{})
	c.OnPointerMove(1, 1) // must not panic with no windows registered
}

func TestDrawCallsRendererOncePerLiveWindow(t *testing.T) {
	backend := &fakeBackend{valid: true}
	renderer := &fakeRenderer{}
	c := New(backend, renderer, &serial.Counter{}, serial.NewClock(), texture.Handle{})

	sink := &fakeSink{}
	s := seat.New(1, sink, 5, seat.CapPointer)
	win := newTestWindow(sink, s, 100, 4, 4)
	c.AddWindow(win)

	c.Draw()

	if renderer.draws != 1 {
		t.Errorf("Draw() issued %d quad draws, want 1", renderer.draws)
	}
	if renderer.presents != 1 {
		t.Errorf("Draw() called Present() %d times, want 1", renderer.presents)
	}
}

func TestOutputDimensionsUsedForNormalization(t *testing.T) {
	if output.Width <= 0 || output.Height <= 0 {
		t.Fatalf("output dimensions must be positive, got %dx%d", output.Width, output.Height)
	}
}
