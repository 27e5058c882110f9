// Package compositor implements the compositor core: the window list,
// the per-frame composite pass, and the routing of backend input
// events to the focused surface's seat.
//
// Compositor is effectively a singleton: the backend's event callbacks
// are free-standing function values that can
// only reach application state through a closure or an explicit
// receiver, so exactly one *Compositor is constructed and threaded
// through those closures by cmd/waffled, never reached via an ambient
// global.
package compositor

import (
	"log"

	"github.com/HidenoriMatsubayashi/waffle/internal/output"
	"github.com/HidenoriMatsubayashi/waffle/internal/seat"
	"github.com/HidenoriMatsubayashi/waffle/internal/serial"
	"github.com/HidenoriMatsubayashi/waffle/internal/shell"
	"github.com/HidenoriMatsubayashi/waffle/internal/texture"
	"github.com/HidenoriMatsubayashi/waffle/internal/vec2"
	"github.com/HidenoriMatsubayashi/waffle/internal/weaklist"
)

// Backend is the external collaborator that produces a GL
// surface, pumps OS events, and invokes the Compositor's input
// callbacks with normalized pointer/key/touch payloads.
type Backend interface {
	Valid() bool
	Dispatch() bool
	SetInputDelegate(InputDelegate)
}

// InputDelegate receives normalized input events from a Backend.
type InputDelegate interface {
	OnPointerMove(x, y float64)
	OnPointerButton(button uint32, pressed bool)
	OnPointerLeave()
	OnKey(key uint32, down bool)
	OnTouch()
	OnScroll()
	OnWindowResize(w, h int)
}

// Renderer is the draw-side half of the external GL/EGL collaborator
//; the upload-side half is surface.Renderer.
type Renderer interface {
	DrawBackground(tex texture.Handle)
	Draw(tex texture.Handle, pos, size vec2.Vec2)
	Present()
	SetViewport(w, h int)
}

// Compositor owns the window list, the backend, and the renderer
// instance, and composites every live window each frame.
type Compositor struct {
	backend  Backend
	renderer Renderer
	serials  *serial.Counter
	clock    *serial.Clock

	windows    weaklist.List[shell.Surface]
	background texture.Handle
}

func New(backend Backend, renderer Renderer, serials *serial.Counter, clock *serial.Clock, background texture.Handle) *Compositor {
	c := &Compositor{backend: backend, renderer: renderer, serials: serials, clock: clock, background: background}
	backend.SetInputDelegate(c)
	return c
}

// AddWindow registers a shell surface as a window at position (0,0),
// held weakly so client-driven destruction is what actually removes it.
func (c *Compositor) AddWindow(ws *shell.Surface) {
	ws.SetPosition(vec2.New(0, 0))
	c.windows.Append(ws)
}

// ActiveWindow returns the first window whose weak reference still
// resolves, in insertion order.
func (c *Compositor) ActiveWindow() *shell.Surface {
	return c.windows.First()
}

// HandleEvent pumps the backend. A backend that has gone invalid
// (display/window lost) terminates the main loop.
func (c *Compositor) HandleEvent() bool {
	if !c.backend.Valid() {
		return false
	}
	return c.backend.Dispatch()
}

// Draw composites every live window's committed texture over the
// background and presents the frame.
func (c *Compositor) Draw() {
	if c.background.Valid() {
		c.renderer.DrawBackground(c.background)
	}
	for win := range c.windows.All() {
		tex := win.Texture()
		if !tex.Valid() {
			continue
		}
		size := vec2.New(
			float64(tex.Width())/float64(output.Width),
			float64(tex.Height())/float64(output.Height),
		)
		c.renderer.Draw(tex, win.Position(), size)
	}
	c.renderer.Present()
}

func (c *Compositor) nextSerial() uint32 { return c.serials.Next() }

// localize translates a pointer coordinate from compositor space into
// a window's local coordinate space: subtract the window's origin, and
// additionally offset y so the surface's top-left is the local origin
// (confirmed against original_source/src/waffle/compositor/compositor.cc).
func localize(win *shell.Surface, x, y float64) (float64, float64) {
	pos := win.Position()
	lx := x - pos.X
	ly := y - pos.Y + (float64(output.Height) - win.Underlying.Size.Y)
	return lx, ly
}

func (c *Compositor) OnPointerMove(x, y float64) {
	win := c.ActiveWindow()
	if win == nil || win.Seat() == nil {
		return
	}
	lx, ly := localize(win, x, y)
	win.Seat().PointerMove(c.nextSerial(), win.SurfaceHandle(), lx, ly)
}

func (c *Compositor) OnPointerButton(button uint32, pressed bool) {
	win := c.ActiveWindow()
	if win == nil || win.Seat() == nil {
		return
	}
	state := seat.ButtonReleased
	if pressed {
		state = seat.ButtonPressed
	}
	win.Seat().PointerButton(c.nextSerial(), c.clock.ElapsedMillis(), button, state)
}

func (c *Compositor) OnPointerLeave() {
	win := c.ActiveWindow()
	if win == nil || win.Seat() == nil {
		return
	}
	win.Seat().PointerLeave(c.nextSerial(), win.SurfaceHandle())
}

func (c *Compositor) OnKey(key uint32, down bool) {
	win := c.ActiveWindow()
	if win == nil || win.Seat() == nil {
		return
	}
	serial := c.nextSerial()
	win.Seat().KeyboardFocus(serial, win.SurfaceHandle())
	state := seat.KeyReleased
	if down {
		state = seat.KeyPressed
	}
	win.Seat().KeyboardKey(serial, c.clock.ElapsedMillis(), key, state)
}

// OnTouch and OnScroll are accepted but dropped.
func (c *Compositor) OnTouch()  {}
func (c *Compositor) OnScroll() {}

func (c *Compositor) OnWindowResize(w, h int) {
	log.Printf("compositor: backend window resized to %dx%d; output remains fixed at %dx%d (non-goal: no multi-output/resize)", w, h, output.Width, output.Height)
	c.renderer.SetViewport(w, h)
}
