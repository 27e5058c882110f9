// Package shell implements the shell-surface protocols: wl_shell_surface
// and the zxdg_surface_v6/zxdg_toplevel_v6 pair. Both variants wrap a
// Surface and promote it to a top-level window in the Compositor's
// window list; they are treated as one conceptual "shell surface"
// entity, which this package mirrors with a single Go type
// distinguishing only the handshake each protocol requires.
package shell

import (
	"fmt"
	"log"

	"github.com/HidenoriMatsubayashi/waffle/internal/registry"
	"github.com/HidenoriMatsubayashi/waffle/internal/seat"
	"github.com/HidenoriMatsubayashi/waffle/internal/surface"
	"github.com/HidenoriMatsubayashi/waffle/internal/texture"
	"github.com/HidenoriMatsubayashi/waffle/internal/vec2"
	"github.com/HidenoriMatsubayashi/waffle/internal/wire"
)

// Kind distinguishes the two shell protocols this compositor hosts.
type Kind int

const (
	KindWlShell Kind = iota
	KindXdg
)

// zxdg_toplevel_v6.state values this design ever sends.
const stateActivated uint32 = 4

// EventSink is the subset of a client connection a shell surface
// needs to emit configure/close events.
type EventSink interface {
	SendEvent(object uint32, opcode uint16, args []byte) error
}

// Surface wraps a wl_surface with the window-level state a shell adds:
// title/app-id, the handshake resources xdg requires, and the
// exported texture the Compositor draws.
type Surface struct {
	Kind Kind
	Sink EventSink

	ShellSurfaceHandle uint32 // wl_shell_surface, KindWlShell only
	XdgSurfaceHandle   uint32 // zxdg_surface_v6, KindXdg only
	ToplevelHandle     uint32 // zxdg_toplevel_v6, KindXdg only

	Underlying *surface.Surface

	Title, AppID string
	pos          vec2.Vec2

	exported texture.Handle

	// resolveSeat looks up the input sink belonging to this window's
	// owning client. It is a closure rather than a stored pointer
	// because a client may create its surface before binding wl_seat;
	// resolving lazily means routing always sees the seat once it
	// exists instead of capturing a nil at window-registration time.
	resolveSeat func() *seat.Seat
}

// SetSeatResolver installs how this window looks up its owning
// client's seat; called once by the server when the window is created.
func (s *Surface) SetSeatResolver(resolve func() *seat.Seat) {
	s.resolveSeat = resolve
}

// Seat resolves the owning client's seat, or nil if none is bound yet.
func (s *Surface) Seat() *seat.Seat {
	if s.resolveSeat == nil {
		return nil
	}
	return s.resolveSeat()
}

// New wraps underlying and copies its current (possibly empty) texture
// into the exported slot.
func New(kind Kind, sink EventSink, underlying *surface.Surface) *Surface {
	s := &Surface{Kind: kind, Sink: sink, Underlying: underlying}
	s.SyncTexture()
	return s
}

// Texture returns the exported texture slot the Compositor draws,
// refreshed from the underlying Surface on every SyncTexture call.
func (s *Surface) Texture() texture.Handle { return s.exported }

// SurfaceHandle returns the wl_surface wire handle, used by input
// routing to resolve which Seat owns this window's client.
func (s *Surface) SurfaceHandle() uint32 { return s.Underlying.Handle }

// Position returns the window's placement in compositor space.
func (s *Surface) Position() vec2.Vec2 { return s.pos }

func (s *Surface) SetPosition(p vec2.Vec2) { s.pos = p }

// SyncTexture copies the underlying surface's committed texture into
// the exported slot, releasing any previously exported reference.
// Called by New and after every commit that produced a new texture.
func (s *Surface) SyncTexture() {
	if !s.Underlying.Texture.Valid() {
		return
	}
	if s.exported.Valid() {
		s.exported.Release()
	}
	s.exported = s.Underlying.Texture.Retain()
}

// --- wl_shell ---------------------------------------------------------

const OpGetShellSurface uint16 = 0

// NewWlShellVtable builds the wl_shell global's request dispatcher.
// surfaces looks up a wl_surface resource by handle, and onCreated is
// invoked with the freshly minted Surface so the caller (the server)
// can register it with the Compositor's window list.
func NewWlShellVtable(reg *registry.Registry, sink EventSink, lookupSurface func(uint32) (*surface.Surface, bool), onCreated func(*Surface)) registry.DispatcherFunc {
	return func(opcode uint16, args []byte) error {
		if opcode != OpGetShellSurface {
			return fmt.Errorf("wl_shell: unknown opcode %d", opcode)
		}
		r := wire.NewArgReader(args, nil)
		newID, err := r.Uint()
		if err != nil {
			return err
		}
		surfHandle, err := r.Uint()
		if err != nil {
			return err
		}
		underlying, ok := lookupSurface(surfHandle)
		if !ok {
			return fmt.Errorf("wl_shell: get_shell_surface on unknown surface %d", surfHandle)
		}
		ss := New(KindWlShell, sink, underlying)
		ss.ShellSurfaceHandle = newID
		res := reg.Create(newID, "wl_shell_surface", 1, ss, nil, nil)
		res.Vtable = wlShellSurfaceVtable(ss, reg)
		onCreated(ss)
		return nil
	}
}

// wl_shell_surface requests.
const (
	opPong          uint16 = 0
	opMove          uint16 = 1
	opResize        uint16 = 2
	opSetToplevel   uint16 = 3
	opSetTransient  uint16 = 4
	opSetFullscreen uint16 = 5
	opSetPopup      uint16 = 6
	opSetMaximized  uint16 = 7
	opSetTitle      uint16 = 8
	opSetClass      uint16 = 9
)

func wlShellSurfaceVtable(s *Surface, reg *registry.Registry) registry.DispatcherFunc {
	return func(opcode uint16, args []byte) error {
		r := wire.NewArgReader(args, nil)
		switch opcode {
		case opSetTitle:
			title, err := r.String()
			if err != nil {
				return err
			}
			s.Title = title
			return nil
		case opSetClass:
			class, err := r.String()
			if err != nil {
				return err
			}
			s.AppID = class
			return nil
		case opSetToplevel:
			return nil // already a toplevel by construction
		case opPong, opMove, opResize, opSetTransient, opSetFullscreen, opSetPopup, opSetMaximized:
			log.Printf("wl_shell_surface %d: request %d accepted but not honored", s.ShellSurfaceHandle, opcode)
			return nil
		default:
			return fmt.Errorf("wl_shell_surface %d: unknown opcode %d", s.ShellSurfaceHandle, opcode)
		}
	}
}

// --- zxdg_shell_v6 ------------------------------------------------------

const (
	OpXdgShellDestroy          uint16 = 0
	OpXdgShellCreatePositioner uint16 = 1
	OpXdgShellGetXdgSurface    uint16 = 2
	OpXdgShellPong             uint16 = 3
)

// evXdgShellPing is zxdg_shell_v6's only event: a liveness ping the
// client must answer with a pong carrying the same serial.
const evXdgShellPing uint16 = 0

// pongLateThresholdMs is how late a pong may arrive before it gets
// logged; ordinary round-trip jitter on a local socket never
// approaches this.
const pongLateThresholdMs = 1000

// Clock reports milliseconds elapsed since some fixed point, used to
// measure ping/pong round-trip time.
type Clock interface {
	ElapsedMillis() uint32
}

// PingTracker sends zxdg_shell_v6.ping events for one bound shell and
// reports how late the matching pong comes back. One tracker is owned
// per client; it never evicts a client that never answers.
type PingTracker struct {
	Sink   EventSink
	Handle uint32
	Clock  Clock

	pending  bool
	serial   uint32
	sentAtMs uint32
}

func NewPingTracker(sink EventSink, handle uint32, clock Clock) *PingTracker {
	return &PingTracker{Sink: sink, Handle: handle, Clock: clock}
}

// Ping sends a liveness ping carrying serial, superseding any
// previous still-outstanding ping.
func (t *PingTracker) Ping(serial uint32) error {
	t.pending = true
	t.serial = serial
	t.sentAtMs = t.Clock.ElapsedMillis()
	var w wire.ArgWriter
	w.PutUint(serial)
	return t.Sink.SendEvent(t.Handle, evXdgShellPing, w.Bytes())
}

// Pong records a client's reply. A pong for a serial that does not
// match the outstanding ping (stale or spurious) is ignored.
func (t *PingTracker) Pong(serial uint32) {
	if !t.pending || serial != t.serial {
		return
	}
	t.pending = false
	elapsed := t.Clock.ElapsedMillis() - t.sentAtMs
	if elapsed > pongLateThresholdMs {
		log.Printf("zxdg_shell_v6 %d: pong for serial %d arrived %dms after ping", t.Handle, serial, elapsed)
	}
}

// NextSerial is supplied by the server so the xdg handshake can mint a
// real serial without this package depending on the serial package
// directly; it only needs "give me the next one".
type NextSerial func() uint32

// ping may be nil, in which case pong is accepted but ignored, used by
// tests that don't care about liveness tracking.
func NewXdgShellVtable(reg *registry.Registry, sink EventSink, nextSerial NextSerial, lookupSurface func(uint32) (*surface.Surface, bool), onXdgSurfaceCreated func(*Surface), ping *PingTracker) registry.DispatcherFunc {
	return func(opcode uint16, args []byte) error {
		r := wire.NewArgReader(args, nil)
		switch opcode {
		case OpXdgShellDestroy:
			return nil
		case OpXdgShellCreatePositioner:
			newID, err := r.Uint()
			if err != nil {
				return err
			}
			reg.Create(newID, "zxdg_positioner_v6", 1, nil, registry.DispatcherFunc(func(uint16, []byte) error { return nil }), nil)
			return nil
		case OpXdgShellGetXdgSurface:
			newID, err := r.Uint()
			if err != nil {
				return err
			}
			surfHandle, err := r.Uint()
			if err != nil {
				return err
			}
			underlying, ok := lookupSurface(surfHandle)
			if !ok {
				return fmt.Errorf("zxdg_shell_v6: get_xdg_surface on unknown surface %d", surfHandle)
			}
			xs := New(KindXdg, sink, underlying)
			xs.XdgSurfaceHandle = newID
			res := reg.Create(newID, "zxdg_surface_v6", 1, xs, nil, nil)
			res.Vtable = xdgSurfaceVtable(xs, reg, nextSerial, onXdgSurfaceCreated)
			return nil
		case OpXdgShellPong:
			got, err := r.Uint()
			if err != nil {
				return err
			}
			if ping != nil {
				ping.Pong(got)
			}
			return nil
		default:
			return fmt.Errorf("zxdg_shell_v6: unknown opcode %d", opcode)
		}
	}
}

// --- zxdg_surface_v6 ------------------------------------------------

const (
	opXdgSurfaceDestroy            uint16 = 0
	opXdgSurfaceGetToplevel        uint16 = 1
	opXdgSurfaceGetPopup           uint16 = 2
	opXdgSurfaceSetWindowGeometry  uint16 = 3
	opXdgSurfaceAckConfigure       uint16 = 4
	evXdgSurfaceConfigure          uint16 = 0
)

func xdgSurfaceVtable(s *Surface, reg *registry.Registry, nextSerial NextSerial, onToplevel func(*Surface)) registry.DispatcherFunc {
	return func(opcode uint16, args []byte) error {
		r := wire.NewArgReader(args, nil)
		switch opcode {
		case opXdgSurfaceDestroy:
			return reg.Destroy(s.XdgSurfaceHandle)
		case opXdgSurfaceGetToplevel:
			newID, err := r.Uint()
			if err != nil {
				return err
			}
			s.ToplevelHandle = newID
			res := reg.Create(newID, "zxdg_toplevel_v6", 1, s, nil, nil)
			res.Vtable = xdgToplevelVtable(s, reg)
			if err := s.sendToplevelConfigure(); err != nil {
				log.Printf("zxdg_toplevel_v6 %d: configure: %v", newID, err)
			}
			if err := s.sendSurfaceConfigure(nextSerial); err != nil {
				log.Printf("zxdg_surface_v6 %d: configure: %v", s.XdgSurfaceHandle, err)
			}
			onToplevel(s)
			return nil
		case opXdgSurfaceGetPopup:
			log.Printf("zxdg_surface_v6 %d: get_popup not implemented", s.XdgSurfaceHandle)
			return nil
		case opXdgSurfaceSetWindowGeometry:
			log.Printf("zxdg_surface_v6 %d: set_window_geometry accepted but ignored", s.XdgSurfaceHandle)
			return nil
		case opXdgSurfaceAckConfigure:
			_, _ = r.Uint() // accepted without verification
			return nil
		default:
			return fmt.Errorf("zxdg_surface_v6 %d: unknown opcode %d", s.XdgSurfaceHandle, opcode)
		}
	}
}

func (s *Surface) sendToplevelConfigure() error {
	var states wire.ArgWriter
	states.PutUint(stateActivated)
	var w wire.ArgWriter
	w.PutInt(0).PutInt(0).PutArray(states.Bytes())
	return s.Sink.SendEvent(s.ToplevelHandle, evToplevelConfigure, w.Bytes())
}

func (s *Surface) sendSurfaceConfigure(nextSerial NextSerial) error {
	var serial uint32
	if nextSerial != nil {
		serial = nextSerial()
	}
	var w wire.ArgWriter
	w.PutUint(serial)
	return s.Sink.SendEvent(s.XdgSurfaceHandle, evXdgSurfaceConfigure, w.Bytes())
}

// --- zxdg_toplevel_v6 -------------------------------------------------

const (
	opToplevelDestroy        uint16 = 0
	opToplevelSetParent      uint16 = 1
	opToplevelSetTitle       uint16 = 2
	opToplevelSetAppID       uint16 = 3
	opToplevelShowWindowMenu uint16 = 4
	opToplevelMove           uint16 = 5
	opToplevelResize         uint16 = 6
	opToplevelSetMaxSize     uint16 = 7
	opToplevelSetMinSize     uint16 = 8
	opToplevelSetMaximized   uint16 = 9
	opToplevelUnsetMaximized uint16 = 10
	opToplevelSetFullscreen  uint16 = 11
	opToplevelUnsetFullscreen uint16 = 12
	opToplevelSetMinimized   uint16 = 13

	evToplevelConfigure uint16 = 0
	evToplevelClose     uint16 = 1
)

func xdgToplevelVtable(s *Surface, reg *registry.Registry) registry.DispatcherFunc {
	return func(opcode uint16, args []byte) error {
		r := wire.NewArgReader(args, nil)
		switch opcode {
		case opToplevelDestroy:
			return reg.Destroy(s.ToplevelHandle)
		case opToplevelSetTitle:
			title, err := r.String()
			if err != nil {
				return err
			}
			s.Title = title
			return nil
		case opToplevelSetAppID:
			appID, err := r.String()
			if err != nil {
				return err
			}
			s.AppID = appID
			return nil
		case opToplevelSetParent, opToplevelShowWindowMenu, opToplevelMove, opToplevelResize,
			opToplevelSetMaxSize, opToplevelSetMinSize, opToplevelSetMaximized, opToplevelUnsetMaximized,
			opToplevelSetFullscreen, opToplevelUnsetFullscreen, opToplevelSetMinimized:
			log.Printf("zxdg_toplevel_v6 %d: request %d accepted but not honored", s.ToplevelHandle, opcode)
			return nil
		default:
			return fmt.Errorf("zxdg_toplevel_v6 %d: unknown opcode %d", s.ToplevelHandle, opcode)
		}
	}
}
