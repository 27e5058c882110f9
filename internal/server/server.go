// Package server implements the globals table and event-loop pump: the
// display/registry handshake every client performs on connect, and the
// wl_compositor/wl_shm globals that create the protocol objects every
// other package's vtables are attached to.
package server

import (
	"fmt"
	"log"

	"github.com/HidenoriMatsubayashi/waffle/internal/compositor"
	"github.com/HidenoriMatsubayashi/waffle/internal/datadevice"
	"github.com/HidenoriMatsubayashi/waffle/internal/output"
	"github.com/HidenoriMatsubayashi/waffle/internal/region"
	"github.com/HidenoriMatsubayashi/waffle/internal/registry"
	"github.com/HidenoriMatsubayashi/waffle/internal/seat"
	"github.com/HidenoriMatsubayashi/waffle/internal/serial"
	"github.com/HidenoriMatsubayashi/waffle/internal/shell"
	"github.com/HidenoriMatsubayashi/waffle/internal/shmpool"
	"github.com/HidenoriMatsubayashi/waffle/internal/surface"
	"github.com/HidenoriMatsubayashi/waffle/internal/wire"
)

// wl_display object 1 is implicit on every client connection; its
// requests are handled directly by the dispatch loop rather than
// through a registry.Resource, since it is the one object that exists
// before any resource has been created.
const displayHandle uint32 = 1

const (
	displayOpSync        uint16 = 0
	displayOpGetRegistry uint16 = 1

	displayEvError    uint16 = 0
	displayEvDeleteID uint16 = 1
)

// wl_registry requests/events.
const (
	registryOpBind uint16 = 0
	registryEvGlobal       uint16 = 0
	registryEvGlobalRemove uint16 = 1
)

// wl_callback.done, reused here for wl_display.sync's reply.
const callbackOpDone uint16 = 0

// Global is one entry of the globals table advertised to every bound
// wl_registry.
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
	Bind      func(cs *ClientState, newID, version uint32) error
}

// ClientState is everything the server tracks for one connected
// client: its wire connection, its object namespace, and the
// protocol-level state (seat, surfaces, shm pools) other packages'
// vtables need to look up by handle.
type ClientState struct {
	Client   *wire.Client
	Registry *registry.Registry

	Seat         *seat.Seat
	Surfaces     map[uint32]*surface.Surface
	Pools        map[uint32]*shmpool.Pool
	XdgShellPing *shell.PingTracker
}

func newClientState(c *wire.Client) *ClientState {
	return &ClientState{
		Client:   c,
		Registry: registry.New(),
		Surfaces: make(map[uint32]*surface.Surface),
		Pools:    make(map[uint32]*shmpool.Pool),
	}
}

// Server owns the listening socket, the per-client state table, and
// the globals every client's wl_registry is offered on bind.
type Server struct {
	listener *wire.Listener
	clients  map[uint64]*ClientState
	globals  []Global

	serials    *serial.Counter
	clock      *serial.Clock
	compositor *compositor.Compositor
	renderer   surface.Renderer
	lastPingMs uint32
}

// pingIntervalMs is how often a bound zxdg_shell_v6 gets a fresh
// liveness ping.
const pingIntervalMs = 5000

// New creates the display, binds the socket at an auto-assigned name
// under dir, and registers the globals table. renderer may
// be nil at construction and supplied later via SetRenderer, since the
// renderer's own setup (window, GL context) commonly happens after the
// socket is already listening.
func New(dir string, comp *compositor.Compositor, renderer surface.Renderer, serials *serial.Counter, clock *serial.Clock) (*Server, error) {
	ln, err := wire.Listen(dir, "")
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	s := &Server{
		listener:   ln,
		clients:    make(map[uint64]*ClientState),
		serials:    serials,
		clock:      clock,
		compositor: comp,
		renderer:   renderer,
	}
	s.registerGlobals()
	return s, nil
}

// SocketName is the wayland-N name clients connect to, normally
// exported to them via $WAYLAND_DISPLAY.
func (s *Server) SocketName() string { return s.listener.SocketName }

func (s *Server) SetRenderer(r surface.Renderer) { s.renderer = r }

// registerGlobals advertises the compositor's globals, including
// wl_shm: shared-memory support is initialized at construction, since
// no SHM buffer can exist without clients being able to bind wl_shm to
// begin with.
func (s *Server) registerGlobals() {
	s.addGlobal("wl_compositor", 4, s.bindCompositor)
	s.addGlobal("wl_shm", 1, s.bindShm)
	s.addGlobal("wl_shell", 1, s.bindWlShell)
	s.addGlobal("zxdg_shell_v6", 1, s.bindXdgShell)
	s.addGlobal("wl_seat", 6, s.bindSeat)
	s.addGlobal("wl_data_device_manager", 3, s.bindDataDeviceManager)
	s.addGlobal("wl_output", 3, s.bindOutput)
}

func (s *Server) addGlobal(iface string, version uint32, bind func(cs *ClientState, newID, version uint32) error) {
	name := uint32(len(s.globals) + 1)
	s.globals = append(s.globals, Global{Name: name, Interface: iface, Version: version, Bind: bind})
}

// HandleEvent performs one iteration of the server's event loop: accept
// new connections, pump pending socket reads for every client,
// dispatch the messages that framed out of them, then flush each
// surface's pending frame callbacks. Returns an error only when
// accepting a new connection fails; per-client errors are logged. The
// server itself never terminates the main loop (the Compositor's
// backend does, via compositor.HandleEvent).
func (s *Server) HandleEvent() error {
	if err := s.acceptNew(); err != nil {
		return err
	}
	s.pingXdgShells()
	for id, cs := range s.clients {
		msgs, err := cs.Client.Pump()
		if err != nil {
			log.Printf("server: client %d: %v, disconnecting", id, err)
			s.disconnect(id)
			continue
		}
		for _, m := range msgs {
			if err := s.dispatch(cs, m); err != nil {
				log.Printf("server: client %d: %v", id, err)
			}
		}
		for _, surf := range cs.Surfaces {
			surf.FlushCallbacks()
		}
	}
	return nil
}

// pingXdgShells sends a fresh zxdg_shell_v6.ping to every client that
// has one bound, once per pingIntervalMs of uptime.
func (s *Server) pingXdgShells() {
	now := s.clock.ElapsedMillis()
	if now-s.lastPingMs < pingIntervalMs {
		return
	}
	s.lastPingMs = now
	for id, cs := range s.clients {
		if cs.XdgShellPing == nil {
			continue
		}
		if err := cs.XdgShellPing.Ping(s.serials.Next()); err != nil {
			log.Printf("server: client %d: ping: %v", id, err)
		}
	}
}

func (s *Server) acceptNew() error {
	for {
		c, err := s.listener.Accept()
		if err != nil {
			return fmt.Errorf("server: accept: %w", err)
		}
		if c == nil {
			return nil
		}
		cs := newClientState(c)
		s.clients[c.ID] = cs
		log.Printf("server: client %d connected (pid=%d uid=%d)", c.ID, c.PID, c.UID)
	}
}

func (s *Server) disconnect(id uint64) {
	if cs, ok := s.clients[id]; ok {
		for _, p := range cs.Pools {
			p.Close()
		}
		cs.Client.Close()
	}
	delete(s.clients, id)
}

// dispatch routes one framed message to the display itself, or to a
// resource's installed vtable.
func (s *Server) dispatch(cs *ClientState, m wire.Message) error {
	if m.Object == displayHandle {
		return s.dispatchDisplay(cs, m)
	}
	res := cs.Registry.Lookup(m.Object)
	if res == nil {
		return fmt.Errorf("dispatch on unknown or destroyed object %d", m.Object)
	}
	if res.Vtable == nil {
		return fmt.Errorf("object %d (%s) has no request handler", m.Object, res.Interface)
	}
	return res.Vtable.Dispatch(m.Opcode, m.Args)
}

func (s *Server) dispatchDisplay(cs *ClientState, m wire.Message) error {
	r := wire.NewArgReader(m.Args, m.Fds)
	switch m.Opcode {
	case displayOpSync:
		newID, err := r.Uint()
		if err != nil {
			return err
		}
		var w wire.ArgWriter
		w.PutUint(s.clock.ElapsedMillis())
		if err := cs.Client.SendEvent(newID, callbackOpDone, w.Bytes()); err != nil {
			return err
		}
		return s.deleteID(cs, newID)

	case displayOpGetRegistry:
		newID, err := r.Uint()
		if err != nil {
			return err
		}
		cs.Registry.Create(newID, "wl_registry", 1, nil, s.registryVtable(cs, newID), nil)
		for _, g := range s.globals {
			var gw wire.ArgWriter
			gw.PutUint(g.Name).PutString(g.Interface).PutUint(g.Version)
			if err := cs.Client.SendEvent(newID, registryEvGlobal, gw.Bytes()); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("wl_display: unknown opcode %d", m.Opcode)
	}
}

// deleteID sends wl_display.delete_id, the event real compositors use
// to tell a client a callback-style, one-shot object's handle may be
// reused. wl_callback is never explicitly destroyed by the client, so
// this is the only place that applies to here.
func (s *Server) deleteID(cs *ClientState, id uint32) error {
	var w wire.ArgWriter
	w.PutUint(id)
	return cs.Client.SendEvent(displayHandle, displayEvDeleteID, w.Bytes())
}

func (s *Server) registryVtable(cs *ClientState, handle uint32) registry.DispatcherFunc {
	return func(opcode uint16, args []byte) error {
		if opcode != registryOpBind {
			return fmt.Errorf("wl_registry %d: unknown opcode %d", handle, opcode)
		}
		r := wire.NewArgReader(args, nil)
		name, err := r.Uint()
		if err != nil {
			return err
		}
		if _, err := r.String(); err != nil { // interface, redundant with name
			return err
		}
		version, err := r.Uint()
		if err != nil {
			return err
		}
		newID, err := r.Uint()
		if err != nil {
			return err
		}
		for _, g := range s.globals {
			if g.Name == name {
				return g.Bind(cs, newID, version)
			}
		}
		return fmt.Errorf("wl_registry %d: bind of unknown global %d", handle, name)
	}
}

// --- wl_compositor -----------------------------------------------------

const (
	compositorOpCreateSurface uint16 = 0
	compositorOpCreateRegion  uint16 = 1
)

func (s *Server) bindCompositor(cs *ClientState, newID, version uint32) error {
	cs.Registry.Create(newID, "wl_compositor", version, nil, s.compositorVtable(cs), nil)
	return nil
}

func (s *Server) compositorVtable(cs *ClientState) registry.DispatcherFunc {
	return func(opcode uint16, args []byte) error {
		r := wire.NewArgReader(args, nil)
		switch opcode {
		case compositorOpCreateSurface:
			newID, err := r.Uint()
			if err != nil {
				return err
			}
			surf := surface.New(newID, cs.Client, s.clock)
			cs.Registry.Create(newID, "wl_surface", 1, surf, surface.NewVtable(surf, cs.Registry, s.getRenderer), func() {
				delete(cs.Surfaces, newID)
			})
			cs.Surfaces[newID] = surf
			return nil

		case compositorOpCreateRegion:
			newID, err := r.Uint()
			if err != nil {
				return err
			}
			reg := region.New()
			cs.Registry.Create(newID, "wl_region", 1, reg, regionVtable(cs.Registry, newID, reg), nil)
			return nil

		default:
			return fmt.Errorf("wl_compositor: unknown opcode %d", opcode)
		}
	}
}

func (s *Server) getRenderer() surface.Renderer { return s.renderer }

// --- wl_region -----------------------------------------------------

const (
	regionOpDestroy  uint16 = 0
	regionOpAdd      uint16 = 1
	regionOpSubtract uint16 = 2
)

func regionVtable(reg *registry.Registry, handle uint32, area *region.Region) registry.DispatcherFunc {
	return func(opcode uint16, args []byte) error {
		r := wire.NewArgReader(args, nil)
		switch opcode {
		case regionOpDestroy:
			return reg.Destroy(handle)
		case regionOpAdd, regionOpSubtract:
			x, err := r.Int()
			if err != nil {
				return err
			}
			y, err := r.Int()
			if err != nil {
				return err
			}
			w, err := r.Int()
			if err != nil {
				return err
			}
			h, err := r.Int()
			if err != nil {
				return err
			}
			if opcode == regionOpAdd {
				area.Add(x, y, w, h)
			} else {
				area.Subtract(x, y, w, h)
			}
			return nil
		default:
			return fmt.Errorf("wl_region %d: unknown opcode %d", handle, opcode)
		}
	}
}

// --- wl_shm / wl_shm_pool / wl_buffer -----------------------------------

const (
	shmOpCreatePool uint16 = 0
	shmEvFormat     uint16 = 0
)

const (
	shmPoolOpCreateBuffer uint16 = 0
	shmPoolOpDestroy      uint16 = 1
	shmPoolOpResize       uint16 = 2
)

const bufferOpDestroy uint16 = 0

func (s *Server) bindShm(cs *ClientState, newID, version uint32) error {
	cs.Registry.Create(newID, "wl_shm", version, nil, shmVtable(cs, newID), nil)
	var f1, f2 wire.ArgWriter
	f1.PutUint(uint32(shmpool.FormatARGB8888))
	f2.PutUint(uint32(shmpool.FormatXRGB8888))
	if err := cs.Client.SendEvent(newID, shmEvFormat, f1.Bytes()); err != nil {
		return err
	}
	return cs.Client.SendEvent(newID, shmEvFormat, f2.Bytes())
}

func shmVtable(cs *ClientState, handle uint32) registry.DispatcherFunc {
	return func(opcode uint16, args []byte) error {
		if opcode != shmOpCreatePool {
			return fmt.Errorf("wl_shm %d: unknown opcode %d", handle, opcode)
		}
		r := wire.NewArgReader(args, nil)
		newID, err := r.Uint()
		if err != nil {
			return err
		}
		fd, err := r.Fd()
		if err != nil {
			return err
		}
		size, err := r.Int()
		if err != nil {
			return err
		}
		pool, err := shmpool.NewPool(fd, size)
		if err != nil {
			return fmt.Errorf("wl_shm %d: %w", handle, err)
		}
		cs.Pools[newID] = pool
		cs.Registry.Create(newID, "wl_shm_pool", 1, pool, shmPoolVtable(cs, newID, pool), func() {
			pool.Close()
			delete(cs.Pools, newID)
		})
		return nil
	}
}

func shmPoolVtable(cs *ClientState, handle uint32, pool *shmpool.Pool) registry.DispatcherFunc {
	return func(opcode uint16, args []byte) error {
		r := wire.NewArgReader(args, nil)
		switch opcode {
		case shmPoolOpCreateBuffer:
			newID, err := r.Uint()
			if err != nil {
				return err
			}
			offset, err := r.Int()
			if err != nil {
				return err
			}
			width, err := r.Int()
			if err != nil {
				return err
			}
			height, err := r.Int()
			if err != nil {
				return err
			}
			stride, err := r.Int()
			if err != nil {
				return err
			}
			format, err := r.Uint()
			if err != nil {
				return err
			}
			buf := &surface.Buffer{
				ResourceHandle: newID,
				Sink:           cs.Client,
				Pool:           pool,
				Offset:         offset,
				Width:          width,
				Height:         height,
				Stride:         stride,
				Format:         shmpool.Format(format),
				IsSHM:          true,
			}
			cs.Registry.Create(newID, "wl_buffer", 1, buf, bufferVtable(cs.Registry, newID), nil)
			return nil

		case shmPoolOpDestroy:
			return cs.Registry.Destroy(handle)

		case shmPoolOpResize:
			size, err := r.Int()
			if err != nil {
				return err
			}
			return pool.Resize(size)

		default:
			return fmt.Errorf("wl_shm_pool %d: unknown opcode %d", handle, opcode)
		}
	}
}

func bufferVtable(reg *registry.Registry, handle uint32) registry.DispatcherFunc {
	return func(opcode uint16, args []byte) error {
		if opcode != bufferOpDestroy {
			return fmt.Errorf("wl_buffer %d: unknown opcode %d", handle, opcode)
		}
		return reg.Destroy(handle)
	}
}

// --- wl_shell / zxdg_shell_v6 --------------------------------------------

func (s *Server) bindWlShell(cs *ClientState, newID, version uint32) error {
	cs.Registry.Create(newID, "wl_shell", version, nil,
		shell.NewWlShellVtable(cs.Registry, cs.Client, s.lookupSurface(cs), s.onWindowCreated(cs)), nil)
	return nil
}

func (s *Server) bindXdgShell(cs *ClientState, newID, version uint32) error {
	cs.XdgShellPing = shell.NewPingTracker(cs.Client, newID, s.clock)
	cs.Registry.Create(newID, "zxdg_shell_v6", version, nil,
		shell.NewXdgShellVtable(cs.Registry, cs.Client, s.serials.Next, s.lookupSurface(cs), s.onWindowCreated(cs), cs.XdgShellPing), nil)
	return nil
}

func (s *Server) lookupSurface(cs *ClientState) func(uint32) (*surface.Surface, bool) {
	return func(handle uint32) (*surface.Surface, bool) {
		surf, ok := cs.Surfaces[handle]
		return surf, ok
	}
}

// onWindowCreated wires a freshly handshaked shell surface into the
// compositor's window list and gives it a way to resolve its owning
// client's seat once bound.
func (s *Server) onWindowCreated(cs *ClientState) func(*shell.Surface) {
	return func(ws *shell.Surface) {
		ws.SetSeatResolver(func() *seat.Seat { return cs.Seat })
		ws.Underlying.OnCommit = ws.SyncTexture
		s.compositor.AddWindow(ws)
	}
}

// --- wl_seat -------------------------------------------------------------

func (s *Server) bindSeat(cs *ClientState, newID, version uint32) error {
	st := seat.New(newID, cs.Client, version, seat.CapPointer|seat.CapKeyboard)
	cs.Registry.Create(newID, "wl_seat", version, st, seat.NewVtable(st, cs.Registry), func() {
		cs.Seat = nil
	})
	cs.Seat = st
	return st.Advertise()
}

// --- wl_data_device_manager ----------------------------------------------

func (s *Server) bindDataDeviceManager(cs *ClientState, newID, version uint32) error {
	cs.Registry.Create(newID, "wl_data_device_manager", version, nil, datadevice.NewManagerVtable(cs.Registry), nil)
	return nil
}

// --- wl_output -------------------------------------------------------------

const outputOpRelease uint16 = 0

func (s *Server) bindOutput(cs *ClientState, newID, version uint32) error {
	cs.Registry.Create(newID, "wl_output", version, nil, registry.DispatcherFunc(func(opcode uint16, _ []byte) error {
		if opcode != outputOpRelease {
			return fmt.Errorf("wl_output %d: unknown opcode %d", newID, opcode)
		}
		return cs.Registry.Destroy(newID)
	}), nil)
	return output.Advertise(cs.Client, newID, version)
}

// Close tears down the listening socket and every connected client.
func (s *Server) Close() error {
	for id := range s.clients {
		s.disconnect(id)
	}
	return s.listener.Close()
}
