// Package surface implements the wl_surface object: the
// central per-window entity that turns attach/damage/frame/commit into
// a texture upload and a scheduled frame callback.
package surface

import (
	"fmt"
	"log"

	"github.com/HidenoriMatsubayashi/waffle/internal/registry"
	"github.com/HidenoriMatsubayashi/waffle/internal/shmpool"
	"github.com/HidenoriMatsubayashi/waffle/internal/texture"
	"github.com/HidenoriMatsubayashi/waffle/internal/vec2"
	"github.com/HidenoriMatsubayashi/waffle/internal/wire"
)

// Wire opcodes for wl_surface requests, in protocol declaration order.
const (
	OpDestroy            uint16 = 0
	OpAttach             uint16 = 1
	OpDamage             uint16 = 2
	OpFrame              uint16 = 3
	OpSetOpaqueRegion    uint16 = 4
	OpSetInputRegion     uint16 = 5
	OpCommit             uint16 = 6
	OpSetBufferTransform uint16 = 7
	OpSetBufferScale     uint16 = 8
	OpDamageBuffer       uint16 = 9
)

// wl_callback.done is the only event wl_callback ever sends.
const callbackOpDone uint16 = 0

// wl_buffer.release is the only event wl_buffer ever sends.
const bufferOpRelease uint16 = 0

// DoneSinceVersion is the minimum negotiated wl_callback version that
// may receive a done event. Version gating applies uniformly to every
// event in this design.
const DoneSinceVersion = 1

// EventSink is the subset of a client connection a Surface needs to
// emit events; satisfied by *wire.Client, and by a fake in tests.
type EventSink interface {
	SendEvent(object uint32, opcode uint16, args []byte) error
}

// Renderer is the external collaborator: the GL/EGL layer the core
// uploads pixels to and never touches directly.
type Renderer interface {
	UploadSHM(data []byte, w, h int, format shmpool.Format) (texture.Handle, error)
	UploadOpaqueHandle(handle uint32) (texture.Handle, error)
}

// Buffer is a client's wl_buffer: either shared-memory backed (read
// via a shmpool.Pool) or an opaque, renderer-defined handle standing
// in for an EGL-image-style import.
type Buffer struct {
	ResourceHandle uint32
	Sink           EventSink

	Pool               *shmpool.Pool
	Offset             int32
	Width, Height      int32
	Stride             int32
	Format             shmpool.Format
	IsSHM              bool
	OpaqueImportHandle uint32
}

// Release sends wl_buffer.release to the client that owns this buffer.
func (b *Buffer) Release() {
	if b == nil || b.Sink == nil {
		return
	}
	if err := b.Sink.SendEvent(b.ResourceHandle, bufferOpRelease, nil); err != nil {
		log.Printf("surface: failed to release buffer %d: %v", b.ResourceHandle, err)
	}
}

// Surface is the central per-window entity: it holds the pending
// buffer, the committed texture and size, the damage flag, and its own
// pending frame-callback list (kept per-surface rather than a single
// process-global list, so callback flushing never crosses windows).
type Surface struct {
	Handle uint32
	Sink   EventSink
	Clock  interface{ ElapsedMillis() uint32 }

	pending *Buffer
	damaged bool

	Texture texture.Handle
	Size    vec2.Vec2

	callbacks []*registry.Resource

	// OnCommit, if set, runs after a successful Commit that produced a
	// new texture. The shell package uses it to copy the freshly
	// committed texture into a wrapping shell surface's exported slot
	//, without this package needing to know shell exists.
	OnCommit func()
}

func New(handle uint32, sink EventSink, clock interface{ ElapsedMillis() uint32 }) *Surface {
	return &Surface{Handle: handle, Sink: sink, Clock: clock}
}

// Attach records buf as the pending buffer. The x,y offset arguments
// wl_surface.attach carries are accepted but ignored.
func (s *Surface) Attach(buf *Buffer) {
	s.pending = buf
}

// Damage and DamageBuffer both just set the damage flag: rectangle
// coordinates are ignored and the next commit re-uploads the whole
// buffer (spec: "No damage-region tracking").
func (s *Surface) Damage() {
	s.damaged = true
}

// Frame appends a newly created wl_callback resource to this surface's
// pending list, to be fired on the next callback flush.
func (s *Surface) Frame(cb *registry.Resource) {
	s.callbacks = append(s.callbacks, cb)
}

// Commit applies the pending attach/damage state in order: upload the
// buffer if damaged, release it back to the client, swap in the new
// size, and clear the damage flag.
func (s *Surface) Commit(r Renderer) error {
	if s.pending == nil || !s.damaged {
		return nil
	}
	buf := s.pending

	var tex texture.Handle
	var err error
	if buf.IsSHM {
		if !shmpool.Supported(buf.Format) {
			log.Printf("surface %d: unsupported shm format %s, not uploaded", s.Handle, buf.Format)
		} else {
			data, rerr := buf.Pool.Read(buf.Offset, buf.Stride, buf.Height)
			if rerr != nil {
				return fmt.Errorf("surface %d: %w", s.Handle, rerr)
			}
			tex, err = r.UploadSHM(data, int(buf.Width), int(buf.Height), buf.Format)
			if err != nil {
				return fmt.Errorf("surface %d: upload: %w", s.Handle, err)
			}
		}
	} else {
		tex, err = r.UploadOpaqueHandle(buf.OpaqueImportHandle)
		if err != nil {
			return fmt.Errorf("surface %d: upload opaque: %w", s.Handle, err)
		}
	}

	if s.Texture.Valid() {
		s.Texture.Release()
	}
	if tex.Valid() {
		s.Texture = tex
	}
	s.Size = vec2.New(float64(buf.Width), float64(buf.Height))

	buf.Release()
	s.pending = nil
	s.damaged = false
	if tex.Valid() && s.OnCommit != nil {
		s.OnCommit()
	}
	return nil
}

// FlushCallbacks fires wl_callback.done on every pending callback
// whose negotiated version is high enough, then destroys it and clears
// the list. Invoked once per server event-pump iteration.
func (s *Surface) FlushCallbacks() {
	if len(s.callbacks) == 0 {
		return
	}
	elapsed := s.Clock.ElapsedMillis()
	for _, cb := range s.callbacks {
		if cb.Version >= DoneSinceVersion {
			var w wire.ArgWriter
			w.PutUint(elapsed)
			if err := s.Sink.SendEvent(cb.Handle, callbackOpDone, w.Bytes()); err != nil {
				log.Printf("surface %d: failed to send callback.done: %v", s.Handle, err)
			}
		}
		cb.Destroy()
	}
	s.callbacks = nil
}

// NewVtable builds the wl_surface request dispatcher. reg is the
// owning client's registry (needed to mint the new_id for frame and to
// resolve the buffer object attach references); getRenderer is
// resolved lazily since the renderer is wired up once at server
// construction, after surfaces can already exist.
func NewVtable(s *Surface, reg *registry.Registry, getRenderer func() Renderer) registry.DispatcherFunc {
	return func(opcode uint16, args []byte) error {
		r := wire.NewArgReader(args, nil)
		switch opcode {
		case OpDestroy:
			return reg.Destroy(s.Handle)

		case OpAttach:
			bufHandle, err := r.Uint()
			if err != nil {
				return err
			}
			if _, err := r.Int(); err != nil { // x, ignored
				return err
			}
			if _, err := r.Int(); err != nil { // y, ignored
				return err
			}
			if bufHandle == 0 {
				s.Attach(nil)
				return nil
			}
			buf, ok := registry.GetTyped[*Buffer](reg, bufHandle)
			if !ok {
				log.Printf("surface %d: attach of unknown buffer %d", s.Handle, bufHandle)
				return nil
			}
			s.Attach(buf)
			return nil

		case OpDamage, OpDamageBuffer:
			s.Damage()
			return nil

		case OpFrame:
			newID, err := r.Uint()
			if err != nil {
				return err
			}
			cb := reg.Create(newID, "wl_callback", 1, nil, nil, nil)
			s.Frame(cb)
			return nil

		case OpSetOpaqueRegion, OpSetInputRegion:
			log.Printf("surface %d: region requests are accepted but not honored (non-goal)", s.Handle)
			return nil

		case OpCommit:
			renderer := getRenderer()
			if renderer == nil {
				return nil
			}
			return s.Commit(renderer)

		case OpSetBufferTransform, OpSetBufferScale:
			log.Printf("surface %d: buffer transform/scale accepted but ignored", s.Handle)
			return nil

		default:
			return fmt.Errorf("surface %d: unknown opcode %d", s.Handle, opcode)
		}
	}
}
