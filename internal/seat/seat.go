// Package seat implements wl_seat, wl_pointer and wl_keyboard (spec
// §4.D): the per-client input sink, and the pointer focus-tracking
// state machine that is the central piece of input dispatch.
package seat

import (
	"fmt"
	"log"

	"github.com/HidenoriMatsubayashi/waffle/internal/registry"
	"github.com/HidenoriMatsubayashi/waffle/internal/wire"
)

// wl_seat requests.
const (
	OpGetPointer  uint16 = 0
	OpGetKeyboard uint16 = 1
	OpGetTouch    uint16 = 2
	OpRelease     uint16 = 3
)

// wl_seat events.
const (
	evCapabilities uint16 = 0
	evName         uint16 = 1
)

// Capability is the wl_seat.capability bitmask.
type Capability uint32

const (
	CapPointer  Capability = 1 << 0
	CapKeyboard Capability = 1 << 1
	CapTouch    Capability = 1 << 2
)

// wl_pointer events and their since-versions, straight out of
// wayland.xml: every event newer than version 1 must be gated.
const (
	PointerEvEnter      uint16 = 0
	PointerEvLeave      uint16 = 1
	PointerEvMotion     uint16 = 2
	PointerEvButton     uint16 = 3
	PointerEvAxis       uint16 = 4
	PointerEvFrame      uint16 = 5
	PointerEnterSinceVersion  = 1
	PointerMotionSinceVersion = 1
	PointerLeaveSinceVersion  = 1
	PointerButtonSinceVersion = 1
	PointerFrameSinceVersion  = 5
)

// wl_keyboard events and since-versions.
const (
	KeyboardEvKeymap uint16 = 0
	KeyboardEvEnter  uint16 = 1
	KeyboardEvLeave  uint16 = 2
	KeyboardEvKey    uint16 = 3

	KeyboardEnterSinceVersion = 1
	KeyboardLeaveSinceVersion = 1
	KeyboardKeySinceVersion   = 1
)

// ButtonState mirrors wl_pointer.button_state.
type ButtonState uint32

const (
	ButtonReleased ButtonState = 0
	ButtonPressed  ButtonState = 1
)

// KeyState mirrors wl_keyboard.key_state.
type KeyState uint32

const (
	KeyReleased KeyState = 0
	KeyPressed  KeyState = 1
)

// EventSink is the subset of a client connection needed to emit
// events; satisfied by *wire.Client.
type EventSink interface {
	SendEvent(object uint32, opcode uint16, args []byte) error
}

// Seat is the per-client singleton input aggregation: at most one
// pointer and one keyboard resource, plus the surface last entered,
// used to decide enter vs. motion on the next pointer event.
type Seat struct {
	Handle       uint32
	Sink         EventSink
	Version      uint32
	Capabilities Capability

	Pointer  *registry.Resource
	Keyboard *registry.Resource

	lastEntered     uint32 // wl_surface handle, 0 = none
	keyboardFocused uint32
}

func New(handle uint32, sink EventSink, version uint32, caps Capability) *Seat {
	return &Seat{Handle: handle, Sink: sink, Version: version, Capabilities: caps}
}

// Advertise sends wl_seat.capabilities on bind.
func (s *Seat) Advertise() error {
	var w wire.ArgWriter
	w.PutUint(uint32(s.Capabilities))
	return s.Sink.SendEvent(s.Handle, evCapabilities, w.Bytes())
}

// NewVtable builds the wl_seat request dispatcher.
func NewVtable(s *Seat, reg *registry.Registry) registry.DispatcherFunc {
	return func(opcode uint16, args []byte) error {
		r := wire.NewArgReader(args, nil)
		switch opcode {
		case OpGetPointer:
			newID, err := r.Uint()
			if err != nil {
				return err
			}
			if s.Pointer != nil {
				log.Printf("seat %d: duplicate get_pointer, resource %d ignored", s.Handle, newID)
				return nil
			}
			s.Pointer = reg.Create(newID, "wl_pointer", s.Version, s, nil, func() {
				s.Pointer = nil
			})
			s.Pointer.Vtable = pointerVtable(s, reg)
			return nil

		case OpGetKeyboard:
			newID, err := r.Uint()
			if err != nil {
				return err
			}
			if s.Keyboard != nil {
				log.Printf("seat %d: duplicate get_keyboard, resource %d ignored", s.Handle, newID)
				return nil
			}
			s.Keyboard = reg.Create(newID, "wl_keyboard", s.Version, s, nil, func() {
				s.Keyboard = nil
			})
			s.Keyboard.Vtable = keyboardVtable(s, reg)
			return nil

		case OpGetTouch:
			log.Printf("seat %d: get_touch requested but touch is not implemented", s.Handle)
			return nil

		case OpRelease:
			return reg.Destroy(s.Handle)

		default:
			return fmt.Errorf("seat %d: unknown opcode %d", s.Handle, opcode)
		}
	}
}

// wl_pointer requests.
const (
	OpSetCursor    uint16 = 0
	OpPointerRelease uint16 = 1
)

// wl_keyboard requests.
const OpKeyboardRelease uint16 = 0

func pointerVtable(s *Seat, reg *registry.Registry) registry.DispatcherFunc {
	return func(opcode uint16, args []byte) error {
		switch opcode {
		case OpSetCursor:
			return nil // cursor protocol is a non-goal
		case OpPointerRelease:
			return reg.Destroy(s.Pointer.Handle)
		default:
			return fmt.Errorf("pointer %d: unknown opcode %d", s.Pointer.Handle, opcode)
		}
	}
}

func keyboardVtable(s *Seat, reg *registry.Registry) registry.DispatcherFunc {
	return func(opcode uint16, args []byte) error {
		switch opcode {
		case OpKeyboardRelease:
			return reg.Destroy(s.Keyboard.Handle)
		default:
			return fmt.Errorf("keyboard %d: unknown opcode %d", s.Keyboard.Handle, opcode)
		}
	}
}

// since reports whether this seat's pointer/keyboard version satisfies
// an event's minimum version.
func (s *Seat) since(required uint32) bool {
	return s.Version >= required
}

// PointerMove implements the focus-tracking state machine of spec
// §4.D: it resolves enter-vs-motion based on whether surfaceHandle
// differs from the last surface this seat's pointer entered.
func (s *Seat) PointerMove(serial uint32, surfaceHandle uint32, x, y float64) {
	if s.Pointer == nil || !s.Pointer.Valid() {
		return
	}
	if surfaceHandle != s.lastEntered {
		if s.since(PointerEnterSinceVersion) {
			var w wire.ArgWriter
			w.PutUint(serial).PutUint(surfaceHandle).PutFixed(x).PutFixed(y)
			s.send(PointerEvEnter, w.Bytes())
		}
		s.lastEntered = surfaceHandle
	} else {
		if s.since(PointerMotionSinceVersion) {
			var w wire.ArgWriter
			w.PutFixed(x).PutFixed(y)
			s.send(PointerEvMotion, w.Bytes())
		}
	}
	s.pointerFrame()
}

// PointerLeave clears focus and emits leave+frame.
func (s *Seat) PointerLeave(serial uint32, surfaceHandle uint32) {
	if s.Pointer == nil || !s.Pointer.Valid() {
		return
	}
	s.lastEntered = 0
	if s.since(PointerLeaveSinceVersion) {
		var w wire.ArgWriter
		w.PutUint(serial).PutUint(surfaceHandle)
		s.send(PointerEvLeave, w.Bytes())
	}
	s.pointerFrame()
}

// PointerButton emits button+frame.
func (s *Seat) PointerButton(serial, timeMs, button uint32, state ButtonState) {
	if s.Pointer == nil || !s.Pointer.Valid() {
		return
	}
	if s.since(PointerButtonSinceVersion) {
		var w wire.ArgWriter
		w.PutUint(serial).PutUint(timeMs).PutUint(button).PutUint(uint32(state))
		s.send(PointerEvButton, w.Bytes())
	}
	s.pointerFrame()
}

func (s *Seat) pointerFrame() {
	if s.since(PointerFrameSinceVersion) {
		s.send(PointerEvFrame, nil)
	}
}

func (s *Seat) send(opcode uint16, args []byte) {
	if err := s.Sink.SendEvent(s.Pointer.Handle, opcode, args); err != nil {
		log.Printf("seat %d: failed to send pointer event %d: %v", s.Handle, opcode, err)
	}
}

// KeyboardFocus emits enter/leave on the keyboard's focus-change edge,
// a detail spec.md leaves to keyboard key events alone but
// original_source/wayland_seat.cc performs on the same edge as the
// pointer (see SPEC_FULL.md's supplemented features).
func (s *Seat) KeyboardFocus(serial, surfaceHandle uint32) {
	if s.Keyboard == nil || !s.Keyboard.Valid() {
		return
	}
	if surfaceHandle == s.keyboardFocused {
		return
	}
	if s.keyboardFocused != 0 && s.since(KeyboardLeaveSinceVersion) {
		var w wire.ArgWriter
		w.PutUint(serial).PutUint(s.keyboardFocused)
		s.sendKeyboard(KeyboardEvLeave, w.Bytes())
	}
	s.keyboardFocused = surfaceHandle
	if surfaceHandle != 0 && s.since(KeyboardEnterSinceVersion) {
		var w wire.ArgWriter
		w.PutUint(serial).PutUint(surfaceHandle).PutArray(nil)
		s.sendKeyboard(KeyboardEvEnter, w.Bytes())
	}
}

// KeyboardKey forwards the raw (key, down) pair; keymap and modifiers
// are deliberately not emitted.
func (s *Seat) KeyboardKey(serial, timeMs, key uint32, state KeyState) {
	if s.Keyboard == nil || !s.Keyboard.Valid() {
		return
	}
	if !s.since(KeyboardKeySinceVersion) {
		return
	}
	var w wire.ArgWriter
	w.PutUint(serial).PutUint(timeMs).PutUint(key).PutUint(uint32(state))
	s.sendKeyboard(KeyboardEvKey, w.Bytes())
}

func (s *Seat) sendKeyboard(opcode uint16, args []byte) {
	if err := s.Sink.SendEvent(s.Keyboard.Handle, opcode, args); err != nil {
		log.Printf("seat %d: failed to send keyboard event %d: %v", s.Handle, opcode, err)
	}
}
