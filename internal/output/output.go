// Package output implements wl_output advertisement: a
// single, hard-coded 1920x1024 logical output.
package output

import (
	"fmt"

	"github.com/HidenoriMatsubayashi/waffle/internal/wire"
)

const (
	Width  = 1920
	Height = 1024
	RefreshMilliHz = 60000
)

// wl_output events and since-versions.
const (
	evGeometry uint16 = 0
	evMode     uint16 = 1
	evDone     uint16 = 2
	evScale    uint16 = 3

	doneSinceVersion  = 2
	scaleSinceVersion = 2
)

// wl_output.subpixel / transform / mode-flag enums this design sends.
const (
	subpixelUnknown  = 0
	transformNormal  = 0
	modeCurrent      = 0x1
	modePreferred    = 0x2
)

// EventSink is the subset of a client connection needed to advertise
// an output on bind.
type EventSink interface {
	SendEvent(object uint32, opcode uint16, args []byte) error
}

// Advertise sends geometry, (if version >= 2) scale, mode, and done,
// in that order, to a freshly bound wl_output resource.
func Advertise(sink EventSink, handle uint32, version uint32) error {
	var geom wire.ArgWriter
	geom.PutInt(0).PutInt(0). // x, y
					PutInt(Width).PutInt(Height). // physical size in mm, reused here as pixel dims since no real monitor exists
					PutInt(subpixelUnknown).
					PutString(""). // make
					PutString(""). // model
					PutInt(transformNormal)
	if err := sink.SendEvent(handle, evGeometry, geom.Bytes()); err != nil {
		return fmt.Errorf("output %d: geometry: %w", handle, err)
	}

	if version >= scaleSinceVersion {
		var scale wire.ArgWriter
		scale.PutInt(1)
		if err := sink.SendEvent(handle, evScale, scale.Bytes()); err != nil {
			return fmt.Errorf("output %d: scale: %w", handle, err)
		}
	}

	var mode wire.ArgWriter
	mode.PutUint(modeCurrent | modePreferred).
		PutInt(Width).PutInt(Height).
		PutInt(RefreshMilliHz)
	if err := sink.SendEvent(handle, evMode, mode.Bytes()); err != nil {
		return fmt.Errorf("output %d: mode: %w", handle, err)
	}

	if version >= doneSinceVersion {
		if err := sink.SendEvent(handle, evDone, nil); err != nil {
			return fmt.Errorf("output %d: done: %w", handle, err)
		}
	}
	return nil
}
