// Package datadevice implements wl_data_device_manager as a protocol-
// compliance stub: many toolkits refuse to proceed if this
// global is absent, but no drag-and-drop or clipboard exchange is
// implemented.
package datadevice

import (
	"fmt"
	"log"

	"github.com/HidenoriMatsubayashi/waffle/internal/registry"
	"github.com/HidenoriMatsubayashi/waffle/internal/wire"
)

// wl_data_device_manager requests.
const (
	OpCreateDataSource uint16 = 0
	OpGetDataDevice    uint16 = 1
)

// wl_data_device requests: the only one actually implemented is
// release; everything else (start_drag, set_selection) is logged.
const (
	opStartDrag     uint16 = 0
	opSetSelection  uint16 = 1
	opDataDevRelease uint16 = 2
)

// wl_data_source requests, all stubbed.
const (
	opOffer       uint16 = 0
	opSourceDestroy uint16 = 1
)

// NewManagerVtable builds the wl_data_device_manager global's
// dispatcher.
func NewManagerVtable(reg *registry.Registry) registry.DispatcherFunc {
	return func(opcode uint16, args []byte) error {
		r := wire.NewArgReader(args, nil)
		switch opcode {
		case OpGetDataDevice:
			newID, err := r.Uint()
			if err != nil {
				return err
			}
			if _, err := r.Uint(); err != nil { // seat, unused by the stub
				return err
			}
			res := reg.Create(newID, "wl_data_device", 1, nil, nil, nil)
			res.Vtable = dataDeviceVtable(reg, newID)
			return nil
		case OpCreateDataSource:
			newID, err := r.Uint()
			if err != nil {
				return err
			}
			res := reg.Create(newID, "wl_data_source", 1, nil, nil, nil)
			res.Vtable = dataSourceVtable(reg, newID)
			return nil
		default:
			return fmt.Errorf("wl_data_device_manager: unknown opcode %d", opcode)
		}
	}
}

func dataDeviceVtable(reg *registry.Registry, handle uint32) registry.DispatcherFunc {
	return func(opcode uint16, args []byte) error {
		switch opcode {
		case opDataDevRelease:
			return reg.Destroy(handle)
		case opStartDrag, opSetSelection:
			log.Printf("wl_data_device %d: request %d accepted but not implemented (non-goal)", handle, opcode)
			return nil
		default:
			return fmt.Errorf("wl_data_device %d: unknown opcode %d", handle, opcode)
		}
	}
}

func dataSourceVtable(reg *registry.Registry, handle uint32) registry.DispatcherFunc {
	return func(opcode uint16, args []byte) error {
		switch opcode {
		case opSourceDestroy:
			return reg.Destroy(handle)
		case opOffer:
			log.Printf("wl_data_source %d: offer accepted but not implemented (non-goal)", handle)
			return nil
		default:
			return fmt.Errorf("wl_data_source %d: unknown opcode %d", handle, opcode)
		}
	}
}
