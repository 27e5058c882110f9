// Package backend implements the Backend external collaborator
// described by interface only: a host window, a GL-capable surface,
// and an OS input pump. It is built on SDL2, the same way a reference
// host window drives sdl.CreateWindow, sdl.CreateRenderer, and
// sdl.PollEvent/WaitEventTimeout, since only the DRM/GBM/libinput and
// X11-direct backends are out of scope, not having a runnable one at
// all.
package backend

import (
	"fmt"
	"log"

	"github.com/HidenoriMatsubayashi/waffle/internal/compositor"
	"github.com/veandco/go-sdl2/sdl"
)

// InputDelegate is an alias of compositor.InputDelegate: backend must
// accept the exact interface type compositor.Backend's
// SetInputDelegate method declares, since Go interface satisfaction
// matches parameter types by identity, not just by method set shape.
type InputDelegate = compositor.InputDelegate

// SDL hosts the compositor's single fixed-size output inside an SDL2
// window, with a single sdl.CreateWindow + sdl.CreateRenderer pairing.
type SDL struct {
	win      *sdl.Window
	renderer *sdl.Renderer
	valid    bool
	delegate InputDelegate
}

// New initializes SDL's video subsystem and opens a resizable window
// of the given width and height.
func New(title string, width, height int) (*SDL, error) {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, fmt.Errorf("backend: sdl init: %w", err)
	}
	win, err := sdl.CreateWindow(title, sdl.WINDOWPOS_CENTERED, sdl.WINDOWPOS_CENTERED,
		int32(width), int32(height), sdl.WINDOW_SHOWN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return nil, fmt.Errorf("backend: create window: %w", err)
	}
	renderer, err := sdl.CreateRenderer(win, -1, sdl.RENDERER_ACCELERATED)
	if err != nil {
		win.Destroy()
		return nil, fmt.Errorf("backend: create renderer: %w", err)
	}
	return &SDL{win: win, renderer: renderer, valid: true}, nil
}

// Renderer exposes the underlying SDL renderer to internal/renderer,
// which needs it to create and update textures.
func (s *SDL) Renderer() *sdl.Renderer { return s.renderer }

func (s *SDL) SetInputDelegate(d InputDelegate) { s.delegate = d }

func (s *SDL) Valid() bool { return s.valid }

// Dispatch drains the SDL event queue once and forwards input to the
// delegate: pointer motion/button, window leave and resize, wheel,
// touch and keyboard. Quit and window close mark the backend invalid
// and return false.
func (s *SDL) Dispatch() bool {
	for {
		event := sdl.PollEvent()
		if event == nil {
			break
		}
		switch ev := event.(type) {
		case *sdl.QuitEvent:
			s.valid = false
			return false

		case *sdl.WindowEvent:
			switch ev.Event {
			case sdl.WINDOWEVENT_LEAVE:
				if s.delegate != nil {
					s.delegate.OnPointerLeave()
				}
			case sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED:
				if s.delegate != nil {
					s.delegate.OnWindowResize(int(ev.Data1), int(ev.Data2))
				}
			case sdl.WINDOWEVENT_CLOSE:
				s.valid = false
				return false
			}

		case *sdl.MouseMotionEvent:
			if s.delegate != nil {
				s.delegate.OnPointerMove(float64(ev.X), float64(ev.Y))
			}

		case *sdl.MouseButtonEvent:
			if s.delegate != nil {
				s.delegate.OnPointerButton(uint32(ev.Button), ev.State == sdl.PRESSED)
			}

		case *sdl.MouseWheelEvent:
			if s.delegate != nil {
				s.delegate.OnScroll()
			}

		case *sdl.TouchFingerEvent:
			if s.delegate != nil {
				s.delegate.OnTouch()
			}

		case *sdl.KeyboardEvent:
			if s.delegate != nil {
				s.delegate.OnKey(uint32(ev.Keysym.Sym), ev.State == sdl.PRESSED)
			}
		}
	}
	return true
}

// Close releases the window and renderer and shuts down SDL video.
func (s *SDL) Close() {
	if s.renderer != nil {
		s.renderer.Destroy()
	}
	if s.win != nil {
		s.win.Destroy()
	}
	sdl.Quit()
	log.Print("backend: sdl window closed")
}
