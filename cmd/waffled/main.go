// Command waffled is the compositor's entry point: it wires the
// server, the compositor core, and the SDL2 backend/renderer together
// and drives the frame-paced main loop.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/HidenoriMatsubayashi/waffle/internal/backend"
	"github.com/HidenoriMatsubayashi/waffle/internal/compositor"
	"github.com/HidenoriMatsubayashi/waffle/internal/output"
	"github.com/HidenoriMatsubayashi/waffle/internal/renderer"
	"github.com/HidenoriMatsubayashi/waffle/internal/serial"
	"github.com/HidenoriMatsubayashi/waffle/internal/server"
	"github.com/HidenoriMatsubayashi/waffle/internal/texture"
)

// Config is populated from flags, in the literal-struct idiom
// cmd/ctxmenu/main.go uses for its own Config value.
type Config struct {
	SocketDir    string
	Background   string
	WindowWidth  int
	WindowHeight int
	DebugOverlay bool
	TargetFPS    int
}

func parseFlags() Config {
	cfg := Config{}
	flag.StringVar(&cfg.SocketDir, "socket-dir", os.Getenv("XDG_RUNTIME_DIR"), "directory to bind the wayland-N socket and lock file in")
	flag.StringVar(&cfg.Background, "background", "", "path to a PNG background image (optional)")
	flag.IntVar(&cfg.WindowWidth, "window-width", output.Width, "host SDL window width in pixels")
	flag.IntVar(&cfg.WindowHeight, "window-height", output.Height, "host SDL window height in pixels")
	flag.BoolVar(&cfg.DebugOverlay, "debug-overlay", false, "draw a one-line fps/output diagnostic overlay")
	flag.IntVar(&cfg.TargetFPS, "fps", 60, "target frame rate")
	flag.Parse()
	return cfg
}

func main() {
	cfg := parseFlags()

	sdlBackend, err := backend.New("waffle", cfg.WindowWidth, cfg.WindowHeight)
	if err != nil {
		log.Fatalf("waffled: backend: %v", err)
	}
	defer sdlBackend.Close()

	rend, err := renderer.New(sdlBackend.Renderer(), output.Width, output.Height, cfg.DebugOverlay)
	if err != nil {
		log.Fatalf("waffled: renderer: %v", err)
	}

	var backgroundTex texture.Handle
	if cfg.Background != "" {
		tex, err := rend.LoadBackground(cfg.Background)
		if err != nil {
			log.Printf("waffled: background image not loaded: %v", err)
		} else {
			backgroundTex = tex
		}
	}

	serials := &serial.Counter{}
	clock := serial.NewClock()

	comp := compositor.New(sdlBackend, rend, serials, clock, backgroundTex)

	srv, err := server.New(cfg.SocketDir, comp, rend, serials, clock)
	if err != nil {
		log.Fatalf("waffled: server: %v", err)
	}
	defer srv.Close()

	log.Printf("waffled: listening on %s (set WAYLAND_DISPLAY=%s for clients)", srv.SocketName(), srv.SocketName())

	frameInterval := time.Second / time.Duration(cfg.TargetFPS)
	for comp.HandleEvent() {
		if err := srv.HandleEvent(); err != nil {
			log.Printf("waffled: %v", err)
		}
		comp.Draw()
		if cfg.DebugOverlay {
			rend.DrawOverlay(overlayText(srv, cfg))
		}
		time.Sleep(frameInterval)
	}
}

func overlayText(srv *server.Server, cfg Config) string {
	return fmt.Sprintf("%s @ %dfps", srv.SocketName(), cfg.TargetFPS)
}
