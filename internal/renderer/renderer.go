// Package renderer implements the GL/EGL-shaped external collaborator
// reached only through its interfaces (surface.Renderer's
// UploadSHM/UploadOpaqueHandle, compositor.Renderer's
// DrawBackground/Draw/Present/SetViewport). It is backed by an SDL2
// hardware renderer rather than real GLES: sdl.Renderer/sdl.Texture
// stand in for the GPU resources a GLES driver would otherwise manage
// with glGenTextures/glTexSubImage2D/glDrawArrays.
package renderer

import (
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"log"
	"os"

	"github.com/HidenoriMatsubayashi/waffle/internal/shmpool"
	"github.com/HidenoriMatsubayashi/waffle/internal/texture"
	"github.com/HidenoriMatsubayashi/waffle/internal/vec2"
	"github.com/KononK/resize"
	"github.com/daaku/swizzle"
	"github.com/veandco/go-sdl2/sdl"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Renderer owns every sdl.Texture the compositor has uploaded, keyed
// by the same monotonically increasing id texture.Handle carries.
type Renderer struct {
	sdlRenderer *sdl.Renderer

	nextID   uint64
	textures map[uint64]*sdl.Texture

	viewportW, viewportH int

	overlay     bool
	overlayFace font.Face
}

// New wraps an already-created SDL renderer (backend.SDL.Renderer())
// in the Renderer surface.Renderer/compositor.Renderer both require.
func New(sdlRenderer *sdl.Renderer, width, height int, debugOverlay bool) (*Renderer, error) {
	r := &Renderer{
		sdlRenderer: sdlRenderer,
		textures:    make(map[uint64]*sdl.Texture),
		viewportW:   width,
		viewportH:   height,
		overlay:     debugOverlay,
	}
	if debugOverlay {
		face, err := loadOverlayFace()
		if err != nil {
			return nil, fmt.Errorf("renderer: %w", err)
		}
		r.overlayFace = face
	}
	return r, nil
}

func loadOverlayFace() (font.Face, error) {
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse embedded font: %w", err)
	}
	return opentype.NewFace(f, &opentype.FaceOptions{Size: 14, DPI: 72, Hinting: font.HintingFull})
}

// LoadBackground loads a PNG from path, scales it to the fixed output
// size with resize.Resize, and uploads it as an opaque texture.
func (r *Renderer) LoadBackground(path string) (texture.Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return texture.Handle{}, fmt.Errorf("renderer: open background: %w", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return texture.Handle{}, fmt.Errorf("renderer: decode background: %w", err)
	}
	scaled := resize.Resize(uint(r.viewportW), uint(r.viewportH), img, resize.Bilinear)
	rgba := toRGBA(scaled)
	return r.upload(rgba.Pix, rgba.Rect.Dx(), rgba.Rect.Dy())
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(b)
	draw.Draw(rgba, b, img, b.Min, draw.Src)
	return rgba
}

// UploadSHM implements surface.Renderer: it swizzles the client's
// BGRA-ordered ARGB8888/XRGB8888 pixels into the RGBA order SDL
// textures expect.
func (r *Renderer) UploadSHM(data []byte, w, h int, format shmpool.Format) (texture.Handle, error) {
	if !shmpool.Supported(format) {
		return texture.Handle{}, fmt.Errorf("renderer: unsupported shm format %s", format)
	}
	pix := append([]byte(nil), data...)
	swizzle.BGRA(pix)
	return r.upload(pix, w, h)
}

// UploadOpaqueHandle implements surface.Renderer's non-SHM path. This
// design never produces opaque import handles (no DMA-BUF/EGL-image
// source exists without real GLES), so any client attempting one gets
// a clear error instead of a silently blank surface.
func (r *Renderer) UploadOpaqueHandle(handle uint32) (texture.Handle, error) {
	return texture.Handle{}, fmt.Errorf("renderer: opaque import handle %d not supported (no GLES backend)", handle)
}

func (r *Renderer) upload(rgba []byte, w, h int) (texture.Handle, error) {
	tex, err := r.sdlRenderer.CreateTexture(sdl.PIXELFORMAT_ABGR8888, sdl.TEXTUREACCESS_STATIC, int32(w), int32(h))
	if err != nil {
		return texture.Handle{}, fmt.Errorf("renderer: create texture: %w", err)
	}
	if err := tex.Update(nil, rgba, w*4); err != nil {
		tex.Destroy()
		return texture.Handle{}, fmt.Errorf("renderer: update texture: %w", err)
	}
	tex.SetBlendMode(sdl.BLENDMODE_BLEND)

	r.nextID++
	id := r.nextID
	r.textures[id] = tex
	return texture.New(id, w, h, r.release), nil
}

func (r *Renderer) release(id uint64) {
	tex, ok := r.textures[id]
	if !ok {
		return
	}
	tex.Destroy()
	delete(r.textures, id)
}

// DrawBackground implements compositor.Renderer: full-viewport copy,
// no scaling (the background was already scaled to the output size at
// load time).
func (r *Renderer) DrawBackground(tex texture.Handle) {
	r.drawByID(tex, vec2.New(0, 0), vec2.New(1, 1))
}

// Draw implements compositor.Renderer: pos is in pixels, size is in
// normalized device units (fraction of the fixed 1920x1024 output).
func (r *Renderer) Draw(tex texture.Handle, pos, size vec2.Vec2) {
	r.drawByID(tex, pos, size)
}

func (r *Renderer) drawByID(tex texture.Handle, pos, size vec2.Vec2) {
	t, ok := r.textures[tex.ID()]
	if !ok {
		return
	}
	dst := &sdl.Rect{
		X: int32(pos.X),
		Y: int32(pos.Y),
		W: int32(size.X * float64(r.viewportW)),
		H: int32(size.Y * float64(r.viewportH)),
	}
	if err := r.sdlRenderer.Copy(t, nil, dst); err != nil {
		log.Printf("renderer: copy texture %d: %v", tex.ID(), err)
	}
}

// DrawOverlay renders a one-line diagnostic string in the top-left
// corner when -debug-overlay is enabled. It is the only place
// golang.org/x/image/font is exercised; spec.md has no opinion on
// diagnostics, so this stays deliberately minimal.
func (r *Renderer) DrawOverlay(text string) {
	if !r.overlay || r.overlayFace == nil {
		return
	}
	bounds, _ := font.BoundString(r.overlayFace, text)
	w := (bounds.Max.X - bounds.Min.X).Ceil()
	h := (bounds.Max.Y - bounds.Min.Y).Ceil()
	if w <= 0 || h <= 0 {
		return
	}
	img := image.NewRGBA(image.Rect(0, 0, w+4, h+4))
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(image.White),
		Face: r.overlayFace,
		Dot:  fixed.P(2, h),
	}
	d.DrawString(text)

	tex, err := r.upload(img.Pix, img.Rect.Dx(), img.Rect.Dy())
	if err != nil {
		log.Printf("renderer: overlay upload: %v", err)
		return
	}
	defer tex.Release()
	r.drawByID(tex, vec2.New(8, 8), vec2.New(float64(tex.Width())/float64(r.viewportW), float64(tex.Height())/float64(r.viewportH)))
}

// Present implements compositor.Renderer.
func (r *Renderer) Present() { r.sdlRenderer.Present() }

// SetViewport implements compositor.Renderer. The compositor's output
// is fixed at 1920x1024 (spec non-goal: no multi-output/resize); this
// only affects where DrawBackground/Draw place their SDL rects when
// the host window itself is resized.
func (r *Renderer) SetViewport(w, h int) {
	r.viewportW, r.viewportH = w, h
}
