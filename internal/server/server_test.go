package server

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HidenoriMatsubayashi/waffle/internal/compositor"
	"github.com/HidenoriMatsubayashi/waffle/internal/serial"
	"github.com/HidenoriMatsubayashi/waffle/internal/shmpool"
	"github.com/HidenoriMatsubayashi/waffle/internal/surface"
	"github.com/HidenoriMatsubayashi/waffle/internal/texture"
	"github.com/HidenoriMatsubayashi/waffle/internal/vec2"
	"github.com/HidenoriMatsubayashi/waffle/internal/wire"
	"golang.org/x/sys/unix"
)

// fakeBackend/fakeRenderer stand in for the real SDL-backed collaborators
// so Server can be driven end-to-end over a real UNIX socket without a
// display.
type fakeBackend struct{ delegate compositor.InputDelegate }

func (b *fakeBackend) Valid() bool                                  { return true }
func (b *fakeBackend) Dispatch() bool                                { return true }
func (b *fakeBackend) SetInputDelegate(d compositor.InputDelegate)   { b.delegate = d }

type fakeRenderer struct{ nextID uint64 }

func (r *fakeRenderer) DrawBackground(tex texture.Handle)           {}
func (r *fakeRenderer) Draw(tex texture.Handle, pos, size vec2.Vec2) {}
func (r *fakeRenderer) Present()                                    {}
func (r *fakeRenderer) SetViewport(w, h int)                        {}

func (r *fakeRenderer) UploadSHM(data []byte, w, h int, format shmpool.Format) (texture.Handle, error) {
	r.nextID++
	return texture.New(r.nextID, w, h, nil), nil
}

func (r *fakeRenderer) UploadOpaqueHandle(handle uint32) (texture.Handle, error) {
	return texture.Handle{}, nil
}

// testServer wires a Server to a real listening socket under t.TempDir()
// and returns it alongside a dialed client connection.
func testServer(t *testing.T) (*Server, *net.UnixConn) {
	t.Helper()
	dir := t.TempDir()
	backend := &fakeBackend{}
	renderer := &fakeRenderer{}
	comp := compositor.New(backend, renderer, &serial.Counter{}, serial.NewClock(), texture.Handle{})

	srv, err := New(dir, comp, renderer, &serial.Counter{}, serial.NewClock())
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	sockPath := filepath.Join(dir, srv.SocketName())
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: sockPath, Net: "unix"})
	if err != nil {
		t.Fatalf("DialUnix: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := srv.HandleEvent(); err != nil {
		t.Fatalf("HandleEvent (accept): %v", err)
	}
	return srv, conn
}

func sendRequest(t *testing.T, conn *net.UnixConn, object uint32, opcode uint16, args []byte) {
	t.Helper()
	if err := wire.WriteEvent(conn, object, opcode, args); err != nil {
		t.Fatalf("send request: %v", err)
	}
}

// readMessages reads whatever has arrived on conn within a short
// deadline and decodes it into complete wire messages.
func readMessages(t *testing.T, conn *net.UnixConn) []wire.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 8192)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data := buf[:n]
	var out []wire.Message
	for len(data) >= wire.HeaderLen {
		h, err := wire.DecodeHeader(data)
		if err != nil || int(h.Size) > len(data) {
			break
		}
		out = append(out, wire.Message{Header: h, Args: data[wire.HeaderLen:h.Size]})
		data = data[h.Size:]
	}
	return out
}

func TestGetRegistryAdvertisesSevenGlobals(t *testing.T) {
	srv, conn := testServer(t)

	var w wire.ArgWriter
	w.PutUint(2) // new_id for wl_registry
	sendRequest(t, conn, displayHandle, displayOpGetRegistry, w.Bytes())

	if err := srv.HandleEvent(); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	msgs := readMessages(t, conn)
	var names []string
	for _, m := range msgs {
		if m.Object != 2 || m.Opcode != registryEvGlobal {
			continue
		}
		r := wire.NewArgReader(m.Args, nil)
		if _, err := r.Uint(); err != nil { // name
			t.Fatalf("decode global name: %v", err)
		}
		iface, err := r.String()
		if err != nil {
			t.Fatalf("decode global interface: %v", err)
		}
		names = append(names, iface)
	}

	if len(names) != 7 {
		t.Fatalf("advertised globals = %v (%d), want 7", names, len(names))
	}
	found := false
	for _, n := range names {
		if n == "wl_shm" {
			found = true
		}
	}
	if !found {
		t.Errorf("globals %v do not include wl_shm", names)
	}
}

func TestDisplaySyncRepliesWithCallbackThenDeleteID(t *testing.T) {
	srv, conn := testServer(t)

	var w wire.ArgWriter
	w.PutUint(2) // new_id for the sync callback
	sendRequest(t, conn, displayHandle, displayOpSync, w.Bytes())
	if err := srv.HandleEvent(); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	msgs := readMessages(t, conn)
	if len(msgs) != 2 {
		t.Fatalf("sync reply = %+v, want exactly 2 messages (callback.done, delete_id)", msgs)
	}
	if msgs[0].Object != 2 || msgs[0].Opcode != callbackOpDone {
		t.Errorf("first message = %+v, want callback.done on object 2", msgs[0])
	}
	if msgs[1].Object != displayHandle || msgs[1].Opcode != displayEvDeleteID {
		t.Errorf("second message = %+v, want wl_display.delete_id", msgs[1])
	}
}

// bindGlobal drives the full get_registry -> bind handshake for a named
// global, binding it to newID.
func bindGlobal(t *testing.T, srv *Server, conn *net.UnixConn, iface string, version uint32, newID uint32) {
	t.Helper()
	var rw wire.ArgWriter
	rw.PutUint(100) // registry object id, arbitrary and unused afterwards
	sendRequest(t, conn, displayHandle, displayOpGetRegistry, rw.Bytes())
	if err := srv.HandleEvent(); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	msgs := readMessages(t, conn)

	var name uint32
	found := false
	for _, m := range msgs {
		if m.Object != 100 || m.Opcode != registryEvGlobal {
			continue
		}
		r := wire.NewArgReader(m.Args, nil)
		n, _ := r.Uint()
		gotIface, _ := r.String()
		if gotIface == iface {
			name = n
			found = true
		}
	}
	if !found {
		t.Fatalf("global %q was not advertised", iface)
	}

	var bw wire.ArgWriter
	bw.PutUint(name).PutString(iface).PutUint(version).PutUint(newID)
	sendRequest(t, conn, 100, registryOpBind, bw.Bytes())
	if err := srv.HandleEvent(); err != nil {
		t.Fatalf("HandleEvent (bind): %v", err)
	}
}

func TestSHMBufferCommitReleasesBuffer(t *testing.T) {
	srv, conn := testServer(t)

	bindGlobal(t, srv, conn, "wl_compositor", 4, 10)
	bindGlobal(t, srv, conn, "wl_shm", 1, 11)
	drainFormats(t, conn) // wl_shm.format x2 arrives on bind

	var csurf wire.ArgWriter
	csurf.PutUint(12) // new surface id
	sendRequest(t, conn, 10, compositorOpCreateSurface, csurf.Bytes())
	if err := srv.HandleEvent(); err != nil {
		t.Fatalf("create_surface: %v", err)
	}

	w, h := int32(4), int32(4)
	stride := w * 4
	size := stride * h
	f, err := os.CreateTemp(t.TempDir(), "server-test-shm")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()
	if err := f.Truncate(int64(size)); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	var cp wire.ArgWriter
	cp.PutUint(13) // new pool id
	cp.PutInt(size)
	if err := sendRequestWithFd(conn, 11, shmOpCreatePool, cp.Bytes(), int(f.Fd())); err != nil {
		t.Fatalf("create_pool: %v", err)
	}
	if err := srv.HandleEvent(); err != nil {
		t.Fatalf("HandleEvent (create_pool): %v", err)
	}

	var cb wire.ArgWriter
	cb.PutUint(14).PutInt(0).PutInt(w).PutInt(h).PutInt(stride).PutUint(uint32(shmpool.FormatARGB8888))
	sendRequest(t, conn, 13, shmPoolOpCreateBuffer, cb.Bytes())
	if err := srv.HandleEvent(); err != nil {
		t.Fatalf("create_buffer: %v", err)
	}

	var attach wire.ArgWriter
	attach.PutUint(14).PutInt(0).PutInt(0)
	sendRequest(t, conn, 12, surface.OpAttach, attach.Bytes())
	var damage wire.ArgWriter
	damage.PutInt(0).PutInt(0).PutInt(w).PutInt(h)
	sendRequest(t, conn, 12, surface.OpDamage, damage.Bytes())
	sendRequest(t, conn, 12, surface.OpCommit, nil)
	if err := srv.HandleEvent(); err != nil {
		t.Fatalf("HandleEvent (attach/damage/commit): %v", err)
	}

	msgs := readMessages(t, conn)
	released := false
	for _, m := range msgs {
		if m.Object == 14 && m.Opcode == 0 /* wl_buffer.release is wl_buffer's only event */ {
			released = true
		}
	}
	if !released {
		t.Errorf("messages after commit = %+v, want a wl_buffer.release on object 14", msgs)
	}
}

func drainFormats(t *testing.T, conn *net.UnixConn) {
	t.Helper()
	readMessages(t, conn)
}

func sendRequestWithFd(conn *net.UnixConn, object uint32, opcode uint16, args []byte, fd int) error {
	h := wire.Header{Object: object, Opcode: opcode, Size: uint16(wire.HeaderLen + len(args))}
	payload := append(wire.EncodeHeader(h), args...)
	rights := unix.UnixRights(fd)
	_, _, err := conn.WriteMsgUnix(payload, rights, nil)
	return err
}
