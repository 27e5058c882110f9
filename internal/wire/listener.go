package wire

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Listener owns the bound UNIX socket a compositor advertises to
// clients via $WAYLAND_DISPLAY, plus the companion lock file real
// Wayland servers use to claim an auto-assigned socket name
// (wayland-0, wayland-1, ...) without a race between two compositors
// starting at once.
type Listener struct {
	ln        *net.UnixListener
	lockFile  *os.File
	SocketName string
	nextID    uint64
}

// Listen claims the first free "wayland-N" name under dir (normally
// $XDG_RUNTIME_DIR) by flock'ing "wayland-N.lock", then binds the
// matching socket. name, if non-empty, forces a specific socket name
// instead of auto-assignment.
func Listen(dir, name string) (*Listener, error) {
	if dir == "" {
		return nil, fmt.Errorf("wire: XDG_RUNTIME_DIR is not set")
	}
	if name != "" {
		return bind(dir, name)
	}
	for i := 0; i < 32; i++ {
		candidate := fmt.Sprintf("wayland-%d", i)
		l, err := bind(dir, candidate)
		if err == nil {
			return l, nil
		}
	}
	return nil, fmt.Errorf("wire: no free wayland-N socket name in %s", dir)
}

func bind(dir, name string) (*Listener, error) {
	lockPath := filepath.Join(dir, name+".lock")
	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lf.Close()
		return nil, fmt.Errorf("wire: %s is in use: %w", name, err)
	}

	sockPath := filepath.Join(dir, name)
	os.Remove(sockPath) // stale socket from a crashed compositor holding the same lock is impossible, but a bare leftover file is not
	addr := &net.UnixAddr{Name: sockPath, Net: "unix"}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		unix.Flock(int(lf.Fd()), unix.LOCK_UN)
		lf.Close()
		return nil, err
	}
	return &Listener{ln: ln, lockFile: lf, SocketName: name}, nil
}

// Accept performs one non-blocking accept attempt, returning (nil, nil)
// if no client is currently waiting.
func (l *Listener) Accept() (*Client, error) {
	l.ln.SetDeadline(deadlineNow())
	conn, err := l.ln.AcceptUnix()
	if err != nil {
		if isTimeout(err) {
			return nil, nil
		}
		return nil, err
	}
	l.nextID++
	return NewClient(l.nextID, conn)
}

func (l *Listener) Close() error {
	err := l.ln.Close()
	unix.Flock(int(l.lockFile.Fd()), unix.LOCK_UN)
	l.lockFile.Close()
	os.Remove(l.lockFile.Name())
	return err
}
