package wire

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

// pairedClient dials a throwaway UNIX listener and returns a *Client
// wrapping the accepted side, alongside the dialer's own connection
// for the test to write requests on.
func pairedClient(t *testing.T) (*Client, *net.UnixConn) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "test.sock")
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: sockPath, Net: "unix"})
	if err != nil {
		t.Fatalf("ListenUnix: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	dialer, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: sockPath, Net: "unix"})
	if err != nil {
		t.Fatalf("DialUnix: %v", err)
	}
	t.Cleanup(func() { dialer.Close() })

	conn, err := ln.AcceptUnix()
	if err != nil {
		t.Fatalf("AcceptUnix: %v", err)
	}
	c, err := NewClient(1, conn)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, dialer
}

func TestPumpReturnsNoMessagesWithNothingSent(t *testing.T) {
	c, _ := pairedClient(t)
	msgs, err := c.Pump()
	if err != nil {
		t.Fatalf("Pump: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("Pump with nothing sent = %v, want none", msgs)
	}
}

func TestPumpFramesASingleMessage(t *testing.T) {
	c, dialer := pairedClient(t)

	var w ArgWriter
	w.PutUint(42)
	if err := WriteEvent(dialer, 5, 3, w.Bytes()); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}

	msgs, err := c.Pump()
	if err != nil {
		t.Fatalf("Pump: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %+v, want exactly 1", msgs)
	}
	if msgs[0].Object != 5 || msgs[0].Opcode != 3 {
		t.Errorf("message header = %+v, want object 5 opcode 3", msgs[0].Header)
	}
}

func TestPumpFramesBackToBackMessages(t *testing.T) {
	c, dialer := pairedClient(t)

	if err := WriteEvent(dialer, 1, 0, nil); err != nil {
		t.Fatalf("WriteEvent (1): %v", err)
	}
	if err := WriteEvent(dialer, 2, 0, nil); err != nil {
		t.Fatalf("WriteEvent (2): %v", err)
	}

	msgs, err := c.Pump()
	if err != nil {
		t.Fatalf("Pump: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %+v, want exactly 2", msgs)
	}
	if msgs[0].Object != 1 || msgs[1].Object != 2 {
		t.Errorf("message order = %+v, want objects [1, 2]", msgs)
	}
}

func TestPumpAttachesFdsToTheFollowingMessage(t *testing.T) {
	c, dialer := pairedClient(t)

	f, err := os.CreateTemp(t.TempDir(), "client-test")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()

	var w ArgWriter
	w.PutUint(7).PutInt(0)
	header := EncodeHeader(Header{Object: 9, Opcode: 1, Size: uint16(HeaderLen + len(w.Bytes()))})
	payload := append(header, w.Bytes()...)
	rights := unix.UnixRights(int(f.Fd()))
	if _, _, err := dialer.WriteMsgUnix(payload, rights, nil); err != nil {
		t.Fatalf("WriteMsgUnix: %v", err)
	}

	msgs, err := c.Pump()
	if err != nil {
		t.Fatalf("Pump: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %+v, want exactly 1", msgs)
	}
	if len(msgs[0].Fds) != 1 {
		t.Fatalf("fds on message = %v, want exactly 1", msgs[0].Fds)
	}
}

func TestSendEventRoundTripsThroughPump(t *testing.T) {
	c, dialer := pairedClient(t)

	var w ArgWriter
	w.PutString("wl_compositor")
	if err := c.SendEvent(1, 0, w.Bytes()); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}

	buf := make([]byte, 4096)
	n, err := dialer.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	h, err := DecodeHeader(buf[:n])
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if h.Object != 1 || h.Opcode != 0 {
		t.Errorf("decoded header = %+v, want object 1 opcode 0", h)
	}
}
