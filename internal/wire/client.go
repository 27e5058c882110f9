package wire

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// Client is one connected Wayland client: a UNIX stream socket plus
// the partially-received byte buffer needed because stream sockets do
// not preserve message boundaries the way the protocol's framing does.
type Client struct {
	ID   uint64 // opaque, used only for logging
	conn *net.UnixConn

	rbuf       []byte
	pending    []Message
	pendingFds []int

	// Credential obtained once via SO_PEERCRED at accept time.
	PID, UID, GID int
}

// NewClient wraps an accepted connection and reads its SO_PEERCRED
// credentials, the same check a real compositor uses to decide which
// client requested which XDG_RUNTIME_DIR-scoped resources.
func NewClient(id uint64, conn *net.UnixConn) (*Client, error) {
	c := &Client{ID: id, conn: conn}
	raw, err := conn.SyscallConn()
	if err == nil {
		raw.Control(func(fd uintptr) {
			cred, cerr := unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
			if cerr == nil {
				c.PID = int(cred.Pid)
				c.UID = int(cred.Uid)
				c.GID = int(cred.Gid)
			}
		})
	}
	return c, nil
}

// Pump performs one non-blocking read of whatever bytes are currently
// available, appends fully-framed messages to the pending queue, and
// returns them; a partial trailing message stays buffered for the next
// Pump. A zero-length
// read deadline is how the server event loop dispatches pending socket
// events with zero timeout, without a dedicated epoll loop.
func (c *Client) Pump() ([]Message, error) {
	c.conn.SetReadDeadline(time.Now())
	oob := make([]byte, unix.CmsgSpace(16*4)) // room for a handful of fds
	buf := make([]byte, 4096)
	for {
		n, oobn, _, _, err := c.conn.ReadMsgUnix(buf, oob)
		if n == 0 && oobn == 0 {
			break
		}
		if n > 0 {
			c.rbuf = append(c.rbuf, buf[:n]...)
		}
		if oobn > 0 {
			fds, ferr := parseFds(oob[:oobn])
			if ferr == nil {
				c.pendingFds = append(c.pendingFds, fds...)
			}
		}
		if err != nil {
			break
		}
	}
	c.drain()
	out := c.pending
	c.pending = nil
	return out, nil
}

// drain reassembles complete messages from the byte buffer. Ancillary
// fds received but not yet attached to a framed message accumulate in
// pendingFds, since a message's header may itself span multiple reads.
func (c *Client) drain() {
	for {
		if len(c.rbuf) < HeaderLen {
			return
		}
		h, err := DecodeHeader(c.rbuf)
		if err != nil || int(h.Size) < HeaderLen {
			return
		}
		if len(c.rbuf) < int(h.Size) {
			return
		}
		argLen := int(h.Size) - HeaderLen
		msg := Message{
			Header: h,
			Args:   append([]byte(nil), c.rbuf[HeaderLen:int(h.Size)]...),
		}
		if argLen > 0 && len(c.pendingFds) > 0 {
			// Attach any fds that arrived with this message's bytes.
			msg.Fds = c.pendingFds
			c.pendingFds = nil
		}
		c.pending = append(c.pending, msg)
		c.rbuf = c.rbuf[h.Size:]
	}
}

func parseFds(oob []byte) ([]int, error) {
	cmsgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}
	var fds []int
	for _, cmsg := range cmsgs {
		got, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			continue
		}
		fds = append(fds, got...)
	}
	return fds, nil
}

// Write sends a fully framed event (or a sequence of them) to the
// client.
func (c *Client) Write(b []byte) error {
	_, err := c.conn.Write(b)
	return err
}

// SendEvent frames and writes a single event to this client.
func (c *Client) SendEvent(object uint32, opcode uint16, args []byte) error {
	return WriteEvent(c.conn, object, opcode, args)
}

func (c *Client) Close() error {
	return c.conn.Close()
}
