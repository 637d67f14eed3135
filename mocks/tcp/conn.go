package tcp

import (
	"bytes"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"
)

// half is one direction of a connection. Writes never block, so both peers
// can send a whole flight at once like a socket with a large send buffer.
type half struct {
	mu         sync.Mutex
	buf        bytes.Buffer
	eof        bool // writer closed
	readerGone bool // reader closed
	fault      error
	notify     chan struct{}
}

func newHalf() *half {
	return &half{notify: make(chan struct{})}
}

func (h *half) signalLocked() {
	close(h.notify)
	h.notify = make(chan struct{})
}

// MockTCPConn is a mock implementation of net.TCPConn.
type MockTCPConn struct {
	in, out    *half
	localAddr  *net.TCPAddr
	remoteAddr *net.TCPAddr

	mu              sync.Mutex
	readDeadline    time.Time
	writeDeadline   time.Time
	deadlineChanged chan struct{}
	closed          bool
	closeCh         chan struct{}
}

// Pipe returns two connected in-memory TCP connections.
func Pipe(a, b *net.TCPAddr) (*MockTCPConn, *MockTCPConn) {
	ab, ba := newHalf(), newHalf()
	c1 := &MockTCPConn{in: ba, out: ab, localAddr: a, remoteAddr: b,
		deadlineChanged: make(chan struct{}), closeCh: make(chan struct{})}
	c2 := &MockTCPConn{in: ab, out: ba, localAddr: b, remoteAddr: a,
		deadlineChanged: make(chan struct{}), closeCh: make(chan struct{})}
	return c1, c2
}

func (c *MockTCPConn) opErr(op string, err error) error {
	return &net.OpError{Op: op, Net: "tcp", Source: c.localAddr, Addr: c.remoteAddr, Err: err}
}

// Read waits for data from the peer, honoring the read deadline.
func (c *MockTCPConn) Read(b []byte) (int, error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		c.mu.Lock()
		closed, dl, dlCh := c.closed, c.readDeadline, c.deadlineChanged
		c.mu.Unlock()
		if closed {
			return 0, c.opErr("read", net.ErrClosed)
		}

		c.in.mu.Lock()
		switch {
		case c.in.fault != nil:
			err := c.in.fault
			c.in.mu.Unlock()
			return 0, c.opErr("read", err)
		case c.in.buf.Len() > 0:
			n, _ := c.in.buf.Read(b)
			c.in.mu.Unlock()
			return n, nil
		case c.in.eof:
			c.in.mu.Unlock()
			return 0, io.EOF
		}
		ch := c.in.notify
		c.in.mu.Unlock()

		var timeout <-chan time.Time
		if !dl.IsZero() {
			d := time.Until(dl)
			if d <= 0 {
				return 0, c.opErr("read", os.ErrDeadlineExceeded)
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(d)
			timeout = timer.C
		}

		select {
		case <-ch:
		case <-dlCh:
		case <-c.closeCh:
		case <-timeout:
		}
	}
}

// Write appends b to the peer's receive buffer.
func (c *MockTCPConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	closed, dl := c.closed, c.writeDeadline
	c.mu.Unlock()
	if closed {
		return 0, c.opErr("write", net.ErrClosed)
	}
	if !dl.IsZero() && !time.Now().Before(dl) {
		return 0, c.opErr("write", os.ErrDeadlineExceeded)
	}

	c.out.mu.Lock()
	defer c.out.mu.Unlock()
	switch {
	case c.out.fault != nil:
		return 0, c.opErr("write", c.out.fault)
	case c.out.readerGone:
		return 0, c.opErr("write", syscall.EPIPE)
	}
	c.out.buf.Write(b)
	c.out.signalLocked()
	return len(b), nil
}

// Close sends EOF to the peer and fails pending and future local I/O.
func (c *MockTCPConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.opErr("close", net.ErrClosed)
	}
	c.closed = true
	close(c.closeCh)
	c.mu.Unlock()

	c.out.mu.Lock()
	c.out.eof = true
	c.out.signalLocked()
	c.out.mu.Unlock()

	c.in.mu.Lock()
	c.in.readerGone = true
	c.in.signalLocked()
	c.in.mu.Unlock()
	return nil
}

// Reset simulates a connection reset: both sides fail every further read
// and write with err, ECONNRESET if err is nil.
func (c *MockTCPConn) Reset(err error) {
	if err == nil {
		err = syscall.ECONNRESET
	}
	for _, h := range []*half{c.in, c.out} {
		h.mu.Lock()
		h.fault = err
		h.signalLocked()
		h.mu.Unlock()
	}
}

// Buffered returns the number of bytes sent by the peer and not read yet.
func (c *MockTCPConn) Buffered() int {
	c.in.mu.Lock()
	defer c.in.mu.Unlock()
	return c.in.buf.Len()
}

// LocalAddr returns the local network address.
func (c *MockTCPConn) LocalAddr() net.Addr {
	return c.localAddr
}

// RemoteAddr returns the remote network address.
func (c *MockTCPConn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

func (c *MockTCPConn) SetDeadline(t time.Time) error {
	c.setDeadlines(&t, &t)
	return nil
}

func (c *MockTCPConn) SetReadDeadline(t time.Time) error {
	c.setDeadlines(&t, nil)
	return nil
}

func (c *MockTCPConn) SetWriteDeadline(t time.Time) error {
	c.setDeadlines(nil, &t)
	return nil
}

func (c *MockTCPConn) setDeadlines(read, write *time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if read != nil {
		c.readDeadline = *read
	}
	if write != nil {
		c.writeDeadline = *write
	}
	close(c.deadlineChanged)
	c.deadlineChanged = make(chan struct{})
}

var _ net.Conn = (*MockTCPConn)(nil)
