package ssl

import (
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"

	"dominicbreuker/sslkit/pkg/result"
)

// Read reads decrypted data. It returns (n, nil) for data and (0, io.EOF)
// once the peer closed the connection gracefully; GetLastError reports
// result.ErrConnectionClosed in that case. Other failures are coded
// *result.Error values. A renegotiation requested by the peer is carried
// out inside Read when the renegotiation mode allows it.
func (c *Connection) Read(p []byte) (int, error) {
	return c.read(p, false)
}

// Peek is Read without consuming the data.
func (c *Connection) Peek(p []byte) (int, error) {
	return c.read(p, true)
}

func (c *Connection) read(p []byte, peek bool) (int, error) {
	st, nonBlocking, err := c.ioStream()
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err := st.read(p, peek, nonBlocking)
	if n > 0 {
		if !peek {
			c.lib.metrics.Read(n)
		}
		return n, nil
	}
	return 0, c.ioFailure(err)
}

// Write encrypts and sends p. In non-blocking mode the data is accepted
// as a whole when no earlier write is still in flight and
// result.ErrIoWouldBlock is returned otherwise.
func (c *Connection) Write(p []byte) (int, error) {
	st, nonBlocking, err := c.ioStream()
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err := st.write(p, nonBlocking)
	if err != nil {
		return 0, c.ioFailure(err)
	}
	c.lib.metrics.Written(n)
	return n, nil
}

// Pending returns the number of decrypted bytes buffered for Read. Zero
// does not mean a Read would block: undecrypted records may be waiting on
// the socket.
func (c *Connection) Pending() (int, error) {
	st, _, err := c.ioStream()
	if err != nil {
		return 0, err
	}
	return st.pending(), nil
}

func (c *Connection) ioStream() (*stream, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateUninitialized, StateDestroyed:
		return nil, false, result.ErrInvalidConnectionContext
	case StateCreated:
		return nil, false, c.failLocked(result.ErrSocketNotRegistered)
	case StateSocketBound, StateHandshaking:
		return nil, false, c.failLocked(result.ErrHandshakeIncomplete)
	}
	if c.stream == nil {
		return nil, false, c.failLocked(result.Wrap(result.CodeConnectionClosed, fmt.Errorf("handshake failed")))
	}
	return c.stream, c.ioMode == IoModeNonBlocking, nil
}

// ioFailure records err. Report results leave the connection usable;
// everything else closes it.
func (c *Connection) ioFailure(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch result.CodeOf(err) {
	case result.CodeIoWouldBlock, result.CodeIoTimeout:
		return c.failLocked(err)
	}

	if c.state == StateEstablished {
		c.state = StateClosed
	}
	if isEOF(err) {
		c.lastErr = result.ErrConnectionClosed
		return io.EOF
	}
	coded := result.FromTLSError(err)
	c.lib.logger.VerboseMsg("connection %d: %s", c.id, coded)
	return c.failLocked(coded)
}

// Poll waits up to timeout until one of events is ready and returns the
// ready subset. It works in both I/O modes. A zero timeout checks without
// waiting; result.ErrIoTimeout is returned when nothing became ready.
func (c *Connection) Poll(events PollEvent, timeout time.Duration) (PollEvent, error) {
	if events == 0 || events&^pollAll != 0 {
		return 0, c.fail(result.Wrap(result.CodeInvalidPollEvent, fmt.Errorf("events 0x%x", uint32(events))))
	}
	if timeout < 0 {
		return 0, c.fail(result.Wrap(result.CodeInvalidArgument, fmt.Errorf("negative timeout %s", timeout)))
	}

	var timer *clock.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		ready, changed, err := c.readiness(events)
		if err != nil {
			return 0, err
		}
		if ready != 0 {
			return ready, nil
		}
		if timeout == 0 {
			return 0, c.fail(result.ErrIoTimeout)
		}
		if timer == nil {
			timer = c.lib.clock.Timer(timeout)
		}
		select {
		case <-changed:
		case <-timer.C:
			return 0, c.fail(result.ErrIoTimeout)
		}
	}
}

func (c *Connection) readiness(events PollEvent) (PollEvent, <-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateUninitialized, StateDestroyed:
		return 0, nil, result.ErrInvalidConnectionContext
	case StateCreated:
		return 0, nil, c.failLocked(result.ErrSocketNotRegistered)
	case StateSocketBound:
		return 0, nil, c.failLocked(result.ErrHandshakeIncomplete)
	case StateHandshaking:
		ready, changed := handshakeReadiness(c.hs, events)
		return ready, changed, nil
	}

	if c.stream == nil {
		// Failed handshake: reads fail immediately, nothing else changes.
		return (PollRead | PollExcept) & events, nil, nil
	}
	ready, changed := c.stream.readiness(events)
	return ready, changed, nil
}
