package ssl

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"dominicbreuker/sslkit/pkg/result"
)

// maxBuffered bounds the plaintext the read pump buffers ahead of Read.
const maxBuffered = 64 * 1024

// stream drives an established TLS connection. A pump goroutine decrypts
// records into a buffer, so Pending and Poll can report readiness without
// touching the socket. Writes go through a single slot served by a
// goroutine, which lets non-blocking writes hand off their data.
type stream struct {
	conn    net.Conn
	clock   clock.Clock
	ceiling time.Duration

	mu       sync.Mutex
	changed  chan struct{}
	buf      []byte
	readErr  error
	writing  bool
	writeErr error
	closed   bool
	pumpDone chan struct{}
}

func newStream(conn net.Conn, clk clock.Clock, ceiling time.Duration) *stream {
	s := &stream{
		conn:     conn,
		clock:    clk,
		ceiling:  ceiling,
		changed:  make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *stream) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *stream) pump() {
	defer close(s.pumpDone)

	tmp := make([]byte, 16*1024)
	for {
		s.mu.Lock()
		for len(s.buf) >= maxBuffered && !s.closed {
			ch := s.changed
			s.mu.Unlock()
			<-ch
			s.mu.Lock()
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		n, err := s.conn.Read(tmp)

		s.mu.Lock()
		if n > 0 {
			s.buf = append(s.buf, tmp[:n]...)
		}
		if err != nil && s.readErr == nil {
			s.readErr = err
		}
		s.notifyLocked()
		done := s.readErr != nil || s.closed
		s.mu.Unlock()

		if done {
			return
		}
	}
}

// read copies buffered plaintext into p. Peek leaves it in the buffer.
// The returned error is the raw transport error once the buffer drained.
func (s *stream) read(p []byte, peek, nonBlocking bool) (int, error) {
	var timer *clock.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			n := copy(p, s.buf)
			if !peek {
				s.buf = s.buf[n:]
				if len(s.buf) == 0 {
					s.buf = nil
				}
				s.notifyLocked()
			}
			s.mu.Unlock()
			return n, nil
		}
		if s.readErr != nil {
			err := s.readErr
			s.mu.Unlock()
			return 0, err
		}
		if s.closed {
			s.mu.Unlock()
			return 0, net.ErrClosed
		}
		ch := s.changed
		s.mu.Unlock()

		if nonBlocking {
			return 0, result.ErrIoWouldBlock
		}
		if timer == nil {
			timer = s.clock.Timer(s.ceiling)
		}
		select {
		case <-ch:
		case <-timer.C:
			return 0, result.Wrap(result.CodeIoTimeout, errors.New("no data within the I/O ceiling"))
		}
	}
}

// write hands p to the write slot. Blocking writes wait until the data is
// on the socket; non-blocking writes return as soon as the slot took it.
func (s *stream) write(p []byte, nonBlocking bool) (int, error) {
	var timer *clock.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	timeout := func() <-chan time.Time {
		if timer == nil {
			timer = s.clock.Timer(s.ceiling)
		}
		return timer.C
	}

	s.mu.Lock()
	for s.writing && s.writeErr == nil && !s.closed {
		ch := s.changed
		s.mu.Unlock()
		if nonBlocking {
			return 0, result.ErrIoWouldBlock
		}
		select {
		case <-ch:
		case <-timeout():
			return 0, result.Wrap(result.CodeIoTimeout, errors.New("write slot busy past the I/O ceiling"))
		}
		s.mu.Lock()
	}
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return 0, err
	}
	if s.closed {
		s.mu.Unlock()
		return 0, net.ErrClosed
	}

	s.writing = true
	s.notifyLocked()
	s.mu.Unlock()

	data := append([]byte(nil), p...)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.conn.Write(data)
		s.mu.Lock()
		s.writing = false
		if err != nil && s.writeErr == nil {
			s.writeErr = err
		}
		s.notifyLocked()
		s.mu.Unlock()
	}()

	if nonBlocking {
		return len(p), nil
	}

	select {
	case <-done:
	case <-timeout():
		return 0, result.Wrap(result.CodeIoTimeout, errors.New("write not completed within the I/O ceiling"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	return len(p), nil
}

// busy reports whether a write is in flight.
func (s *stream) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writing
}

func (s *stream) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// readiness returns the ready subset of events and a channel closed on the
// next state change.
func (s *stream) readiness(events PollEvent) (PollEvent, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready PollEvent
	if len(s.buf) > 0 || s.readErr != nil || s.closed {
		ready |= PollRead
	}
	if !s.writing || s.writeErr != nil || s.closed {
		ready |= PollWrite
	}
	if isFailure(s.readErr) || s.writeErr != nil {
		ready |= PollExcept
	}
	return ready & events, s.changed
}

// stop marks the stream closed and wakes every waiter. The caller closes
// or unblocks the connection so the pump can exit.
func (s *stream) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.notifyLocked()
	}
}

// wait blocks until the pump exited or d elapsed in real time.
func (s *stream) wait(d time.Duration) bool {
	select {
	case <-s.pumpDone:
		return true
	case <-time.After(d):
		return false
	}
}

func isFailure(err error) bool {
	return err != nil && !isEOF(err)
}
