package tcp

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Handler serves one accepted connection. For TLS servers the handshake
// has completed when it is called.
type Handler func(conn net.Conn)

// Echo writes back everything it reads.
func Echo(conn net.Conn) {
	_, _ = io.Copy(conn, conn)
}

// Silent reads and discards everything and never answers.
func Silent(conn net.Conn) {
	_, _ = io.Copy(io.Discard, conn)
}

// SendAndClose writes data and closes the connection.
func SendAndClose(data []byte) Handler {
	return func(conn net.Conn) {
		_, _ = conn.Write(data)
	}
}

// Server is a test server used for TLS client tests. It performs the TLS
// handshake when a config is given, records the resulting connection
// states and hands every connection to its handler. The server keeps
// accepted connections open until the handler returns or Close() is
// called. Close() will stop accepting new connections and close all
// active connections.
type Server struct {
	listener net.Listener
	config   *tls.Config
	handler  Handler

	// protect access to conns and states
	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	states []tls.ConnectionState
	errs   []error

	// shutdown coordination
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewServer creates a Server by calling the provided TCP listener function.
// The network and address string (like "127.0.0.1:9000" or ":0") are used
// to resolve a *net.TCPAddr that is forwarded to the listener function. A
// nil config serves plain TCP.
func NewServer(listen ListenerFunc, network, addr string, config *tls.Config, handler Handler) (*Server, error) {
	if listen == nil {
		return nil, fmt.Errorf("listener func is nil")
	}
	if handler == nil {
		handler = Echo
	}

	laddr, err := net.ResolveTCPAddr(network, addr)
	if err != nil {
		return nil, err
	}

	ln, err := listen(network, laddr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener: ln,
		config:   config,
		handler:  handler,
		conns:    make(map[net.Conn]struct{}),
		closed:   make(chan struct{}),
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return s, nil
}

// Addr returns the actual listening address (useful when using :0).
func (s *Server) Addr() net.Addr {
	if s == nil || s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// States returns the TLS connection states of all completed handshakes in
// the order they finished.
func (s *Server) States() []tls.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tls.ConnectionState(nil), s.states...)
}

// HandshakeErrors returns the errors of all failed server handshakes.
func (s *Server) HandshakeErrors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

// Close stops the server from accepting new connections and closes all
// active connections. It waits for outstanding goroutines to finish and
// returns once shutdown is complete.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.listener != nil {
			err = s.listener.Close()
		}
		s.mu.Lock()
		for c := range s.conns {
			// set a short deadline to unblock reads/writes
			_ = c.SetDeadline(time.Now().Add(50 * time.Millisecond))
			c.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
	})
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
				time.Sleep(50 * time.Millisecond)
				continue
			}
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(c net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		c.Close()
	}()

	if s.config == nil {
		s.handler(c)
		return
	}

	tc := tls.Server(c, s.config)
	if err := tc.Handshake(); err != nil {
		s.mu.Lock()
		s.errs = append(s.errs, err)
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.states = append(s.states, tc.ConnectionState())
	s.mu.Unlock()

	s.handler(tc)
	_ = tc.Close()
}
