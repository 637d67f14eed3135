package config

import (
	"io"
	"net"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"dominicbreuker/sslkit/pkg/log"
)

// Dependencies contains injectable dependencies for testing and customization.
// All fields are optional and will use default implementations if nil.
type Dependencies struct {
	Clock       clock.Clock
	Logger      *log.Logger
	Registerer  prometheus.Registerer
	FileConn    FileConnFunc
	TCPDialer   TCPDialerFunc
	TCPListener TCPListenerFunc
	Stdin       StdinFunc
	Stdout      StdoutFunc
}

// FileConnFunc turns an imported socket file into a net.Conn.
type FileConnFunc func(f *os.File) (net.Conn, error)

// TCPDialerFunc is a function that dials a TCP connection.
// It returns a net.Conn to allow for mock implementations.
type TCPDialerFunc func(network string, laddr, raddr *net.TCPAddr) (net.Conn, error)

// TCPListenerFunc is a function that listens for TCP connections.
// It returns a net.Listener to allow for mock implementations.
type TCPListenerFunc func(network string, laddr *net.TCPAddr) (net.Listener, error)

// StdinFunc is a function that returns a reader for stdin.
type StdinFunc func() io.Reader

// StdoutFunc is a function that returns a writer for stdout.
type StdoutFunc func() io.Writer

// GetClock returns the clock from dependencies, or the wall clock.
func GetClock(deps *Dependencies) clock.Clock {
	if deps != nil && deps.Clock != nil {
		return deps.Clock
	}
	return clock.New()
}

// GetLogger returns the logger from dependencies. The default logger is
// quiet: a nil *log.Logger drops every message.
func GetLogger(deps *Dependencies) *log.Logger {
	if deps != nil {
		return deps.Logger
	}
	return nil
}

// GetRegisterer returns the metrics registerer from dependencies, nil if unset.
func GetRegisterer(deps *Dependencies) prometheus.Registerer {
	if deps != nil {
		return deps.Registerer
	}
	return nil
}

// GetFileConnFunc returns the file conversion function from dependencies,
// or net.FileConn.
func GetFileConnFunc(deps *Dependencies) FileConnFunc {
	if deps != nil && deps.FileConn != nil {
		return deps.FileConn
	}
	return net.FileConn
}

// GetTCPDialerFunc returns the TCP dialer function from dependencies, or a default implementation.
// If deps is nil or deps.TCPDialer is nil, returns a function that uses net.DialTCP.
func GetTCPDialerFunc(deps *Dependencies) TCPDialerFunc {
	if deps != nil && deps.TCPDialer != nil {
		return deps.TCPDialer
	}
	return func(network string, laddr, raddr *net.TCPAddr) (net.Conn, error) {
		return net.DialTCP(network, laddr, raddr)
	}
}

// GetTCPListenerFunc returns the TCP listener function from dependencies,
// or net.ListenTCP.
func GetTCPListenerFunc(deps *Dependencies) TCPListenerFunc {
	if deps != nil && deps.TCPListener != nil {
		return deps.TCPListener
	}
	return func(network string, laddr *net.TCPAddr) (net.Listener, error) {
		return net.ListenTCP(network, laddr)
	}
}

// GetStdinFunc returns the stdin function from dependencies, or a default implementation.
func GetStdinFunc(deps *Dependencies) StdinFunc {
	if deps != nil && deps.Stdin != nil {
		return deps.Stdin
	}
	return func() io.Reader {
		return os.Stdin
	}
}

// GetStdoutFunc returns the stdout function from dependencies, or a default implementation.
func GetStdoutFunc(deps *Dependencies) StdoutFunc {
	if deps != nil && deps.Stdout != nil {
		return deps.Stdout
	}
	return func() io.Writer {
		return os.Stdout
	}
}
