// Package client dials a TLS server through the ssl connection manager:
// it opens the TCP socket, hands its descriptor to an ssl.Connection and
// drives the handshake in the configured I/O mode.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dominicbreuker/sslkit/pkg/config"
	"dominicbreuker/sslkit/pkg/log"
	"dominicbreuker/sslkit/pkg/result"
	"dominicbreuker/sslkit/pkg/ssl"
)

// Client is one TLS client connection.
type Client struct {
	ctx    context.Context
	cfg    *config.Client
	lib    *ssl.Library
	deps   *config.Dependencies
	logger *log.Logger

	// Chain requests the whole server chain in the certificate buffer.
	Chain bool
	// CertBufferSize is the initial certificate buffer size; zero
	// disables the buffer unless Chain is set.
	CertBufferSize int

	tcp    net.Conn
	file   *os.File
	sslCtx *ssl.Context
	conn   *ssl.Connection
}

// New creates a client with its own TLS context on lib, which must be
// initialized. Connections made by one client share cached sessions.
func New(ctx context.Context, lib *ssl.Library, cfg *config.Client, deps *config.Dependencies) (*Client, error) {
	c := &Client{
		ctx:    ctx,
		cfg:    cfg,
		lib:    lib,
		deps:   deps,
		logger: config.GetLogger(deps),
	}
	if err := c.newContext(); err != nil {
		c.Destroy()
		return nil, err
	}
	return c, nil
}

// Connection returns the TLS connection, nil before Connect.
func (c *Client) Connection() *ssl.Connection {
	return c.conn
}

// Close destroys the TLS connection and closes the socket. The client
// may connect again afterwards.
func (c *Client) Close() error {
	var err error
	if c.conn != nil {
		c.logger.InfoMsg("Connection to %s closed", c.addr())
		if derr := c.conn.Destroy(); derr != nil && !errors.Is(derr, result.ErrInvalidConnectionContext) {
			err = fmt.Errorf("Destroy(): %w", derr)
		}
		c.conn = nil
	}
	if c.file != nil {
		c.file.Close()
		c.file = nil
	}
	if c.tcp != nil {
		c.tcp.Close()
		c.tcp = nil
	}
	return err
}

// Destroy closes the connection and releases the TLS context.
func (c *Client) Destroy() error {
	err := c.Close()
	if c.sslCtx != nil {
		if derr := c.sslCtx.Destroy(); derr != nil && !errors.Is(derr, result.ErrInvalidContext) {
			err = errors.Join(err, fmt.Errorf("context Destroy(): %w", derr))
		}
		c.sslCtx = nil
	}
	return err
}

// Connect dials the server and completes the TLS handshake. When the
// certificate buffer turns out too small the connection is redone once
// with a buffer of the reported size.
func (c *Client) Connect() error {
	err := c.connect()
	if result.CodeOf(err) != result.CodeInsufficientServerCertBuffer {
		return err
	}

	needed, nerr := c.conn.GetNeededServerCertBufferSize()
	if nerr != nil {
		return fmt.Errorf("GetNeededServerCertBufferSize(): %w", nerr)
	}
	c.logger.VerboseMsg("certificate buffer too small, reconnecting with %d bytes", needed)
	if err := c.Close(); err != nil {
		return err
	}
	c.CertBufferSize = needed
	return c.connect()
}

func (c *Client) connect() error {
	c.logger.InfoMsg("Connecting to %s", c.addr())

	raddr, err := net.ResolveTCPAddr("tcp", c.addr())
	if err != nil {
		return fmt.Errorf("net.ResolveTCPAddr(tcp, %s): %w", c.addr(), err)
	}
	c.tcp, err = config.GetTCPDialerFunc(c.deps)("tcp", nil, raddr)
	if err != nil {
		return fmt.Errorf("DialTCP(%s): %w", c.addr(), err)
	}

	c.conn = &ssl.Connection{}
	if err := c.conn.Create(c.sslCtx); err != nil {
		c.conn = nil
		return fmt.Errorf("Create(): %w", err)
	}
	if err := c.importSocket(); err != nil {
		return err
	}
	if err := c.configure(); err != nil {
		return err
	}

	if err := c.handshake(); err != nil {
		return err
	}

	info, err := c.conn.GetCipherInfo()
	if err == nil {
		c.logger.InfoMsg("Connected to %s using %s %s (resumed: %t)",
			c.addr(), info.Version, info.CipherSuite, c.conn.SessionReused())
	}
	return nil
}

func (c *Client) newContext() error {
	var err error
	c.sslCtx, err = ssl.NewContext(c.lib, ssl.ContextOptions{})
	if err != nil {
		return fmt.Errorf("NewContext(): %w", err)
	}
	if c.cfg.CAFile != "" {
		n, err := c.sslCtx.ImportCertFile(c.cfg.CAFile)
		if err != nil {
			return fmt.Errorf("ImportCertFile(%s): %w", c.cfg.CAFile, err)
		}
		c.logger.VerboseMsg("imported %d CA certificates from %s", n, c.cfg.CAFile)
	}
	return nil
}

// importSocket hands the socket descriptor to the connection. The client
// keeps ownership of the descriptor, so sockets that have none (or
// platforms that do not support the import) are handed over as net.Conn.
func (c *Client) importSocket() error {
	if err := c.conn.SetOption(ssl.OptionDoNotCloseSocket, true); err != nil {
		return fmt.Errorf("SetOption(DoNotCloseSocket): %w", err)
	}

	if tcpConn, ok := c.tcp.(*net.TCPConn); ok {
		f, err := tcpConn.File()
		if err != nil {
			return fmt.Errorf("File(): %w", err)
		}
		c.file = f

		err = c.conn.SetSocketDescriptor(int(f.Fd()))
		if err == nil {
			return nil
		}
		if result.CodeOf(err) != result.CodeNoTcpConnection {
			return fmt.Errorf("SetSocketDescriptor(): %w", err)
		}
		c.logger.VerboseMsg("descriptor import failed, passing the connection: %s", err)
	}

	if err := c.conn.SetSocket(c.tcp); err != nil {
		return fmt.Errorf("SetSocket(): %w", err)
	}
	return nil
}

func (c *Client) configure() error {
	name := c.cfg.ServerName
	if name == "" {
		name = c.cfg.Host
	}
	if err := c.conn.SetHostName(name); err != nil {
		return fmt.Errorf("SetHostName(%s): %w", name, err)
	}

	verify, err := ParseVerifyOption(c.cfg.Verify)
	if err != nil {
		return err
	}
	if c.cfg.Insecure {
		verify = ssl.VerifyNone
	}
	if err := c.conn.SetVerifyOption(verify); err != nil {
		return fmt.Errorf("SetVerifyOption(): %w", err)
	}

	mode, err := ParseCacheMode(c.cfg.CacheMode)
	if err != nil {
		return err
	}
	if err := c.conn.SetSessionCacheMode(mode); err != nil {
		return fmt.Errorf("SetSessionCacheMode(%s): %w", mode, err)
	}

	if c.Chain {
		if err := c.conn.SetOption(ssl.OptionGetServerCertChain, true); err != nil {
			return fmt.Errorf("SetOption(GetServerCertChain): %w", err)
		}
		if c.CertBufferSize == 0 {
			c.CertBufferSize = 4096
		}
	}
	if c.CertBufferSize > 0 {
		if err := c.conn.SetServerCertBuffer(make([]byte, c.CertBufferSize)); err != nil {
			return fmt.Errorf("SetServerCertBuffer(): %w", err)
		}
	}

	if c.cfg.NonBlocking {
		if err := c.conn.SetIoMode(ssl.IoModeNonBlocking); err != nil {
			return fmt.Errorf("SetIoMode(): %w", err)
		}
	}
	return nil
}

// handshake runs DoHandshake, polling for readiness in non-blocking mode.
func (c *Client) handshake() error {
	for {
		err := c.conn.DoHandshake()
		if !errors.Is(err, result.ErrIoWouldBlock) {
			return c.handshakeError(err)
		}
		if err := c.ctx.Err(); err != nil {
			return err
		}
		if _, err := c.conn.Poll(ssl.PollRead|ssl.PollWrite, c.lib.Config().IoCeiling); err != nil {
			return fmt.Errorf("Poll(): %w", err)
		}
	}
}

func (c *Client) handshakeError(err error) error {
	if err == nil || result.CodeOf(err) == result.CodeInsufficientServerCertBuffer {
		return err
	}
	if result.CodeOf(err) == result.CodeVerifyCertFailed {
		errs := make([]error, 8)
		n, _ := c.conn.GetVerifyCertErrors(errs)
		for _, verr := range errs[:min(n, len(errs))] {
			c.logger.ErrorMsg("certificate check failed: %s", verr)
		}
	}
	return fmt.Errorf("DoHandshake(): %w", err)
}

// ServerCertificates returns the DER certificates written to the
// certificate buffer.
func (c *Client) ServerCertificates() ([][]byte, error) {
	n, err := c.conn.ServerCertificateCount()
	if err != nil {
		return nil, fmt.Errorf("ServerCertificateCount(): %w", err)
	}
	certs := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		der, err := c.conn.GetServerCertificate(i)
		if err != nil {
			return nil, fmt.Errorf("GetServerCertificate(%d): %w", i, err)
		}
		certs = append(certs, der)
	}
	return certs, nil
}

// Stream returns the connection as a ReadWriteCloser for piping. Reads
// wait for data indefinitely in both I/O modes: timeouts at the I/O
// ceiling are retried and non-blocking connections wait in Poll. Closing
// the stream destroys the client.
func (c *Client) Stream() io.ReadWriteCloser {
	return &stream{
		ctx:     c.ctx,
		conn:    c.conn,
		ceiling: c.lib.Config().IoCeiling,
		destroy: c.Destroy,
	}
}

// ParseVerifyOption maps a comma separated list of checks ("ca", "host",
// "date", "ev", "all" or "none") to verify option bits. An empty list
// selects the default checks.
func ParseVerifyOption(list string) (ssl.VerifyOption, error) {
	if strings.TrimSpace(list) == "" {
		return ssl.VerifyDefault, nil
	}

	v := ssl.VerifyNone
	for _, name := range strings.Split(list, ",") {
		switch strings.TrimSpace(name) {
		case "ca":
			v = v.With(ssl.VerifyPeerCA)
		case "host":
			v = v.With(ssl.VerifyHostName)
		case "date":
			v = v.With(ssl.VerifyDate)
		case "ev":
			v = v.With(ssl.VerifyEVPolicy)
		case "all":
			v = v.With(ssl.VerifyAll)
		case "none":
		default:
			return 0, fmt.Errorf("unknown verify check %q", name)
		}
	}
	return v, nil
}

// ParseCacheMode maps the names accepted by the --cache flag to a mode.
// An empty name selects session IDs.
func ParseCacheMode(name string) (ssl.SessionCacheMode, error) {
	switch name {
	case "", "id":
		return ssl.SessionCacheModeSessionID, nil
	case "ticket":
		return ssl.SessionCacheModeSessionTicket, nil
	case "none":
		return ssl.SessionCacheModeNone, nil
	default:
		return 0, fmt.Errorf("unknown cache mode %q", name)
	}
}

func (c *Client) addr() string {
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

type stream struct {
	ctx     context.Context
	conn    *ssl.Connection
	ceiling time.Duration
	destroy func() error

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

func (s *stream) Read(p []byte) (int, error) {
	for {
		n, err := s.conn.Read(p)
		switch {
		case errors.Is(err, result.ErrIoTimeout):
		case errors.Is(err, result.ErrIoWouldBlock):
			if _, err := s.conn.Poll(ssl.PollRead, s.ceiling); err != nil && !errors.Is(err, result.ErrIoTimeout) {
				return 0, s.failure(err)
			}
		default:
			return n, s.failure(err)
		}
		if err := s.ctx.Err(); err != nil {
			return 0, err
		}
	}
}

func (s *stream) Write(p []byte) (int, error) {
	for {
		n, err := s.conn.Write(p)
		if !errors.Is(err, result.ErrIoWouldBlock) {
			return n, s.failure(err)
		}
		if _, err := s.conn.Poll(ssl.PollWrite, s.ceiling); err != nil {
			return 0, s.failure(err)
		}
	}
}

// failure reports errors caused by our own Close as net.ErrClosed.
func (s *stream) failure(err error) error {
	if err != nil && err != io.EOF && s.closed.Load() {
		return net.ErrClosed
	}
	return err
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.destroy()
	})
	return s.closeErr
}
