package ssl

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"

	"dominicbreuker/sslkit/pkg/config"
	"dominicbreuker/sslkit/pkg/log"
	"dominicbreuker/sslkit/pkg/result"
	"dominicbreuker/sslkit/pkg/sessioncache"
)

// Connection is a TLS client connection over an imported socket. The zero
// value is ready for Create. Operations on one connection must not run
// concurrently; different connections are independent.
type Connection struct {
	mu sync.Mutex

	lib   *Library
	ctx   *Context
	id    uint64
	state State

	raw  net.Conn
	fd   int
	owns bool // raw was created by the connection

	hostName   string
	verify     VerifyOption
	ioMode     IoMode
	cacheMode  SessionCacheMode
	renegMode  RenegotiationMode
	doNotClose bool
	getChain   bool

	certBuf     []byte
	certWritten int

	tls     *tls.Conn
	hs      *handshake
	stream  *stream
	session *sessionRef

	peerCerts  []*x509.Certificate
	cipher     CipherInfo
	reused     bool
	lastErr    error
	verifyErrs []error
}

// CipherInfo describes the negotiated parameters.
type CipherInfo struct {
	Version     string
	CipherSuite string
	VersionID   uint16
	SuiteID     uint16
}

var _ io.ReadWriteCloser = (*Connection)(nil)

// Create binds the connection to ctx and takes one of the library's
// connection slots.
func (c *Connection) Create(ctx *Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateUninitialized && c.state != StateDestroyed {
		return result.ErrInvalidConnectionContext
	}
	if ctx == nil || ctx.lib == nil {
		return result.ErrInvalidContext
	}

	id, err := ctx.lib.attach(c, ctx)
	if err != nil {
		return err
	}

	c.lib = ctx.lib
	c.ctx = ctx
	c.id = id
	c.state = StateCreated
	c.raw, c.fd, c.owns = nil, -1, false
	c.hostName = ""
	c.verify = VerifyDefault
	c.ioMode = IoModeBlocking
	c.cacheMode = SessionCacheModeSessionID
	c.renegMode = RenegotiationModeSecure
	c.doNotClose, c.getChain = false, false
	c.certBuf, c.certWritten = nil, 0
	c.tls, c.hs, c.stream, c.session = nil, nil, nil, nil
	c.peerCerts, c.cipher, c.reused = nil, CipherInfo{}, false
	c.lastErr, c.verifyErrs = nil, nil

	c.lib.logger.VerboseMsg("connection %d created on context %d", id, ctx.id)
	return nil
}

// SetSocket imports an already connected net.Conn. From here on the
// connection owns conn unless OptionDoNotCloseSocket is set.
func (c *Connection) SetSocket(conn net.Conn) error {
	if err := c.checkBindable(); err != nil {
		return err
	}
	if conn == nil {
		return c.fail(result.ErrInvalidPointer)
	}
	return c.bind(conn, -1, false)
}

func (c *Connection) checkBindable() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateUninitialized, StateDestroyed:
		return result.ErrInvalidConnectionContext
	case StateCreated:
		return nil
	default:
		return c.failLocked(result.ErrSocketAlreadyRegistered)
	}
}

func (c *Connection) bind(conn net.Conn, fd int, owns bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateCreated {
		if owns {
			conn.Close()
		}
		return c.failLocked(result.ErrSocketAlreadyRegistered)
	}

	if path := c.lib.cfg.WireLog; path != "" {
		logged, err := log.NewLoggedConn(conn, path)
		if err != nil {
			if owns {
				conn.Close()
			}
			return c.failLocked(result.Wrap(result.CodeInvalidArgument, err))
		}
		conn = logged
	}

	c.raw, c.fd, c.owns = conn, fd, owns
	c.state = StateSocketBound
	c.lib.logger.VerboseMsg("connection %d bound to %s", c.id, conn.RemoteAddr())
	return nil
}

// SetHostName sets the name used for SNI and host name verification.
func (c *Connection) SetHostName(name string) error {
	return c.configure(func() error {
		if name == "" || len(name) > config.MaxHostNameLength {
			return result.Wrap(result.CodeInvalidHostName, fmt.Errorf("length %d not in [1, %d]", len(name), config.MaxHostNameLength))
		}
		c.hostName = name
		return nil
	})
}

// SetVerifyOption selects the certificate checks.
func (c *Connection) SetVerifyOption(v VerifyOption) error {
	return c.configure(func() error {
		if !v.valid() {
			return result.Wrap(result.CodeInvalidVerifyOption, fmt.Errorf("unknown bits 0x%x", uint32(v&^VerifyAll)))
		}
		c.verify = v
		return nil
	})
}

// SetServerCertBuffer registers a buffer receiving the server certificate
// (or chain, see OptionGetServerCertChain) after the handshake. The buffer
// is owned by the caller and must stay valid until Destroy. Only whole
// certificates are written: a buffer too small for the leaf receives
// nothing, and DoHandshake reports result.ErrInsufficientServerCertBuffer
// with the needed size available from GetNeededServerCertBufferSize.
func (c *Connection) SetServerCertBuffer(buf []byte) error {
	return c.configure(func() error {
		if buf == nil {
			return result.ErrInvalidPointer
		}
		c.certBuf, c.certWritten = buf, 0
		return nil
	})
}

// SetSessionCacheMode selects whether sessions are cached and resumed.
func (c *Connection) SetSessionCacheMode(m SessionCacheMode) error {
	return c.configure(func() error {
		if !m.valid() {
			return result.ErrInvalidSessionCacheMode
		}
		c.cacheMode = m
		return nil
	})
}

// SetRenegotiationMode selects whether the server may renegotiate.
func (c *Connection) SetRenegotiationMode(m RenegotiationMode) error {
	return c.configure(func() error {
		if !m.valid() {
			return result.ErrInvalidRenegotiationMode
		}
		c.renegMode = m
		return nil
	})
}

// SetOption enables or disables a boolean option.
func (c *Connection) SetOption(opt OptionType, enable bool) error {
	return c.configure(func() error {
		switch opt {
		case OptionDoNotCloseSocket:
			c.doNotClose = enable
		case OptionGetServerCertChain:
			c.getChain = enable
		default:
			return result.ErrInvalidOptionType
		}
		return nil
	})
}

// SetIoMode switches between blocking and non-blocking behavior. Unlike
// the other setters it may be called at any time.
func (c *Connection) SetIoMode(m IoMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.createdLocked() {
		return result.ErrInvalidConnectionContext
	}
	if !m.valid() {
		return c.failLocked(result.ErrInvalidIoMode)
	}
	c.ioMode = m
	return nil
}

// configure runs set for settings that only apply before the handshake.
func (c *Connection) configure(set func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.createdLocked() {
		return result.ErrInvalidConnectionContext
	}
	if c.state != StateCreated && c.state != StateSocketBound {
		return c.failLocked(result.Wrap(result.CodeInvalidState,
			fmt.Errorf("setting not allowed in state %s", c.state)))
	}
	return c.failLocked(set())
}

// GetHostName returns the configured host name.
func (c *Connection) GetHostName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hostName
}

// GetVerifyOption returns the configured checks.
func (c *Connection) GetVerifyOption() VerifyOption {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verify
}

// GetIoMode returns the current I/O mode.
func (c *Connection) GetIoMode() IoMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ioMode
}

// GetSessionCacheMode returns the configured cache mode.
func (c *Connection) GetSessionCacheMode() SessionCacheMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cacheMode
}

// GetRenegotiationMode returns the configured renegotiation mode.
func (c *Connection) GetRenegotiationMode() RenegotiationMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renegMode
}

// GetOption returns the state of a boolean option.
func (c *Connection) GetOption(opt OptionType) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch opt {
	case OptionDoNotCloseSocket:
		return c.doNotClose, nil
	case OptionGetServerCertChain:
		return c.getChain, nil
	default:
		return false, result.ErrInvalidOptionType
	}
}

// ID returns the connection id, zero unless created.
func (c *Connection) ID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// ContextID returns the id of the bound context, zero unless created.
func (c *Connection) ContextID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil || !c.createdLocked() {
		return 0
	}
	return c.ctx.ID()
}

// State returns the lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// GetSocketDescriptor returns the imported descriptor, -1 for sockets
// imported with SetSocket.
func (c *Connection) GetSocketDescriptor() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.createdLocked() {
		return -1, result.ErrInvalidConnectionContext
	}
	if c.raw == nil {
		return -1, result.ErrSocketNotRegistered
	}
	return c.fd, nil
}

// GetLastError returns the last failure and clears it.
func (c *Connection) GetLastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.lastErr
	c.lastErr = nil
	return err
}

// GetVerifyCertError returns the first certificate verification failure
// of the last handshake and clears all of them.
func (c *Connection) GetVerifyCertError() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.verifyErrs) == 0 {
		return nil
	}
	err := c.verifyErrs[0]
	c.verifyErrs = nil
	return err
}

// GetVerifyCertErrors copies the verification failures into dst and
// returns their total count. If dst is too short it is filled to capacity,
// result.ErrBufferTooShort is returned and the failures are kept for a
// retry; otherwise they are cleared.
func (c *Connection) GetVerifyCertErrors(dst []error) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := len(c.verifyErrs)
	copy(dst, c.verifyErrs)
	if len(dst) < total {
		return total, result.Wrap(result.CodeBufferTooShort,
			fmt.Errorf("%d verify errors, room for %d", total, len(dst)))
	}
	c.verifyErrs = nil
	return total, nil
}

// GetCipherInfo returns the negotiated protocol version and cipher suite.
func (c *Connection) GetCipherInfo() (CipherInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.establishedLocked(); err != nil {
		return CipherInfo{}, err
	}
	return c.cipher, nil
}

// SessionReused reports whether the handshake resumed a cached session.
func (c *Connection) SessionReused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reused
}

// GetNeededServerCertBufferSize returns the buffer size that holds the
// server certificate output completely.
func (c *Connection) GetNeededServerCertBufferSize() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.establishedLocked(); err != nil {
		return 0, err
	}
	needed, _ := certBufferLayout(c.peerCerts, c.getChain, 0)
	return needed, nil
}

// ServerCertificateCount returns how many certificates the handshake wrote
// into the server certificate buffer.
func (c *Connection) ServerCertificateCount() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.establishedLocked(); err != nil {
		return 0, err
	}
	switch {
	case c.certBuf == nil:
		return 0, result.ErrInvalidCertBuffer
	case c.getChain:
		return CertBufferCount(c.certBuf[:c.certWritten])
	case c.certWritten > 0:
		return 1, nil
	default:
		return 0, nil
	}
}

// GetServerCertificate returns the DER certificate at index from the
// server certificate buffer. The result aliases the buffer.
func (c *Connection) GetServerCertificate(index int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.establishedLocked(); err != nil {
		return nil, err
	}
	switch {
	case c.certBuf == nil:
		return nil, result.ErrInvalidCertBuffer
	case c.getChain:
		return CertBufferEntry(c.certBuf[:c.certWritten], index)
	case index == 0 && c.certWritten > 0:
		return c.certBuf[:c.certWritten], nil
	default:
		return nil, result.Wrap(result.CodeInvalidIndex, fmt.Errorf("index %d", index))
	}
}

// FlushSessionCache drops this connection's reference to its cached
// session; the entry is freed once no other connection holds it.
func (c *Connection) FlushSessionCache() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.createdLocked() {
		return result.ErrInvalidConnectionContext
	}
	if c.session != nil && c.session.release(true) {
		c.lib.logger.VerboseMsg("connection %d flushed its session", c.id)
	}
	return nil
}

// SessionCacheEntry returns the cached session this connection holds a
// reference to, nil if none.
func (c *Connection) SessionCacheEntry() *sessioncache.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	return c.session.current()
}

// Close is Destroy, so a connection can be used as io.ReadWriteCloser.
func (c *Connection) Close() error {
	return c.Destroy()
}

// Destroy tears the connection down from any state: it stops background
// I/O, closes the socket unless OptionDoNotCloseSocket is set, releases
// the cached session and the slot and resets the id to zero. Destroying a
// connection that is not created fails with
// result.ErrInvalidConnectionContext.
func (c *Connection) Destroy() error {
	c.mu.Lock()
	if !c.createdLocked() {
		c.mu.Unlock()
		return result.ErrInvalidConnectionContext
	}

	id, lib, ctx := c.id, c.lib, c.ctx
	raw, fd, owns, keep := c.raw, c.fd, c.owns, c.doNotClose
	tlsConn, hs, st, sess := c.tls, c.hs, c.stream, c.session
	established := c.state == StateEstablished

	c.state = StateDestroyed
	c.id = 0
	c.raw, c.tls, c.hs, c.stream, c.session = nil, nil, nil, nil, nil
	c.certBuf = nil
	c.mu.Unlock()

	if st != nil {
		st.stop()
	}

	var errs error
	switch {
	case raw == nil:
	case keep && !owns:
		// The caller keeps using raw: unblock background I/O, then hand
		// it back untouched.
		_ = raw.SetDeadline(time.Now())
		waitBackground(hs, st)
		_ = raw.SetDeadline(time.Time{})
		errs = multierr.Append(errs, log.DetachWireLog(raw))
	case keep || tlsConn == nil:
		// Closing our duplicate leaves the caller's descriptor open and
		// sends nothing to the peer.
		errs = multierr.Append(errs, ignoreClosed(raw.Close()))
		waitBackground(hs, st)
	default:
		if established && st.busy() {
			_ = raw.SetWriteDeadline(time.Now())
		}
		errs = multierr.Append(errs, ignoreClosed(tlsConn.Close()))
		waitBackground(hs, st)
	}

	if fd >= 0 {
		errs = multierr.Append(errs, releaseDescriptor(fd, keep))
	}
	if sess != nil {
		sess.release(false)
	}
	lib.detach(id, ctx)

	lib.logger.VerboseMsg("connection %d destroyed", id)
	if errs != nil {
		lib.logger.VerboseMsg("connection %d: closing socket: %s", id, errs)
	}
	return nil
}

func waitBackground(hs *handshake, st *stream) {
	if hs != nil {
		select {
		case <-hs.done:
		case <-time.After(time.Second):
		}
	}
	if st != nil {
		st.wait(time.Second)
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *Connection) createdLocked() bool {
	return c.state != StateUninitialized && c.state != StateDestroyed
}

// establishedLocked checks that a handshake completed, even if the
// connection closed since.
func (c *Connection) establishedLocked() error {
	switch {
	case !c.createdLocked():
		return result.ErrInvalidConnectionContext
	case c.raw == nil:
		return result.ErrSocketNotRegistered
	case c.stream == nil:
		return result.ErrHandshakeIncomplete
	}
	return nil
}

// fail records err as the last error and returns it.
func (c *Connection) fail(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failLocked(err)
}

func (c *Connection) failLocked(err error) error {
	if err != nil {
		c.lastErr = err
	}
	return err
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
