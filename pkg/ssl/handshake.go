package ssl

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"dominicbreuker/sslkit/pkg/result"
	"dominicbreuker/sslkit/pkg/sessioncache"
)

// handshake is an in-flight handshake running on its own goroutine.
type handshake struct {
	done chan struct{}
	err  error
}

// DoHandshake performs the TLS handshake. Cached sessions for the same
// context and host name are offered for resumption unless the cache mode
// is none; a successful full handshake caches its session.
//
// In non-blocking mode the handshake continues in the background and
// DoHandshake returns result.ErrIoWouldBlock until it finished; Poll
// reports read and write readiness at that point. In blocking mode the
// call waits up to the library's I/O ceiling and aborts the handshake
// with result.ErrIoTimeout afterwards.
//
// If the server certificate buffer was too small, the connection is
// established anyway and result.ErrInsufficientServerCertBuffer is
// returned.
func (c *Connection) DoHandshake() error {
	c.mu.Lock()
	switch c.state {
	case StateUninitialized, StateDestroyed:
		c.mu.Unlock()
		return result.ErrInvalidConnectionContext
	case StateCreated:
		c.mu.Unlock()
		return c.fail(result.ErrSocketNotRegistered)
	case StateSocketBound:
		c.startHandshakeLocked()
	case StateHandshaking:
	default:
		c.mu.Unlock()
		return c.fail(result.Wrap(result.CodeInvalidState, fmt.Errorf("handshake in state %s", c.state)))
	}
	hs, raw, nonBlocking := c.hs, c.raw, c.ioMode == IoModeNonBlocking
	clk, ceiling := c.lib.clock, c.lib.cfg.IoCeiling
	c.mu.Unlock()

	if nonBlocking {
		select {
		case <-hs.done:
		default:
			return c.fail(result.ErrIoWouldBlock)
		}
		return c.finishHandshake(hs, nil)
	}

	timer := clk.Timer(ceiling)
	defer timer.Stop()
	select {
	case <-hs.done:
		return c.finishHandshake(hs, nil)
	case <-timer.C:
	}

	// Abort: the deadline fails the handshake's pending socket I/O.
	_ = raw.SetDeadline(time.Now())
	select {
	case <-hs.done:
	case <-time.After(time.Second):
	}
	return c.finishHandshake(hs, result.Wrap(result.CodeIoTimeout,
		fmt.Errorf("handshake not completed within %s", ceiling)))
}

func (c *Connection) startHandshakeLocked() {
	ctx := c.ctx
	cfg := c.clientConfigLocked()

	if c.cacheMode != SessionCacheModeNone {
		host := c.hostName
		if host == "" {
			host = c.raw.RemoteAddr().String()
		}
		c.session = newSessionRef(c.lib.store, sessioncache.Key{ContextID: ctx.id, Host: host})
		cfg.ClientSessionCache = c.session
	}

	c.tls = tls.Client(c.raw, cfg)
	c.hs = &handshake{done: make(chan struct{})}
	c.verifyErrs = nil
	c.state = StateHandshaking

	go func(conn *tls.Conn, hs *handshake) {
		hs.err = conn.Handshake()
		close(hs.done)
	}(c.tls, c.hs)

	c.lib.logger.VerboseMsg("connection %d: handshake with %q started (verify 0x%x, cache %s)",
		c.id, c.hostName, uint32(c.verify), c.cacheMode)
}

// clientConfigLocked derives the per-connection client configuration from
// the context. Renegotiation requested by the server is carried out by
// crypto/tls inside Read, and VerifyConnection runs again for it.
func (c *Connection) clientConfigLocked() *tls.Config {
	cfg := c.ctx.tlsConfig()
	cfg.ServerName = c.hostName
	cfg.Renegotiation = c.renegMode.tls()
	cfg.VerifyConnection = c.verifier(c.verify, c.hostName, c.ctx.certPool(), c.ctx.evPolicies(), c.lib.clock)
	return cfg
}

// verifier returns the crypto/tls hook running the configured checks. It
// also runs for resumed sessions and renegotiations.
func (c *Connection) verifier(opts VerifyOption, host string, pool *x509.CertPool, ev []asn1.ObjectIdentifier, clk clock.Clock) func(tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		err := verifyPeer(cs.PeerCertificates, opts, host, pool, ev, clk.Now())
		if err == nil {
			return nil
		}

		c.mu.Lock()
		c.verifyErrs = append(c.verifyErrs, multierr.Errors(err)...)
		c.mu.Unlock()
		return result.Wrap(result.CodeVerifyCertFailed, err)
	}
}

// finishHandshake moves a completed handshake to its final state. abort
// overrides the handshake's own error.
func (c *Connection) finishHandshake(hs *handshake, abort error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hs != hs {
		return result.ErrInvalidConnectionContext
	}
	c.hs = nil

	err := hs.err
	if abort != nil {
		err = abort
	}
	if err != nil {
		return c.failHandshakeLocked(err, abort != nil)
	}

	cs := c.tls.ConnectionState()
	c.state = StateEstablished
	c.reused = cs.DidResume
	c.peerCerts = cs.PeerCertificates
	c.cipher = CipherInfo{
		Version:     tls.VersionName(cs.Version),
		CipherSuite: tls.CipherSuiteName(cs.CipherSuite),
		VersionID:   cs.Version,
		SuiteID:     cs.CipherSuite,
	}
	if c.session != nil {
		c.session.handshakeDone(cs.DidResume)
	}
	c.stream = newStream(c.tls, c.lib.clock, c.lib.cfg.IoCeiling)

	outcome := "full"
	if cs.DidResume {
		outcome = "resumed"
	}
	c.lib.metrics.Handshake(outcome)
	c.lib.logger.VerboseMsg("connection %d: %s handshake, %s %s", c.id, outcome, c.cipher.Version, c.cipher.CipherSuite)

	if c.certBuf != nil {
		written, needed, complete := writeCertBuffer(c.certBuf, c.peerCerts, c.getChain)
		c.certWritten = written
		if !complete {
			return c.failLocked(result.Wrap(result.CodeInsufficientServerCertBuffer,
				fmt.Errorf("server certificates need %d bytes, buffer has %d", needed, len(c.certBuf))))
		}
	}
	return nil
}

func (c *Connection) failHandshakeLocked(err error, aborted bool) error {
	c.state = StateClosed
	if c.session != nil {
		c.session.release(false)
	}
	c.lib.metrics.Handshake("failed")

	var coded error
	switch {
	case aborted:
		coded = err
	case len(c.verifyErrs) > 0:
		coded = result.Wrap(result.CodeVerifyCertFailed, multierr.Combine(c.verifyErrs...))
	case parseFailure(err) != nil:
		pf := parseFailure(err)
		c.verifyErrs = append(c.verifyErrs, pf)
		coded = result.Wrap(result.CodeVerifyCertFailed, pf)
	default:
		coded = result.FromTLSError(err)
	}

	c.lib.logger.VerboseMsg("connection %d: handshake failed: %s", c.id, coded)
	return c.failLocked(coded)
}

// handshakeReadiness is Poll's view of a running handshake.
func handshakeReadiness(hs *handshake, events PollEvent) (PollEvent, <-chan struct{}) {
	select {
	case <-hs.done:
		return (PollRead | PollWrite) & events, nil
	default:
		return 0, hs.done
	}
}
