package ssl

import (
	"crypto/tls"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dominicbreuker/sslkit/mocks/tcp"
	"dominicbreuker/sslkit/pkg/config"
	"dominicbreuker/sslkit/pkg/crypto"
	"dominicbreuker/sslkit/pkg/result"
	"dominicbreuker/sslkit/pkg/roots"
)

const serverName = "server.test"

var nextPort atomic.Int32

// env is a library with one context trusting a test CA, plus an in-memory
// network to run servers on.
type env struct {
	t   *testing.T
	net *tcp.MockTCPNetwork
	lib *Library
	ctx *Context
	ca  *crypto.CA
	reg *prometheus.Registry
}

type envOption func(cfg *config.Library, deps *config.Dependencies, opts *ContextOptions)

func withClock(clk clock.Clock) envOption {
	return func(_ *config.Library, deps *config.Dependencies, _ *ContextOptions) {
		deps.Clock = clk
	}
}

func withCeiling(d time.Duration) envOption {
	return func(cfg *config.Library, _ *config.Dependencies, _ *ContextOptions) {
		cfg.IoCeiling = d
	}
}

func withCacheCapacity(n int) envOption {
	return func(cfg *config.Library, _ *config.Dependencies, _ *ContextOptions) {
		cfg.SessionCacheCapacity = n
	}
}

func withContextOptions(f func(opts *ContextOptions)) envOption {
	return func(_ *config.Library, _ *config.Dependencies, opts *ContextOptions) {
		f(opts)
	}
}

func newEnv(t *testing.T, options ...envOption) *env {
	t.Helper()

	ca, err := crypto.NewCA(t.Name())
	require.NoError(t, err)

	pool := roots.NewPool()
	pool.AddCert(ca.Cert)

	reg := prometheus.NewRegistry()
	cfg := config.Default()
	deps := &config.Dependencies{Registerer: reg}
	opts := ContextOptions{Roots: pool}
	for _, o := range options {
		o(cfg, deps, &opts)
	}

	lib := NewLibrary(cfg, deps)
	require.NoError(t, lib.Initialize())
	t.Cleanup(func() { _ = lib.Finalize() })

	ctx, err := NewContext(lib, opts)
	require.NoError(t, err)

	return &env{t: t, net: tcp.NewMockTCPNetwork(), lib: lib, ctx: ctx, ca: ca, reg: reg}
}

// leaf issues a server certificate for serverName.
func (e *env) leaf(opts crypto.LeafOptions) tls.Certificate {
	e.t.Helper()
	if opts.DNSNames == nil {
		opts.DNSNames = []string{serverName}
	}
	cert, err := e.ca.Issue(opts)
	require.NoError(e.t, err)
	return cert
}

// serve starts a server with cert and returns its address. A zero
// maxVersion caps at TLS 1.2, where tickets arrive during the handshake.
func (e *env) serve(cert *tls.Certificate, maxVersion uint16, handler tcp.Handler) (*tcp.Server, string) {
	e.t.Helper()

	var cfg *tls.Config
	if cert != nil {
		if maxVersion == 0 {
			maxVersion = tls.VersionTLS12
		}
		cfg = &tls.Config{Certificates: []tls.Certificate{*cert}, MaxVersion: maxVersion}
	}

	addr := fmt.Sprintf("127.0.0.1:%d", 20000+nextPort.Add(1))
	srv, err := tcp.NewServer(e.net.ListenTCP, "tcp", addr, cfg, handler)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { _ = srv.Close() })
	return srv, addr
}

// connect creates a connection bound to a fresh socket to addr.
func (e *env) connect(addr string) (*Connection, *tcp.MockTCPConn) {
	e.t.Helper()

	raw, err := e.net.Dial(addr)
	require.NoError(e.t, err)

	c := &Connection{}
	require.NoError(e.t, c.Create(e.ctx))
	require.NoError(e.t, c.SetSocket(raw))
	require.NoError(e.t, c.SetHostName(serverName))
	e.t.Cleanup(func() { _ = c.Destroy() })
	return c, raw
}

// established connects and completes the handshake.
func (e *env) established(addr string) *Connection {
	e.t.Helper()
	c, _ := e.connect(addr)
	require.NoError(e.t, c.DoHandshake())
	return c
}

func requireCode(t *testing.T, err error, code result.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, result.CodeOf(err), "error: %v", err)
}

// advanceUntil moves clk forward in steps until done delivers a value.
func advanceUntil[T any](t *testing.T, clk *clock.Mock, step time.Duration, done <-chan T) T {
	t.Helper()
	for i := 0; i < 100000; i++ {
		select {
		case v := <-done:
			return v
		default:
		}
		clk.Add(step)
		time.Sleep(100 * time.Microsecond)
	}
	t.Fatal("operation did not finish")
	var zero T
	return zero
}
