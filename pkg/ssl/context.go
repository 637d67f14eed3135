package ssl

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"os"
	"slices"

	"dominicbreuker/sslkit/pkg/result"
	"dominicbreuker/sslkit/pkg/roots"
)

// ContextOptions is the TLS policy shared by connections of a context.
type ContextOptions struct {
	// MinVersion and MaxVersion bound the protocol version; zero selects
	// the crypto/tls defaults.
	MinVersion uint16
	MaxVersion uint16
	// CipherSuites restricts the TLS 1.0-1.2 suites; TLS 1.3 suites are
	// not configurable.
	CipherSuites []uint16
	// Roots is the trust store. Nil selects the system roots.
	Roots *roots.Pool
	// ClientCertificate is presented when the server asks for one.
	ClientCertificate *tls.Certificate
	// EVPolicies are the policy OIDs accepted by VerifyEVPolicy.
	EVPolicies []asn1.ObjectIdentifier
}

// Context holds the policy and trust store referenced by connections. It
// must outlive every connection created from it.
type Context struct {
	lib   *Library
	id    uint64
	opts  ContextOptions
	roots *roots.Pool
	conns int
}

// NewContext validates opts and registers a new context with lib.
func NewContext(lib *Library, opts ContextOptions) (*Context, error) {
	if lib == nil {
		return nil, result.ErrInvalidPointer
	}
	if err := validateVersions(opts.MinVersion, opts.MaxVersion); err != nil {
		return nil, err
	}
	if err := validateCipherSuites(opts.CipherSuites); err != nil {
		return nil, err
	}
	if opts.ClientCertificate != nil && len(opts.ClientCertificate.Certificate) == 0 {
		return nil, result.Wrap(result.CodeInvalidCertificate, fmt.Errorf("client certificate without chain"))
	}

	pool := opts.Roots
	if pool == nil {
		pool = roots.NewSystemPool()
	}

	lib.mu.Lock()
	defer lib.mu.Unlock()
	if !lib.initialized {
		return nil, result.ErrLibraryNotInitialized
	}

	ctx := &Context{
		lib:   lib,
		id:    lib.newIDLocked(),
		opts:  opts,
		roots: pool,
	}
	ctx.opts.CipherSuites = slices.Clone(opts.CipherSuites)
	ctx.opts.EVPolicies = slices.Clone(opts.EVPolicies)
	lib.contexts[ctx.id] = ctx

	lib.logger.VerboseMsg("context %d created", ctx.id)
	return ctx, nil
}

// ID returns the context id, zero once destroyed.
func (ctx *Context) ID() uint64 {
	if ctx == nil {
		return 0
	}
	ctx.lib.mu.Lock()
	defer ctx.lib.mu.Unlock()
	return ctx.id
}

// ImportServerPki adds PEM encoded root certificates to the trust store
// and returns how many were added.
func (ctx *Context) ImportServerPki(pemData []byte) (int, error) {
	if err := ctx.check(); err != nil {
		return 0, err
	}
	n, err := ctx.roots.AddCertPEM(pemData)
	if err != nil {
		return 0, result.Wrap(result.CodeInvalidCertificate, err)
	}
	return n, nil
}

// ImportServerCert adds a DER encoded root certificate to the trust store.
func (ctx *Context) ImportServerCert(der []byte) error {
	if err := ctx.check(); err != nil {
		return err
	}
	if err := ctx.roots.AddCertDER(der); err != nil {
		return result.Wrap(result.CodeInvalidCertificate, err)
	}
	return nil
}

// ImportCertFile adds the PEM certificates found in path. If path is a
// directory, every file in it is read.
func (ctx *Context) ImportCertFile(path string) (int, error) {
	if err := ctx.check(); err != nil {
		return 0, err
	}
	add := ctx.roots.AddCertFile
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		add = ctx.roots.AddCertDir
	}
	n, err := add(path)
	if err != nil {
		return 0, result.Wrap(result.CodeInvalidCertificate, err)
	}
	return n, nil
}

// ImportClientPki sets the client certificate from PEM encoded
// certificate and key.
func (ctx *Context) ImportClientPki(certPEM, keyPEM []byte) error {
	if err := ctx.check(); err != nil {
		return err
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return result.Wrap(result.CodeInvalidCertificate, err)
	}

	ctx.lib.mu.Lock()
	defer ctx.lib.mu.Unlock()
	ctx.opts.ClientCertificate = &cert
	return nil
}

// Destroy unregisters the context. It fails with result.ErrResourceBusy
// while connections still reference it.
func (ctx *Context) Destroy() error {
	if ctx == nil {
		return result.ErrInvalidContext
	}
	lib := ctx.lib
	lib.mu.Lock()
	defer lib.mu.Unlock()

	if ctx.id == 0 {
		return result.ErrInvalidContext
	}
	if ctx.conns > 0 {
		return result.Wrap(result.CodeResourceBusy,
			fmt.Errorf("context %d has %d connections", ctx.id, ctx.conns))
	}
	delete(lib.contexts, ctx.id)
	lib.logger.VerboseMsg("context %d destroyed", ctx.id)
	ctx.id = 0
	return nil
}

func (ctx *Context) check() error {
	if ctx.ID() == 0 {
		return result.ErrInvalidContext
	}
	return nil
}

// tlsConfig builds the per-connection client configuration. Verification
// is done by the connection, so the built-in checks are disabled.
func (ctx *Context) tlsConfig() *tls.Config {
	ctx.lib.mu.Lock()
	defer ctx.lib.mu.Unlock()

	cfg := &tls.Config{
		MinVersion:         ctx.opts.MinVersion,
		MaxVersion:         ctx.opts.MaxVersion,
		CipherSuites:       slices.Clone(ctx.opts.CipherSuites),
		InsecureSkipVerify: true,
	}
	if ctx.opts.ClientCertificate != nil {
		cfg.Certificates = []tls.Certificate{*ctx.opts.ClientCertificate}
	}
	return cfg
}

func (ctx *Context) certPool() *x509.CertPool {
	return ctx.roots.CertPool()
}

func (ctx *Context) evPolicies() []asn1.ObjectIdentifier {
	return ctx.opts.EVPolicies
}

func validateVersions(lo, hi uint16) error {
	for _, v := range []uint16{lo, hi} {
		if v != 0 && (v < tls.VersionTLS10 || v > tls.VersionTLS13) {
			return result.Wrap(result.CodeInvalidVersion, fmt.Errorf("unknown TLS version 0x%04x", v))
		}
	}
	if lo != 0 && hi != 0 && lo > hi {
		return result.Wrap(result.CodeInvalidVersion,
			fmt.Errorf("min version %s above max version %s", tls.VersionName(lo), tls.VersionName(hi)))
	}
	return nil
}

func validateCipherSuites(ids []uint16) error {
	known := make(map[uint16]bool)
	for _, cs := range tls.CipherSuites() {
		known[cs.ID] = true
	}
	for _, cs := range tls.InsecureCipherSuites() {
		known[cs.ID] = true
	}
	for _, id := range ids {
		if !known[id] {
			return result.Wrap(result.CodeInvalidArgument, fmt.Errorf("unknown cipher suite 0x%04x", id))
		}
	}
	return nil
}
