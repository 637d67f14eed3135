// Package server runs a local TLS echo server with a generated CA, the
// peer used to try the connect and certs commands.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"dominicbreuker/sslkit/pkg/config"
	"dominicbreuker/sslkit/pkg/crypto"
	"dominicbreuker/sslkit/pkg/log"
	"dominicbreuker/sslkit/pkg/semaphore"
)

// slotTimeout bounds how long an accepted client waits for a free slot.
const slotTimeout = 10 * time.Second

// Server is a TLS echo server.
type Server struct {
	ctx    context.Context
	cfg    *config.Server
	deps   *config.Dependencies
	logger *log.Logger

	ca    *crypto.CA
	tls   *tls.Config
	l     net.Listener
	slots *semaphore.ConnSemaphore
	wg    sync.WaitGroup
}

// New generates the CA and server certificate and starts listening.
func New(ctx context.Context, cfg *config.Server, deps *config.Dependencies) (*Server, error) {
	s := &Server{
		ctx:    ctx,
		cfg:    cfg,
		deps:   deps,
		logger: config.GetLogger(deps),
	}

	hosts := []string{"localhost", "127.0.0.1"}
	if cfg.Host != "" && cfg.Host != "localhost" && cfg.Host != "127.0.0.1" {
		hosts = append(hosts, cfg.Host)
	}
	ca, _, cert, err := crypto.GenerateCertificates(cfg.Seed, hosts...)
	if err != nil {
		return nil, fmt.Errorf("crypto.GenerateCertificates(%v): %w", hosts, err)
	}
	s.ca = ca

	if cfg.CAOut != "" {
		if err := os.WriteFile(cfg.CAOut, ca.CertPEM, 0o644); err != nil {
			return nil, fmt.Errorf("writing CA to %s: %w", cfg.CAOut, err)
		}
		s.logger.InfoMsg("CA certificate written to %s", cfg.CAOut)
	}

	s.tls = &tls.Config{Certificates: []tls.Certificate{cert}}
	if cfg.TLS12 {
		s.tls.MaxVersion = tls.VersionTLS12
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	laddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("net.ResolveTCPAddr(tcp, %s): %w", addr, err)
	}
	s.l, err = config.GetTCPListenerFunc(deps)("tcp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen(tcp, %s): %w", addr, err)
	}

	maxClients := cfg.MaxClients
	if maxClients == 0 {
		maxClients = config.DefaultMaxClients
	}
	s.slots = semaphore.New(maxClients)

	return s, nil
}

// CA returns the certificate authority that signed the server certificate.
func (s *Server) CA() *crypto.CA {
	return s.ca
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.l.Addr()
}

// Close stops accepting clients. Connected clients are served until
// they leave or the context is cancelled.
func (s *Server) Close() error {
	return s.l.Close()
}

// Serve accepts clients until the context is cancelled or Close is called.
func (s *Server) Serve() error {
	s.logger.InfoMsg("Listening on %s", s.l.Addr())

	stop := context.AfterFunc(s.ctx, func() { s.l.Close() })
	defer stop()
	defer s.wg.Wait()

	for {
		conn, err := s.l.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("Accept(): %w", err)
		}

		if err := s.slots.Acquire(s.ctx, slotTimeout); err != nil {
			s.logger.ErrorMsg("Rejecting %s: %s", conn.RemoteAddr(), err)
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.slots.Release()
			s.handle(conn)
		}()
	}
}

// handle echoes everything the client sends. The wire log sits below
// the TLS layer and records ciphertext only.
func (s *Server) handle(raw net.Conn) {
	remote := raw.RemoteAddr()
	s.logger.InfoMsg("New connection from %s", remote)
	defer s.logger.InfoMsg("Connection from %s lost", remote)

	if s.cfg.WireLog != "" {
		logged, err := log.NewLoggedConn(raw, s.cfg.WireLog)
		if err != nil {
			s.logger.ErrorMsg("Handling %s: enabling logging to %s: %s", remote, s.cfg.WireLog, err)
			raw.Close()
			return
		}
		raw = logged
	}

	conn := tls.Server(raw, s.tls)
	defer conn.Close()
	stop := context.AfterFunc(s.ctx, func() { conn.Close() })
	defer stop()

	if err := conn.HandshakeContext(s.ctx); err != nil {
		s.logger.ErrorMsg("Handling %s: handshake: %s", remote, err)
		return
	}
	st := conn.ConnectionState()
	s.logger.VerboseMsg("%s: %s %s, resumed: %t", remote,
		tls.VersionName(st.Version), tls.CipherSuiteName(st.CipherSuite), st.DidResume)

	if _, err := io.Copy(conn, conn); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.VerboseMsg("Handling %s: %s", remote, err)
	}
}
