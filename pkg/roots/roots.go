// Package roots manages the trust store a TLS context verifies peers against.
//
// It handles loading of system certificates and custom CA certificates from
// PEM data, files and directories.
package roots

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrNoCertsFound is returned when no certificates are found in PEM data.
	ErrNoCertsFound = errors.New("roots: no certificates found in PEM data")
)

// Pool is a concurrency-safe set of trusted root certificates.
type Pool struct {
	mu       sync.RWMutex
	certPool *x509.CertPool
	count    int
}

// NewSystemPool creates a pool seeded with the system roots.
// If system roots cannot be loaded, it creates an empty pool.
func NewSystemPool() *Pool {
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	return &Pool{certPool: pool}
}

// NewPool creates an empty pool without system roots.
func NewPool() *Pool {
	return &Pool{certPool: x509.NewCertPool()}
}

// AddCertPEM adds every CERTIFICATE block of pemData and returns how many
// were added. Non-certificate blocks are skipped.
func (p *Pool) AddCertPEM(pemData []byte) (int, error) {
	var certs []*x509.Certificate

	for len(pemData) > 0 {
		var block *pem.Block
		block, pemData = pem.Decode(pemData)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return 0, fmt.Errorf("roots: parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		return 0, ErrNoCertsFound
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cert := range certs {
		p.certPool.AddCert(cert)
	}
	p.count += len(certs)

	return len(certs), nil
}

// AddCertDER adds a single DER-encoded certificate.
func (p *Pool) AddCertDER(der []byte) error {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("roots: parse certificate: %w", err)
	}
	p.AddCert(cert)
	return nil
}

// AddCert adds a parsed certificate.
func (p *Pool) AddCert(cert *x509.Certificate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.certPool.AddCert(cert)
	p.count++
}

// AddCertFile adds certificates from a PEM file.
func (p *Pool) AddCertFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("roots: read cert file %s: %w", path, err)
	}
	return p.AddCertPEM(data)
}

// AddCertDir adds all .pem, .crt and .cer files of dir. Files that fail to
// parse are skipped; the number of added certificates is returned.
func (p *Pool) AddCertDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("roots: read dir %s: %w", dir, err)
	}

	total := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".pem", ".crt", ".cer":
			n, err := p.AddCertFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				continue
			}
			total += n
		}
	}

	return total, nil
}

// Added returns how many certificates were added on top of the initial set.
func (p *Pool) Added() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.count
}

// CertPool returns a snapshot usable in x509.VerifyOptions.
func (p *Pool) CertPool() *x509.CertPool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.certPool.Clone()
}
