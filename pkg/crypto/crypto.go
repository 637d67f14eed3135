// Package crypto generates certificate authorities and server certificates
// for the local test server and for handshake tests.
package crypto

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
)

// GenerateCertificates creates a CA from seed and a server certificate for
// hosts signed by it. Hosts that parse as IP addresses become IP SANs.
func GenerateCertificates(seed string, hosts ...string) (*CA, *x509.CertPool, tls.Certificate, error) {
	var cert tls.Certificate
	var err error

	// if seed is unspecified we use a random one
	if seed == "" {
		seed, err = GenerateRandomString(32)
		if err != nil {
			return nil, nil, cert, fmt.Errorf("GenerateRandomString(32): %w", err)
		}
	}

	ca, err := NewCA(seed)
	if err != nil {
		return nil, nil, cert, fmt.Errorf("NewCA(%s): %w", seed, err)
	}

	var opts LeafOptions
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			opts.IPAddresses = append(opts.IPAddresses, ip)
		} else {
			opts.DNSNames = append(opts.DNSNames, h)
		}
	}

	cert, err = ca.Issue(opts)
	if err != nil {
		return nil, nil, cert, fmt.Errorf("Issue(%v): %w", hosts, err)
	}

	return ca, ca.Pool(), cert, nil
}
