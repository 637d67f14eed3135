package ssl

import (
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"dominicbreuker/sslkit/pkg/result"
)

// verifyPeer runs the checks selected by opts against the server
// certificates and returns every failure, not just the first.
func verifyPeer(certs []*x509.Certificate, opts VerifyOption, host string, pool *x509.CertPool, ev []asn1.ObjectIdentifier, now time.Time) error {
	if opts == VerifyNone {
		return nil
	}
	if len(certs) == 0 {
		return result.Wrap(result.CodeVerifyNoPeerCertificate, fmt.Errorf("server sent no certificate"))
	}

	leaf := certs[0]
	var errs error

	if opts.Has(VerifyPeerCA) {
		errs = multierr.Append(errs, verifyChain(leaf, certs[1:], pool, now))
	}

	if opts.Has(VerifyDate) {
		switch {
		case now.Before(leaf.NotBefore):
			errs = multierr.Append(errs, result.Wrap(result.CodeVerifyCertNotYetValid,
				fmt.Errorf("certificate valid from %s", leaf.NotBefore.UTC().Format(time.RFC3339))))
		case now.After(leaf.NotAfter):
			errs = multierr.Append(errs, result.Wrap(result.CodeVerifyCertExpired,
				fmt.Errorf("certificate expired at %s", leaf.NotAfter.UTC().Format(time.RFC3339))))
		}
	}

	if opts.Has(VerifyHostName) {
		if host == "" {
			errs = multierr.Append(errs, result.Wrap(result.CodeVerifyHostNameMismatch,
				fmt.Errorf("no host name set")))
		} else if err := leaf.VerifyHostname(host); err != nil {
			errs = multierr.Append(errs, result.Wrap(result.CodeVerifyHostNameMismatch, err))
		}
	}

	if opts.Has(VerifyEVPolicy) && !hasPolicy(leaf, ev) {
		errs = multierr.Append(errs, result.Wrap(result.CodeVerifyEVPolicyFailed,
			fmt.Errorf("certificate carries none of %d accepted EV policies", len(ev))))
	}

	return errs
}

// verifyChain checks the chain to a trusted root. Validity periods are
// checked separately, so the leaf is verified at a time inside its own
// validity window.
func verifyChain(leaf *x509.Certificate, intermediates []*x509.Certificate, pool *x509.CertPool, now time.Time) error {
	at := now
	if at.Before(leaf.NotBefore) {
		at = leaf.NotBefore
	}
	if at.After(leaf.NotAfter) {
		at = leaf.NotAfter
	}

	inter := x509.NewCertPool()
	for _, c := range intermediates {
		inter.AddCert(c)
	}

	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         pool,
		Intermediates: inter,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	if err == nil {
		return nil
	}
	if code := result.CodeOf(result.FromTLSError(err)); code >= result.CodeVerifyUnknownCA && code <= result.CodeVerifyNoPeerCertificate {
		return result.Wrap(code, err)
	}
	return result.Wrap(result.CodeVerifyInvalidChain, err)
}

func hasPolicy(leaf *x509.Certificate, accepted []asn1.ObjectIdentifier) bool {
	for _, have := range leaf.PolicyIdentifiers {
		for _, want := range accepted {
			if have.Equal(want) {
				return true
			}
		}
	}
	return false
}

// parseFailure recognizes server certificates crypto/tls could not parse
// before the connection got to run its own checks.
func parseFailure(err error) error {
	if err != nil && strings.Contains(err.Error(), "failed to parse certificate") {
		return result.Wrap(result.CodeVerifyCertParseFailed, err)
	}
	return nil
}
