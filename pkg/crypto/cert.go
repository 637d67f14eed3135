package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"net"
	"time"
)

// LeafOptions describes a server certificate issued by a CA.
// Zero NotBefore/NotAfter default to a validity window around now.
type LeafOptions struct {
	DNSNames    []string
	IPAddresses []net.IP
	NotBefore   time.Time
	NotAfter    time.Time
	// Policies are certificate policy OIDs, e.g. an EV policy.
	Policies []asn1.ObjectIdentifier
	// Intermediates inserts this many intermediate CAs between the leaf
	// and the root, so the served chain gets longer.
	Intermediates int
}

// Issue creates a leaf certificate signed by the CA, directly or through
// freshly generated intermediates. The returned chain holds the leaf first,
// then the intermediates and finally the CA certificate.
func (ca *CA) Issue(opts LeafOptions) (tls.Certificate, error) {
	var out tls.Certificate

	issuer, issuerKey := ca.Cert, ca.Key
	var chain [][]byte
	for i := 0; i < opts.Intermediates; i++ {
		cert, key, err := ca.intermediate(issuer, issuerKey, i)
		if err != nil {
			return out, fmt.Errorf("issuing intermediate %d: %w", i, err)
		}
		chain = append([][]byte{cert.Raw}, chain...)
		issuer, issuerKey = cert, key
	}

	key, err := ecdsa.GenerateKey(ca.Key.Curve, rand.Reader)
	if err != nil {
		return out, fmt.Errorf("failed to generate key pair: %w", err)
	}

	commonName := "localhost"
	if len(opts.DNSNames) > 0 {
		commonName = opts.DNSNames[0]
	}

	serial, err := randomSerial(rand.Reader)
	if err != nil {
		return out, fmt.Errorf("generating serial: %w", err)
	}

	notBefore, notAfter := opts.NotBefore, opts.NotAfter
	if notBefore.IsZero() {
		notBefore = time.Now().Add(-time.Hour)
	}
	if notAfter.IsZero() {
		notAfter = time.Now().Add(365 * 24 * time.Hour)
	}

	tmpl := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		DNSNames:     opts.DNSNames,
		IPAddresses:  opts.IPAddresses,
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if err := setPolicies(&tmpl, opts.Policies); err != nil {
		return out, err
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, issuer, &key.PublicKey, issuerKey)
	if err != nil {
		return out, fmt.Errorf("failed to create server certificate: %w", err)
	}

	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return out, fmt.Errorf("x509.ParseCertificate(leaf): %w", err)
	}

	out = tls.Certificate{
		Certificate: append(append([][]byte{der}, chain...), ca.Cert.Raw),
		PrivateKey:  key,
		Leaf:        leaf,
	}

	return out, nil
}

func (ca *CA) intermediate(parent *x509.Certificate, parentKey *ecdsa.PrivateKey, depth int) (*x509.Certificate, *ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(ca.Key.Curve, rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	name, err := generateRandomString(8, getRandReader(fmt.Sprintf("%s/%d", ca.seed, depth)))
	if err != nil {
		return nil, nil, err
	}

	serial, err := randomSerial(rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             parent.NotBefore,
		NotAfter:              parent.NotAfter,
		BasicConstraintsValid: true,
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, parent, &key.PublicKey, parentKey)
	if err != nil {
		return nil, nil, err
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	return cert, key, nil
}

// setPolicies fills both policy fields so the extension is encoded the same
// way regardless of the x509usepolicies setting.
func setPolicies(tmpl *x509.Certificate, policies []asn1.ObjectIdentifier) error {
	for _, p := range policies {
		ints := make([]uint64, len(p))
		for i, v := range p {
			ints[i] = uint64(v)
		}
		oid, err := x509.OIDFromInts(ints)
		if err != nil {
			return fmt.Errorf("policy %s: %w", p, err)
		}
		tmpl.Policies = append(tmpl.Policies, oid)
		tmpl.PolicyIdentifiers = append(tmpl.PolicyIdentifiers, p)
	}
	return nil
}
