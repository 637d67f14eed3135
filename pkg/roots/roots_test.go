package roots

import (
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"dominicbreuker/sslkit/pkg/crypto"
)

func TestPool_AddCertPEM(t *testing.T) {
	t.Parallel()

	ca, err := crypto.NewCA("roots")
	if err != nil {
		t.Fatalf("NewCA() error = %v", err)
	}

	p := NewPool()
	n, err := p.AddCertPEM(append(append([]byte{}, ca.KeyPEM...), ca.CertPEM...))
	if err != nil {
		t.Fatalf("AddCertPEM() error = %v", err)
	}
	if n != 1 || p.Added() != 1 {
		t.Errorf("added = %d/%d, want 1", n, p.Added())
	}

	leaf, err := ca.Issue(crypto.LeafOptions{DNSNames: []string{"roots.test"}})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := leaf.Leaf.Verify(x509.VerifyOptions{Roots: p.CertPool()}); err != nil {
		t.Errorf("leaf does not verify against pool: %v", err)
	}
}

func TestPool_AddCertPEM_Empty(t *testing.T) {
	t.Parallel()

	_, err := NewPool().AddCertPEM([]byte("not pem"))
	if !errors.Is(err, ErrNoCertsFound) {
		t.Errorf("AddCertPEM() error = %v, want ErrNoCertsFound", err)
	}
}

func TestPool_AddCertDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for i, name := range []string{"a.pem", "b.crt", "ignored.txt"} {
		ca, err := crypto.NewCA(name)
		if err != nil {
			t.Fatalf("NewCA() error = %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), ca.CertPEM, 0600); err != nil {
			t.Fatalf("WriteFile(%d) error = %v", i, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.pem"), []byte("garbage"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	p := NewPool()
	n, err := p.AddCertDir(dir)
	if err != nil {
		t.Fatalf("AddCertDir() error = %v", err)
	}
	if n != 2 {
		t.Errorf("AddCertDir() = %d, want 2", n)
	}
}

func TestPool_AddCertDER(t *testing.T) {
	t.Parallel()

	ca, err := crypto.NewCA("der")
	if err != nil {
		t.Fatalf("NewCA() error = %v", err)
	}

	p := NewPool()
	if err := p.AddCertDER(ca.Cert.Raw); err != nil {
		t.Fatalf("AddCertDER() error = %v", err)
	}
	if err := p.AddCertDER([]byte{0x30, 0x00}); err == nil {
		t.Error("AddCertDER(garbage) error = nil")
	}
	if p.Added() != 1 {
		t.Errorf("Added() = %d, want 1", p.Added())
	}
}
