package ssl

import (
	"crypto/x509"
	"encoding/asn1"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"dominicbreuker/sslkit/mocks/tcp"
	"dominicbreuker/sslkit/pkg/crypto"
	"dominicbreuker/sslkit/pkg/result"
)

var evPolicy = asn1.ObjectIdentifier{2, 23, 140, 1, 1}

func codes(err error) []result.Code {
	var out []result.Code
	for _, e := range multierr.Errors(err) {
		out = append(out, result.CodeOf(e))
	}
	return out
}

func TestVerifyPeer(t *testing.T) {
	ca, err := crypto.NewCA("verify")
	require.NoError(t, err)
	other, err := crypto.NewCA("other")
	require.NoError(t, err)
	now := time.Now()

	issue := func(ca *crypto.CA, opts crypto.LeafOptions) []*x509.Certificate {
		cert, err := ca.Issue(opts)
		require.NoError(t, err)
		var certs []*x509.Certificate
		for _, der := range cert.Certificate {
			c, err := x509.ParseCertificate(der)
			require.NoError(t, err)
			certs = append(certs, c)
		}
		return certs
	}

	good := issue(ca, crypto.LeafOptions{DNSNames: []string{serverName}})
	chained := issue(ca, crypto.LeafOptions{DNSNames: []string{serverName}, Intermediates: 2})
	withEV := issue(ca, crypto.LeafOptions{DNSNames: []string{serverName}, Policies: []asn1.ObjectIdentifier{evPolicy}})
	expired := issue(ca, crypto.LeafOptions{DNSNames: []string{serverName}, NotBefore: now.Add(-48 * time.Hour), NotAfter: now.Add(-24 * time.Hour)})
	future := issue(ca, crypto.LeafOptions{DNSNames: []string{serverName}, NotBefore: now.Add(time.Hour), NotAfter: now.Add(48 * time.Hour)})
	untrusted := issue(other, crypto.LeafOptions{DNSNames: []string{serverName}})
	// Without the intermediates the leaf cannot be chained to the root.
	orphan := chained[:1]

	tests := []struct {
		name  string
		certs []*x509.Certificate
		opts  VerifyOption
		host  string
		want  []result.Code
	}{
		{"valid", good, VerifyDefault, serverName, nil},
		{"valid chain", chained, VerifyDefault, serverName, nil},
		{"verify none", untrusted, VerifyNone, "", nil},
		{"no certificate", nil, VerifyDefault, serverName, []result.Code{result.CodeVerifyNoPeerCertificate}},
		{"unknown ca", untrusted, VerifyDefault, serverName, []result.Code{result.CodeVerifyUnknownCA}},
		{"unknown ca ignored", untrusted, VerifyHostName | VerifyDate, serverName, nil},
		{"missing intermediates", orphan, VerifyPeerCA, serverName, []result.Code{result.CodeVerifyUnknownCA}},
		{"expired", expired, VerifyDefault, serverName, []result.Code{result.CodeVerifyCertExpired}},
		{"expired ignored", expired, VerifyPeerCA | VerifyHostName, serverName, nil},
		{"not yet valid", future, VerifyDate, serverName, []result.Code{result.CodeVerifyCertNotYetValid}},
		{"host mismatch", good, VerifyDefault, "other.test", []result.Code{result.CodeVerifyHostNameMismatch}},
		{"no host name", good, VerifyHostName, "", []result.Code{result.CodeVerifyHostNameMismatch}},
		{"ev missing", good, VerifyAll, serverName, []result.Code{result.CodeVerifyEVPolicyFailed}},
		{"ev present", withEV, VerifyAll, serverName, nil},
		{
			"everything wrong", expired, VerifyAll, "other.test",
			[]result.Code{result.CodeVerifyCertExpired, result.CodeVerifyHostNameMismatch, result.CodeVerifyEVPolicyFailed},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := verifyPeer(tc.certs, tc.opts, tc.host, ca.Pool(), []asn1.ObjectIdentifier{evPolicy}, now)
			assert.Equal(t, tc.want, codes(err), "error: %v", err)
		})
	}
}

func TestVerifyOption_Bits(t *testing.T) {
	v := VerifyNone.With(VerifyPeerCA).With(VerifyDate)
	assert.True(t, v.Has(VerifyPeerCA))
	assert.False(t, v.Has(VerifyDefault))
	assert.Equal(t, VerifyDate, v.Without(VerifyPeerCA))
	assert.True(t, VerifyAll.valid())
	assert.False(t, (VerifyAll + 1<<4).valid())
}

func TestHandshake_VerifyErrors(t *testing.T) {
	e := newEnv(t, withContextOptions(func(opts *ContextOptions) {
		opts.EVPolicies = []asn1.ObjectIdentifier{evPolicy}
	}))
	other, err := crypto.NewCA("untrusted")
	require.NoError(t, err)
	cert, err := other.Issue(crypto.LeafOptions{DNSNames: []string{"other.test"}})
	require.NoError(t, err)
	_, addr := e.serve(&cert, 0, tcp.Echo)

	c, _ := e.connect(addr)
	require.NoError(t, c.SetVerifyOption(VerifyAll))

	err = c.DoHandshake()
	requireCode(t, err, result.CodeVerifyCertFailed)
	assert.Equal(t, StateClosed, c.State())

	// Too small: filled to capacity, nothing cleared.
	short := make([]error, 1)
	total, err := c.GetVerifyCertErrors(short)
	requireCode(t, err, result.CodeBufferTooShort)
	assert.Equal(t, 3, total)
	assert.Equal(t, result.CodeVerifyUnknownCA, result.CodeOf(short[0]))

	all := make([]error, total)
	total, err = c.GetVerifyCertErrors(all)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, []result.Code{
		result.CodeVerifyUnknownCA,
		result.CodeVerifyHostNameMismatch,
		result.CodeVerifyEVPolicyFailed,
	}, codes(multierr.Combine(all...)))

	total, err = c.GetVerifyCertErrors(all)
	require.NoError(t, err)
	assert.Zero(t, total, "errors are cleared once read")
	assert.NoError(t, c.GetVerifyCertError())

	_, err = c.Read(make([]byte, 1))
	requireCode(t, err, result.CodeConnectionClosed)
}

func TestHandshake_VerifyNone(t *testing.T) {
	e := newEnv(t)
	other, err := crypto.NewCA("untrusted")
	require.NoError(t, err)
	cert, err := other.Issue(crypto.LeafOptions{DNSNames: []string{"other.test"}})
	require.NoError(t, err)
	_, addr := e.serve(&cert, 0, tcp.Echo)

	c, _ := e.connect(addr)
	require.NoError(t, c.SetVerifyOption(VerifyNone))
	require.NoError(t, c.DoHandshake())
	assert.NoError(t, c.GetVerifyCertError())
}

func TestHandshake_VerifyFirstError(t *testing.T) {
	e := newEnv(t)
	cert := e.leaf(crypto.LeafOptions{DNSNames: []string{"other.test"}})
	_, addr := e.serve(&cert, 0, tcp.Echo)

	c, _ := e.connect(addr)
	requireCode(t, c.DoHandshake(), result.CodeVerifyCertFailed)

	err := c.GetVerifyCertError()
	requireCode(t, err, result.CodeVerifyHostNameMismatch)
	assert.NoError(t, c.GetVerifyCertError())
}
