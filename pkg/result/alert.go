package result

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"strings"
)

// Alert descriptions as crypto/tls prints them, keyed by wire number.
var alertText = map[uint8]string{
	0:   "close notify",
	10:  "unexpected message",
	20:  "bad record MAC",
	21:  "decryption failed",
	22:  "record overflow",
	30:  "decompression failure",
	40:  "handshake failure",
	42:  "bad certificate",
	43:  "unsupported certificate",
	44:  "revoked certificate",
	45:  "expired certificate",
	46:  "unknown certificate",
	47:  "illegal parameter",
	48:  "unknown certificate authority",
	49:  "access denied",
	50:  "error decoding message",
	51:  "error decrypting message",
	60:  "export restriction",
	70:  "protocol version not supported",
	71:  "insufficient security level",
	80:  "internal error",
	86:  "inappropriate fallback",
	90:  "user canceled",
	100: "no renegotiation",
	109: "missing extension",
	110: "unsupported extension",
	111: "certificate unobtainable",
	112: "unrecognized name",
	113: "bad certificate status response",
	114: "bad certificate hash value",
	115: "unknown PSK identity",
	116: "certificate required",
	120: "no application protocol",
}

var alertByText = func() map[string]uint8 {
	m := make(map[string]uint8, len(alertText))
	for n, text := range alertText {
		m[text] = n
	}
	return m
}()

// AlertCode mirrors TLS alert n into the 1500 range.
func AlertCode(n uint8) Code {
	if Code(n) > AlertMax-AlertBase {
		return CodeHandshakeFailed
	}
	return AlertBase + Code(n)
}

// alertFromText parses "tls: <description>" as produced by crypto/tls.
func alertFromText(s string) (uint8, bool) {
	s = strings.TrimPrefix(s, "tls: ")
	n, ok := alertByText[s]
	return n, ok
}

// FromTLSError classifies a handshake or record-layer failure. Alerts
// received from the peer map into the alert mirror, certificate parse and
// verification errors into the 3xx range. Unknown errors fall back to
// FromTransportError and finally CodeHandshakeFailed.
func FromTLSError(err error) error {
	if err == nil {
		return nil
	}

	var coded *Error
	if errors.As(err, &coded) {
		return err
	}

	var alertErr tls.AlertError
	if errors.As(err, &alertErr) {
		return Wrap(AlertCode(uint8(alertErr)), err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "remote error" && opErr.Err != nil {
		if n, ok := alertFromText(opErr.Err.Error()); ok {
			return Wrap(AlertCode(n), err)
		}
	}

	var recErr tls.RecordHeaderError
	if errors.As(err, &recErr) {
		return Wrap(CodeBadRecord, err)
	}

	var unknownAuth x509.UnknownAuthorityError
	if errors.As(err, &unknownAuth) {
		return Wrap(CodeVerifyUnknownCA, err)
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return Wrap(CodeVerifyHostNameMismatch, err)
	}
	var invalidErr x509.CertificateInvalidError
	if errors.As(err, &invalidErr) {
		if invalidErr.Reason == x509.Expired {
			return Wrap(CodeVerifyCertExpired, err)
		}
		return Wrap(CodeVerifyInvalidChain, err)
	}

	if mapped := FromTransportError(err); CodeOf(mapped) != CodeErrorLower {
		return mapped
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "renegotiation"):
		return Wrap(CodeRenegotiationRefused, err)
	case strings.Contains(msg, "protocol version"):
		return Wrap(CodeUnsupportedVersion, err)
	case strings.Contains(msg, "no cipher suite supported"):
		return Wrap(CodeNoCipher, err)
	}

	return Wrap(CodeHandshakeFailed, err)
}
