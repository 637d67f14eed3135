package ssl

import (
	"crypto/x509"
	"encoding/binary"
	"fmt"

	"dominicbreuker/sslkit/pkg/result"
)

// Chain buffers start with a header: the certificate count followed by an
// offset/length pair per certificate, all big endian uint32. Offsets are
// relative to the start of the buffer. The DER blobs follow the header.
const (
	certCountSize = 4
	certEntrySize = 8
)

// certBufferLayout returns the size needed for certs and how many of them
// fit into size bytes when only whole certificates are written.
func certBufferLayout(certs []*x509.Certificate, chain bool, size int) (needed, fit int) {
	if !chain {
		if len(certs) == 0 {
			return 0, 0
		}
		needed = len(certs[0].Raw)
		if needed <= size {
			fit = 1
		}
		return needed, fit
	}

	needed = certCountSize + certEntrySize*len(certs)
	for _, c := range certs {
		needed += len(c.Raw)
	}

	used := certCountSize
	for _, c := range certs {
		next := used + certEntrySize + len(c.Raw)
		if next > size {
			break
		}
		used = next
		fit++
	}
	return needed, fit
}

// writeCertBuffer fills buf and returns the number of bytes written, the
// number of bytes the full output needs and whether everything fit.
func writeCertBuffer(buf []byte, certs []*x509.Certificate, chain bool) (written, needed int, complete bool) {
	needed, fit := certBufferLayout(certs, chain, len(buf))

	if !chain {
		if fit == 1 {
			written = copy(buf, certs[0].Raw)
		}
		return written, needed, written == needed
	}

	if len(buf) < certCountSize {
		return 0, needed, false
	}

	binary.BigEndian.PutUint32(buf, uint32(fit))
	off := certCountSize + certEntrySize*fit
	for i := 0; i < fit; i++ {
		der := certs[i].Raw
		entry := buf[certCountSize+certEntrySize*i:]
		binary.BigEndian.PutUint32(entry, uint32(off))
		binary.BigEndian.PutUint32(entry[4:], uint32(len(der)))
		off += copy(buf[off:], der)
	}
	return off, needed, fit == len(certs)
}

// CertBufferCount returns the number of certificates in a chain buffer.
func CertBufferCount(buf []byte) (int, error) {
	if len(buf) < certCountSize {
		return 0, result.Wrap(result.CodeInvalidCertBuffer, fmt.Errorf("buffer of %d bytes has no header", len(buf)))
	}
	n := int(binary.BigEndian.Uint32(buf))
	if certCountSize+certEntrySize*n > len(buf) {
		return 0, result.Wrap(result.CodeInvalidCertBuffer, fmt.Errorf("header announces %d certificates", n))
	}
	return n, nil
}

// CertBufferEntry returns the DER certificate at index in a chain buffer.
// The result aliases buf.
func CertBufferEntry(buf []byte, index int) ([]byte, error) {
	n, err := CertBufferCount(buf)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= n {
		return nil, result.Wrap(result.CodeInvalidIndex, fmt.Errorf("index %d not in [0, %d)", index, n))
	}

	entry := buf[certCountSize+certEntrySize*index:]
	off := int(binary.BigEndian.Uint32(entry))
	length := int(binary.BigEndian.Uint32(entry[4:]))
	if off < certCountSize+certEntrySize*n || length < 0 || off+length > len(buf) {
		return nil, result.Wrap(result.CodeInvalidCertBuffer, fmt.Errorf("entry %d out of bounds", index))
	}
	return buf[off : off+length], nil
}
