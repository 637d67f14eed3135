package result

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// FromTransportError maps socket level failures onto connection results.
// They are reported verbatim: no retry happens at this layer. Errors that
// are not transport failures come back wrapped as CodeErrorLower.
func FromTransportError(err error) error {
	if err == nil {
		return nil
	}

	var coded *Error
	if errors.As(err, &coded) {
		return err
	}

	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return Wrap(CodeConnectionClosed, err)
	case errors.Is(err, os.ErrDeadlineExceeded):
		return Wrap(CodeIoTimeout, err)
	case errors.Is(err, syscall.ECONNRESET):
		return Wrap(CodeConnectionReset, err)
	case errors.Is(err, syscall.ECONNABORTED):
		return Wrap(CodeConnectionAborted, err)
	case errors.Is(err, syscall.ENETDOWN), errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return Wrap(CodeNetworkDown, err)
	case errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.ESHUTDOWN), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return Wrap(CodeSocketShutdown, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Wrap(CodeIoTimeout, err)
	}

	return Wrap(CodeErrorLower, err)
}
