//go:build unix

package ssl

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"dominicbreuker/sslkit/pkg/config"
	"dominicbreuker/sslkit/pkg/result"
)

// SetSocketDescriptor imports fd, which must be a connected TCP socket.
// From here on the connection owns fd: Destroy closes it unless
// OptionDoNotCloseSocket is set, and the caller must not use it for I/O
// in the meantime.
func (c *Connection) SetSocketDescriptor(fd int) error {
	if err := c.checkBindable(); err != nil {
		return err
	}
	if fd < 0 {
		return c.fail(result.Wrap(result.CodeInvalidSocketDescriptor, fmt.Errorf("descriptor %d", fd)))
	}

	conn, err := importDescriptor(fd, config.GetFileConnFunc(c.lib.deps))
	if err != nil {
		return c.fail(err)
	}
	return c.bind(conn, fd, true)
}

// importDescriptor checks that fd is a connected internet stream socket
// and returns a net.Conn on a duplicate of it, so the original descriptor
// stays under the caller's control.
func importDescriptor(fd int, fileConn config.FileConnFunc) (net.Conn, error) {
	typ, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	switch {
	case errors.Is(err, unix.EBADF):
		return nil, result.Wrap(result.CodeInvalidSocketDescriptor, fmt.Errorf("descriptor %d: %w", fd, err))
	case err != nil:
		return nil, result.Wrap(result.CodeNoTcpConnection, fmt.Errorf("descriptor %d: %w", fd, err))
	case typ != unix.SOCK_STREAM:
		return nil, result.Wrap(result.CodeNoTcpConnection, fmt.Errorf("descriptor %d is not a stream socket", fd))
	}

	peer, err := unix.Getpeername(fd)
	if err != nil {
		return nil, result.Wrap(result.CodeNoTcpConnection, fmt.Errorf("descriptor %d has no peer: %w", fd, err))
	}
	switch peer.(type) {
	case *unix.SockaddrInet4, *unix.SockaddrInet6:
	default:
		return nil, result.Wrap(result.CodeNoTcpConnection, fmt.Errorf("descriptor %d is not an internet socket", fd))
	}

	dup, err := unix.Dup(fd)
	if err != nil {
		return nil, result.Wrap(result.CodeInsufficientMemory, fmt.Errorf("dup(%d): %w", fd, err))
	}
	unix.CloseOnExec(dup)

	f := os.NewFile(uintptr(dup), fmt.Sprintf("sslkit-fd-%d", fd))
	conn, err := fileConn(f)
	f.Close()
	if err != nil {
		return nil, result.Wrap(result.CodeNoTcpConnection, fmt.Errorf("descriptor %d: %w", fd, err))
	}
	return conn, nil
}

// releaseDescriptor closes fd, or hands it back in blocking mode when the
// caller keeps it.
func releaseDescriptor(fd int, keep bool) error {
	if keep {
		return unix.SetNonblock(fd, false)
	}
	return unix.Close(fd)
}
