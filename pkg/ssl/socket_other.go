//go:build !unix

package ssl

import (
	"fmt"
	"runtime"

	"dominicbreuker/sslkit/pkg/result"
)

// SetSocketDescriptor is not supported on this platform; use SetSocket.
func (c *Connection) SetSocketDescriptor(fd int) error {
	if err := c.checkBindable(); err != nil {
		return err
	}
	return c.fail(result.Wrap(result.CodeNoTcpConnection,
		fmt.Errorf("descriptor import not supported on %s", runtime.GOOS)))
}

func releaseDescriptor(int, bool) error {
	return nil
}
