// Package helpers provides common utilities for integration and end-to-end tests.
package helpers

import (
	"io"

	"dominicbreuker/sslkit/mocks/stdio"
	"dominicbreuker/sslkit/mocks/tcp"
	"dominicbreuker/sslkit/pkg/config"
)

// SetupMockDependencies creates a complete set of mock dependencies
// for testing with both mocked network and stdio.
func SetupMockDependencies() (*tcp.MockTCPNetwork, *stdio.MockStdio, *config.Dependencies) {
	mockNet := tcp.NewMockTCPNetwork()
	mockStdio := stdio.NewMockStdio()

	deps := &config.Dependencies{
		TCPDialer:   mockNet.DialTCP,
		TCPListener: mockNet.ListenTCP,
		Stdin:       func() io.Reader { return mockStdio.GetStdin() },
		Stdout:      func() io.Writer { return mockStdio.GetStdout() },
	}

	return mockNet, mockStdio, deps
}
