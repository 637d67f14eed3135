// Package stdio provides an in-memory stdin and stdout pair for tests
// driving the CLI commands.
package stdio

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// MockStdio provides mock implementations of stdin and stdout for testing.
// Stdin is a pipe, so reads block until the test writes or closes it.
type MockStdio struct {
	stdinReader *io.PipeReader
	stdinWriter *io.PipeWriter

	mu        sync.Mutex
	outputBuf bytes.Buffer
	updated   chan struct{}
}

// NewMockStdio creates a new mock stdio.
func NewMockStdio() *MockStdio {
	stdinR, stdinW := io.Pipe()
	return &MockStdio{
		stdinReader: stdinR,
		stdinWriter: stdinW,
		updated:     make(chan struct{}),
	}
}

// WriteToStdin writes data to the mock stdin pipe.
// This simulates user input that will be read by the application.
func (m *MockStdio) WriteToStdin(data []byte) (int, error) {
	return m.stdinWriter.Write(data)
}

// CloseStdin ends stdin like a user pressing Ctrl-D.
func (m *MockStdio) CloseStdin() error {
	return m.stdinWriter.Close()
}

// ReadFromStdout returns everything written to stdout so far.
func (m *MockStdio) ReadFromStdout() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outputBuf.String()
}

// GetStdin returns a reader for stdin (used by the dependency injection).
func (m *MockStdio) GetStdin() io.Reader {
	return m.stdinReader
}

// GetStdout returns a writer for stdout (used by the dependency injection).
func (m *MockStdio) GetStdout() io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		n, err := m.outputBuf.Write(p)
		close(m.updated)
		m.updated = make(chan struct{})
		return n, err
	})
}

// WaitForOutput waits for the expected string to appear in stdout within the given timeout.
// The timeout is specified in milliseconds.
func (m *MockStdio) WaitForOutput(expected string, timeoutMs int) error {
	timeout := time.After(time.Duration(timeoutMs) * time.Millisecond)

	for {
		m.mu.Lock()
		out, updated := m.outputBuf.String(), m.updated
		m.mu.Unlock()

		if strings.Contains(out, expected) {
			return nil
		}

		select {
		case <-updated:
		case <-timeout:
			return fmt.Errorf("timeout waiting for output %q, got: %q", expected, out)
		}
	}
}

// Close closes stdin.
func (m *MockStdio) Close() error {
	return m.stdinWriter.Close()
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) {
	return f(p)
}
