package log

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// loggedConn wraps a net.Conn and records every chunk read or written as a
// direction-tagged hex dump. Used as a wire log below the TLS layer, so the
// file contains records, never plaintext.
type loggedConn struct {
	net.Conn

	mu      sync.Mutex
	logFile *os.File
	now     func() time.Time
}

func (lc *loggedConn) Read(b []byte) (int, error) {
	n, err := lc.Conn.Read(b)
	if n > 0 {
		if werr := lc.record("<", b[:n]); werr != nil {
			return n, fmt.Errorf("wire log: %w", werr)
		}
	}
	return n, err
}

func (lc *loggedConn) Write(b []byte) (int, error) {
	n, err := lc.Conn.Write(b)
	if n > 0 {
		if werr := lc.record(">", b[:n]); werr != nil {
			return n, fmt.Errorf("wire log: %w", werr)
		}
	}
	return n, err
}

// Close closes the connection and the log file.
func (lc *loggedConn) Close() error {
	err := lc.Conn.Close()

	lc.mu.Lock()
	defer lc.mu.Unlock()
	if cerr := lc.logFile.Close(); err == nil {
		err = cerr
	}
	return err
}

func (lc *loggedConn) record(dir string, b []byte) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	header := fmt.Sprintf("%s %s %d bytes\n", lc.now().UTC().Format(time.RFC3339Nano), dir, len(b))
	if _, err := lc.logFile.WriteString(header); err != nil {
		return err
	}
	_, err := lc.logFile.WriteString(hex.Dump(b))
	return err
}

// NewLoggedConn wraps a network connection to log all data read from and written to it.
// The log file is created or appended to at the specified path.
func NewLoggedConn(conn net.Conn, logFilePath string) (net.Conn, error) {
	logFile, err := os.OpenFile(logFilePath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening wire log %s: %w", logFilePath, err)
	}

	return &loggedConn{Conn: conn, logFile: logFile, now: time.Now}, nil
}

// DetachWireLog closes the log file of a connection returned by
// NewLoggedConn and leaves the connection open. Other connections are
// ignored.
func DetachWireLog(conn net.Conn) error {
	lc, ok := conn.(*loggedConn)
	if !ok {
		return nil
	}
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.logFile.Close()
}
