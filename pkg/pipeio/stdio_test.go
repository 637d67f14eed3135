package pipeio

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/muesli/cancelreader"
)

func TestNewStdio_Defaults(t *testing.T) {
	t.Parallel()

	stdio := NewStdio(nil, nil)
	if stdio.stdin != os.Stdin {
		t.Error("NewStdio(nil, nil) does not read from os.Stdin")
	}
	if stdio.stdout != os.Stdout {
		t.Error("NewStdio(nil, nil) does not write to os.Stdout")
	}
}

func TestStdio_ReadWrite(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	stdio := NewStdio(bytes.NewReader([]byte("test input")), &out)

	buf := make([]byte, 64)
	n, err := stdio.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := string(buf[:n]); got != "test input" {
		t.Errorf("Read() = %q, want %q", got, "test input")
	}

	if _, err := stdio.Write([]byte("test output")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := out.String(); got != "test output" {
		t.Errorf("stdout = %q, want %q", got, "test output")
	}
}

func TestStdio_CloseCancelsRead(t *testing.T) {
	t.Parallel()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe() error = %v", err)
	}
	defer r.Close()
	defer w.Close()

	stdio := NewStdio(r, io.Discard)
	if stdio.cancellableStdin == nil {
		t.Skip("cancelable reads not supported on this platform")
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := stdio.Read(make([]byte, 8))
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := stdio.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, cancelreader.ErrCanceled) {
			t.Errorf("Read() error = %v, want %v", err, cancelreader.ErrCanceled)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read() was not canceled")
	}
}
