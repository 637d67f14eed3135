// Package pipeio copies data between two streams in both directions, for
// example between a TLS connection and the terminal.
package pipeio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"

	"github.com/muesli/cancelreader"
)

// Pipe copies between rwc1 and rwc2 until one direction ends or ctx is
// cancelled, then closes both. Errors that only signal a closed stream are
// not passed to logfunc.
func Pipe(ctx context.Context, rwc1 io.ReadWriteCloser, rwc2 io.ReadWriteCloser, logfunc func(error)) {
	var wg sync.WaitGroup
	var o sync.Once

	done := make(chan struct{})
	closeBoth := func() {
		rwc1.Close()
		rwc2.Close()
		close(done)
	}

	copyStream := func(dst io.Writer, src io.Reader, name string) {
		defer wg.Done()
		if _, err := io.Copy(dst, src); err != nil && !isClosed(err) {
			logfunc(fmt.Errorf("io.Copy(%s): %w", name, err))
		}
		o.Do(closeBoth)
	}

	wg.Add(2)
	go copyStream(rwc1, rwc2, "rwc1, rwc2")
	go copyStream(rwc2, rwc1, "rwc2, rwc1")

	select {
	case <-ctx.Done():
		o.Do(closeBoth)
	case <-done:
	}
	wg.Wait()
}

func isClosed(err error) bool {
	return errors.Is(err, cancelreader.ErrCanceled) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
