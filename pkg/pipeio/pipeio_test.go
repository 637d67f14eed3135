package pipeio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/muesli/cancelreader"
)

// fakeRWC is a ReadWriteCloser over a reader and a writer.
type fakeRWC struct {
	reader io.Reader
	writer io.Writer

	mu     sync.Mutex
	closed bool
}

func newFakeRWC(reader io.Reader, writer io.Writer) *fakeRWC {
	return &fakeRWC{reader: reader, writer: writer}
}

func (f *fakeRWC) Read(p []byte) (int, error) {
	return f.reader.Read(p)
}

func (f *fakeRWC) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, io.ErrClosedPipe
	}
	return f.writer.Write(p)
}

func (f *fakeRWC) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if c, ok := f.reader.(io.Closer); ok {
		c.Close()
	}
	return nil
}

func (f *fakeRWC) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// errorReader fails every read with err.
type errorReader struct {
	err error
}

func (e *errorReader) Read([]byte) (int, error) {
	return 0, e.err
}

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) log(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *errorLog) get() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

func runPipe(t *testing.T, ctx context.Context, a, b io.ReadWriteCloser, logfunc func(error)) <-chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		Pipe(ctx, a, b, logfunc)
		close(done)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Pipe() did not return")
	}
}

func TestPipe_CopiesBothDirections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		fromA    bool
		wantData string
	}{
		{"a to b", true, "from a"},
		{"b to a", false, "from b"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// One side delivers data and EOF, the other blocks until the
			// pipe closes it.
			blocked, blockedWriter := io.Pipe()
			defer blockedWriter.Close()
			aOut, bOut := &syncBuffer{}, &syncBuffer{}

			var a, b *fakeRWC
			var out *syncBuffer
			if tc.fromA {
				a = newFakeRWC(strings.NewReader(tc.wantData), aOut)
				b = newFakeRWC(blocked, bOut)
				out = bOut
			} else {
				a = newFakeRWC(blocked, aOut)
				b = newFakeRWC(strings.NewReader(tc.wantData), bOut)
				out = aOut
			}

			logs := &errorLog{}
			waitDone(t, runPipe(t, context.Background(), a, b, logs.log))

			if got := out.String(); got != tc.wantData {
				t.Errorf("received %q, want %q", got, tc.wantData)
			}
			if !a.isClosed() || !b.isClosed() {
				t.Error("Pipe() did not close both streams")
			}
			if errs := logs.get(); len(errs) != 0 {
				t.Errorf("unexpected errors: %v", errs)
			}
		})
	}
}

func TestPipe_ContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	aIn, aInWriter := io.Pipe()
	defer aInWriter.Close()
	bIn, bInWriter := io.Pipe()
	defer bInWriter.Close()
	a := newFakeRWC(aIn, io.Discard)
	b := newFakeRWC(bIn, io.Discard)

	logs := &errorLog{}
	done := runPipe(t, ctx, a, b, logs.log)

	cancel()
	waitDone(t, done)

	if !a.isClosed() || !b.isClosed() {
		t.Error("Pipe() did not close both streams")
	}
}

func TestPipe_ErrorLogging(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")

	tests := []struct {
		name    string
		err     error
		wantLog bool
	}{
		{"cancelreader canceled", cancelreader.ErrCanceled, false},
		{"connection reset", syscall.ECONNRESET, false},
		{"broken pipe", syscall.EPIPE, false},
		{"closed pipe", io.ErrClosedPipe, false},
		{"other error", boom, true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			bIn, bInWriter := io.Pipe()
			defer bInWriter.Close()
			a := newFakeRWC(&errorReader{err: tc.err}, io.Discard)
			b := newFakeRWC(bIn, io.Discard)

			logs := &errorLog{}
			waitDone(t, runPipe(t, context.Background(), a, b, logs.log))

			errs := logs.get()
			if tc.wantLog {
				if len(errs) != 1 || !errors.Is(errs[0], tc.err) {
					t.Errorf("logged %v, want one error wrapping %v", errs, tc.err)
				}
				return
			}
			if len(errs) != 0 {
				t.Errorf("logged %v, want nothing", errs)
			}
		})
	}
}
