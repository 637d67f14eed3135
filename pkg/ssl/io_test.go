package ssl

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dominicbreuker/sslkit/mocks/tcp"
	"dominicbreuker/sslkit/pkg/crypto"
	"dominicbreuker/sslkit/pkg/result"
)

func TestIO_EchoRoundTrip(t *testing.T) {
	e := newEnv(t)
	cert := e.leaf(crypto.LeafOptions{})
	_, addr := e.serve(&cert, 0, tcp.Echo)
	c := e.established(addr)

	n, err := c.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	ready, err := c.Poll(PollRead, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, PollRead, ready)

	require.Eventually(t, func() bool {
		p, err := c.Pending()
		return err == nil && p == 5
	}, 5*time.Second, time.Millisecond)

	buf := make([]byte, 16)
	n, err = c.Peek(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	pending, err := c.Pending()
	require.NoError(t, err)
	assert.Equal(t, 5, pending, "peek keeps the data")

	n, err = c.Read(buf[:3])
	require.NoError(t, err)
	assert.Equal(t, "hel", string(buf[:n]))
	n, err = c.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "lo", string(buf[:n]))

	n, err = c.Read(nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestIO_NonBlockingReadWouldBlock(t *testing.T) {
	e := newEnv(t)
	cert := e.leaf(crypto.LeafOptions{})
	_, addr := e.serve(&cert, 0, tcp.Silent)
	c := e.established(addr)
	require.NoError(t, c.SetIoMode(IoModeNonBlocking))

	start := time.Now()
	_, err := c.Read(make([]byte, 8))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.ErrorIs(t, err, result.ErrIoWouldBlock)
	assert.Equal(t, StateEstablished, c.State(), "would-block keeps the connection usable")

	_, err = c.Peek(make([]byte, 8))
	assert.ErrorIs(t, err, result.ErrIoWouldBlock)

	ready, err := c.Poll(PollWrite, 0)
	require.NoError(t, err)
	assert.Equal(t, PollWrite, ready)

	_, err = c.Poll(PollRead, 0)
	assert.ErrorIs(t, err, result.ErrIoTimeout)
}

func TestIO_BlockingReadTimeout(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Now())
	ceiling := 10 * time.Second

	e := newEnv(t, withClock(mock), withCeiling(ceiling))
	cert := e.leaf(crypto.LeafOptions{})
	_, addr := e.serve(&cert, 0, tcp.Silent)
	c := e.established(addr)

	start := mock.Now()
	done := make(chan error, 1)
	go func() {
		_, err := c.Read(make([]byte, 8))
		done <- err
	}()

	err := advanceUntil(t, mock, time.Second, done)
	assert.ErrorIs(t, err, result.ErrIoTimeout)
	assert.GreaterOrEqual(t, mock.Since(start), ceiling)
	assert.Equal(t, StateEstablished, c.State())
}

func TestIO_PeerClose(t *testing.T) {
	e := newEnv(t)
	cert := e.leaf(crypto.LeafOptions{})
	_, addr := e.serve(&cert, 0, tcp.SendAndClose([]byte("bye")))
	c := e.established(addr)

	buf := make([]byte, 8)
	n, err := c.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(buf[:n]))

	n, err = c.Read(buf)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, c.GetLastError(), result.ErrConnectionClosed)
	assert.Equal(t, StateClosed, c.State())

	_, err = c.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestIO_ConnectionReset(t *testing.T) {
	e := newEnv(t)
	cert := e.leaf(crypto.LeafOptions{})
	_, addr := e.serve(&cert, 0, tcp.Silent)
	c, raw := e.connect(addr)
	require.NoError(t, c.DoHandshake())

	raw.Reset(nil)

	_, err := c.Read(make([]byte, 8))
	requireCode(t, err, result.CodeConnectionReset)
	assert.Equal(t, StateClosed, c.State())

	_, err = c.Write([]byte("x"))
	requireCode(t, err, result.CodeConnectionReset)
	require.NoError(t, c.Destroy())
}

func TestIO_PollErrors(t *testing.T) {
	e := newEnv(t)

	var c Connection
	_, err := c.Poll(PollRead, 0)
	assert.ErrorIs(t, err, result.ErrInvalidConnectionContext)

	require.NoError(t, c.Create(e.ctx))
	defer c.Destroy()

	tests := []struct {
		name    string
		events  PollEvent
		timeout time.Duration
		want    result.Code
	}{
		{"no events", 0, 0, result.CodeInvalidPollEvent},
		{"unknown event", 1 << 5, 0, result.CodeInvalidPollEvent},
		{"negative timeout", PollRead, -time.Second, result.CodeInvalidArgument},
		{"no socket", PollRead, 0, result.CodeSocketNotRegistered},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Poll(tc.events, tc.timeout)
			assert.Equal(t, tc.want, result.CodeOf(err), "error: %v", err)
		})
	}
}

func TestHandshake_NonBlocking(t *testing.T) {
	e := newEnv(t)
	cert := e.leaf(crypto.LeafOptions{})
	_, addr := e.serve(&cert, 0, tcp.Echo)

	c, _ := e.connect(addr)
	require.NoError(t, c.SetIoMode(IoModeNonBlocking))

	var err error
	for i := 0; i < 1000; i++ {
		err = c.DoHandshake()
		if !errors.Is(err, result.ErrIoWouldBlock) {
			break
		}
		_, _ = c.Poll(PollRead|PollWrite, 100*time.Millisecond)
	}
	require.NoError(t, err)
	assert.Equal(t, StateEstablished, c.State())

	_, err = c.Write([]byte("ping"))
	require.NoError(t, err)

	_, err = c.Poll(PollRead, 5*time.Second)
	require.NoError(t, err)
	buf := make([]byte, 8)
	n, err := c.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestHandshake_NonBlockingPending(t *testing.T) {
	e := newEnv(t)
	// A plain TCP server never answers the client hello.
	_, addr := e.serve(nil, 0, tcp.Silent)

	c, _ := e.connect(addr)
	require.NoError(t, c.SetIoMode(IoModeNonBlocking))

	start := time.Now()
	assert.ErrorIs(t, c.DoHandshake(), result.ErrIoWouldBlock)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, StateHandshaking, c.State())

	_, err := c.Poll(PollRead|PollWrite, 0)
	assert.ErrorIs(t, err, result.ErrIoTimeout)
	assert.ErrorIs(t, c.DoHandshake(), result.ErrIoWouldBlock)

	_, err = c.Read(make([]byte, 1))
	assert.ErrorIs(t, err, result.ErrHandshakeIncomplete)
	require.NoError(t, c.Destroy())
}

func TestHandshake_BlockingTimeout(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Now())
	ceiling := 30 * time.Second

	e := newEnv(t, withClock(mock), withCeiling(ceiling))
	_, addr := e.serve(nil, 0, tcp.Silent)
	c, _ := e.connect(addr)

	done := make(chan error, 1)
	go func() { done <- c.DoHandshake() }()

	err := advanceUntil(t, mock, time.Second, done)
	requireCode(t, err, result.CodeIoTimeout)
	assert.Equal(t, StateClosed, c.State())
	require.NoError(t, c.Destroy())
}

func TestHandshake_ServerAlert(t *testing.T) {
	e := newEnv(t, withContextOptions(func(opts *ContextOptions) {
		opts.MinVersion = 0x0304
	}))
	cert := e.leaf(crypto.LeafOptions{})
	// The server tops out at TLS 1.2.
	_, addr := e.serve(&cert, 0, tcp.Echo)

	c, _ := e.connect(addr)
	err := c.DoHandshake()
	require.Error(t, err)
	assert.Equal(t, StateClosed, c.State())
	assert.NotEqual(t, result.CodeVerifyCertFailed, result.CodeOf(err))
	assert.True(t, result.CodeOf(err).IsAlert() || result.CodeOf(err) == result.CodeUnsupportedVersion,
		"error: %v", err)
}
