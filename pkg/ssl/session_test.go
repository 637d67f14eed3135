package ssl

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dominicbreuker/sslkit/mocks/tcp"
	"dominicbreuker/sslkit/pkg/crypto"
	"dominicbreuker/sslkit/pkg/sessioncache"
)

func TestSessionCache_ReuseAndFlush(t *testing.T) {
	e := newEnv(t)
	cert := e.leaf(crypto.LeafOptions{})
	srv, addr := e.serve(&cert, 0, tcp.Echo)

	first := e.established(addr)
	assert.False(t, first.SessionReused())
	entry := first.SessionCacheEntry()
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.Refs())
	assert.Equal(t, sessioncache.Key{ContextID: e.ctx.ID(), Host: serverName}, entry.Key())

	second := e.established(addr)
	assert.True(t, second.SessionReused())
	assert.Same(t, entry, second.SessionCacheEntry())
	assert.Equal(t, 2, entry.Refs())

	// The server records its state after reading the client's Finished.
	require.Eventually(t, func() bool { return len(srv.States()) == 2 }, 5*time.Second, time.Millisecond)
	states := srv.States()
	assert.False(t, states[0].DidResume)
	assert.True(t, states[1].DidResume)

	require.NoError(t, first.FlushSessionCache())
	assert.Nil(t, first.SessionCacheEntry())
	assert.Equal(t, 1, entry.Refs())
	assert.False(t, entry.Evicted(), "still referenced by the second connection")

	require.NoError(t, second.FlushSessionCache())
	assert.Equal(t, 0, entry.Refs())
	assert.True(t, entry.Evicted())
	assert.Equal(t, 0, e.lib.SessionCache().Len())

	// Both connections keep working without a cached session.
	_, err := second.Write([]byte("x"))
	assert.NoError(t, err)

	m := e.lib.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Handshakes.WithLabelValues("full")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Handshakes.WithLabelValues("resumed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheEvictions.WithLabelValues("flush")))
}

func TestSessionCache_DestroyKeepsEntry(t *testing.T) {
	e := newEnv(t)
	cert := e.leaf(crypto.LeafOptions{})
	_, addr := e.serve(&cert, 0, tcp.Echo)

	first := e.established(addr)
	entry := first.SessionCacheEntry()
	require.NotNil(t, entry)
	require.NoError(t, first.Destroy())

	assert.Equal(t, 0, entry.Refs())
	assert.False(t, entry.Evicted())
	assert.Equal(t, 1, e.lib.SessionCache().Len())

	second := e.established(addr)
	assert.True(t, second.SessionReused())
	assert.Same(t, entry, second.SessionCacheEntry())
	assert.Equal(t, 1, entry.Refs())
}

func TestSessionCache_FullCacheStillConnects(t *testing.T) {
	e := newEnv(t, withCacheCapacity(1))
	cert := e.leaf(crypto.LeafOptions{DNSNames: []string{serverName, "alias.test"}})
	_, addr := e.serve(&cert, 0, tcp.Echo)

	first := e.established(addr)
	held := first.SessionCacheEntry()
	require.NotNil(t, held)

	alias, _ := e.connect(addr)
	require.NoError(t, alias.SetHostName("alias.test"))
	require.NoError(t, alias.DoHandshake(), "handshake succeeds uncached")
	assert.Nil(t, alias.SessionCacheEntry())
	assert.Equal(t, []sessioncache.Key{held.Key()}, e.lib.SessionCache().Keys())
	assert.Equal(t, 1.0, testutil.ToFloat64(e.lib.Metrics().CacheDropped))

	_, err := alias.Write([]byte("x"))
	assert.NoError(t, err)

	// Once unreferenced, the held entry is the eviction victim.
	require.NoError(t, first.Destroy())
	again, _ := e.connect(addr)
	require.NoError(t, again.SetHostName("alias.test"))
	require.NoError(t, again.DoHandshake())
	require.NotNil(t, again.SessionCacheEntry())
	assert.True(t, held.Evicted())
	assert.Equal(t, "alias.test", again.SessionCacheEntry().Key().Host)
}

func TestSessionCache_ModeNone(t *testing.T) {
	e := newEnv(t)
	cert := e.leaf(crypto.LeafOptions{})
	_, addr := e.serve(&cert, 0, tcp.Echo)

	for i := 0; i < 2; i++ {
		c, _ := e.connect(addr)
		require.NoError(t, c.SetSessionCacheMode(SessionCacheModeNone))
		require.NoError(t, c.DoHandshake())
		assert.False(t, c.SessionReused())
		assert.Nil(t, c.SessionCacheEntry())
		assert.NoError(t, c.FlushSessionCache())
	}
	assert.Equal(t, 0, e.lib.SessionCache().Len())
}

func TestSessionCache_ScopedByHostAndContext(t *testing.T) {
	e := newEnv(t)
	cert := e.leaf(crypto.LeafOptions{DNSNames: []string{serverName, "alias.test"}})
	_, addr := e.serve(&cert, 0, tcp.Echo)

	first := e.established(addr)
	require.NotNil(t, first.SessionCacheEntry())

	alias, _ := e.connect(addr)
	require.NoError(t, alias.SetHostName("alias.test"))
	require.NoError(t, alias.DoHandshake())
	assert.False(t, alias.SessionReused(), "different host name")

	ctx2, err := NewContext(e.lib, ContextOptions{Roots: e.ctx.roots})
	require.NoError(t, err)
	raw, err := e.net.Dial(addr)
	require.NoError(t, err)
	var other Connection
	require.NoError(t, other.Create(ctx2))
	defer other.Destroy()
	require.NoError(t, other.SetSocket(raw))
	require.NoError(t, other.SetHostName(serverName))
	require.NoError(t, other.DoHandshake())
	assert.False(t, other.SessionReused(), "different context")

	assert.Equal(t, 3, e.lib.SessionCache().Len())
}

func TestSessionCache_TLS13(t *testing.T) {
	e := newEnv(t)
	cert := e.leaf(crypto.LeafOptions{})
	_, addr := e.serve(&cert, 0x0304, tcp.Echo)

	first := e.established(addr)
	info, err := first.GetCipherInfo()
	require.NoError(t, err)
	assert.Equal(t, "TLS 1.3", info.Version)

	// TLS 1.3 tickets arrive after the handshake, with the first read.
	_, err = first.Write([]byte("ping"))
	require.NoError(t, err)
	_, err = first.Read(make([]byte, 4))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return first.SessionCacheEntry() != nil }, 5*time.Second, time.Millisecond)

	second := e.established(addr)
	assert.True(t, second.SessionReused())
}
