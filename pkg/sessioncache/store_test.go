package sessioncache

import (
	"crypto/tls"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dominicbreuker/sslkit/pkg/metrics"
)

func newStore(t *testing.T, capacity int) (*Store, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	s, err := New(Options{Capacity: capacity, IdleTimeout: time.Hour, Clock: mock})
	require.NoError(t, err)
	return s, mock
}

func key(i int) Key {
	return Key{ContextID: 1, Host: fmt.Sprintf("host-%d.test", i)}
}

func session() *tls.ClientSessionState {
	return &tls.ClientSessionState{}
}

func TestInsertLookup(t *testing.T) {
	s, _ := newStore(t, 4)

	e, ok := s.Insert(key(1), session())
	require.True(t, ok)
	assert.Equal(t, 1, e.Refs())

	got, ok := s.Lookup(key(1))
	require.True(t, ok)
	assert.Same(t, e, got)
	assert.Equal(t, 1, got.Refs(), "lookup must not change refs")

	_, ok = s.Lookup(Key{ContextID: 2, Host: "host-1.test"})
	assert.False(t, ok, "keys are scoped per context")
}

func TestInsert_ExistingKey(t *testing.T) {
	s, _ := newStore(t, 4)

	first := session()
	e1, _ := s.Insert(key(1), first)
	second := session()
	e2, ok := s.Insert(key(1), second)

	require.True(t, ok)
	assert.Same(t, e1, e2)
	assert.Equal(t, 2, e2.Refs())
	assert.Same(t, second, e2.Session())
	assert.Equal(t, 1, s.Len())
}

func TestInsert_EvictsLeastRecentlyUsed(t *testing.T) {
	s, mock := newStore(t, 32)

	entries := make([]*Entry, 32)
	for i := range entries {
		e, ok := s.Insert(key(i), session())
		require.True(t, ok)
		s.Release(e, false)
		entries[i] = e
		mock.Add(time.Second)
	}
	// Entry 0 becomes most recent; entry 1 is now the oldest.
	s.Touch(entries[0])

	_, ok := s.Insert(key(32), session())
	require.True(t, ok)

	assert.Equal(t, 32, s.Len())
	assert.True(t, entries[1].Evicted())
	for i, e := range entries {
		if i == 1 {
			continue
		}
		assert.False(t, e.Evicted(), "entry %d", i)
	}
}

func TestInsert_SkipsReferencedEntries(t *testing.T) {
	s, _ := newStore(t, 3)

	held, _ := s.Insert(key(0), session())
	free, _ := s.Insert(key(1), session())
	s.Release(free, false)
	other, _ := s.Insert(key(2), session())

	_, ok := s.Insert(key(3), session())
	require.True(t, ok)

	assert.False(t, held.Evicted(), "referenced entries are never LRU victims")
	assert.True(t, free.Evicted())
	assert.False(t, other.Evicted())
}

func TestInsert_DroppedWhenAllReferenced(t *testing.T) {
	m, err := metrics.New(nil)
	require.NoError(t, err)
	s, err := New(Options{Capacity: 2, Clock: clock.NewMock(), Metrics: m})
	require.NoError(t, err)

	s.Insert(key(0), session())
	s.Insert(key(1), session())

	e, ok := s.Insert(key(2), session())
	assert.False(t, ok)
	assert.Nil(t, e)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheDropped))
}

func TestIdleEviction(t *testing.T) {
	s, mock := newStore(t, 4)

	held, _ := s.Insert(key(0), session())
	idle, _ := s.Insert(key(1), session())
	s.Release(idle, false)

	mock.Add(30 * time.Minute)
	fresh, _ := s.Insert(key(2), session())
	s.Release(fresh, false)

	mock.Add(31 * time.Minute)
	assert.Equal(t, 2, s.Sweep())

	assert.True(t, held.Evicted(), "idle eviction ignores references")
	assert.True(t, idle.Evicted())
	assert.False(t, fresh.Evicted())

	// Releasing an evicted entry is harmless.
	s.Release(held, true)
	assert.Equal(t, 1, s.Len())
}

func TestLookup_ExpiredIsMiss(t *testing.T) {
	s, mock := newStore(t, 4)

	e, _ := s.Insert(key(0), session())
	s.Release(e, false)

	mock.Add(time.Hour)
	_, ok := s.Lookup(key(0))
	assert.True(t, ok, "exactly the idle timeout is still valid")

	mock.Add(time.Second)
	_, ok = s.Lookup(key(0))
	assert.False(t, ok)
	assert.True(t, e.Evicted())
}

func TestRetain_RefreshesIdleClock(t *testing.T) {
	s, mock := newStore(t, 4)

	e, _ := s.Insert(key(0), session())
	s.Release(e, false)

	mock.Add(50 * time.Minute)
	require.True(t, s.Retain(e))
	mock.Add(50 * time.Minute)

	assert.Equal(t, 0, s.Sweep())
	assert.Equal(t, 1, e.Refs())
	assert.Equal(t, mock.Now().Add(-50*time.Minute), e.LastUsed())
}

func TestRelease_KeepsEntryCached(t *testing.T) {
	s, _ := newStore(t, 4)

	e, _ := s.Insert(key(0), session())
	s.Release(e, false)

	assert.Equal(t, 0, e.Refs())
	assert.False(t, e.Evicted())
	got, ok := s.Lookup(key(0))
	require.True(t, ok)
	assert.Same(t, e, got)
}

func TestRelease_Flush(t *testing.T) {
	s, _ := newStore(t, 4)

	e, _ := s.Insert(key(0), session())
	require.True(t, s.Retain(e))

	s.Release(e, true)
	assert.False(t, e.Evicted(), "another connection still holds the entry")

	s.Release(e, false)
	assert.True(t, e.Evicted(), "pending flush frees the entry at zero refs")
	assert.Nil(t, e.Session())

	_, ok := s.Lookup(key(0))
	assert.False(t, ok)
	assert.False(t, s.Retain(e))
	assert.False(t, s.Update(e, session()))
}

func TestInsert_ExistingKeyClearsFlush(t *testing.T) {
	s, _ := newStore(t, 4)

	e, _ := s.Insert(key(0), session())
	_, _ = s.Insert(key(0), session())
	s.Release(e, true)

	// A fresh session for the key supersedes the earlier flush request.
	_, ok := s.Insert(key(0), session())
	require.True(t, ok)
	s.Release(e, false)
	s.Release(e, false)

	assert.False(t, e.Evicted())
	assert.Equal(t, 0, e.Refs())
	assert.Equal(t, 1, s.Len())
}

func TestUpdate(t *testing.T) {
	s, mock := newStore(t, 4)

	e, _ := s.Insert(key(0), session())
	mock.Add(time.Minute)

	next := session()
	require.True(t, s.Update(e, next))
	assert.Same(t, next, e.Session())
	assert.Equal(t, mock.Now(), e.LastUsed())
	assert.False(t, s.Update(e, nil))
}

func TestKeysOrder(t *testing.T) {
	s, _ := newStore(t, 4)

	e0, _ := s.Insert(key(0), session())
	s.Insert(key(1), session())
	s.Insert(key(2), session())
	s.Touch(e0)

	assert.Equal(t, []Key{key(1), key(2), key(0)}, s.Keys())
}

func TestClose(t *testing.T) {
	s, _ := newStore(t, 4)

	held, _ := s.Insert(key(0), session())
	s.Close()

	assert.True(t, held.Evicted())
	assert.Equal(t, 0, s.Len())
	_, ok := s.Insert(key(1), session())
	assert.False(t, ok)
	_, ok = s.Lookup(key(0))
	assert.False(t, ok)

	s.Release(held, false)
	s.Close()
}

func TestNew_Defaults(t *testing.T) {
	s, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultCapacity, s.capacity)
	assert.Equal(t, DefaultIdleTimeout, s.idle)
}
