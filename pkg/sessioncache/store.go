// Package sessioncache implements the process-wide cache of negotiated TLS
// sessions shared by all connections of a library instance.
//
// Entries are keyed by (context, host) and reference counted: a connection
// that inserted or resumed a session holds one reference until it flushes or
// is destroyed. Eviction happens for three reasons:
//
//   - lru: the cache is full and a new session needs room; only entries
//     with no references are candidates, oldest first
//   - idle: the entry was not used for longer than the idle timeout
//   - flush: an explicit flush was requested and the last reference is gone
//
// All operations are serialized by a single mutex.
package sessioncache

import (
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/simplelru"

	"dominicbreuker/sslkit/pkg/metrics"
)

// Default limits of a store.
const (
	DefaultCapacity    = 32
	DefaultIdleTimeout = time.Hour
)

// Key identifies the destination a session was negotiated with.
type Key struct {
	ContextID uint64
	Host      string
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s", k.ContextID, k.Host)
}

// Options configures a Store. Zero values select the defaults.
type Options struct {
	Capacity    int
	IdleTimeout time.Duration
	Clock       clock.Clock
	Metrics     *metrics.Metrics
}

// Store is a bounded, reference counted session cache.
type Store struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[Key, *Entry]
	capacity int
	idle     time.Duration
	clock    clock.Clock
	metrics  *metrics.Metrics
	closed   bool
}

// New creates an empty store.
func New(opts Options) (*Store, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	lru, err := simplelru.NewLRU[Key, *Entry](opts.Capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("simplelru.NewLRU(%d): %w", opts.Capacity, err)
	}

	return &Store{
		lru:      lru,
		capacity: opts.Capacity,
		idle:     opts.IdleTimeout,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
	}, nil
}

// Lookup returns the live entry for key without changing its reference
// count or recency. Idle-expired entries are evicted and reported as misses.
func (s *Store) Lookup(key Key) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false
	}

	e, ok := s.lru.Peek(key)
	if ok && s.expiredLocked(e) {
		s.removeLocked(e, "idle")
		e, ok = nil, false
	}
	s.metrics.CacheLookup(ok)

	return e, ok
}

// Insert caches state for key and returns the entry holding one reference
// for the caller. If key is cached already, its session is replaced and the
// caller gets an additional reference. When the cache is full, the least
// recently used unreferenced entry is evicted; if every entry is referenced
// the insert is dropped and (nil, false) is returned.
func (s *Store) Insert(key Key, state *tls.ClientSessionState) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || state == nil {
		return nil, false
	}

	s.sweepLocked()

	now := s.clock.Now()
	if e, ok := s.lru.Get(key); ok {
		e.session = state
		e.refs++
		e.flushPending = false
		e.lastUsed = now
		return e, true
	}

	if s.lru.Len() >= s.capacity && !s.evictOneLocked() {
		s.metrics.CacheInsertDropped()
		return nil, false
	}

	e := &Entry{
		store:    s,
		key:      key,
		session:  state,
		refs:     1,
		created:  now,
		lastUsed: now,
	}
	s.lru.Add(key, e)
	s.metrics.CacheInserted(s.lru.Len())

	return e, true
}

// Retain adds a reference to e and marks it as used. It fails for evicted
// entries.
func (s *Store) Retain(e *Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e == nil || e.evicted {
		return false
	}
	e.refs++
	e.flushPending = false
	s.touchLocked(e)
	return true
}

// Update replaces the session material of e, e.g. after the server issued a
// fresh ticket. References are unchanged.
func (s *Store) Update(e *Entry, state *tls.ClientSessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e == nil || e.evicted || state == nil {
		return false
	}
	e.session = state
	s.touchLocked(e)
	return true
}

// Touch marks e as most recently used.
func (s *Store) Touch(e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e == nil || e.evicted {
		return
	}
	s.touchLocked(e)
}

// Release drops one reference. The entry stays cached for later reuse
// unless flush is set (now or by an earlier release) and no references
// remain, in which case it is freed immediately.
func (s *Store) Release(e *Entry, flush bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e == nil || e.evicted {
		return
	}
	if e.refs > 0 {
		e.refs--
	}
	if flush {
		e.flushPending = true
	}
	if e.refs == 0 && e.flushPending {
		s.removeLocked(e, "flush")
	}
}

// Sweep evicts entries idle for longer than the idle timeout and returns how
// many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}
	return s.sweepLocked()
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Keys returns the cached keys from least to most recently used.
func (s *Store) Keys() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Keys()
}

// Close frees every entry regardless of references. Later inserts are
// dropped and lookups miss.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	for _, k := range s.lru.Keys() {
		if e, ok := s.lru.Peek(k); ok {
			s.removeLocked(e, "close")
		}
	}
	s.closed = true
}

func (s *Store) expiredLocked(e *Entry) bool {
	return s.clock.Since(e.lastUsed) > s.idle
}

func (s *Store) sweepLocked() int {
	removed := 0
	for _, k := range s.lru.Keys() {
		e, ok := s.lru.Peek(k)
		if ok && s.expiredLocked(e) {
			s.removeLocked(e, "idle")
			removed++
		}
	}
	return removed
}

// evictOneLocked removes the least recently used entry without references.
func (s *Store) evictOneLocked() bool {
	for _, k := range s.lru.Keys() {
		e, ok := s.lru.Peek(k)
		if ok && e.refs == 0 {
			s.removeLocked(e, "lru")
			return true
		}
	}
	return false
}

func (s *Store) touchLocked(e *Entry) {
	e.lastUsed = s.clock.Now()
	s.lru.Get(e.key)
}

func (s *Store) removeLocked(e *Entry, reason string) {
	s.lru.Remove(e.key)
	e.evicted = true
	e.session = nil
	s.metrics.CacheEvicted(reason, s.lru.Len())
}
