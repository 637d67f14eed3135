package sessioncache

import (
	"crypto/tls"
	"time"
)

// Entry is a cached session. Its fields are guarded by the owning store.
type Entry struct {
	store *Store

	key          Key
	session      *tls.ClientSessionState
	refs         int
	created      time.Time
	lastUsed     time.Time
	flushPending bool
	evicted      bool
}

// Key returns the destination of the session.
func (e *Entry) Key() Key {
	return e.key
}

// Session returns the cached session material, nil once evicted.
func (e *Entry) Session() *tls.ClientSessionState {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	return e.session
}

// Refs returns the current reference count.
func (e *Entry) Refs() int {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	return e.refs
}

// LastUsed returns when the entry was inserted, retained or touched last.
func (e *Entry) LastUsed() time.Time {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	return e.lastUsed
}

// Created returns the insertion time.
func (e *Entry) Created() time.Time {
	return e.created
}

// Evicted reports whether the entry left the cache.
func (e *Entry) Evicted() bool {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	return e.evicted
}
