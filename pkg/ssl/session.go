package ssl

import (
	"crypto/tls"
	"sync"

	"dominicbreuker/sslkit/pkg/sessioncache"
)

// sessionRef connects one connection to the shared store. It implements
// tls.ClientSessionCache: crypto/tls asks it for a session before the
// handshake and hands it new sessions during and after the handshake
// (TLS 1.3 tickets arrive with application data, so Put may run on the
// read pump).
//
// The connection holds at most one reference. A session found by Get is
// only a candidate until the handshake proves it resumed or a ticket for
// the same key arrives.
type sessionRef struct {
	store *sessioncache.Store
	key   sessioncache.Key

	mu        sync.Mutex
	candidate *sessioncache.Entry
	entry     *sessioncache.Entry
}

var _ tls.ClientSessionCache = (*sessionRef)(nil)

func newSessionRef(store *sessioncache.Store, key sessioncache.Key) *sessionRef {
	return &sessionRef{store: store, key: key}
}

// Get ignores the crypto/tls cache key; sessions are keyed by context and
// host name.
func (r *sessionRef) Get(string) (*tls.ClientSessionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entry != nil {
		if s := r.entry.Session(); s != nil {
			return s, true
		}
	}

	e, ok := r.store.Lookup(r.key)
	if !ok {
		return nil, false
	}
	s := e.Session()
	if s == nil {
		return nil, false
	}
	r.candidate = e
	return s, true
}

// Put stores a new session. A nil session marks the offered one unusable
// for this connection; the entry itself may still serve others.
func (r *sessionRef) Put(_ string, cs *tls.ClientSessionState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cs == nil {
		r.candidate = nil
		return
	}

	if r.entry != nil {
		r.store.Update(r.entry, cs)
		return
	}
	if r.candidate != nil && r.store.Retain(r.candidate) {
		r.entry, r.candidate = r.candidate, nil
		r.store.Update(r.entry, cs)
		return
	}
	r.candidate = nil
	if e, ok := r.store.Insert(r.key, cs); ok {
		r.entry = e
	}
}

// handshakeDone takes the reference on a resumed session that received no
// new ticket.
func (r *sessionRef) handshakeDone(resumed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.entry != nil:
		r.store.Touch(r.entry)
	case resumed && r.candidate != nil:
		if r.store.Retain(r.candidate) {
			r.entry = r.candidate
		}
	}
	r.candidate = nil
}

// release drops the reference. With flush the entry is freed as soon as no
// other connection holds it.
func (r *sessionRef) release(flush bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.candidate = nil
	if r.entry == nil {
		return false
	}
	r.store.Release(r.entry, flush)
	r.entry = nil
	return true
}

// current returns the held entry, nil if none.
func (r *sessionRef) current() *sessioncache.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entry
}
