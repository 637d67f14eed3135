package ssl

import "crypto/tls"

// IoMode selects how handshake, read, write and peek behave when no
// progress is possible.
type IoMode int

const (
	// IoModeBlocking waits up to the library I/O ceiling.
	IoModeBlocking IoMode = 1
	// IoModeNonBlocking returns result.ErrIoWouldBlock immediately.
	IoModeNonBlocking IoMode = 2
)

func (m IoMode) valid() bool {
	return m == IoModeBlocking || m == IoModeNonBlocking
}

func (m IoMode) String() string {
	switch m {
	case IoModeBlocking:
		return "blocking"
	case IoModeNonBlocking:
		return "non-blocking"
	default:
		return "invalid"
	}
}

// SessionCacheMode selects whether and how sessions are resumed.
type SessionCacheMode int

const (
	SessionCacheModeNone SessionCacheMode = iota
	SessionCacheModeSessionID
	SessionCacheModeSessionTicket
)

func (m SessionCacheMode) valid() bool {
	return m >= SessionCacheModeNone && m <= SessionCacheModeSessionTicket
}

func (m SessionCacheMode) String() string {
	switch m {
	case SessionCacheModeNone:
		return "none"
	case SessionCacheModeSessionID:
		return "session-id"
	case SessionCacheModeSessionTicket:
		return "session-ticket"
	default:
		return "invalid"
	}
}

// RenegotiationMode selects whether the peer may renegotiate.
type RenegotiationMode int

const (
	RenegotiationModeNone RenegotiationMode = iota
	RenegotiationModeSecure
)

func (m RenegotiationMode) valid() bool {
	return m == RenegotiationModeNone || m == RenegotiationModeSecure
}

func (m RenegotiationMode) tls() tls.RenegotiationSupport {
	if m == RenegotiationModeSecure {
		return tls.RenegotiateFreelyAsClient
	}
	return tls.RenegotiateNever
}

// VerifyOption is a bitmask of the checks run on the server certificate.
type VerifyOption uint32

const (
	VerifyNone VerifyOption = 0
	// VerifyPeerCA requires a chain to a trusted root.
	VerifyPeerCA VerifyOption = 1 << 0
	// VerifyHostName matches the host name against the certificate.
	VerifyHostName VerifyOption = 1 << 1
	// VerifyDate requires the current time inside the validity period.
	VerifyDate VerifyOption = 1 << 2
	// VerifyEVPolicy requires one of the context's EV policy OIDs.
	VerifyEVPolicy VerifyOption = 1 << 3

	VerifyDefault = VerifyPeerCA | VerifyHostName | VerifyDate
	VerifyAll     = VerifyDefault | VerifyEVPolicy
)

// Has reports whether all bits of o are set in v.
func (v VerifyOption) Has(o VerifyOption) bool {
	return v&o == o
}

// With returns v with the bits of o added.
func (v VerifyOption) With(o VerifyOption) VerifyOption {
	return v | o
}

// Without returns v with the bits of o cleared.
func (v VerifyOption) Without(o VerifyOption) VerifyOption {
	return v &^ o
}

func (v VerifyOption) valid() bool {
	return v&^VerifyAll == 0
}

// PollEvent is a bitmask of readiness conditions.
type PollEvent uint32

const (
	PollRead   PollEvent = 1 << 0
	PollWrite  PollEvent = 1 << 1
	PollExcept PollEvent = 1 << 2

	pollAll = PollRead | PollWrite | PollExcept
)

// Has reports whether all bits of e are set in p.
func (p PollEvent) Has(e PollEvent) bool {
	return p&e == e
}

func (p PollEvent) String() string {
	if p == 0 {
		return "none"
	}
	s := ""
	for _, ev := range []struct {
		bit  PollEvent
		name string
	}{{PollRead, "read"}, {PollWrite, "write"}, {PollExcept, "except"}} {
		if p.Has(ev.bit) {
			if s != "" {
				s += "|"
			}
			s += ev.name
		}
	}
	return s
}

// OptionType names a boolean connection option.
type OptionType int

const (
	// OptionDoNotCloseSocket leaves the imported descriptor open on Destroy.
	OptionDoNotCloseSocket OptionType = iota
	// OptionGetServerCertChain writes the whole chain into the server
	// certificate buffer instead of the leaf only.
	OptionGetServerCertChain
)

// State is the lifecycle position of a connection.
type State int

const (
	StateUninitialized State = iota
	StateCreated
	StateSocketBound
	StateHandshaking
	StateEstablished
	// StateClosed is entered when the peer closed or a fatal transport or
	// handshake failure happened; only Destroy is useful afterwards.
	StateClosed
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCreated:
		return "created"
	case StateSocketBound:
		return "socket-bound"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	case StateDestroyed:
		return "destroyed"
	default:
		return "invalid"
	}
}
