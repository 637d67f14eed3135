package ssl

import (
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"dominicbreuker/sslkit/pkg/config"
	"dominicbreuker/sslkit/pkg/log"
	"dominicbreuker/sslkit/pkg/metrics"
	"dominicbreuker/sslkit/pkg/result"
	"dominicbreuker/sslkit/pkg/semaphore"
	"dominicbreuker/sslkit/pkg/sessioncache"
)

// Library owns the state shared by all contexts and connections: the
// session cache, the connection slots and the registries. It replaces
// process-wide globals, so several independent instances may coexist.
type Library struct {
	cfg    *config.Library
	deps   *config.Dependencies
	clock  clock.Clock
	logger *log.Logger

	mu          sync.Mutex
	initialized bool
	nextID      uint64
	store       *sessioncache.Store
	slots       *semaphore.ConnSemaphore
	metrics     *metrics.Metrics
	contexts    map[uint64]*Context
	conns       map[uint64]*Connection
}

// NewLibrary creates a library that is not initialized yet. A nil cfg
// selects config.Default(); nil deps select the default dependencies.
func NewLibrary(cfg *config.Library, deps *config.Dependencies) *Library {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Library{
		cfg:    cfg,
		deps:   deps,
		clock:  config.GetClock(deps),
		logger: config.GetLogger(deps),
	}
}

// Initialize validates the configuration and sets up the session cache,
// the connection slots and the metrics.
func (l *Library) Initialize() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.initialized {
		return result.ErrLibraryAlreadyInitialized
	}

	if errs := config.Validate(l.cfg); len(errs) > 0 {
		return result.Wrap(result.CodeInvalidArgument, multierr.Combine(errs...))
	}

	m, err := metrics.New(config.GetRegisterer(l.deps))
	if err != nil {
		return result.Wrap(result.CodeResourceBusy, fmt.Errorf("registering metrics: %w", err))
	}

	store, err := sessioncache.New(sessioncache.Options{
		Capacity:    l.cfg.SessionCacheCapacity,
		IdleTimeout: l.cfg.SessionIdleTimeout,
		Clock:       l.clock,
		Metrics:     m,
	})
	if err != nil {
		m.Unregister(config.GetRegisterer(l.deps))
		return result.Wrap(result.CodeInternalLogicError, err)
	}

	l.metrics = m
	l.store = store
	l.slots = semaphore.New(l.cfg.MaxConnections)
	l.contexts = make(map[uint64]*Context)
	l.conns = make(map[uint64]*Connection)
	l.initialized = true

	l.logger.VerboseMsg("library initialized: %d connections, cache %d entries, idle %s",
		l.cfg.MaxConnections, l.cfg.SessionCacheCapacity, l.cfg.SessionIdleTimeout)
	return nil
}

// Finalize destroys every live connection and context and frees all
// cached sessions regardless of their reference counts. The library may
// be initialized again afterwards.
func (l *Library) Finalize() error {
	l.mu.Lock()
	if !l.initialized {
		l.mu.Unlock()
		return result.ErrLibraryNotInitialized
	}
	conns := make([]*Connection, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	var errs error
	for _, c := range conns {
		if err := c.Destroy(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for id, ctx := range l.contexts {
		ctx.id = 0
		delete(l.contexts, id)
	}
	l.store.Close()
	l.metrics.Unregister(config.GetRegisterer(l.deps))
	l.initialized = false

	l.logger.VerboseMsg("library finalized")
	if errs != nil {
		l.logger.ErrorMsg("finalize: %s", errs)
	}
	return nil
}

// Initialized reports whether Initialize succeeded and Finalize was not
// called since.
func (l *Library) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialized
}

// SessionCache returns the session store, nil before Initialize.
func (l *Library) SessionCache() *sessioncache.Store {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store
}

// Metrics returns the collectors, nil before Initialize.
func (l *Library) Metrics() *metrics.Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.metrics
}

// ActiveConnections returns the number of live connections.
func (l *Library) ActiveConnections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// Config returns the library configuration.
func (l *Library) Config() config.Library {
	return *l.cfg
}

func (l *Library) newIDLocked() uint64 {
	l.nextID++
	return l.nextID
}

// attach reserves a slot for c and registers it with ctx.
func (l *Library) attach(c *Connection, ctx *Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.initialized {
		return 0, result.ErrLibraryNotInitialized
	}
	if ctx.id == 0 || l.contexts[ctx.id] != ctx {
		return 0, result.ErrInvalidContext
	}
	if !l.slots.TryAcquire() {
		l.metrics.ConnectionRejected()
		return 0, result.Wrap(result.CodeResourceMax,
			fmt.Errorf("all %d connection slots in use", l.slots.Cap()))
	}

	id := l.newIDLocked()
	l.conns[id] = c
	ctx.conns++
	l.metrics.ConnectionOpened()
	return id, nil
}

// detach undoes attach.
func (l *Library) detach(id uint64, ctx *Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.conns[id]; !ok {
		return
	}
	delete(l.conns, id)
	if ctx.conns > 0 {
		ctx.conns--
	}
	l.slots.Release()
	l.metrics.ConnectionClosed()
}
