// Package config holds the configuration of the TLS library and the CLI,
// its validation and loading, and the injectable dependencies.
package config

import "time"

// Defaults of a Library configuration.
const (
	DefaultMaxConnections       = 8
	DefaultIoCeiling            = 5 * time.Minute
	DefaultSessionCacheCapacity = 32
	DefaultSessionIdleTimeout   = time.Hour
)

// Library configures one library instance.
type Library struct {
	// MaxConnections caps the number of live connections.
	MaxConnections int `koanf:"max_connections"`
	// IoCeiling bounds every blocking handshake, read, write and peek.
	IoCeiling time.Duration `koanf:"io_ceiling"`

	SessionCacheCapacity int           `koanf:"session_cache_capacity"`
	SessionIdleTimeout   time.Duration `koanf:"session_idle_timeout"`

	Verbose bool `koanf:"verbose"`
	// WireLog, if set, is a file receiving hex dumps of all ciphertext.
	WireLog string `koanf:"wire_log"`
}

// Default returns a configuration with all defaults applied.
func Default() *Library {
	return &Library{
		MaxConnections:       DefaultMaxConnections,
		IoCeiling:            DefaultIoCeiling,
		SessionCacheCapacity: DefaultSessionCacheCapacity,
		SessionIdleTimeout:   DefaultSessionIdleTimeout,
	}
}

// Validate checks every field and returns all problems found.
func (c *Library) Validate() []error {
	var errors []error

	for _, err := range []error{
		validatePositive("max_connections", c.MaxConnections),
		validatePositiveDuration("io_ceiling", c.IoCeiling),
		validatePositive("session_cache_capacity", c.SessionCacheCapacity),
		validatePositiveDuration("session_idle_timeout", c.SessionIdleTimeout),
	} {
		if err != nil {
			errors = append(errors, err)
		}
	}

	return errors
}
