package config

import (
	"fmt"
	"time"
)

// MaxHostNameLength bounds the server name used for SNI and verification.
const MaxHostNameLength = 255

// Client configures the connect and certs commands.
type Client struct {
	Host       string
	Port       int
	ServerName string
	CAFile     string
	// Verify lists the certificate checks, see client.ParseVerifyOption.
	Verify   string
	Insecure bool
	// NonBlocking drives the connection in non-blocking mode with Poll.
	NonBlocking bool
	// CacheMode is one of "none", "id" or "ticket".
	CacheMode string
	Timeout   time.Duration
}

// Validate checks the target and the client flags.
func (c *Client) Validate() []error {
	var errors []error

	if err := validatePort(c.Port); err != nil {
		errors = append(errors, fmt.Errorf("port: %w", err))
	}
	if c.Host == "" {
		errors = append(errors, fmt.Errorf("host must not be empty"))
	}
	if len(c.ServerName) > MaxHostNameLength {
		errors = append(errors, fmt.Errorf("'--hostname' longer than %d bytes", MaxHostNameLength))
	}
	if err := validateOneOf("'--cache'", c.CacheMode, "", "none", "id", "ticket"); err != nil {
		errors = append(errors, err)
	}
	if c.Timeout < 0 {
		errors = append(errors, fmt.Errorf("'--timeout' must not be negative"))
	}

	return errors
}

// Server configures the serve command.
type Server struct {
	Host string
	Port int
	// Seed makes the generated CA reproducible across runs.
	Seed string
	// CAOut, if set, receives the PEM encoded CA certificate.
	CAOut string
	// TLS12 caps the protocol version so session IDs and tickets are
	// issued during the handshake.
	TLS12 bool
	// MaxClients caps concurrent clients; zero selects DefaultMaxClients.
	MaxClients int
	// WireLog, if set, receives hex dumps of the server side ciphertext.
	WireLog string
}

// DefaultMaxClients is the client limit of the serve command.
const DefaultMaxClients = 16

// Validate checks the listen address and the client limit.
func (c *Server) Validate() []error {
	var errors []error

	if err := validatePort(c.Port); err != nil {
		errors = append(errors, fmt.Errorf("port: %w", err))
	}
	if c.MaxClients < 0 {
		errors = append(errors, fmt.Errorf("'--max-clients' must not be negative"))
	}

	return errors
}
