// Package transport provides the pluggable QUIC/TCP transport underlying
// pkg/wire's peer protocol (spec §4.5 names plain TCP; this package keeps
// QUIC available as a drop-in alternative for callers that want it).
//
// A nil tlsConfig means plaintext: the wire protocol's own hashes and
// signatures are its integrity boundary (spec's non-goal on transport
// encryption), so TLS here is opt-in rather than mandatory.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// Transport represents a transport protocol (QUIC or TCP)
type Transport interface {
	// Listen starts listening for incoming connections on the given address.
	// A nil tlsConfig listens in plaintext.
	Listen(ctx context.Context, addr string, tlsConfig *tls.Config) (Listener, error)

	// Dial establishes a connection to the given address. A nil tlsConfig
	// dials in plaintext.
	Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (Conn, error)

	// Name returns the transport name (e.g., "quic", "tcp")
	Name() string

	// DefaultPort returns the default port for this transport
	DefaultPort() int
}

// Listener represents a transport listener
type Listener interface {
	// Accept waits for and returns the next connection
	Accept(ctx context.Context) (Conn, error)

	// Close closes the listener
	Close() error

	// Addr returns the listener's network address
	Addr() net.Addr
}

// Conn represents a transport connection
type Conn interface {
	// Read reads data from the connection
	Read(b []byte) (n int, err error)

	// Write writes data to the connection
	Write(b []byte) (n int, err error)

	// Close closes the connection
	Close() error

	// LocalAddr returns the local network address
	LocalAddr() net.Addr

	// RemoteAddr returns the remote network address
	RemoteAddr() net.Addr

	// SetDeadline sets the read and write deadlines
	SetDeadline(t time.Time) error

	// SetReadDeadline sets the read deadline
	SetReadDeadline(t time.Time) error

	// SetWriteDeadline sets the write deadline
	SetWriteDeadline(t time.Time) error

	// ConnectionState returns the TLS connection state. For a plaintext
	// connection this is the zero value.
	ConnectionState() tls.ConnectionState
}

// Config holds transport configuration
type Config struct {
	// TLS configuration; nil selects plaintext.
	TLSConfig *tls.Config

	// ALPN protocols to negotiate
	ALPNProtocols []string

	// Connection timeout
	ConnectTimeout time.Duration

	// Keep-alive settings
	KeepAlive time.Duration

	// Maximum idle timeout
	MaxIdleTimeout time.Duration
}

// DefaultConfig returns a default transport configuration with no TLS:
// callers that want encryption set TLSConfig explicitly.
func DefaultConfig() *Config {
	return &Config{
		ALPNProtocols:  []string{"syncr/1"},
		ConnectTimeout: 30 * time.Second,
		KeepAlive:      30 * time.Second,
		MaxIdleTimeout: 5 * time.Minute,
	}
}

// Registry manages available transports
type Registry struct {
	transports map[string]Transport
}

// NewRegistry creates a new transport registry
func NewRegistry() *Registry {
	return &Registry{
		transports: make(map[string]Transport),
	}
}

// Register registers a transport with the given name
func (r *Registry) Register(name string, transport Transport) {
	r.transports[name] = transport
}

// Get returns the transport with the given name
func (r *Registry) Get(name string) (Transport, bool) {
	t, ok := r.transports[name]
	return t, ok
}

// List returns all registered transport names
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.transports))
	for name := range r.transports {
		names = append(names, name)
	}
	return names
}

// Default registry instance
var DefaultRegistry = NewRegistry()

// netListener adapts a transport.Listener to net.Listener, so a pluggable
// transport (QUIC included) can feed pkg/server/pkg/ipc's net.Listener-based
// accept loops without either package knowing about transport.Transport.
type netListener struct {
	ctx context.Context
	l   Listener
}

// AsNetListener wraps l so its Accept calls run under ctx.
func AsNetListener(ctx context.Context, l Listener) net.Listener {
	return &netListener{ctx: ctx, l: l}
}

func (n *netListener) Accept() (net.Conn, error) { return n.l.Accept(n.ctx) }
func (n *netListener) Close() error              { return n.l.Close() }
func (n *netListener) Addr() net.Addr            { return n.l.Addr() }
