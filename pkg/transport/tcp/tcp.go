// Package tcp implements the TCP transport named by spec §4.5/§6.3: plain
// TCP by default, with TLS available when a caller supplies a tls.Config.
package tcp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/5yncr/syncr/pkg/constants"
	"github.com/5yncr/syncr/pkg/transport"
)

// Transport implements the TCP transport, plaintext unless a tls.Config is
// supplied to Listen/Dial.
type Transport struct{}

// New creates a new TCP transport.
func New() transport.Transport {
	return &Transport{}
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "tcp"
}

// DefaultPort returns the default port shared with the QUIC transport.
func (t *Transport) DefaultPort() int {
	return constants.DefaultPort
}

// Listen starts listening for TCP connections. tlsConfig == nil listens in
// plaintext, matching pkg/wire's one-request-per-connection discipline.
func (t *Transport) Listen(ctx context.Context, addr string, tlsConfig *tls.Config) (transport.Listener, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve TCP address: %w", err)
	}

	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP listener: %w", err)
	}

	if tlsConfig == nil {
		return &Listener{listener: listener}, nil
	}

	serverTLSConfig := tlsConfig.Clone()
	if len(serverTLSConfig.NextProtos) == 0 {
		serverTLSConfig.NextProtos = []string{"syncr/1"}
	}
	if serverTLSConfig.MinVersion == 0 {
		serverTLSConfig.MinVersion = tls.VersionTLS13
	}

	return &Listener{listener: listener, tlsConfig: serverTLSConfig}, nil
}

// Dial establishes a TCP connection. tlsConfig == nil dials in plaintext.
func (t *Transport) Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (transport.Conn, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	dialer := &net.Dialer{Timeout: 30 * time.Second}

	if tlsConfig == nil {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to dial TCP connection: %w", err)
		}
		return &Conn{conn: conn}, nil
	}

	clientTLSConfig := tlsConfig.Clone()
	if len(clientTLSConfig.NextProtos) == 0 {
		clientTLSConfig.NextProtos = []string{"syncr/1"}
	}
	if clientTLSConfig.MinVersion == 0 {
		clientTLSConfig.MinVersion = tls.VersionTLS13
	}

	conn, err := tls.DialWithDialer(dialer, "tcp", addr, clientTLSConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to dial TCP+TLS connection: %w", err)
	}
	return &Conn{conn: conn, tlsConn: conn}, nil
}

// Listener wraps a TCP listener, optionally upgrading accepted connections
// to TLS.
type Listener struct {
	listener  *net.TCPListener
	tlsConfig *tls.Config
}

// Accept waits for and returns the next connection.
func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	if deadline, ok := ctx.Deadline(); ok {
		l.listener.SetDeadline(deadline)
	}

	tcpConn, err := l.listener.AcceptTCP()
	if err != nil {
		return nil, err
	}

	if l.tlsConfig == nil {
		return &Conn{conn: tcpConn}, nil
	}

	tlsConn := tls.Server(tcpConn, l.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}
	return &Conn{conn: tlsConn, tlsConn: tlsConn}, nil
}

// Close closes the listener.
func (l *Listener) Close() error {
	return l.listener.Close()
}

// Addr returns the listener's network address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Conn wraps a net.Conn that may or may not be TLS-upgraded.
type Conn struct {
	conn    net.Conn
	tlsConn *tls.Conn
}

func (c *Conn) Read(b []byte) (n int, err error)  { return c.conn.Read(b) }
func (c *Conn) Write(b []byte) (n int, err error) { return c.conn.Write(b) }
func (c *Conn) Close() error                      { return c.conn.Close() }
func (c *Conn) LocalAddr() net.Addr               { return c.conn.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr              { return c.conn.RemoteAddr() }

func (c *Conn) SetDeadline(t time.Time) error      { return c.conn.SetDeadline(t) }
func (c *Conn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

// ConnectionState returns the TLS connection state, or its zero value for a
// plaintext connection.
func (c *Conn) ConnectionState() tls.ConnectionState {
	if c.tlsConn == nil {
		return tls.ConnectionState{}
	}
	return c.tlsConn.ConnectionState()
}

// CloseWrite half-closes the write side, satisfying pkg/wire's optional
// half-closer interface for plaintext connections.
func (c *Conn) CloseWrite() error {
	if hc, ok := c.conn.(interface{ CloseWrite() error }); ok {
		return hc.CloseWrite()
	}
	return nil
}
