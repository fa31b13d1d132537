package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nxs-stream/nxs-go/pkg/log"
)

// Networks accepted by ServerConfig.Network and ClientConfig.Network.
const (
	NetworkUnix = "unix"
	NetworkTCP  = "tcp"
)

// DefaultSocketPath is where nxsd listens when no address is configured.
const DefaultSocketPath = "/run/nxs/nxsd.sock"

// DefaultSocketMode is the permission of a freshly created unix socket.
const DefaultSocketMode os.FileMode = 0o660

// ServerConfig configures a control-plane server.
type ServerConfig struct {
	// Network is "unix" (default) or "tcp".
	Network string

	// Address is a socket path or a host:port.
	Address string

	// SocketMode is applied to unix sockets after listening.
	SocketMode os.FileMode

	// MaxMessageSize is the maximum message size (default: 64KB).
	MaxMessageSize uint32

	// Logger for protocol tracing (optional).
	Logger log.Logger

	// OnConnect is called when a new connection is established.
	OnConnect func(conn *ServerConn)

	// OnDisconnect is called when a connection is closed.
	OnDisconnect func(conn *ServerConn)

	// OnMessage is called for every received frame, from the connection's
	// read goroutine.
	OnMessage func(conn *ServerConn, msg []byte)

	// OnError is called when an error occurs. conn is nil for accept errors.
	OnError func(conn *ServerConn, err error)
}

// Server accepts control-plane connections.
type Server struct {
	config   ServerConfig
	listener net.Listener

	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer validates config and creates a server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Network == "" {
		config.Network = NetworkUnix
	}
	switch config.Network {
	case NetworkUnix:
		if config.Address == "" {
			config.Address = DefaultSocketPath
		}
		if config.SocketMode == 0 {
			config.SocketMode = DefaultSocketMode
		}
	case NetworkTCP:
		if config.Address == "" {
			return nil, fmt.Errorf("tcp listener needs an address")
		}
	default:
		return nil, fmt.Errorf("unsupported network %q", config.Network)
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}

	return &Server{
		config: config,
		conns:  make(map[*ServerConn]struct{}),
	}, nil
}

// Start listens and begins accepting connections. A stale unix socket left
// by a previous run is removed first.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	if s.config.Network == NetworkUnix {
		if err := removeStaleSocket(s.config.Address); err != nil {
			return err
		}
	}

	listener, err := net.Listen(s.config.Network, s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	if s.config.Network == NetworkUnix {
		if err := os.Chmod(s.config.Address, s.config.SocketMode); err != nil {
			listener.Close()
			return fmt.Errorf("chmod socket: %w", err)
		}
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat socket: %w", err)
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	// A live daemon still answers; refuse to steal its socket.
	if c, err := net.DialTimeout(NetworkUnix, path, 100*time.Millisecond); err == nil {
		c.Close()
		return fmt.Errorf("%s is in use", path)
	}
	return os.Remove(path)
}

// Stop closes the listener and every connection, then waits for the
// connection goroutines to finish.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()
	s.listener.Close()

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// Broadcast sends data to every connection. Failed sends are reported
// through OnError and do not stop the broadcast.
func (s *Server) Broadcast(data []byte) {
	s.connsMu.RLock()
	conns := make([]*ServerConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.RUnlock()

	for _, c := range conns {
		if err := c.Send(data); err != nil && s.config.OnError != nil {
			s.config.OnError(c, err)
		}
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			if s.config.OnError != nil {
				s.config.OnError(nil, fmt.Errorf("accept error: %w", err))
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	connID := uuid.New().String()

	framer := NewFramer(conn, s.config.MaxMessageSize)
	if s.config.Logger != nil {
		framer.SetLogger(s.config.Logger, connID)
	}

	sconn := &ServerConn{
		conn:    conn,
		framer:  framer,
		server:  s,
		closeCh: make(chan struct{}),
		connID:  connID,
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		if cred, err := PeerCredentials(uc); err == nil {
			sconn.cred = cred
		}
	}

	s.logState(sconn, "", "CONNECTED")

	s.connsMu.Lock()
	if !s.running.Load() {
		s.connsMu.Unlock()
		conn.Close()
		return
	}
	s.conns[sconn] = struct{}{}
	s.connsMu.Unlock()

	if s.config.OnConnect != nil {
		s.config.OnConnect(sconn)
	}

	sconn.readLoop()
	sconn.Close()

	s.connsMu.Lock()
	delete(s.conns, sconn)
	s.connsMu.Unlock()

	s.logState(sconn, "CONNECTED", "DISCONNECTED")

	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(sconn)
	}
}

func (s *Server) logState(c *ServerConn, oldState, newState string) {
	if s.config.Logger == nil {
		return
	}
	s.config.Logger.Log(log.Event{
		Timestamp:  time.Now(),
		SessionID:  c.connID,
		Layer:      log.LayerTransport,
		Category:   log.CategoryState,
		RemoteAddr: c.Peer(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: oldState,
			NewState: newState,
		},
	})
}

// ServerConn is one accepted client connection.
type ServerConn struct {
	conn      net.Conn
	framer    *Framer
	server    *Server
	closeCh   chan struct{}
	closeOnce sync.Once
	connID    string
	cred      *Credentials
}

// RemoteAddr returns the remote address of the client.
func (c *ServerConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ConnID returns the unique connection identifier.
func (c *ServerConn) ConnID() string {
	return c.connID
}

// Credentials returns the peer's process credentials, or nil when the
// connection is not a unix socket or the kernel did not report them.
func (c *ServerConn) Credentials() *Credentials {
	return c.cred
}

// Peer describes the client for logs: its credentials when known, else
// its address.
func (c *ServerConn) Peer() string {
	if c.cred != nil {
		return c.cred.String()
	}
	if a := c.conn.RemoteAddr(); a != nil && a.String() != "" {
		return a.String()
	}
	return "unknown"
}

// Send writes one frame to the client. Safe for concurrent use.
func (c *ServerConn) Send(data []byte) error {
	select {
	case <-c.closeCh:
		return net.ErrClosed
	default:
	}
	return c.framer.WriteFrame(data)
}

// Close closes the connection. Safe to call more than once.
func (c *ServerConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

// Done is closed when the connection closes.
func (c *ServerConn) Done() <-chan struct{} {
	return c.closeCh
}

func (c *ServerConn) readLoop() {
	for {
		data, err := c.framer.ReadFrame()
		if err != nil {
			c.reportReadError(err)
			return
		}
		if c.server.config.OnMessage != nil {
			c.server.config.OnMessage(c, data)
		}
	}
}

func (c *ServerConn) reportReadError(err error) {
	if c.server.config.OnError == nil || !c.server.running.Load() {
		return
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return
	}
	select {
	case <-c.closeCh:
	default:
		c.server.config.OnError(c, err)
	}
}
