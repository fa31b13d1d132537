package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/nxs-stream/nxs-go/pkg/log"
)

// ErrConnectionClosed is returned by operations on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// Dial defaults.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultMinBackoff     = 50 * time.Millisecond
	DefaultMaxBackoff     = 2 * time.Second
)

// ClientConfig configures a control-plane client.
type ClientConfig struct {
	// Network is "unix" (default) or "tcp".
	Network string

	// Address is a socket path or host:port (default: DefaultSocketPath).
	Address string

	// MaxMessageSize is the maximum message size (default: 64KB).
	MaxMessageSize uint32

	// ConnectTimeout bounds the whole dial including retries (default: 5s).
	ConnectTimeout time.Duration

	// MaxAttempts caps dial attempts. Zero retries until ConnectTimeout.
	MaxAttempts int

	// MinBackoff and MaxBackoff bound the delay between attempts.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// Logger for protocol tracing (optional).
	Logger log.Logger
}

// Client dials the daemon.
type Client struct {
	config ClientConfig
}

// NewClient creates a client, filling in defaults.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Network == "" {
		config.Network = NetworkUnix
	}
	if config.Network != NetworkUnix && config.Network != NetworkTCP {
		return nil, fmt.Errorf("unsupported network %q", config.Network)
	}
	if config.Address == "" {
		if config.Network == NetworkTCP {
			return nil, fmt.Errorf("tcp client needs an address")
		}
		config.Address = DefaultSocketPath
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.MinBackoff == 0 {
		config.MinBackoff = DefaultMinBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = DefaultMaxBackoff
	}
	return &Client{config: config}, nil
}

// Connect dials the daemon, retrying with exponential backoff while the
// socket is missing or refuses connections.
func (c *Client) Connect(ctx context.Context) (*ClientConn, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	b := &backoff.Backoff{
		Min:    c.config.MinBackoff,
		Max:    c.config.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}
	dialer := &net.Dialer{}

	var lastErr error
	for {
		conn, err := dialer.DialContext(ctx, c.config.Network, c.config.Address)
		if err == nil {
			return c.wrap(conn), nil
		}
		lastErr = err

		if c.config.MaxAttempts > 0 && int(b.Attempt())+1 >= c.config.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial %s: %w (last error: %v)", c.config.Address, ctx.Err(), lastErr)
		case <-time.After(b.Duration()):
		}
	}
	return nil, fmt.Errorf("dial %s: %w", c.config.Address, lastErr)
}

func (c *Client) wrap(conn net.Conn) *ClientConn {
	framer := NewFramer(conn, c.config.MaxMessageSize)
	if c.config.Logger != nil {
		framer.SetLogger(c.config.Logger, conn.LocalAddr().String())
	}
	return &ClientConn{
		conn:    conn,
		framer:  framer,
		closeCh: make(chan struct{}),
	}
}

// ClientConn is a connection from a client to the daemon.
type ClientConn struct {
	conn    net.Conn
	framer  *Framer
	closeCh chan struct{}

	closeOnce sync.Once
	readMu    sync.Mutex
}

// LocalAddr returns the local network address.
func (c *ClientConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *ClientConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send writes one frame to the daemon. Safe for concurrent use.
func (c *ClientConn) Send(data []byte) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}
	return c.framer.WriteFrame(data)
}

// Receive reads one frame. A positive timeout sets a read deadline.
func (c *ClientConn) Receive(timeout time.Duration) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	select {
	case <-c.closeCh:
		return nil, ErrConnectionClosed
	default:
	}

	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}
	return c.framer.ReadFrame()
}

// Close closes the connection. Safe to call more than once.
func (c *ClientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

// Done is closed when the connection closes.
func (c *ClientConn) Done() <-chan struct{} {
	return c.closeCh
}
