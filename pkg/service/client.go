package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nxs-stream/nxs-go/pkg/function"
	"github.com/nxs-stream/nxs-go/pkg/nxs"
	"github.com/nxs-stream/nxs-go/pkg/resource"
	"github.com/nxs-stream/nxs-go/pkg/transport"
	"github.com/nxs-stream/nxs-go/pkg/version"
	"github.com/nxs-stream/nxs-go/pkg/wire"
)

// Client errors.
var (
	ErrRequestTimeout  = errors.New("request timed out")
	ErrClientClosed    = errors.New("client is closed")
	ErrUnexpectedReply = errors.New("unexpected reply")
)

// Conn is the connection a Client talks over. *transport.ClientConn
// implements it.
type Conn interface {
	Send(data []byte) error
	Receive(timeout time.Duration) ([]byte, error)
	Close() error
}

var _ Conn = (*transport.ClientConn)(nil)

// Client issues control-plane requests and correlates the responses.
type Client struct {
	conn    Conn
	timeout time.Duration

	nextMsgID atomic.Uint32

	pendingMu sync.Mutex
	pending   map[uint32]chan *wire.Response
	closed    bool

	notifyMu      sync.RWMutex
	notifyHandler func(*wire.Notification)

	keepAlive *transport.KeepAlive

	readErr error
	done    chan struct{}
}

// Dial connects to the daemon and starts a client over the connection.
func Dial(ctx context.Context, cfg transport.ClientConfig) (*Client, error) {
	tc, err := transport.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := tc.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// NewClient starts reading responses from conn.
func NewClient(conn Conn) *Client {
	c := &Client{
		conn:    conn,
		timeout: DefaultRequestTimeout,
		pending: make(map[uint32]chan *wire.Response),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// SetTimeout sets the per-request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.timeout = timeout
}

// OnNotification sets the handler for frame notifications. It runs on the
// client's read goroutine.
func (c *Client) OnNotification(handler func(*wire.Notification)) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.notifyHandler = handler
}

// Done is closed when the connection is lost or the client closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the read loop, if any.
func (c *Client) Err() error {
	<-c.done
	return c.readErr
}

// Close stops keep-alive, closes the connection and fails pending
// requests.
func (c *Client) Close() error {
	if c.keepAlive != nil {
		c.keepAlive.Stop()
	}
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer func() {
		c.pendingMu.Lock()
		c.closed = true
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
		close(c.done)
	}()

	for {
		data, err := c.conn.Receive(0)
		if err != nil {
			c.readErr = err
			return
		}
		isNotif, err := wire.IsNotification(data)
		if err != nil {
			continue
		}
		if isNotif {
			if n, err := wire.DecodeNotification(data); err == nil {
				c.handleNotification(n)
			}
			continue
		}
		if resp, err := wire.DecodeResponse(data); err == nil {
			_ = c.handleResponse(resp)
		}
	}
}

func (c *Client) handleResponse(resp *wire.Response) error {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.MessageID]
	delete(c.pending, resp.MessageID)
	c.pendingMu.Unlock()
	if !ok {
		return ErrUnexpectedReply
	}
	ch <- resp
	return nil
}

func (c *Client) handleNotification(n *wire.Notification) {
	c.notifyMu.RLock()
	h := c.notifyHandler
	c.notifyMu.RUnlock()
	if h != nil {
		h(n)
	}
}

// call sends one request and waits for its response. A failed status is
// returned as the matching error.
func (c *Client) call(ctx context.Context, op wire.Operation, payload, out any) error {
	req, err := wire.NewRequest(c.nextMsgID.Add(1), op, payload)
	if err != nil {
		return err
	}
	data, err := wire.EncodeRequest(req)
	if err != nil {
		return err
	}

	ch := make(chan *wire.Response, 1)
	c.pendingMu.Lock()
	if c.closed {
		c.pendingMu.Unlock()
		return ErrClientClosed
	}
	c.pending[req.MessageID] = ch
	timeout := c.timeout
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.MessageID)
		c.pendingMu.Unlock()
	}()

	if err := c.conn.Send(data); err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrRequestTimeout, op)
	case resp, ok := <-ch:
		if !ok {
			return ErrClientClosed
		}
		if err := resp.Err(); err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		return resp.DecodePayload(out)
	}
}

// Ping returns the daemon's version and board name.
func (c *Client) Ping(ctx context.Context) (wire.PingResponsePayload, error) {
	var p wire.PingResponsePayload
	err := c.call(ctx, wire.OpPing, nil, &p)
	return p, err
}

// Handshake pings the daemon and verifies that it speaks a compatible
// protocol version.
func (c *Client) Handshake(ctx context.Context) (wire.PingResponsePayload, error) {
	p, err := c.Ping(ctx)
	if err != nil {
		return p, err
	}
	return p, version.Check(p.Protocol)
}

// StartKeepAlive pings the daemon periodically and calls onTimeout when it
// stops answering. Closing the client stops it.
func (c *Client) StartKeepAlive(ctx context.Context, cfg transport.KeepAliveConfig, onTimeout func()) {
	if cfg.PongTimeout == 0 {
		cfg.PongTimeout = transport.DefaultPongTimeout
	}
	var ka *transport.KeepAlive
	ka = transport.NewKeepAlive(cfg, func(seq uint32) error {
		go func() {
			pctx, cancel := context.WithTimeout(ctx, cfg.PongTimeout)
			defer cancel()
			if _, err := c.Ping(pctx); err == nil {
				ka.PongReceived(seq)
			}
		}()
		return nil
	}, onTimeout)
	c.keepAlive = ka
	ka.Start(ctx)
}

// RequestFunction builds a function on the daemon and returns its handle.
// Requester fields of req are ignored; remote functions are always user
// functions.
func (c *Client) RequestFunction(ctx context.Context, name string, req function.Request, useBuilder bool) (int, error) {
	p := wire.RequestFunctionPayload{
		Name:          name,
		Elements:      make([]wire.ElementPayload, 0, len(req.Elements)),
		Flags:         uint32(req.Flags),
		SiblingHandle: req.SiblingHandle,
		DisplayID:     req.DisplayID,
		BottomID:      req.BottomID,
		NoBuilder:     !useBuilder,
	}
	for _, e := range req.Elements {
		p.Elements = append(p.Elements, wire.ElementPayload{Kind: e.Kind.String(), Index: e.Index, Follow: e.MultitapFollow})
	}
	var h wire.HandlePayload
	if err := c.call(ctx, wire.OpRequestFunction, p, &h); err != nil {
		return 0, err
	}
	return h.Handle, nil
}

// RemoveFunction destroys a function the session owns.
func (c *Client) RemoveFunction(ctx context.Context, handle int) error {
	return c.call(ctx, wire.OpRemoveFunction, wire.HandlePayload{Handle: handle}, nil)
}

// Connect wires a function.
func (c *Client) Connect(ctx context.Context, handle int) error {
	return c.call(ctx, wire.OpConnect, wire.HandlePayload{Handle: handle}, nil)
}

// Start starts a function.
func (c *Client) Start(ctx context.Context, handle int) error {
	return c.call(ctx, wire.OpStart, wire.HandlePayload{Handle: handle}, nil)
}

// Stop stops a function.
func (c *Client) Stop(ctx context.Context, handle int) error {
	return c.call(ctx, wire.OpStop, wire.HandlePayload{Handle: handle}, nil)
}

// Disconnect unwires a function.
func (c *Client) Disconnect(ctx context.Context, handle int) error {
	return c.call(ctx, wire.OpDisconnect, wire.HandlePayload{Handle: handle}, nil)
}

// SetControl writes a control on the element at position.
func (c *Client) SetControl(ctx context.Context, handle, position int, ctrl nxs.Control) error {
	return c.call(ctx, wire.OpSetControl, wire.ControlPayload{Handle: handle, Position: position, Control: ctrl}, nil)
}

// GetControl reads a control from the element at position.
func (c *Client) GetControl(ctx context.Context, handle, position int, ct nxs.ControlType) (nxs.Control, error) {
	var p wire.ControlPayload
	err := c.call(ctx, wire.OpGetControl, wire.ControlPayload{Handle: handle, Position: position, Control: nxs.Control{Type: ct}}, &p)
	return p.Control, err
}

// Query returns one entry per node of a function.
func (c *Client) Query(ctx context.Context, handle int, kind resource.QueryKind) ([]string, error) {
	var p wire.QueryResponsePayload
	err := c.call(ctx, wire.OpQuery, wire.QueryPayload{Handle: handle, Kind: uint8(kind)}, &p)
	return p.Entries, err
}

// ListFunctions lists every registered function.
func (c *Client) ListFunctions(ctx context.Context) ([]wire.FunctionInfo, error) {
	var p wire.ListFunctionsResponsePayload
	err := c.call(ctx, wire.OpListFunctions, nil, &p)
	return p.Functions, err
}

// ListNodes lists every registered node.
func (c *Client) ListNodes(ctx context.Context) ([]wire.NodeInfo, error) {
	var p wire.ListNodesResponsePayload
	err := c.call(ctx, wire.OpListNodes, nil, &p)
	return p.Nodes, err
}

// Subscribe asks for frame notifications of a function.
func (c *Client) Subscribe(ctx context.Context, handle int) (uint32, error) {
	var p wire.SubscribeResponsePayload
	err := c.call(ctx, wire.OpSubscribe, wire.HandlePayload{Handle: handle}, &p)
	return p.SubscriptionID, err
}

// Unsubscribe cancels a frame subscription.
func (c *Client) Unsubscribe(ctx context.Context, id uint32) error {
	return c.call(ctx, wire.OpUnsubscribe, wire.UnsubscribePayload{SubscriptionID: id}, nil)
}
