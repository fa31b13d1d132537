package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/jmhodges/clock"

	"github.com/nxs-stream/nxs-go/pkg/log"
	"github.com/nxs-stream/nxs-go/pkg/nxs"
	"github.com/nxs-stream/nxs-go/pkg/resource"
	"github.com/nxs-stream/nxs-go/pkg/transport"
	"github.com/nxs-stream/nxs-go/pkg/wire"
)

// Service serves a resource manager over the control plane.
type Service struct {
	manager     *resource.Manager
	version     string
	board       string
	notifyQueue int
	logger      *slog.Logger
	trace       log.Logger
	clk         clock.Clock

	mu       sync.Mutex
	state    ServiceState
	servers  []*transport.Server
	sessions map[string]*Session

	nextSub       atomic.Uint32
	requests      atomic.Uint64
	failures      atomic.Uint64
	notifications atomic.Uint64
	dropped       atomic.Uint64
}

// New creates a service and hooks it into the manager's function
// removal notifications.
func New(cfg Config) (*Service, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("%w: service needs a manager", nxs.ErrInvalidArgument)
	}
	if cfg.NotifyQueue <= 0 {
		cfg.NotifyQueue = DefaultNotifyQueue
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	s := &Service{
		manager:     cfg.Manager,
		version:     cfg.Version,
		board:       cfg.Board,
		notifyQueue: cfg.NotifyQueue,
		logger:      logger,
		trace:       log.OrNoop(cfg.Trace),
		clk:         clk,
		sessions:    make(map[string]*Session),
	}
	cfg.Manager.OnFunctionRemoved(s.functionRemoved)
	return s, nil
}

// State returns the service state.
func (s *Service) State() ServiceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start listens on every listener config. Connection callbacks in the
// configs are replaced by the service's own.
func (s *Service) Start(ctx context.Context, listeners ...transport.ServerConfig) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateRunning
	s.mu.Unlock()

	for _, cfg := range listeners {
		cfg.OnConnect = s.handleConnect
		cfg.OnMessage = s.handleMessage
		cfg.OnDisconnect = s.handleDisconnect
		cfg.OnError = s.handleError

		srv, err := transport.NewServer(cfg)
		if err == nil {
			err = srv.Start(ctx)
		}
		if err != nil {
			s.Stop()
			return fmt.Errorf("listen %s %s: %w", cfg.Network, cfg.Address, err)
		}
		s.mu.Lock()
		s.servers = append(s.servers, srv)
		s.mu.Unlock()
		s.logger.Info("control plane listening", "network", cfg.Network, "address", srv.Addr())
	}
	return nil
}

// Stop closes every listener and session. Functions owned by sessions are
// removed; kernel functions stay.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.state = StateStopped
	servers := s.servers
	s.servers = nil
	s.mu.Unlock()

	var errs []error
	for _, srv := range servers {
		if err := srv.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	// Sessions opened in-process have no connection to close them.
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		s.CloseSession(sess)
	}
	return errors.Join(errs...)
}

// Addrs returns the listen addresses.
func (s *Service) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.Addr, 0, len(s.servers))
	for _, srv := range s.servers {
		addrs = append(addrs, srv.Addr())
	}
	return addrs
}

// Stats returns a snapshot of the service counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	n := len(s.sessions)
	s.mu.Unlock()
	return Stats{
		Sessions:      n,
		Requests:      s.requests.Load(),
		Failures:      s.failures.Load(),
		Notifications: s.notifications.Load(),
		Dropped:       s.dropped.Load(),
	}
}

// OpenSession registers a session. Transport connections get one
// automatically; in-process callers use this directly.
func (s *Service) OpenSession(id, peer string, privileged bool, send Sender) *Session {
	sess := newSession(s, id, peer, privileged, send)
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	s.logger.Info("session opened", "session", id, "peer", peer, "privileged", privileged)
	return sess
}

// Session looks up an open session.
func (s *Service) Session(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// CloseSession cancels a session's subscriptions and removes its
// functions, newest first. Safe to call more than once.
func (s *Service) CloseSession(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()

	owned, subs := sess.shutdown()
	for _, sub := range subs {
		if f, err := s.manager.Function(sub.handle); err == nil {
			f.RemoveFrameHandler(sub.frameID)
		}
	}
	for _, h := range slices.Backward(owned) {
		if err := s.manager.RemoveFunction(h, true); err != nil && !errors.Is(err, nxs.ErrNotFound) {
			s.logger.Warn("session function left behind", "session", sess.id, "handle", h, "error", err)
		}
	}
	if owned != nil || subs != nil {
		s.logger.Info("session closed", "session", sess.id, "functions", len(owned), "subscriptions", len(subs))
	}
}

// functionRemoved drops references other sessions hold to a removed
// function.
func (s *Service) functionRemoved(handle int) {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.forget(handle)
	}
}

func (s *Service) handleConnect(conn *transport.ServerConn) {
	cred := conn.Credentials()
	privileged := cred != nil && cred.UID == 0
	s.OpenSession(conn.ConnID(), conn.Peer(), privileged, conn.Send)
}

func (s *Service) handleDisconnect(conn *transport.ServerConn) {
	if sess, ok := s.Session(conn.ConnID()); ok {
		s.CloseSession(sess)
	}
}

func (s *Service) handleError(conn *transport.ServerConn, err error) {
	if conn == nil {
		s.logger.Warn("control plane", "error", err)
		return
	}
	s.logger.Debug("connection error", "session", conn.ConnID(), "error", err)
}

func (s *Service) handleMessage(conn *transport.ServerConn, data []byte) {
	sess, ok := s.Session(conn.ConnID())
	if !ok {
		return
	}
	resp := s.HandleMessage(sess, data)
	if resp == nil {
		return
	}
	out, err := wire.EncodeResponse(resp)
	if err != nil {
		s.logger.Error("encode response", "session", sess.id, "error", err)
		return
	}
	if err := conn.Send(out); err != nil {
		s.logger.Debug("response not delivered", "session", sess.id, "error", err)
	}
}
