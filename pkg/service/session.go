package service

import (
	"slices"
	"sync"

	"github.com/nxs-stream/nxs-go/pkg/wire"
)

// Sender writes one encoded message to a session's peer.
type Sender func(data []byte) error

type subscription struct {
	handle  int
	frameID uint64
}

// Session is the server-side state of one control-plane connection.
type Session struct {
	id         string
	peer       string
	privileged bool
	send       Sender
	svc        *Service

	mu     sync.Mutex
	owned  []int
	subs   map[uint32]subscription
	closed bool

	queue chan *wire.Notification
	done  chan struct{}
	wg    sync.WaitGroup
}

func newSession(svc *Service, id, peer string, privileged bool, send Sender) *Session {
	s := &Session{
		id:         id,
		peer:       peer,
		privileged: privileged,
		send:       send,
		svc:        svc,
		subs:       make(map[uint32]subscription),
		queue:      make(chan *wire.Notification, svc.notifyQueue),
		done:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.notifyLoop()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Peer describes the remote process.
func (s *Session) Peer() string { return s.peer }

// Privileged reports whether the peer may drive kernel functions.
func (s *Session) Privileged() bool { return s.privileged }

// Owned returns the handles this session created, oldest first.
func (s *Session) Owned() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.owned)
}

func (s *Session) owns(handle int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.owned, handle)
}

func (s *Session) adopt(handle int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owned = append(s.owned, handle)
}

// forget drops every reference to handle and returns the frame handler
// ids that were subscribed to it.
func (s *Session) forget(handle int) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owned = slices.DeleteFunc(s.owned, func(h int) bool { return h == handle })
	var ids []uint64
	for id, sub := range s.subs {
		if sub.handle == handle {
			ids = append(ids, sub.frameID)
			delete(s.subs, id)
		}
	}
	return ids
}

func (s *Session) addSub(id uint32, sub subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.subs[id] = sub
	return true
}

func (s *Session) removeSub(id uint32) (subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	delete(s.subs, id)
	return sub, ok
}

// Subscriptions returns the number of active frame subscriptions.
func (s *Session) Subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// notify queues a frame tick. It runs on an interrupt source goroutine
// and never blocks.
func (s *Session) notify(n *wire.Notification) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.queue <- n:
	default:
		s.svc.dropped.Add(1)
	}
}

func (s *Session) notifyLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case n := <-s.queue:
			data, err := wire.EncodeNotification(n)
			if err != nil {
				s.svc.logger.Error("encode notification", "session", s.id, "error", err)
				continue
			}
			if err := s.send(data); err != nil {
				s.svc.logger.Debug("notification not delivered", "session", s.id, "error", err)
				continue
			}
			s.svc.notifications.Add(1)
		}
	}
}

// shutdown marks the session closed, stops notification delivery and
// returns what the service must release.
func (s *Session) shutdown() (owned []int, subs []subscription) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil
	}
	s.closed = true
	owned = slices.Clone(s.owned)
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	clear(s.subs)
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	return owned, subs
}
