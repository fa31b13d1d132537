package transport

import (
	"context"
	"sync"
	"time"

	"github.com/jmhodges/clock"
)

// Keep-alive defaults for a local control socket.
const (
	DefaultPingInterval   = 10 * time.Second
	DefaultPongTimeout    = 2 * time.Second
	DefaultMaxMissedPongs = 3
)

// KeepAliveConfig configures keep-alive behavior.
type KeepAliveConfig struct {
	// PingInterval is the interval between pings.
	PingInterval time.Duration

	// PongTimeout is how long a ping may stay unanswered before it counts
	// as missed.
	PongTimeout time.Duration

	// MaxMissedPongs is the number of consecutive misses that declares the
	// peer dead.
	MaxMissedPongs int

	// Clock drives the ping schedule (default: wall clock).
	Clock clock.Clock
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		MaxMissedPongs: DefaultMaxMissedPongs,
	}
}

// DetectionDelay is the longest a dead peer can go unnoticed.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.PingInterval*time.Duration(c.MaxMissedPongs) + c.PongTimeout
}

// KeepAlive sends periodic pings through a caller-supplied function and
// reports a timeout after too many go unanswered. The caller correlates
// replies and feeds them back with PongReceived.
type KeepAlive struct {
	config KeepAliveConfig
	clk    clock.Clock

	sendPing  func(seq uint32) error
	onTimeout func()
	onPong    func(seq uint32, latency time.Duration)

	mu          sync.Mutex
	seq         uint32
	pending     bool
	lastPing    time.Time
	lastPong    time.Time
	missedPongs int
	running     bool
	stopCh      chan struct{}

	pongCh chan uint32
}

// NewKeepAlive creates a keep-alive manager. Zero config fields take the
// defaults.
func NewKeepAlive(config KeepAliveConfig, sendPing func(seq uint32) error, onTimeout func()) *KeepAlive {
	if config.PingInterval == 0 {
		config.PingInterval = DefaultPingInterval
	}
	if config.PongTimeout == 0 {
		config.PongTimeout = DefaultPongTimeout
	}
	if config.MaxMissedPongs == 0 {
		config.MaxMissedPongs = DefaultMaxMissedPongs
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &KeepAlive{
		config:    config,
		clk:       clk,
		sendPing:  sendPing,
		onTimeout: onTimeout,
		pongCh:    make(chan uint32, 1),
	}
}

// OnPong registers a callback for answered pings.
func (ka *KeepAlive) OnPong(cb func(seq uint32, latency time.Duration)) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	ka.onPong = cb
}

// Start begins pinging. It is a no-op while already running.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if ka.running {
		return
	}
	ka.running = true
	ka.stopCh = make(chan struct{})
	go ka.loop(ctx, ka.stopCh)
}

// Stop ends pinging.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if !ka.running {
		return
	}
	ka.running = false
	close(ka.stopCh)
}

// IsRunning reports whether the ping loop is active.
func (ka *KeepAlive) IsRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// PongReceived records the answer to ping seq.
func (ka *KeepAlive) PongReceived(seq uint32) {
	select {
	case ka.pongCh <- seq:
	default:
	}
}

// KeepAliveStats is a snapshot of the keep-alive state.
type KeepAliveStats struct {
	LastPingTime time.Time
	LastPongTime time.Time
	MissedPongs  int
	CurrentSeq   uint32
}

// Stats returns a snapshot of the keep-alive state.
func (ka *KeepAlive) Stats() KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return KeepAliveStats{
		LastPingTime: ka.lastPing,
		LastPongTime: ka.lastPong,
		MissedPongs:  ka.missedPongs,
		CurrentSeq:   ka.seq,
	}
}

func (ka *KeepAlive) loop(ctx context.Context, stop <-chan struct{}) {
	ka.ping()
	tick := ka.clk.After(ka.config.PingInterval)
	for {
		select {
		case <-ctx.Done():
			ka.Stop()
			return
		case <-stop:
			return
		case seq := <-ka.pongCh:
			ka.pong(seq)
		case <-tick:
			if ka.expire() {
				ka.Stop()
				if ka.onTimeout != nil {
					ka.onTimeout()
				}
				return
			}
			ka.ping()
			tick = ka.clk.After(ka.config.PingInterval)
		}
	}
}

func (ka *KeepAlive) ping() {
	ka.mu.Lock()
	ka.seq++
	seq := ka.seq
	ka.lastPing = ka.clk.Now()
	ka.pending = true
	ka.mu.Unlock()

	// A failed send is left to expire like a lost pong.
	_ = ka.sendPing(seq)
}

// expire counts an overdue ping and reports whether the peer is dead.
func (ka *KeepAlive) expire() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if ka.pending && ka.clk.Now().Sub(ka.lastPing) >= ka.config.PongTimeout {
		ka.pending = false
		ka.missedPongs++
	}
	return ka.missedPongs >= ka.config.MaxMissedPongs
}

func (ka *KeepAlive) pong(seq uint32) {
	ka.mu.Lock()
	now := ka.clk.Now()
	ka.lastPong = now
	if !ka.pending || seq != ka.seq {
		ka.mu.Unlock()
		return
	}
	latency := now.Sub(ka.lastPing)
	ka.pending = false
	ka.missedPongs = 0
	cb := ka.onPong
	ka.mu.Unlock()

	if cb != nil {
		cb(seq, latency)
	}
}
