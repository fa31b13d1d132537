package node

import (
	"fmt"
	"sync"
	"time"

	"github.com/jmhodges/clock"
)

// DefaultPollPeriod is the tick of a timer source for blocks without an IRQ.
const DefaultPollPeriod = 30 * time.Millisecond

// InterruptSource delivers frame ticks for a node.
type InterruptSource interface {
	// Enable starts delivering ticks to fire. Enabling twice is a no-op.
	Enable(fire func()) error
	// Disable stops delivery and returns once no tick is in flight.
	Disable()
	String() string
}

// LineController routes hardware interrupt lines to handlers.
type LineController interface {
	Attach(line int, fn func()) error
	Detach(line int)
}

// LineSource is an interrupt source backed by a hardware IRQ line.
type LineSource struct {
	ctrl LineController
	line int

	mu      sync.Mutex
	enabled bool
}

// NewLineSource binds a source to a line of ctrl.
func NewLineSource(ctrl LineController, line int) *LineSource {
	return &LineSource{ctrl: ctrl, line: line}
}

// Line returns the IRQ line number.
func (s *LineSource) Line() int {
	return s.line
}

func (s *LineSource) Enable(fire func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		return nil
	}
	if err := s.ctrl.Attach(s.line, fire); err != nil {
		return err
	}
	s.enabled = true
	return nil
}

func (s *LineSource) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}
	s.ctrl.Detach(s.line)
	s.enabled = false
}

func (s *LineSource) String() string {
	return fmt.Sprintf("irq %d", s.line)
}

// TimerSource polls on a fixed period for blocks that have no usable IRQ.
type TimerSource struct {
	period time.Duration
	clk    clock.Clock

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewTimerSource creates a polling source. A zero period uses
// DefaultPollPeriod; a nil clock uses the wall clock.
func NewTimerSource(period time.Duration, clk clock.Clock) *TimerSource {
	if period <= 0 {
		period = DefaultPollPeriod
	}
	if clk == nil {
		clk = clock.New()
	}
	return &TimerSource{period: period, clk: clk}
}

// Period returns the polling period.
func (s *TimerSource) Period() time.Duration {
	return s.period
}

func (s *TimerSource) Enable(fire func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(fire, s.stop, s.done)
	return nil
}

func (s *TimerSource) run(fire func(), stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-s.clk.After(s.period):
		}
		select {
		case <-stop:
			return
		default:
		}
		fire()
	}
}

func (s *TimerSource) Disable() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (s *TimerSource) String() string {
	return fmt.Sprintf("timer %s", s.period)
}
