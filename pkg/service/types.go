package service

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jmhodges/clock"

	"github.com/nxs-stream/nxs-go/pkg/log"
	"github.com/nxs-stream/nxs-go/pkg/resource"
)

// Service errors.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrAlreadyStarted = errors.New("service already started")
	ErrSessionClosed  = errors.New("session closed")
)

// ServiceState represents the service state.
type ServiceState uint8

const (
	StateIdle ServiceState = iota
	StateRunning
	StateStopped
)

// String returns the state name.
func (s ServiceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// DefaultNotifyQueue is the per-session notification backlog. Ticks that
// arrive while the queue is full are dropped and counted.
const DefaultNotifyQueue = 64

// Config configures a Service.
type Config struct {
	// Manager receives every dispatched operation. Required.
	Manager *resource.Manager

	// Version and Board are reported by Ping.
	Version string
	Board   string

	// NotifyQueue bounds undelivered notifications per session.
	NotifyQueue int

	// Logger receives operational logs. Nil discards them.
	Logger *slog.Logger

	// Trace receives wire message events. Nil disables tracing.
	Trace log.Logger

	// Clock times requests. Nil uses the wall clock.
	Clock clock.Clock
}

// Stats are cumulative service counters.
type Stats struct {
	Sessions      int
	Requests      uint64
	Failures      uint64
	Notifications uint64
	Dropped       uint64
}

// DefaultRequestTimeout bounds how long a Client waits for a response.
const DefaultRequestTimeout = 10 * time.Second
