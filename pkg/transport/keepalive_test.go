package transport

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func fastKeepAlive() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   10 * time.Millisecond,
		PongTimeout:    5 * time.Millisecond,
		MaxMissedPongs: 3,
	}
}

func TestKeepAliveConfig(t *testing.T) {
	config := DefaultKeepAliveConfig()

	if config.PingInterval != DefaultPingInterval {
		t.Errorf("PingInterval = %v, want %v", config.PingInterval, DefaultPingInterval)
	}
	if config.MaxMissedPongs != DefaultMaxMissedPongs {
		t.Errorf("MaxMissedPongs = %d, want %d", config.MaxMissedPongs, DefaultMaxMissedPongs)
	}
	if got, want := config.DetectionDelay(), 32*time.Second; got != want {
		t.Errorf("DetectionDelay = %v, want %v", got, want)
	}
}

func TestKeepAliveTimeout(t *testing.T) {
	var pings atomic.Int32
	timedOut := make(chan struct{})

	ka := NewKeepAlive(fastKeepAlive(),
		func(uint32) error { pings.Add(1); return nil },
		func() { close(timedOut) },
	)
	ka.Start(context.Background())

	select {
	case <-timedOut:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout callback not called")
	}
	if ka.IsRunning() {
		t.Error("keep-alive still running after timeout")
	}
	if n := pings.Load(); n < 3 {
		t.Errorf("pings = %d, want at least 3", n)
	}
	if s := ka.Stats(); s.MissedPongs != 3 {
		t.Errorf("MissedPongs = %d, want 3", s.MissedPongs)
	}
}

func TestKeepAlivePongResetsCounter(t *testing.T) {
	var timedOut atomic.Bool
	var ka *KeepAlive
	ka = NewKeepAlive(fastKeepAlive(),
		func(seq uint32) error {
			ka.PongReceived(seq)
			return nil
		},
		func() { timedOut.Store(true) },
	)

	var pongs atomic.Int32
	ka.OnPong(func(uint32, time.Duration) { pongs.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ka.Start(ctx)

	time.Sleep(100 * time.Millisecond)
	ka.Stop()

	if timedOut.Load() {
		t.Error("answered pings must not time out")
	}
	if pongs.Load() == 0 {
		t.Error("pong callback never called")
	}
	s := ka.Stats()
	if s.MissedPongs != 0 {
		t.Errorf("MissedPongs = %d, want 0", s.MissedPongs)
	}
	if s.LastPongTime.IsZero() || s.CurrentSeq == 0 {
		t.Errorf("stats not updated: %+v", s)
	}
}

func TestKeepAliveIgnoresStalePong(t *testing.T) {
	ka := NewKeepAlive(fastKeepAlive(), func(uint32) error { return nil }, nil)
	ka.ping()
	ka.ping()

	ka.pong(1)
	if !ka.pending {
		t.Error("pong for an older ping must not clear the pending one")
	}
	ka.pong(2)
	if ka.pending {
		t.Error("pong for the current ping must clear it")
	}
}

func TestKeepAliveStartStop(t *testing.T) {
	ka := NewKeepAlive(KeepAliveConfig{PingInterval: time.Hour}, func(uint32) error { return nil }, nil)

	if ka.IsRunning() {
		t.Fatal("running before Start")
	}
	ka.Start(context.Background())
	ka.Start(context.Background())
	if !ka.IsRunning() {
		t.Fatal("not running after Start")
	}
	ka.Stop()
	ka.Stop()
	if ka.IsRunning() {
		t.Fatal("running after Stop")
	}
	ka.Start(context.Background())
	if !ka.IsRunning() {
		t.Fatal("restart failed")
	}
	ka.Stop()
}

func TestKeepAliveContextCancel(t *testing.T) {
	ka := NewKeepAlive(KeepAliveConfig{PingInterval: time.Hour}, func(uint32) error { return nil }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ka.Start(ctx)
	cancel()

	deadline := time.Now().Add(time.Second)
	for ka.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if ka.IsRunning() {
		t.Error("keep-alive still running after context cancel")
	}
}
