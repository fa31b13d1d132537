package hw

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmhodges/clock"

	"github.com/nxs-stream/nxs-go/pkg/nxs"
)

// DefaultVSyncPeriod is the simulated frame period (60 Hz).
const DefaultVSyncPeriod = time.Second / 60

// ChipConfig configures a simulated chip.
type ChipConfig struct {
	// Lines is the interrupt line count. Zero uses DefaultLines.
	Lines int

	// Clock paces vsync. Nil uses the wall clock.
	Clock clock.Clock

	// Logger receives operational logs. Nil discards them.
	Logger *slog.Logger
}

// Chip is a simulated stream fabric.
type Chip struct {
	bank   *Bank
	dirty  *DirtyFlags
	intc   *Controller
	clk    clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	blocks map[uint32]*Block

	frames  atomic.Uint64
	latched atomic.Uint64
}

// NewChip creates a powered-off chip with every register at zero.
func NewChip(cfg ChipConfig) *Chip {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	bank := NewBank()
	return &Chip{
		bank:   bank,
		dirty:  NewDirtyFlags(bank),
		intc:   NewController(cfg.Lines),
		clk:    clk,
		logger: logger,
		blocks: make(map[uint32]*Block),
	}
}

// Bank returns the chip's register file.
func (c *Chip) Bank() *Bank { return c.bank }

// Dirty returns the dirty-flag registers.
func (c *Chip) Dirty() *DirtyFlags { return c.dirty }

// Interrupts returns the interrupt controller.
func (c *Chip) Interrupts() *Controller { return c.intc }

// Block returns the driver of one block, creating it on first use.
func (c *Chip) Block(kind nxs.Kind, index int) (*Block, error) {
	if err := kind.CheckIndex(index); err != nil {
		return nil, err
	}
	if index == nxs.AnyInstance {
		return nil, fmt.Errorf("%w: block needs a concrete index", nxs.ErrInvalidArgument)
	}

	base := blockBase(kind, index)
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.blocks[base]; ok {
		return b, nil
	}
	b := &Block{
		kind:   kind,
		index:  index,
		regs:   c.bank.Region(base, blockSize),
		logger: c.logger.With("block", nxs.DeviceName(kind, index)),
	}
	c.blocks[base] = b
	return b, nil
}

// Frames returns the number of vsyncs since the chip started.
func (c *Chip) Frames() uint64 { return c.frames.Load() }

// VSync publishes every latched dirty bit and raises every attached
// interrupt line once.
func (c *Chip) VSync() {
	bits := c.dirty.Latch()
	c.latched.Add(uint64(len(bits)))
	c.frames.Add(1)
	for _, line := range c.intc.Attached() {
		c.intc.Raise(line)
	}
}

// Run generates vsync every period until ctx is done. A zero period uses
// DefaultVSyncPeriod.
func (c *Chip) Run(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		period = DefaultVSyncPeriod
	}
	c.logger.Info("vsync running", "period", period)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("vsync stopped", "frames", c.Frames(), "latched", c.latched.Load())
			return ctx.Err()
		case <-c.clk.After(period):
			c.VSync()
		}
	}
}
