package hw

import (
	"fmt"
	"slices"
	"sync"

	"github.com/nxs-stream/nxs-go/pkg/nxs"
)

// DefaultLines is the number of interrupt lines the fabric exposes.
const DefaultLines = 64

type lineState struct {
	handler func()
	count   uint64

	// running is read-held while the handler executes.
	running sync.RWMutex
}

// Controller is the stream fabric's interrupt controller. One handler can
// be attached to each line. Handlers run on the raising goroutine.
type Controller struct {
	mu    sync.Mutex
	lines []*lineState
}

// NewController creates a controller with n lines. Zero uses DefaultLines.
func NewController(n int) *Controller {
	if n <= 0 {
		n = DefaultLines
	}
	c := &Controller{lines: make([]*lineState, n)}
	for i := range c.lines {
		c.lines[i] = &lineState{}
	}
	return c
}

// Lines returns the number of lines.
func (c *Controller) Lines() int { return len(c.lines) }

func (c *Controller) line(n int) (*lineState, error) {
	if n < 0 || n >= len(c.lines) {
		return nil, fmt.Errorf("%w: irq line %d out of range [0,%d)", nxs.ErrInvalidArgument, n, len(c.lines))
	}
	return c.lines[n], nil
}

// Attach installs fn on a line. A line carries one handler at a time.
func (c *Controller) Attach(line int, fn func()) error {
	if fn == nil {
		return fmt.Errorf("%w: nil irq handler", nxs.ErrInvalidArgument)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.line(line)
	if err != nil {
		return err
	}
	if st.handler != nil {
		return fmt.Errorf("%w: irq line %d already attached", nxs.ErrResourceBusy, line)
	}
	st.handler = fn
	return nil
}

// Detach removes a line's handler and waits for a running invocation to
// return. It must not be called from the handler itself.
func (c *Controller) Detach(line int) {
	c.mu.Lock()
	st, err := c.line(line)
	if err != nil {
		c.mu.Unlock()
		return
	}
	st.handler = nil
	c.mu.Unlock()

	st.running.Lock()
	//nolint:staticcheck // waits out an in-flight handler
	st.running.Unlock()
}

// Raise signals a line and runs its handler. It returns false when no
// handler is attached.
func (c *Controller) Raise(line int) bool {
	c.mu.Lock()
	st, err := c.line(line)
	if err != nil || st.handler == nil {
		c.mu.Unlock()
		return false
	}
	fn := st.handler
	st.count++
	st.running.RLock()
	c.mu.Unlock()

	defer st.running.RUnlock()
	fn()
	return true
}

// Count returns how often a line was raised with a handler attached.
func (c *Controller) Count(line int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, err := c.line(line)
	if err != nil {
		return 0
	}
	return st.count
}

// Attached returns the lines that have a handler, in ascending order.
func (c *Controller) Attached() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []int
	for i, st := range c.lines {
		if st.handler != nil {
			out = append(out, i)
		}
	}
	return slices.Clip(out)
}
