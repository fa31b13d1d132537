package node

import (
	"fmt"

	"github.com/nxs-stream/nxs-go/pkg/nxs"
)

// IRQHandler runs on every interrupt of a node.
type IRQHandler func(dev *Dev, data any)

// IRQCallback is a registered interrupt handler. The pointer identifies the
// registration for UnregisterIRQCallback.
type IRQCallback struct {
	id      uint64
	handler IRQHandler
	data    any
}

// ID returns the registration id, unique per node.
func (c *IRQCallback) ID() uint64 { return c.id }

// RegisterIRQCallback appends a handler. Handlers run in registration order.
func (d *Dev) RegisterIRQCallback(fn IRQHandler, data any) (*IRQCallback, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil irq handler", nxs.ErrInvalidArgument)
	}
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.nextCB++
	cb := &IRQCallback{id: d.nextCB, handler: fn, data: data}
	d.callbacks = append(d.callbacks, cb)
	return cb, nil
}

// UnregisterIRQCallback removes a handler registered on this node.
func (d *Dev) UnregisterIRQCallback(cb *IRQCallback) error {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	for i, c := range d.callbacks {
		if c == cb {
			d.callbacks = append(d.callbacks[:i:i], d.callbacks[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: irq callback on %s", nxs.ErrNotFound, d.Name())
}

// IRQCount returns the number of interrupts dispatched.
func (d *Dev) IRQCount() uint64 {
	return d.irqCount.Load()
}

// dispatch runs on the interrupt source's goroutine. Handlers are copied
// under the lock and invoked outside it so they may unregister themselves.
func (d *Dev) dispatch() {
	d.irqCount.Add(1)

	d.cbMu.Lock()
	cbs := make([]*IRQCallback, len(d.callbacks))
	copy(cbs, d.callbacks)
	d.cbMu.Unlock()

	for _, cb := range cbs {
		cb.handler(d, cb.data)
	}
}

// Fire delivers one interrupt synchronously, as the interrupt source would.
func (d *Dev) Fire() {
	d.dispatch()
}
