package function

import (
	"github.com/nxs-stream/nxs-go/pkg/log"
	"github.com/nxs-stream/nxs-go/pkg/node"
)

// OnFrame subscribes to frame ticks and returns the subscription id.
func (f *Function) OnFrame(fn FrameHandler) uint64 {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	f.nextSub++
	f.subs[f.nextSub] = fn
	return f.nextSub
}

// RemoveFrameHandler cancels a frame subscription.
func (f *Function) RemoveFrameHandler(id uint64) bool {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	if _, ok := f.subs[id]; !ok {
		return false
	}
	delete(f.subs, id)
	return true
}

// Frames returns the number of frame ticks seen.
func (f *Function) Frames() uint64 {
	return f.frames.Load()
}

// FrameSource returns the node whose interrupt drives frame ticks, or nil.
func (f *Function) FrameSource() *node.Dev {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frameDev
}

// attachFrameSource registers on the last node with an interrupt source.
// Requires f.mu.
func (f *Function) attachFrameSource() {
	for i := len(f.nodes) - 1; i >= 0; i-- {
		dev := f.nodes[i]
		if !dev.HasIRQ() {
			continue
		}
		cb, err := dev.RegisterIRQCallback(f.onFrame, nil)
		if err != nil {
			f.logger.Warn("frame callback", "node", dev.Name(), "error", err)
			return
		}
		f.frameDev, f.frameCB = dev, cb
		return
	}
}

// detachFrameSource requires f.mu.
func (f *Function) detachFrameSource() {
	if f.frameCB == nil {
		return
	}
	if err := f.frameDev.UnregisterIRQCallback(f.frameCB); err != nil {
		f.logger.Warn("frame callback", "node", f.frameDev.Name(), "error", err)
	}
	f.frameDev, f.frameCB = nil, nil
}

// onFrame runs on the interrupt source's goroutine and must not take f.mu.
func (f *Function) onFrame(dev *node.Dev, _ any) {
	frame := f.frames.Add(1)

	committed, err := f.Commit()
	if err != nil {
		f.logger.Warn("frame commit", "frame", frame, "error", err)
	}

	f.trace.Log(log.Event{
		Timestamp: f.clk.Now(),
		Layer:     log.LayerNode,
		Category:  log.CategoryIRQ,
		Node:      dev.Name(),
		Handle:    f.handle,
		IRQ:       &log.IRQEvent{Frame: frame, Committed: committed},
	})

	f.subMu.Lock()
	handlers := make([]FrameHandler, 0, len(f.subs))
	for _, h := range f.subs {
		handlers = append(handlers, h)
	}
	f.subMu.Unlock()

	for _, h := range handlers {
		h(f.handle, frame)
	}
}
