package function

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nxs-stream/nxs-go/pkg/node"
	"github.com/nxs-stream/nxs-go/pkg/nxs"
)

// fakeDriver records calls into a shared journal.
type fakeDriver struct {
	name      string
	journal   *[]string
	failStart error
	failOpen  error
}

func (d *fakeDriver) note(op string) {
	*d.journal = append(*d.journal, d.name+":"+op)
}

func (d *fakeDriver) Open() error {
	if d.failOpen != nil {
		return d.failOpen
	}
	d.note("open")
	return nil
}

func (d *fakeDriver) Close() error { d.note("close"); return nil }

func (d *fakeDriver) Start() error {
	if d.failStart != nil {
		return d.failStart
	}
	d.note("start")
	return nil
}

func (d *fakeDriver) Stop() error              { d.note("stop"); return nil }
func (d *fakeDriver) SetTID(_, _ uint32) error { return nil }
func (d *fakeDriver) Services() []node.Service { return nil }

// fakeClaimer is a minimal node registry.
type fakeClaimer struct {
	mu      sync.Mutex
	nodes   map[string]*node.Dev
	drivers map[string]*fakeDriver
	journal []string
	sink    node.DirtySink
}

func newFakeClaimer(t *testing.T, specs ...string) *fakeClaimer {
	t.Helper()
	c := &fakeClaimer{nodes: make(map[string]*node.Dev), drivers: make(map[string]*fakeDriver)}
	for _, s := range specs {
		c.add(t, s, 1, nil)
	}
	return c
}

func (c *fakeClaimer) add(t *testing.T, spec string, maxRef int, irq node.InterruptSource) *node.Dev {
	t.Helper()
	var name string
	var index int
	_, err := fmt.Sscanf(spec, "%s %d", &name, &index)
	require.NoError(t, err)
	kind, err := nxs.ParseKind(name)
	require.NoError(t, err)

	drv := &fakeDriver{name: nxs.DeviceName(kind, index), journal: &c.journal}
	dev, err := node.New(node.Config{
		Kind:        kind,
		Index:       index,
		MaxRefcount: maxRef,
		CanFollow:   kind.CanMultitap(),
		Driver:      drv,
		IRQ:         irq,
		Sink:        c.sink,
	})
	require.NoError(t, err)
	c.nodes[dev.Name()] = dev
	c.drivers[dev.Name()] = drv
	return dev
}

func (c *fakeClaimer) GetNode(kind nxs.Kind, index int, req nxs.Requester, follow bool) (*node.Dev, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dev, ok := c.nodes[nxs.DeviceName(kind, index)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", nxs.ErrNotFound, nxs.DeviceName(kind, index))
	}
	if err := dev.Claim(req, follow); err != nil {
		return nil, err
	}
	return dev, nil
}

func (c *fakeClaimer) PutNode(dev *node.Dev, req nxs.Requester, follow bool) {
	dev.Release(req, follow)
}

func (c *fakeClaimer) node(name string) *node.Dev { return c.nodes[name] }

func (c *fakeClaimer) totalRefs() int {
	n := 0
	for _, d := range c.nodes {
		n += d.Refcount() + d.Followers()
	}
	return n
}

func (c *fakeClaimer) openNodes() []string {
	var open []string
	for name, d := range c.nodes {
		if d.OpenCount() > 0 {
			open = append(open, name)
		}
	}
	return open
}

func elems(specs ...string) []Element {
	out := make([]Element, 0, len(specs))
	for _, s := range specs {
		var name string
		var index int
		follow := false
		if n, _ := fmt.Sscanf(s, "%s %d follow", &name, &index); n < 2 {
			panic("bad element " + s)
		}
		if len(s) > 7 && s[len(s)-6:] == "follow" {
			follow = true
		}
		kind, err := nxs.ParseKind(name)
		if err != nil {
			panic(err)
		}
		out = append(out, Element{Kind: kind, Index: index, Requester: nxs.RequesterUser, MultitapFollow: follow})
	}
	return out
}

var errBoom = errors.New("boom")

// dirtyLog collects dirty commits.
type dirtyLog struct {
	mu   sync.Mutex
	bits []node.DirtyBit
}

func (l *dirtyLog) SetDirty(bit node.DirtyBit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bits = append(l.bits, bit)
	return nil
}

// fakeLines is an interrupt controller raised by hand.
type fakeLines struct {
	mu       sync.Mutex
	handlers map[int]func()
}

func (f *fakeLines) Attach(line int, fn func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = make(map[int]func())
	}
	f.handlers[line] = fn
	return nil
}

func (f *fakeLines) Detach(line int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, line)
}

func (f *fakeLines) raise(line int) {
	f.mu.Lock()
	fn := f.handlers[line]
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}
