package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	mu       sync.Mutex
	text     []string
	shutdown int
}

func (s *fakeServer) SetText(txt []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = txt
}

func (s *fakeServer) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown++
}

type fakeRegistry struct {
	servers []*fakeServer
	infos   []Info
	ttl     time.Duration
	err     error
}

func (r *fakeRegistry) register(info *Info, txt []string, _ []net.Interface, ttl time.Duration) (registration, error) {
	if r.err != nil {
		return nil, r.err
	}
	s := &fakeServer{text: txt}
	r.servers = append(r.servers, s)
	r.infos = append(r.infos, *info)
	r.ttl = ttl
	return s, nil
}

func newTestAdvertiser() (*Advertiser, *fakeRegistry) {
	reg := &fakeRegistry{}
	a := NewAdvertiser(AdvertiserConfig{})
	a.register = reg.register
	return a, reg
}

func TestAdvertise(t *testing.T) {
	a, reg := newTestAdvertiser()

	err := a.Advertise(context.Background(), Info{Instance: "nxsd-evb", Port: 7341, Board: "evb", Version: "1.0"})
	require.NoError(t, err)
	require.Len(t, reg.servers, 1)
	assert.Equal(t, DefaultTTL, reg.ttl)
	assert.Equal(t, []string{"board=evb", "ver=1.0"}, reg.servers[0].text)

	info, active := a.Info()
	assert.True(t, active)
	assert.Equal(t, "nxsd-evb", info.Instance)

	a.Stop()
	a.Stop()
	assert.Equal(t, 1, reg.servers[0].shutdown)
	_, active = a.Info()
	assert.False(t, active)
}

func TestAdvertiseDefaultsInstance(t *testing.T) {
	a, reg := newTestAdvertiser()
	require.NoError(t, a.Advertise(context.Background(), Info{Port: 1, Board: "b", Version: "v"}))
	assert.Equal(t, DefaultInstance(), reg.infos[0].Instance)
}

func TestAdvertiseReplaces(t *testing.T) {
	a, reg := newTestAdvertiser()
	ctx := context.Background()

	require.NoError(t, a.Advertise(ctx, Info{Instance: "one", Port: 1, Board: "b", Version: "v"}))
	require.NoError(t, a.Advertise(ctx, Info{Instance: "two", Port: 2, Board: "b", Version: "v"}))

	require.Len(t, reg.servers, 2)
	assert.Equal(t, 1, reg.servers[0].shutdown)
	assert.Equal(t, 0, reg.servers[1].shutdown)
}

func TestAdvertiseErrors(t *testing.T) {
	a, reg := newTestAdvertiser()

	err := a.Advertise(context.Background(), Info{Instance: "x", Port: 0})
	assert.ErrorIs(t, err, ErrInvalidPort)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = a.Advertise(ctx, Info{Instance: "x", Port: 1})
	assert.ErrorIs(t, err, context.Canceled)

	reg.err = errors.New("no multicast")
	err = a.Advertise(context.Background(), Info{Instance: "x", Port: 1})
	assert.ErrorContains(t, err, "no multicast")

	_, active := a.Info()
	assert.False(t, active)
}

func TestAdvertiserUpdate(t *testing.T) {
	a, reg := newTestAdvertiser()

	assert.ErrorIs(t, a.Update("b", "v"), ErrNotAdvertising)

	require.NoError(t, a.Advertise(context.Background(), Info{Instance: "x", Port: 1, Board: "old", Version: "1"}))
	require.NoError(t, a.Update("new", "2"))
	assert.Equal(t, []string{"board=new", "ver=2"}, reg.servers[0].text)
}

func entry(instance string, ips []string, txt ...string) *zeroconf.ServiceEntry {
	e := new(zeroconf.ServiceEntry)
	e.Instance = instance
	e.HostName = instance + ".local."
	e.Port = DefaultPort
	e.Text = txt
	for _, s := range ips {
		ip := net.ParseIP(s)
		if ip.To4() != nil {
			e.AddrIPv4 = append(e.AddrIPv4, ip)
		} else {
			e.AddrIPv6 = append(e.AddrIPv6, ip)
		}
	}
	return e
}

// scriptedBrowse replays adds then removes, then waits for cancellation.
func scriptedBrowse(adds, removes []*zeroconf.ServiceEntry) browseFunc {
	return func(ctx context.Context, entries, removed chan *zeroconf.ServiceEntry, _ []net.Interface) error {
		for _, e := range adds {
			select {
			case entries <- e:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		for _, e := range removes {
			select {
			case removed <- e:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		<-ctx.Done()
		return nil
	}
}

func newTestBrowser(adds, removes []*zeroconf.ServiceEntry) *Browser {
	b := NewBrowser(BrowserConfig{})
	b.browse = scriptedBrowse(adds, removes)
	return b
}

func TestBrowseAggregatesByInstance(t *testing.T) {
	b := newTestBrowser([]*zeroconf.ServiceEntry{
		entry("nxsd-a", []string{"192.168.1.10"}, "board=evb", "ver=1"),
		entry("nxsd-a", []string{"fe80::1"}, "board=evb", "ver=1"),
		entry("printer", []string{"192.168.1.20"}, "rp=ipp"),
		entry("nxsd-b", []string{"192.168.1.11"}, "board=vdk", "ver=2"),
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	found, err := b.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "nxsd-a", found[0].Instance)
	assert.Equal(t, "evb", found[0].Board)
	assert.Equal(t, "nxsd-b", found[1].Instance)
	assert.Equal(t, "192.168.1.11:7341", found[1].Endpoint())
}

func TestBrowseRemoval(t *testing.T) {
	b := newTestBrowser(
		[]*zeroconf.ServiceEntry{
			entry("nxsd-a", []string{"10.0.0.1"}, "board=evb", "ver=1"),
			entry("nxsd-a", []string{"10.0.1.1"}, "board=evb", "ver=1"),
		},
		[]*zeroconf.ServiceEntry{
			entry("nxsd-a", []string{"10.0.0.1"}),
			entry("unknown", []string{"10.0.0.9"}),
			entry("nxsd-a", []string{"10.0.1.1"}),
		},
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	events, err := b.Browse(ctx)
	require.NoError(t, err)

	ev := <-events
	assert.False(t, ev.Removed)
	assert.Equal(t, []string{"10.0.0.1"}, ev.Service.Addresses)

	ev = <-events
	assert.True(t, ev.Removed)
	assert.Equal(t, "nxsd-a", ev.Service.Instance)
	assert.Empty(t, ev.Service.Addresses)
}

func TestCollectEmpty(t *testing.T) {
	b := newTestBrowser(nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	found, err := b.Collect(ctx)
	assert.NoError(t, err)
	assert.NotNil(t, found)
	assert.Empty(t, found)
}

func TestFind(t *testing.T) {
	b := newTestBrowser([]*zeroconf.ServiceEntry{
		entry("nxsd-a", []string{"10.0.0.1"}, "board=evb", "ver=1"),
		entry("nxsd-b", []string{"10.0.0.2"}, "board=vdk", "ver=1"),
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	svc, err := b.Find(ctx, "nxsd-b")
	require.NoError(t, err)
	assert.Equal(t, "vdk", svc.Board)

	svc, err = b.Find(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "nxsd-a", svc.Instance)
}

func TestFindTimeout(t *testing.T) {
	b := newTestBrowser(nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := b.Find(ctx, "nxsd-a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBrowseBadInterface(t *testing.T) {
	b := NewBrowser(BrowserConfig{Interface: "does-not-exist0"})
	_, err := b.Browse(context.Background())
	assert.Error(t, err)
}

func TestMergeAndRemoveAddresses(t *testing.T) {
	addrs := mergeAddresses([]string{"a", "b"}, []string{"b", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, addrs)

	e := entry("x", []string{"10.0.0.1"})
	assert.Equal(t, []string{"10.0.0.2"}, removeAddresses([]string{"10.0.0.1", "10.0.0.2"}, e))
}
