package discovery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// registration is a live zeroconf advertisement.
type registration interface {
	SetText(txt []string)
	Shutdown()
}

type registerFunc func(info *Info, txt []string, ifaces []net.Interface, ttl time.Duration) (registration, error)

type browseFunc func(ctx context.Context, entries, removed chan *zeroconf.ServiceEntry, ifaces []net.Interface) error

func zeroconfRegister(info *Info, txt []string, ifaces []net.Interface, ttl time.Duration) (registration, error) {
	server, err := zeroconf.Register(
		info.Instance,
		ServiceType,
		Domain,
		int(info.Port),
		txt,
		ifaces,
		zeroconf.TTL(uint32(ttl.Seconds())),
	)
	if err != nil {
		return nil, err
	}
	return server, nil
}

func zeroconfBrowse(ctx context.Context, entries, removed chan *zeroconf.ServiceEntry, ifaces []net.Interface) error {
	var opts []zeroconf.ClientOption
	if len(ifaces) > 0 {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}
	return zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...)
}

// interfaces resolves a configured interface name. Empty means all.
func interfaces(name string) ([]net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("interface %q: %w", name, err)
	}
	return []net.Interface{*iface}, nil
}

func discardLogger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL is the DNS record TTL. Default: 120 seconds.
	TTL time.Duration

	Logger *slog.Logger
}

// Advertiser publishes a single nxsd endpoint.
type Advertiser struct {
	config   AdvertiserConfig
	logger   *slog.Logger
	register registerFunc

	mu     sync.Mutex
	server registration
	info   Info
}

// NewAdvertiser creates an mDNS advertiser.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	return &Advertiser{
		config:   config,
		logger:   discardLogger(config.Logger),
		register: zeroconfRegister,
	}
}

// Advertise starts advertising info, replacing any previous advertisement.
func (a *Advertiser) Advertise(ctx context.Context, info Info) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if info.Instance == "" {
		info.Instance = DefaultInstance()
	}
	if err := ValidateInstanceName(info.Instance); err != nil {
		return err
	}
	if info.Port == 0 {
		return fmt.Errorf("%w: 0", ErrInvalidPort)
	}

	ifaces, err := interfaces(a.config.Interface)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	txt := TXTRecordsToStrings(EncodeTXT(&info))
	server, err := a.register(&info, txt, ifaces, a.config.TTL)
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", ServiceType, err)
	}
	a.server = server
	a.info = info
	a.logger.Info("advertising", "instance", info.Instance, "port", info.Port, "board", info.Board)
	return nil
}

// Update republishes the TXT records with a new board or version.
func (a *Advertiser) Update(board, version string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return ErrNotAdvertising
	}
	a.info.Board = board
	a.info.Version = version
	a.server.SetText(TXTRecordsToStrings(EncodeTXT(&a.info)))
	return nil
}

// Info returns the current advertisement and whether one is active.
func (a *Advertiser) Info() (Info, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info, a.server != nil
}

// Stop withdraws the advertisement. Stopping twice is a no-op.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		a.logger.Info("advertisement withdrawn", "instance", a.info.Instance)
	}
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	Logger *slog.Logger
}

// Event reports a discovered or vanished service.
type Event struct {
	Service *Service
	Removed bool
}

// Browser finds nxsd endpoints.
type Browser struct {
	config BrowserConfig
	logger *slog.Logger
	browse browseFunc
}

// NewBrowser creates an mDNS browser.
func NewBrowser(config BrowserConfig) *Browser {
	return &Browser{
		config: config,
		logger: discardLogger(config.Logger),
		browse: zeroconfBrowse,
	}
}

// Browse searches until ctx is done. Services are aggregated by instance
// name: a service is emitted once when first seen, and a Removed event
// follows when its last address disappears. The channel closes when ctx is
// done.
func (b *Browser) Browse(ctx context.Context) (<-chan Event, error) {
	ifaces, err := interfaces(b.config.Interface)
	if err != nil {
		return nil, err
	}

	out := make(chan Event)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go b.aggregate(ctx, entries, removed, out)
	go func() {
		if err := b.browse(ctx, entries, removed, ifaces); err != nil {
			b.logger.Warn("browse failed", "error", err)
		}
	}()
	return out, nil
}

// Collect browses until ctx is done and returns every service still present.
// A context expiring is the normal end and is not an error.
func (b *Browser) Collect(ctx context.Context) ([]*Service, error) {
	events, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}

	var found []*Service
	for ev := range events {
		if !ev.Removed {
			found = append(found, ev.Service)
			continue
		}
		for i, s := range found {
			if s.Instance == ev.Service.Instance {
				found = append(found[:i], found[i+1:]...)
				break
			}
		}
	}
	if found == nil {
		found = []*Service{}
	}
	return found, nil
}

// Find browses until an instance with the given name (or any instance if
// name is empty) appears.
func (b *Browser) Find(ctx context.Context, instance string) (*Service, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for ev := range events {
		if ev.Removed {
			continue
		}
		if instance == "" || ev.Service.Instance == instance {
			return ev.Service, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, instance)
}

func (b *Browser) aggregate(ctx context.Context, entries, removed <-chan *zeroconf.ServiceEntry, out chan<- Event) {
	defer close(out)

	services := make(map[string]*Service)
	// Consumers get copies; the aggregated entry keeps changing.
	emit := func(ev Event) bool {
		cp := *ev.Service
		cp.Addresses = slices.Clone(ev.Service.Addresses)
		ev.Service = &cp
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			svc := entryToService(entry)
			if svc == nil {
				b.logger.Debug("ignoring entry without nxs records", "instance", entry.Instance)
				continue
			}
			if existing, found := services[svc.Instance]; found {
				existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
				continue
			}
			services[svc.Instance] = svc
			if !emit(Event{Service: svc}) {
				return
			}

		case entry, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			existing, found := services[entry.Instance]
			if !found {
				continue
			}
			existing.Addresses = removeAddresses(existing.Addresses, entry)
			if len(existing.Addresses) == 0 {
				delete(services, entry.Instance)
				if !emit(Event{Service: existing, Removed: true}) {
					return
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

// entryToService converts a zeroconf entry. Entries whose TXT records lack
// the required keys yield nil.
func entryToService(entry *zeroconf.ServiceEntry) *Service {
	svc := &Service{
		Instance:  entry.Instance,
		Host:      entry.HostName,
		Port:      uint16(entry.Port),
		Addresses: entryAddresses(entry),
	}
	if err := DecodeTXT(StringsToTXTRecords(entry.Text), svc); err != nil {
		return nil
	}
	return svc
}

func entryAddresses(entry *zeroconf.ServiceEntry) []string {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return addrs
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range add {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses drops the addresses carried by a removal entry.
func removeAddresses(addresses []string, entry *zeroconf.ServiceEntry) []string {
	drop := make(map[string]bool)
	for _, addr := range entryAddresses(entry) {
		drop[addr] = true
	}
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !drop[addr] {
			result = append(result, addr)
		}
	}
	return result
}
