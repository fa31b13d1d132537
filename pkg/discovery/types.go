package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"
)

const (
	// ServiceType is the DNS-SD type of the nxsd control endpoint.
	ServiceType = "_nxs._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default nxsd TCP port.
	DefaultPort = 7341

	// DefaultTTL is the record TTL used when AdvertiserConfig.TTL is zero.
	DefaultTTL = 120 * time.Second

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// InstancePrefix starts default instance names.
	InstancePrefix = "nxsd-"
)

// TXT record keys.
const (
	TXTKeyBoard   = "board"
	TXTKeyVersion = "ver"
	TXTKeyPath    = "path"
)

// Errors.
var (
	ErrMissingRequired     = errors.New("missing required field")
	ErrInvalidInstanceName = errors.New("invalid instance name")
	ErrInvalidPort         = errors.New("invalid port")
	ErrNotAdvertising      = errors.New("not advertising")
	ErrNotFound            = errors.New("service not found")
)

// Info describes the endpoint this daemon advertises.
type Info struct {
	// Instance is the DNS-SD instance name. Empty selects DefaultInstance.
	Instance string

	// Port is the TCP control port.
	Port uint16

	// Board names the loaded board file.
	Board string

	// Version is the daemon version.
	Version string

	// SocketPath is the local unix socket, advertised for convenience.
	SocketPath string
}

// Service is a discovered nxsd endpoint.
type Service struct {
	Instance   string
	Host       string
	Port       uint16
	Addresses  []string
	Board      string
	Version    string
	SocketPath string
}

// Endpoint returns host:port for the first known address, falling back to
// the host name.
func (s *Service) Endpoint() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	return net.JoinHostPort(host, strconv.Itoa(int(s.Port)))
}
