//go:build !linux

package transport

import (
	"errors"
	"net"
)

// PeerCredentials is only implemented on linux.
func PeerCredentials(*net.UnixConn) (*Credentials, error) {
	return nil, errors.New("peer credentials not supported on this platform")
}
