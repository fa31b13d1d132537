// Package version carries the control protocol version and the build
// version of the binaries.
package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Protocol is the control protocol version spoken by this module.
const Protocol = "1.0"

// Build is the release version, set at link time with
// -ldflags "-X github.com/nxs-stream/nxs-go/pkg/version.Build=v1.2.3".
var Build = "dev"

// ErrIncompatible is returned when a peer speaks another major version.
var ErrIncompatible = errors.New("incompatible protocol version")

// ProtocolVersion represents a parsed "major.minor" protocol version.
type ProtocolVersion struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (ProtocolVersion, error) {
	major, minor, ok := strings.Cut(s, ".")
	if !ok || strings.Contains(minor, ".") {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	ma, err := strconv.ParseUint(major, 10, 16)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}
	mi, err := strconv.ParseUint(minor, 10, 16)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}
	return ProtocolVersion{Major: uint16(ma), Minor: uint16(mi)}, nil
}

// String returns the version as "major.minor".
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major version.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// Check verifies that a peer's protocol version can talk to Protocol.
// An empty remote version predates versioning and is rejected.
func Check(remote string) error {
	theirs, err := Parse(remote)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIncompatible, err)
	}
	ours, _ := Parse(Protocol)
	if !ours.Compatible(theirs) {
		return fmt.Errorf("%w: peer %s, local %s", ErrIncompatible, theirs, ours)
	}
	return nil
}
