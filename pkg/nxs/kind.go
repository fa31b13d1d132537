package nxs

import (
	"fmt"
	"strings"
)

// Kind identifies a function block type.
type Kind uint32

const (
	KindNone Kind = iota
	KindDMAR
	KindDMAW
	KindVIPClipper
	KindVIPDecimator
	KindMIPICSI
	KindISP2Disp
	KindCropper
	KindMultitap
	KindScaler4096
	KindScaler5376
	KindMLCBottom
	KindMLCBlender
	KindHue
	KindGamma
	KindFIFO
	KindMapConv
	KindTPGen
	KindDisp2ISP
	KindCSC
	KindDPC
	KindLVDS
	KindMIPIDSI
	KindHDMI

	// kindCount must stay last.
	kindCount
)

// AnyInstance requests the lowest free registered instance of a kind.
const AnyInstance = -1

type kindInfo struct {
	name      string
	instances int
}

var kindTable = [kindCount]kindInfo{
	KindNone:         {"none", 0},
	KindDMAR:         {"dmar", 10},
	KindDMAW:         {"dmaw", 12},
	KindVIPClipper:   {"vip_clipper", 2},
	KindVIPDecimator: {"vip_decimator", 2},
	KindMIPICSI:      {"mipi_csi", 1},
	KindISP2Disp:     {"isp2disp", 2},
	KindCropper:      {"cropper", 2},
	KindMultitap:     {"multitap", 4},
	KindScaler4096:   {"scaler_4096", 1},
	KindScaler5376:   {"scaler_5376", 1},
	KindMLCBottom:    {"mlc_bottom", 2},
	KindMLCBlender:   {"mlc_blending", 8},
	KindHue:          {"hue", 2},
	KindGamma:        {"gamma", 2},
	KindFIFO:         {"fifo", 4},
	KindMapConv:      {"mapconv", 1},
	KindTPGen:        {"tpgen", 1},
	KindDisp2ISP:     {"disp2isp", 1},
	KindCSC:          {"csc", 4},
	KindDPC:          {"dpc", 2},
	KindLVDS:         {"lvds", 1},
	KindMIPIDSI:      {"mipi_dsi", 1},
	KindHDMI:         {"hdmi", 1},
}

// aliases maps alternate names accepted by ParseKind.
var aliases = map[string]Kind{
	"scaler":      KindScaler4096,
	"mlc_blender": KindMLCBlender,
	"multi_tap":   KindMultitap,
	"dsi":         KindMIPIDSI,
	"csi":         KindMIPICSI,
}

// String returns the canonical function name.
func (k Kind) String() string {
	if !k.IsValid() && k != KindNone {
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
	return kindTable[k].name
}

// IsValid returns true for every catalog kind except KindNone.
func (k Kind) IsValid() bool {
	return k > KindNone && k < kindCount
}

// MaxInstances returns the number of instances the SoC provides.
func (k Kind) MaxInstances() int {
	if !k.IsValid() {
		return 0
	}
	return kindTable[k].instances
}

// CheckIndex validates an instance index against the kind's known range.
// AnyInstance is accepted.
func (k Kind) CheckIndex(index int) error {
	if !k.IsValid() {
		return fmt.Errorf("%w: unknown function kind %d", ErrInvalidArgument, uint32(k))
	}
	if index == AnyInstance {
		return nil
	}
	if index < 0 || index >= k.MaxInstances() {
		return fmt.Errorf("%w: %s index %d out of range [0,%d)",
			ErrInvalidArgument, k, index, k.MaxInstances())
	}
	return nil
}

// CanMultitap reports whether nodes of this kind fan out to two routing ids.
func (k Kind) CanMultitap() bool {
	return k == KindMultitap
}

// Kinds returns every valid kind in catalog order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, kindCount-1)
	for k := KindNone + 1; k < kindCount; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// ParseKind looks up a kind by name. Matching is case-insensitive and
// accepts a few legacy aliases.
func ParseKind(name string) (Kind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for k := KindNone + 1; k < kindCount; k++ {
		if kindTable[k].name == n {
			return k, nil
		}
	}
	if k, ok := aliases[n]; ok {
		return k, nil
	}
	return KindNone, fmt.Errorf("%w: unknown function %q", ErrInvalidArgument, name)
}

// DeviceName returns the device name of an instance, e.g. "dmar.3".
func DeviceName(k Kind, index int) string {
	return fmt.Sprintf("%s.%d", k, index)
}
