package nxs

// Routing id sentinels.
const (
	// TIDDefault leaves the current routing programming untouched.
	TIDDefault uint32 = 0

	// TIDDisconnected is programmed when a route is torn down.
	TIDDisconnected uint32 = 0x3fff
)

// tidBase holds the first fabric port of each kind. Ports start at 1 so
// that TIDDefault never names a real input.
var tidBase [kindCount]uint32

func init() {
	next := uint32(1)
	for k := KindNone + 1; k < kindCount; k++ {
		tidBase[k] = next
		next += uint32(kindTable[k].instances)
	}
}

// InputTID returns the fabric port a node of the given kind and index
// reads from. It returns TIDDefault for invalid arguments.
func InputTID(k Kind, index int) uint32 {
	if k.CheckIndex(index) != nil || index == AnyInstance {
		return TIDDefault
	}
	return tidBase[k] + uint32(index)
}
