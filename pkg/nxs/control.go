package nxs

import "fmt"

// ControlType selects a node capability for GetControl/SetControl.
type ControlType uint8

const (
	ControlNone ControlType = iota
	ControlFormat
	ControlDstFormat
	ControlCrop
	ControlSelection
	ControlTPF
	ControlSyncInfo
	ControlGamma
	ControlTPGen
	ControlStatus
)

var controlNames = map[ControlType]string{
	ControlNone:      "none",
	ControlFormat:    "format",
	ControlDstFormat: "dst_format",
	ControlCrop:      "crop",
	ControlSelection: "selection",
	ControlTPF:       "tpf",
	ControlSyncInfo:  "syncinfo",
	ControlGamma:     "gamma",
	ControlTPGen:     "tpgen",
	ControlStatus:    "status",
}

// String returns the control name.
func (c ControlType) String() string {
	if n, ok := controlNames[c]; ok {
		return n
	}
	return fmt.Sprintf("control(%d)", uint8(c))
}

// ParseControlType looks up a control type by name.
func ParseControlType(name string) (ControlType, error) {
	for t, n := range controlNames {
		if n == name && t != ControlNone {
			return t, nil
		}
	}
	return ControlNone, fmt.Errorf("%w: unknown control %q", ErrInvalidArgument, name)
}

// Format describes a frame layout.
type Format struct {
	Width       uint32 `cbor:"1,keyasint" yaml:"width"`
	Height      uint32 `cbor:"2,keyasint" yaml:"height"`
	PixelFormat uint32 `cbor:"3,keyasint" yaml:"pixelformat"`
	Field       uint32 `cbor:"4,keyasint,omitempty" yaml:"field,omitempty"`
}

// Rect is a crop or selection rectangle.
type Rect struct {
	Left   int32  `cbor:"1,keyasint" yaml:"left"`
	Top    int32  `cbor:"2,keyasint" yaml:"top"`
	Width  uint32 `cbor:"3,keyasint" yaml:"width"`
	Height uint32 `cbor:"4,keyasint" yaml:"height"`
}

// Fraction is a time-per-frame value.
type Fraction struct {
	Numerator   uint32 `cbor:"1,keyasint" yaml:"numerator"`
	Denominator uint32 `cbor:"2,keyasint" yaml:"denominator"`
}

// SyncInfo carries display timing.
type SyncInfo struct {
	Width       uint32 `cbor:"1,keyasint" yaml:"width"`
	Height      uint32 `cbor:"2,keyasint" yaml:"height"`
	HSyncWidth  uint32 `cbor:"3,keyasint" yaml:"hsync_width"`
	HFrontPorch uint32 `cbor:"4,keyasint" yaml:"hfront_porch"`
	HBackPorch  uint32 `cbor:"5,keyasint" yaml:"hback_porch"`
	VSyncWidth  uint32 `cbor:"6,keyasint" yaml:"vsync_width"`
	VFrontPorch uint32 `cbor:"7,keyasint" yaml:"vfront_porch"`
	VBackPorch  uint32 `cbor:"8,keyasint" yaml:"vback_porch"`
	PixelClock  uint64 `cbor:"9,keyasint" yaml:"pixel_clock"`
	Interlaced  bool   `cbor:"10,keyasint,omitempty" yaml:"interlaced,omitempty"`
}

// GammaTable holds per-channel lookup tables.
type GammaTable struct {
	Red   []uint8 `cbor:"1,keyasint" yaml:"red"`
	Green []uint8 `cbor:"2,keyasint" yaml:"green"`
	Blue  []uint8 `cbor:"3,keyasint" yaml:"blue"`
}

// TPGenParams configures the test pattern generator.
type TPGenParams struct {
	Pattern   uint32 `cbor:"1,keyasint" yaml:"pattern"`
	Color     uint32 `cbor:"2,keyasint,omitempty" yaml:"color,omitempty"`
	FrameRate uint32 `cbor:"3,keyasint,omitempty" yaml:"frame_rate,omitempty"`
}

// Control is the payload of a capability control. Exactly the field matching
// Type is meaningful; the others stay nil.
type Control struct {
	Type     ControlType  `cbor:"1,keyasint"`
	Format   *Format      `cbor:"2,keyasint,omitempty"`
	Rect     *Rect        `cbor:"3,keyasint,omitempty"`
	Fraction *Fraction    `cbor:"4,keyasint,omitempty"`
	SyncInfo *SyncInfo    `cbor:"5,keyasint,omitempty"`
	Gamma    *GammaTable  `cbor:"6,keyasint,omitempty"`
	TPGen    *TPGenParams `cbor:"7,keyasint,omitempty"`
	Status   uint32       `cbor:"8,keyasint,omitempty"`
}

// Validate checks that the payload matching Type is present.
func (c *Control) Validate() error {
	var ok bool
	switch c.Type {
	case ControlFormat, ControlDstFormat:
		ok = c.Format != nil
	case ControlCrop, ControlSelection:
		ok = c.Rect != nil
	case ControlTPF:
		ok = c.Fraction != nil && c.Fraction.Denominator != 0
	case ControlSyncInfo:
		ok = c.SyncInfo != nil
	case ControlGamma:
		ok = c.Gamma != nil
	case ControlTPGen:
		ok = c.TPGen != nil
	case ControlStatus, ControlNone:
		ok = true
	}
	if !ok {
		return fmt.Errorf("%w: %s control without payload", ErrInvalidArgument, c.Type)
	}
	return nil
}
