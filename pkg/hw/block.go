package hw

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/nxs-stream/nxs-go/pkg/node"
	"github.com/nxs-stream/nxs-go/pkg/nxs"
)

// Per-block register offsets.
const (
	regCtrl      = 0x00 // power and enable (RW)
	regTID       = 0x04 // output routing id (RW)
	regTID2      = 0x08 // second output routing id, multitap only (RW)
	regStatus    = 0x0c // block status (R)
	regWidth     = 0x10 // source width (RW)
	regHeight    = 0x14 // source height (RW)
	regPixFmt    = 0x18 // source fourcc (RW)
	regField     = 0x1c // source field order (RW)
	regDstWidth  = 0x20 // destination width (RW)
	regDstHeight = 0x24 // destination height (RW)
	regDstPixFmt = 0x28 // destination fourcc (RW)
	regDstField  = 0x2c // destination field order (RW)
	regCropLeft  = 0x30 // crop rectangle (RW)
	regCropTop   = 0x34
	regCropW     = 0x38
	regCropH     = 0x3c
	regSelLeft   = 0x40 // selection rectangle (RW)
	regSelTop    = 0x44
	regSelW      = 0x48
	regSelH      = 0x4c
	regTPFNum    = 0x50 // time per frame (RW)
	regTPFDen    = 0x54
	regPattern   = 0x58 // test pattern generator (RW)
	regColor     = 0x5c
	regRate      = 0x60
	regSync      = 0x80 // sync timing, syncWords registers (RW)

	blockSize  = 0x100
	blocksBase = 0x1000
	syncWords  = 11
)

// Control and status bits.
const (
	ctrlPower  = 1 << 0
	ctrlEnable = 1 << 1

	StatusPowered = 1 << 0
	StatusRunning = 1 << 1
)

// blockBase returns the register window of a block.
func blockBase(kind nxs.Kind, index int) uint32 {
	return blocksBase + uint32(kind)<<12 + uint32(index)*blockSize
}

// kindControls lists the controls each block kind implements. Kinds
// missing here implement none and accept every control as a no-op.
var kindControls = map[nxs.Kind][]nxs.ControlType{
	nxs.KindDMAR:         {nxs.ControlFormat, nxs.ControlStatus},
	nxs.KindDMAW:         {nxs.ControlFormat, nxs.ControlStatus},
	nxs.KindVIPClipper:   {nxs.ControlFormat, nxs.ControlCrop, nxs.ControlStatus},
	nxs.KindVIPDecimator: {nxs.ControlFormat, nxs.ControlDstFormat, nxs.ControlCrop},
	nxs.KindMIPICSI:      {nxs.ControlFormat, nxs.ControlSyncInfo},
	nxs.KindISP2Disp:     {nxs.ControlFormat},
	nxs.KindCropper:      {nxs.ControlCrop, nxs.ControlSelection},
	nxs.KindScaler4096:   {nxs.ControlFormat, nxs.ControlDstFormat},
	nxs.KindScaler5376:   {nxs.ControlFormat, nxs.ControlDstFormat},
	nxs.KindMLCBottom:    {nxs.ControlFormat, nxs.ControlSelection},
	nxs.KindMLCBlender:   {nxs.ControlFormat, nxs.ControlSelection},
	nxs.KindGamma:        {nxs.ControlGamma},
	nxs.KindMapConv:      {nxs.ControlFormat, nxs.ControlDstFormat},
	nxs.KindTPGen:        {nxs.ControlFormat, nxs.ControlTPGen, nxs.ControlTPF},
	nxs.KindDisp2ISP:     {nxs.ControlFormat},
	nxs.KindCSC:          {nxs.ControlFormat, nxs.ControlDstFormat},
	nxs.KindDPC:          {nxs.ControlFormat, nxs.ControlSyncInfo, nxs.ControlStatus},
	nxs.KindLVDS:         {nxs.ControlSyncInfo},
	nxs.KindMIPIDSI:      {nxs.ControlSyncInfo},
	nxs.KindHDMI:         {nxs.ControlSyncInfo, nxs.ControlStatus},
}

// Block operations a fault can be injected into.
const (
	OpOpen  = "open"
	OpClose = "close"
	OpStart = "start"
	OpStop  = "stop"
	OpTID   = "tid"
)

// ErrPowerOff is returned when a block is started without being opened.
var ErrPowerOff = errors.New("block is powered off")

// Block simulates one processing block. It implements node.Driver.
type Block struct {
	kind  nxs.Kind
	index int
	regs  *Region

	logger *slog.Logger

	mu     sync.Mutex
	faults map[string]error
	gamma  nxs.GammaTable
}

// Kind returns the block kind.
func (b *Block) Kind() nxs.Kind { return b.kind }

// Index returns the block instance.
func (b *Block) Index() int { return b.index }

// Regs returns the block's register window.
func (b *Block) Regs() *Region { return b.regs }

// Status returns the status register.
func (b *Block) Status() uint32 { return b.regs.Read32(regStatus) }

// FailNext makes the next call of op return err.
func (b *Block) FailNext(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.faults == nil {
		b.faults = make(map[string]error)
	}
	b.faults[op] = err
}

func (b *Block) fault(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err, ok := b.faults[op]
	if !ok {
		return nil
	}
	delete(b.faults, op)
	return err
}

func (b *Block) Open() error {
	if err := b.fault(OpOpen); err != nil {
		return err
	}
	b.regs.SetBits(regCtrl, ctrlPower)
	b.regs.SetBits(regStatus, StatusPowered)
	b.logger.Debug("block powered on")
	return nil
}

func (b *Block) Close() error {
	if err := b.fault(OpClose); err != nil {
		return err
	}
	b.regs.ClearBits(regCtrl, ctrlPower|ctrlEnable)
	b.regs.ClearBits(regStatus, StatusPowered|StatusRunning)
	b.logger.Debug("block powered off")
	return nil
}

func (b *Block) Start() error {
	if err := b.fault(OpStart); err != nil {
		return err
	}
	if b.regs.Read32(regCtrl)&ctrlPower == 0 {
		return ErrPowerOff
	}
	b.regs.SetBits(regCtrl, ctrlEnable)
	b.regs.SetBits(regStatus, StatusRunning)
	return nil
}

func (b *Block) Stop() error {
	if err := b.fault(OpStop); err != nil {
		return err
	}
	b.regs.ClearBits(regCtrl, ctrlEnable)
	b.regs.ClearBits(regStatus, StatusRunning)
	return nil
}

func (b *Block) SetTID(tid1, tid2 uint32) error {
	if err := b.fault(OpTID); err != nil {
		return err
	}
	if tid1 != nxs.TIDDefault {
		b.regs.Write32(regTID, tid1)
	}
	if tid2 != nxs.TIDDefault {
		if !b.kind.CanMultitap() {
			return fmt.Errorf("%s has no second output", nxs.DeviceName(b.kind, b.index))
		}
		b.regs.Write32(regTID2, tid2)
	}
	return nil
}

// TID returns the programmed routing registers.
func (b *Block) TID() (tid1, tid2 uint32) {
	return b.regs.Read32(regTID), b.regs.Read32(regTID2)
}

// Services returns the block's control table.
func (b *Block) Services() []node.Service {
	types := kindControls[b.kind]
	out := make([]node.Service, 0, len(types))
	for _, ct := range types {
		out = append(out, b.service(ct))
	}
	return out
}

// Controls lists the control types a block kind implements.
func Controls(kind nxs.Kind) []nxs.ControlType {
	return slices.Clone(kindControls[kind])
}

func (b *Block) service(ct nxs.ControlType) node.Service {
	s := node.Service{Type: ct}
	switch ct {
	case nxs.ControlFormat:
		s.Get = func(c *nxs.Control) error { c.Format = b.readFormat(regWidth); return nil }
		s.Set = func(c *nxs.Control) error { b.writeFormat(regWidth, c.Format); return nil }
	case nxs.ControlDstFormat:
		s.Get = func(c *nxs.Control) error { c.Format = b.readFormat(regDstWidth); return nil }
		s.Set = func(c *nxs.Control) error { b.writeFormat(regDstWidth, c.Format); return nil }
	case nxs.ControlCrop:
		s.Get = func(c *nxs.Control) error { c.Rect = b.readRect(regCropLeft); return nil }
		s.Set = func(c *nxs.Control) error { return b.writeRect(regCropLeft, c.Rect) }
	case nxs.ControlSelection:
		s.Get = func(c *nxs.Control) error { c.Rect = b.readRect(regSelLeft); return nil }
		s.Set = func(c *nxs.Control) error { return b.writeRect(regSelLeft, c.Rect) }
	case nxs.ControlTPF:
		s.Get = func(c *nxs.Control) error {
			c.Fraction = &nxs.Fraction{Numerator: b.regs.Read32(regTPFNum), Denominator: b.regs.Read32(regTPFDen)}
			return nil
		}
		s.Set = func(c *nxs.Control) error {
			b.regs.Write32(regTPFNum, c.Fraction.Numerator)
			b.regs.Write32(regTPFDen, c.Fraction.Denominator)
			return nil
		}
	case nxs.ControlSyncInfo:
		s.Get = func(c *nxs.Control) error { c.SyncInfo = b.readSync(); return nil }
		s.Set = func(c *nxs.Control) error { b.writeSync(c.SyncInfo); return nil }
	case nxs.ControlGamma:
		s.Get = func(c *nxs.Control) error {
			b.mu.Lock()
			defer b.mu.Unlock()
			c.Gamma = &nxs.GammaTable{
				Red:   slices.Clone(b.gamma.Red),
				Green: slices.Clone(b.gamma.Green),
				Blue:  slices.Clone(b.gamma.Blue),
			}
			return nil
		}
		s.Set = func(c *nxs.Control) error {
			g := c.Gamma
			if len(g.Red) > 256 || len(g.Green) > 256 || len(g.Blue) > 256 {
				return fmt.Errorf("%w: gamma table longer than 256 entries", nxs.ErrInvalidArgument)
			}
			b.mu.Lock()
			defer b.mu.Unlock()
			b.gamma = nxs.GammaTable{Red: slices.Clone(g.Red), Green: slices.Clone(g.Green), Blue: slices.Clone(g.Blue)}
			return nil
		}
	case nxs.ControlTPGen:
		s.Get = func(c *nxs.Control) error {
			c.TPGen = &nxs.TPGenParams{
				Pattern:   b.regs.Read32(regPattern),
				Color:     b.regs.Read32(regColor),
				FrameRate: b.regs.Read32(regRate),
			}
			return nil
		}
		s.Set = func(c *nxs.Control) error {
			b.regs.Write32(regPattern, c.TPGen.Pattern)
			b.regs.Write32(regColor, c.TPGen.Color)
			b.regs.Write32(regRate, c.TPGen.FrameRate)
			return nil
		}
	case nxs.ControlStatus:
		// Status is read-only.
		s.Get = func(c *nxs.Control) error { c.Status = b.Status(); return nil }
	}
	return s
}

func (b *Block) readFormat(base uint32) *nxs.Format {
	return &nxs.Format{
		Width:       b.regs.Read32(base),
		Height:      b.regs.Read32(base + 4),
		PixelFormat: b.regs.Read32(base + 8),
		Field:       b.regs.Read32(base + 12),
	}
}

func (b *Block) writeFormat(base uint32, f *nxs.Format) {
	b.regs.Write32(base, f.Width)
	b.regs.Write32(base+4, f.Height)
	b.regs.Write32(base+8, f.PixelFormat)
	b.regs.Write32(base+12, f.Field)
}

func (b *Block) readRect(base uint32) *nxs.Rect {
	return &nxs.Rect{
		Left:   int32(b.regs.Read32(base)),
		Top:    int32(b.regs.Read32(base + 4)),
		Width:  b.regs.Read32(base + 8),
		Height: b.regs.Read32(base + 12),
	}
}

func (b *Block) writeRect(base uint32, r *nxs.Rect) error {
	if r.Left < 0 || r.Top < 0 {
		return fmt.Errorf("%w: negative rectangle origin", nxs.ErrInvalidArgument)
	}
	b.regs.Write32(base, uint32(r.Left))
	b.regs.Write32(base+4, uint32(r.Top))
	b.regs.Write32(base+8, r.Width)
	b.regs.Write32(base+12, r.Height)
	return nil
}

func (b *Block) readSync() *nxs.SyncInfo {
	var w [syncWords]uint32
	for i := range w {
		w[i] = b.regs.Read32(regSync + uint32(i)*4)
	}
	return &nxs.SyncInfo{
		Width:       w[0],
		Height:      w[1],
		HSyncWidth:  w[2],
		HFrontPorch: w[3],
		HBackPorch:  w[4],
		VSyncWidth:  w[5],
		VFrontPorch: w[6],
		VBackPorch:  w[7],
		PixelClock:  uint64(w[8]) | uint64(w[9])<<32,
		Interlaced:  w[10] != 0,
	}
}

func (b *Block) writeSync(s *nxs.SyncInfo) {
	var interlaced uint32
	if s.Interlaced {
		interlaced = 1
	}
	w := [syncWords]uint32{
		s.Width, s.Height,
		s.HSyncWidth, s.HFrontPorch, s.HBackPorch,
		s.VSyncWidth, s.VFrontPorch, s.VBackPorch,
		uint32(s.PixelClock), uint32(s.PixelClock >> 32),
		interlaced,
	}
	for i, v := range w {
		b.regs.Write32(regSync+uint32(i)*4, v)
	}
}
