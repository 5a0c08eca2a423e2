package vgic

import (
	"encoding/binary"

	"github.com/tinyrange/virq/internal/hv"
)

// Distilled distributor register offsets. This is not a bit-for-bit GICD
// model: each register range decodes straight onto the data model, and the
// window only configures shared lines (private lines are configured through
// the direct API, which stands in for the per-CPU redistributor banks).
const (
	gicdCtlr       = 0x0000 // Distributor Control Register
	gicdTyper      = 0x0004 // Interrupt Controller Type Register
	gicdIidr       = 0x0008 // Distributor Implementer Identification Register
	gicdIsenabler  = 0x0100 // Interrupt Set-Enable Registers
	gicdIcenabler  = 0x0180 // Interrupt Clear-Enable Registers
	gicdIspendr    = 0x0200 // Interrupt Set-Pending Registers
	gicdIcpendr    = 0x0280 // Interrupt Clear-Pending Registers
	gicdIsactiver  = 0x0300 // Interrupt Set-Active Registers
	gicdIcactiver  = 0x0380 // Interrupt Clear-Active Registers
	gicdIpriorityr = 0x0400 // Interrupt Priority Registers
	gicdIcfgr      = 0x0C00 // Interrupt Configuration Registers
	gicdIrouter    = 0x6000 // Interrupt Routing Registers
	gicdPidr2      = 0xFFE8 // Peripheral ID 2

	gicdIidrValue   = 0x0200043B
	gicArchRevGICv3 = 0x30

	registerWindowSize = 0x10000
)

// RegisterWindow exposes the distributor's guest-visible register interface
// as an MMIO device.
type RegisterWindow struct {
	d    *Distributor
	base uint64
}

func NewRegisterWindow(d *Distributor, base uint64) *RegisterWindow {
	return &RegisterWindow{d: d, base: base}
}

func (w *RegisterWindow) MMIORegions() []hv.MMIORegion {
	return []hv.MMIORegion{{Address: w.base, Size: registerWindowSize}}
}

func (w *RegisterWindow) ReadMMIO(addr uint64, data []byte) error {
	offset := addr - w.base

	// RAZ default: wide accesses must not leave caller bytes beyond the
	// decoded register untouched.
	for i := range data {
		data[i] = 0
	}

	if offset >= gicdIrouter && offset < gicdIrouter+8*(MaxSPIIntID+1) {
		w.readRouter(offset, data)
		return nil
	}

	var value uint32
	switch {
	case offset == gicdCtlr:
		if w.d.DistributorEnabled() {
			value = 1
		}
	case offset == gicdTyper:
		// ITLinesNumber: lines implemented = 32*(N+1).
		value = uint32((NumPrivateIRQs+w.d.NumSPIs())/32) - 1
	case offset == gicdIidr:
		value = gicdIidrValue
	case offset == gicdPidr2:
		value = gicArchRevGICv3
	case offset >= gicdIsenabler && offset < gicdIsenabler+0x80:
		value = w.readBitmap(offset-gicdIsenabler, func(irq *IRQ) bool { return irq.enabled })
	case offset >= gicdIspendr && offset < gicdIspendr+0x80:
		value = w.readBitmap(offset-gicdIspendr, func(irq *IRQ) bool { return irq.pending })
	case offset >= gicdIsactiver && offset < gicdIsactiver+0x80:
		value = w.readBitmap(offset-gicdIsactiver, func(irq *IRQ) bool { return irq.active })
	case offset >= gicdIpriorityr && offset < gicdIpriorityr+0x400:
		w.readPriorities(offset-gicdIpriorityr, data)
		return nil
	case offset >= gicdIcfgr && offset < gicdIcfgr+0x100:
		value = w.readConfig(offset - gicdIcfgr)
	default:
		// RAZ for everything unhandled.
	}

	writeWord(data, value)
	return nil
}

func (w *RegisterWindow) WriteMMIO(addr uint64, data []byte) error {
	offset := addr - w.base

	if offset >= gicdIrouter && offset < gicdIrouter+8*(MaxSPIIntID+1) {
		w.writeRouter(offset, data)
		return nil
	}

	value := readWord(data)
	switch {
	case offset == gicdCtlr:
		w.d.SetDistributorEnabled(value&1 != 0)
	case offset >= gicdIsenabler && offset < gicdIsenabler+0x80:
		w.writeBitmap(offset-gicdIsenabler, value, func(intid uint32) {
			_ = w.d.SetEnabled(-1, intid, true)
		})
	case offset >= gicdIcenabler && offset < gicdIcenabler+0x80:
		w.writeBitmap(offset-gicdIcenabler, value, func(intid uint32) {
			_ = w.d.SetEnabled(-1, intid, false)
		})
	case offset >= gicdIspendr && offset < gicdIspendr+0x80:
		w.writeBitmap(offset-gicdIspendr, value, func(intid uint32) {
			_ = w.d.SetSoftPending(-1, intid, true)
		})
	case offset >= gicdIcpendr && offset < gicdIcpendr+0x80:
		w.writeBitmap(offset-gicdIcpendr, value, func(intid uint32) {
			_ = w.d.SetSoftPending(-1, intid, false)
		})
	case offset >= gicdIsactiver && offset < gicdIsactiver+0x80:
		w.writeBitmap(offset-gicdIsactiver, value, func(intid uint32) {
			_ = w.d.SetActive(-1, intid, true)
		})
	case offset >= gicdIcactiver && offset < gicdIcactiver+0x80:
		w.writeBitmap(offset-gicdIcactiver, value, func(intid uint32) {
			_ = w.d.SetActive(-1, intid, false)
		})
	case offset >= gicdIpriorityr && offset < gicdIpriorityr+0x400:
		w.writePriorities(offset-gicdIpriorityr, data)
	case offset >= gicdIcfgr && offset < gicdIcfgr+0x100:
		w.writeConfig(offset-gicdIcfgr, value)
	default:
		// WI for everything unhandled.
	}

	return nil
}

// writeBitmap applies fn to the shared intid behind every set bit of a
// set/clear style register word. Word 0 covers the private range and is
// write-ignored here; out-of-range bits are ignored too.
func (w *RegisterWindow) writeBitmap(regOffset uint64, value uint32, fn func(intid uint32)) {
	base := uint32(regOffset/4) * 32
	for bit := uint32(0); bit < 32; bit++ {
		if value&(1<<bit) == 0 {
			continue
		}
		intid := base + bit
		if intid < NumPrivateIRQs || int(intid-NumPrivateIRQs) >= w.d.NumSPIs() {
			continue
		}
		fn(intid)
	}
}

func (w *RegisterWindow) readBitmap(regOffset uint64, get func(irq *IRQ) bool) uint32 {
	base := uint32(regOffset/4) * 32
	var value uint32
	for bit := uint32(0); bit < 32; bit++ {
		intid := base + bit
		if intid < NumPrivateIRQs || int(intid-NumPrivateIRQs) >= w.d.NumSPIs() {
			continue
		}
		irq, err := w.d.irqFor(nil, intid)
		if err != nil {
			continue
		}
		irq.mu.Lock()
		set := get(irq)
		irq.mu.Unlock()
		if set {
			value |= 1 << bit
		}
	}
	return value
}

// One priority byte per line, byte-addressable.
func (w *RegisterWindow) writePriorities(regOffset uint64, data []byte) {
	for i, b := range data {
		intid := uint32(regOffset) + uint32(i)
		if intid < NumPrivateIRQs {
			continue
		}
		_ = w.d.SetPriority(-1, intid, b)
	}
}

func (w *RegisterWindow) readPriorities(regOffset uint64, data []byte) {
	for i := range data {
		data[i] = 0
		intid := uint32(regOffset) + uint32(i)
		if intid < NumPrivateIRQs || int(intid-NumPrivateIRQs) >= w.d.NumSPIs() {
			continue
		}
		irq, err := w.d.irqFor(nil, intid)
		if err != nil {
			continue
		}
		irq.mu.Lock()
		data[i] = irq.priority
		irq.mu.Unlock()
	}
}

// Two config bits per line, sixteen lines per word; bit 1 of each field
// selects edge triggering.
func (w *RegisterWindow) writeConfig(regOffset uint64, value uint32) {
	base := uint32(regOffset/4) * 16
	for i := uint32(0); i < 16; i++ {
		intid := base + i
		if intid < NumPrivateIRQs {
			continue
		}
		mode := TriggerLevel
		if value&(1<<(2*i+1)) != 0 {
			mode = TriggerEdge
		}
		_ = w.d.SetTriggerMode(intid, mode)
	}
}

func (w *RegisterWindow) readConfig(regOffset uint64) uint32 {
	base := uint32(regOffset/4) * 16
	var value uint32
	for i := uint32(0); i < 16; i++ {
		intid := base + i
		if intid < NumPrivateIRQs || int(intid-NumPrivateIRQs) >= w.d.NumSPIs() {
			continue
		}
		irq, err := w.d.irqFor(nil, intid)
		if err != nil {
			continue
		}
		irq.mu.Lock()
		edge := irq.trigger == TriggerEdge
		irq.mu.Unlock()
		if edge {
			value |= 1 << (2*i + 1)
		}
	}
	return value
}

// One 64-bit routing register per line; the low byte selects the target
// vCPU. An out-of-range target routes the line nowhere. Only aligned 64-bit
// accesses are decoded.
func (w *RegisterWindow) writeRouter(offset uint64, data []byte) {
	if len(data) != 8 || (offset-gicdIrouter)%8 != 0 {
		return
	}
	intid := uint32((offset - gicdIrouter) / 8)
	if intid < NumPrivateIRQs {
		return
	}

	cpu := int(binary.LittleEndian.Uint64(data) & 0xFF)
	if cpu >= w.d.NumCPUs() {
		cpu = -1
	}
	_ = w.d.SetTargetVCPU(intid, cpu)
}

func (w *RegisterWindow) readRouter(offset uint64, data []byte) {
	if len(data) != 8 || (offset-gicdIrouter)%8 != 0 {
		return
	}
	intid := uint32((offset - gicdIrouter) / 8)
	if intid < NumPrivateIRQs || int(intid-NumPrivateIRQs) >= w.d.NumSPIs() {
		return
	}

	irq, err := w.d.irqFor(nil, intid)
	if err != nil {
		return
	}
	irq.mu.Lock()
	target := irq.target
	irq.mu.Unlock()
	if target >= 0 {
		binary.LittleEndian.PutUint64(data, uint64(target)&0xFF)
	}
}

func readWord(data []byte) uint32 {
	if len(data) < 4 {
		var tmp [4]byte
		copy(tmp[:], data)
		return binary.LittleEndian.Uint32(tmp[:])
	}
	return binary.LittleEndian.Uint32(data)
}

func writeWord(data []byte, value uint32) {
	if len(data) >= 4 {
		binary.LittleEndian.PutUint32(data, value)
	} else {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], value)
		copy(data, tmp[:len(data)])
	}
}

var (
	_ hv.MemoryMappedIODevice = (*RegisterWindow)(nil)
)
