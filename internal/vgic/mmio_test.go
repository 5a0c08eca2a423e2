package vgic

import (
	"encoding/binary"
	"testing"

	"github.com/tinyrange/virq/internal/hv"
)

const testWindowBase = 0x08000000

func newTestWindow(t *testing.T, cpus, spis int) (*Distributor, *wakeRecorder, *hv.Bus) {
	t.Helper()

	d, wr := newTestDistributor(t, cpus, spis)
	bus := &hv.Bus{}
	if err := bus.AddDevice(NewRegisterWindow(d, testWindowBase)); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	return d, wr, bus
}

func write32(t *testing.T, bus *hv.Bus, addr uint64, value uint32) {
	t.Helper()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	if err := bus.Write(addr, buf[:]); err != nil {
		t.Fatalf("Write(0x%X): %v", addr, err)
	}
}

func read32(t *testing.T, bus *hv.Bus, addr uint64) uint32 {
	t.Helper()
	var buf [4]byte
	if err := bus.Read(addr, buf[:]); err != nil {
		t.Fatalf("Read(0x%X): %v", addr, err)
	}
	return binary.LittleEndian.Uint32(buf[:])
}

func TestWindowCtlrAndTyper(t *testing.T) {
	d, _, bus := newTestWindow(t, 2, 64)

	if got := read32(t, bus, testWindowBase+gicdCtlr); got != 0 {
		t.Fatalf("CTLR=%#x, want 0", got)
	}
	write32(t, bus, testWindowBase+gicdCtlr, 1)
	if !d.DistributorEnabled() {
		t.Fatalf("CTLR write did not enable the distributor")
	}
	if got := read32(t, bus, testWindowBase+gicdCtlr); got != 1 {
		t.Fatalf("CTLR=%#x, want 1", got)
	}

	// 32 private + 64 shared lines -> ITLinesNumber 2.
	if got := read32(t, bus, testWindowBase+gicdTyper); got != 2 {
		t.Fatalf("TYPER=%#x, want 2", got)
	}
	if got := read32(t, bus, testWindowBase+gicdIidr); got != gicdIidrValue {
		t.Fatalf("IIDR=%#x, want %#x", got, gicdIidrValue)
	}
	if got := read32(t, bus, testWindowBase+gicdPidr2); got != gicArchRevGICv3 {
		t.Fatalf("PIDR2=%#x, want %#x", got, gicArchRevGICv3)
	}
}

func TestWindowWideReadZeroesTail(t *testing.T) {
	_, _, bus := newTestWindow(t, 2, 64)
	write32(t, bus, testWindowBase+gicdCtlr, 1)

	// An 8-byte access to a 32-bit register reads as zero beyond it.
	buf := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	if err := bus.Read(testWindowBase+gicdCtlr, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := binary.LittleEndian.Uint32(buf[:4]); got != 1 {
		t.Fatalf("CTLR=%#x, want 1", got)
	}
	for i := 4; i < 8; i++ {
		if buf[i] != 0 {
			t.Fatalf("byte %d=%#x beyond the register, want 0", i, buf[i])
		}
	}

	// Unhandled offsets read fully as zero too.
	buf = []byte{0xFF, 0xFF, 0xFF, 0xFF}
	if err := bus.Read(testWindowBase+0x0040, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d=%#x in reserved space, want 0", i, b)
		}
	}
}

func TestWindowDeliveryPath(t *testing.T) {
	d, wr, bus := newTestWindow(t, 2, 64)

	write32(t, bus, testWindowBase+gicdCtlr, 1)

	// Route intid 40 to vCPU 1 via its 64-bit router register.
	var route [8]byte
	binary.LittleEndian.PutUint64(route[:], 1)
	if err := bus.Write(testWindowBase+gicdIrouter+40*8, route[:]); err != nil {
		t.Fatalf("router write: %v", err)
	}

	// Enable intid 40: word 1 of ISENABLER, bit 8.
	write32(t, bus, testWindowBase+gicdIsenabler+4, 1<<8)
	if got := read32(t, bus, testWindowBase+gicdIsenabler+4); got&(1<<8) == 0 {
		t.Fatalf("ISENABLER readback=%#x, bit 8 clear", got)
	}

	if err := d.Inject(-1, 40, true); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if got := readyIDs(t, d, 1); len(got) != 1 || got[0] != 40 {
		t.Fatalf("vcpu 1 ready=%v, want [40]", got)
	}
	if wr.count(1) != 1 {
		t.Fatalf("vcpu 1 wakes=%d, want 1", wr.count(1))
	}

	// Pending readback reflects the asserted line.
	if got := read32(t, bus, testWindowBase+gicdIspendr+4); got&(1<<8) == 0 {
		t.Fatalf("ISPENDR readback=%#x, bit 8 clear", got)
	}

	// Router readback.
	var back [8]byte
	if err := bus.Read(testWindowBase+gicdIrouter+40*8, back[:]); err != nil {
		t.Fatalf("router read: %v", err)
	}
	if got := binary.LittleEndian.Uint64(back[:]); got != 1 {
		t.Fatalf("IROUTER readback=%d, want 1", got)
	}
}

func TestWindowSoftPending(t *testing.T) {
	d, _, bus := newTestWindow(t, 1, 64)
	write32(t, bus, testWindowBase+gicdCtlr, 1)

	enableSPI(t, d, 41, 0)

	// Software-pend intid 41: word 1 of ISPENDR, bit 9.
	write32(t, bus, testWindowBase+gicdIspendr+4, 1<<9)
	if got := readyIDs(t, d, 0); len(got) != 1 || got[0] != 41 {
		t.Fatalf("ready=%v, want [41]", got)
	}

	// Clearing the soft-pend on a deasserted level line drops it.
	write32(t, bus, testWindowBase+gicdIcpendr+4, 1<<9)
	if got := readyIDs(t, d, 0); len(got) != 0 {
		t.Fatalf("ready=%v after ICPENDR, want empty", got)
	}
}

func TestWindowPriorityAndConfig(t *testing.T) {
	d, _, bus := newTestWindow(t, 1, 64)

	// One priority byte per line.
	if err := bus.Write(testWindowBase+gicdIpriorityr+40, []byte{0xA0}); err != nil {
		t.Fatalf("priority write: %v", err)
	}
	var prio [1]byte
	if err := bus.Read(testWindowBase+gicdIpriorityr+40, prio[:]); err != nil {
		t.Fatalf("priority read: %v", err)
	}
	if prio[0] != 0xA0 {
		t.Fatalf("priority readback=%#x, want 0xA0", prio[0])
	}

	// Intid 40 sits in ICFGR word 2, field 8; bit 17 selects edge.
	write32(t, bus, testWindowBase+gicdIcfgr+8, 1<<17)
	irq, err := d.irqFor(nil, 40)
	if err != nil {
		t.Fatalf("irqFor: %v", err)
	}
	irq.mu.Lock()
	mode := irq.trigger
	irq.mu.Unlock()
	if mode != TriggerEdge {
		t.Fatalf("trigger=%v after ICFGR write, want edge", mode)
	}
	if got := read32(t, bus, testWindowBase+gicdIcfgr+8); got&(1<<17) == 0 {
		t.Fatalf("ICFGR readback=%#x, bit 17 clear", got)
	}
}

func TestWindowIgnoresPrivateBits(t *testing.T) {
	d, _, bus := newTestWindow(t, 1, 64)

	// Word 0 of ISENABLER covers the private range and is write-ignored.
	write32(t, bus, testWindowBase+gicdIsenabler, 0xFFFFFFFF)
	vcpu := d.vcpus[0]
	for i := range vcpu.private {
		irq := &vcpu.private[i]
		irq.mu.Lock()
		enabled := irq.enabled
		irq.mu.Unlock()
		if enabled {
			t.Fatalf("private intid %d enabled through the shared window", i)
		}
	}
	if got := read32(t, bus, testWindowBase+gicdIsenabler); got != 0 {
		t.Fatalf("ISENABLER word 0 readback=%#x, want 0", got)
	}
}
