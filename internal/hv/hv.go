// Package hv holds the thin contracts between the interrupt distributor and
// the surrounding virtualization runtime: memory-mapped device interfaces
// and a bus that routes guest accesses to them.
package hv

import "fmt"

type MMIORegion struct {
	Address uint64
	Size    uint64
}

func (r MMIORegion) contains(addr uint64, size int) bool {
	return addr >= r.Address && addr+uint64(size) <= r.Address+r.Size
}

func (r MMIORegion) overlaps(o MMIORegion) bool {
	return r.Address < o.Address+o.Size && o.Address < r.Address+r.Size
}

type MemoryMappedIODevice interface {
	MMIORegions() []MMIORegion

	ReadMMIO(addr uint64, data []byte) error
	WriteMMIO(addr uint64, data []byte) error
}

type SimpleMMIODevice struct {
	Regions []MMIORegion

	ReadFunc  func(addr uint64, data []byte) error
	WriteFunc func(addr uint64, data []byte) error
}

func (d SimpleMMIODevice) MMIORegions() []MMIORegion { return d.Regions }
func (d SimpleMMIODevice) ReadMMIO(addr uint64, data []byte) error {
	if d.ReadFunc != nil {
		return d.ReadFunc(addr, data)
	}
	return fmt.Errorf("hv: unhandled read from MMIO address 0x%X", addr)
}
func (d SimpleMMIODevice) WriteMMIO(addr uint64, data []byte) error {
	if d.WriteFunc != nil {
		return d.WriteFunc(addr, data)
	}
	return fmt.Errorf("hv: unhandled write to MMIO address 0x%X", addr)
}

var (
	_ MemoryMappedIODevice = SimpleMMIODevice{}
)
