package hv

import (
	"fmt"
	"sync"
)

// Bus routes guest MMIO accesses to registered devices. Devices are added
// during machine setup; Read and Write are safe to call concurrently with
// each other afterwards.
type Bus struct {
	mu      sync.RWMutex
	devices []MemoryMappedIODevice
}

// AddDevice registers a device, rejecting regions that overlap an already
// registered one.
func (b *Bus) AddDevice(dev MemoryMappedIODevice) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, region := range dev.MMIORegions() {
		for _, existing := range b.devices {
			for _, other := range existing.MMIORegions() {
				if region.overlaps(other) {
					return fmt.Errorf("hv: MMIO region [0x%X, 0x%X) overlaps [0x%X, 0x%X)",
						region.Address, region.Address+region.Size,
						other.Address, other.Address+other.Size)
				}
			}
		}
	}

	b.devices = append(b.devices, dev)
	return nil
}

func (b *Bus) find(addr uint64, size int) MemoryMappedIODevice {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, dev := range b.devices {
		for _, region := range dev.MMIORegions() {
			if region.contains(addr, size) {
				return dev
			}
		}
	}
	return nil
}

func (b *Bus) Read(addr uint64, data []byte) error {
	dev := b.find(addr, len(data))
	if dev == nil {
		return fmt.Errorf("hv: unhandled read from MMIO address 0x%X", addr)
	}
	return dev.ReadMMIO(addr, data)
}

func (b *Bus) Write(addr uint64, data []byte) error {
	dev := b.find(addr, len(data))
	if dev == nil {
		return fmt.Errorf("hv: unhandled write to MMIO address 0x%X", addr)
	}
	return dev.WriteMMIO(addr, data)
}
