package vgic

import (
	"fmt"
	"log/slog"
)

// ConfigureSPIs allocates the shared interrupt line table. The size is fixed
// at first configuration: a second call fails with ErrAlreadyConfigured and
// a call racing another configuration attempt fails with ErrBusy.
func (d *Distributor) ConfigureSPIs(n int) error {
	if n < 0 || n > MaxSPIs {
		return fmt.Errorf("vgic: spi count %d (max %d): %w", n, MaxSPIs, ErrInvalidArgument)
	}

	if !d.cfgMu.TryLock() {
		return ErrBusy
	}
	defer d.cfgMu.Unlock()

	if d.spis.Load() != nil {
		return ErrAlreadyConfigured
	}

	spis := make([]IRQ, n)
	for i := range spis {
		irq := &spis[i]
		irq.intid = NumPrivateIRQs + uint32(i)
		irq.trigger = TriggerLevel
		irq.owner = -1
		irq.target = -1
	}
	d.spis.Store(&spis)

	slog.Debug("vgic: configured shared lines", "spis", n)
	return nil
}

// SetEnabled sets the guest-controlled per-line enable gate. Enabling a
// pending line queues it immediately.
func (d *Distributor) SetEnabled(cpuID int, intid uint32, enabled bool) error {
	irq, err := d.lineFor(cpuID, intid)
	if err != nil {
		return err
	}

	irq.mu.Lock()
	irq.enabled = enabled
	if !enabled {
		irq.mu.Unlock()
		return nil
	}
	d.queueIRQUnlock(irq)
	return nil
}

// SetTargetVCPU routes a shared line to a vCPU (-1 routes it nowhere).
// Private lines are permanently targeted at their owning vCPU and cannot be
// rerouted. A line already queued elsewhere migrates on the next prune of
// the old vCPU's dispatch list.
func (d *Distributor) SetTargetVCPU(intid uint32, cpuID int) error {
	if intid < NumPrivateIRQs {
		return fmt.Errorf("vgic: private intid %d cannot be rerouted: %w", intid, ErrInvalidArgument)
	}
	if cpuID >= len(d.vcpus) {
		return fmt.Errorf("vgic: vcpu %d out of range: %w", cpuID, ErrInvalidArgument)
	}
	irq, err := d.irqFor(nil, intid)
	if err != nil {
		return err
	}

	irq.mu.Lock()
	if cpuID < 0 {
		irq.target = -1
	} else {
		irq.target = cpuID
	}
	d.queueIRQUnlock(irq)
	return nil
}

// SetActive mirrors the guest-side in-progress acknowledgement state.
// Clearing it on a line that is still pending and enabled requeues the line.
func (d *Distributor) SetActive(cpuID int, intid uint32, active bool) error {
	irq, err := d.lineFor(cpuID, intid)
	if err != nil {
		return err
	}

	irq.mu.Lock()
	irq.active = active
	d.queueIRQUnlock(irq)
	return nil
}

// SetSoftPending latches or clears a software-injected pending state,
// independent of the raw line level (ISPENDR/ICPENDR semantics). Clearing
// it on a level line whose level is still asserted leaves the line pending.
func (d *Distributor) SetSoftPending(cpuID int, intid uint32, pend bool) error {
	irq, err := d.lineFor(cpuID, intid)
	if err != nil {
		return err
	}

	irq.mu.Lock()
	irq.softPending = pend
	if pend {
		irq.pending = true
		d.queueIRQUnlock(irq)
		return nil
	}

	if irq.trigger == TriggerLevel {
		irq.pending = irq.lineLevel || irq.softPending
	} else {
		irq.pending = false
	}
	irq.mu.Unlock()
	return nil
}

// SetPriority sets a line's delivery priority. Priority does not affect
// queueing eligibility; it is exposed to the delivery layer via LineState.
func (d *Distributor) SetPriority(cpuID int, intid uint32, priority uint8) error {
	irq, err := d.lineFor(cpuID, intid)
	if err != nil {
		return err
	}

	irq.mu.Lock()
	irq.priority = priority
	irq.mu.Unlock()
	return nil
}

// SetTriggerMode changes a shared line's trigger mode. Private line modes
// are fixed at creation (SGIs edge, PPIs level).
func (d *Distributor) SetTriggerMode(intid uint32, mode TriggerMode) error {
	if intid < NumPrivateIRQs {
		return fmt.Errorf("vgic: private intid %d trigger mode is fixed: %w", intid, ErrInvalidArgument)
	}
	if mode != TriggerEdge && mode != TriggerLevel {
		return fmt.Errorf("vgic: trigger mode %d: %w", mode, ErrInvalidArgument)
	}
	irq, err := d.irqFor(nil, intid)
	if err != nil {
		return err
	}

	irq.mu.Lock()
	irq.trigger = mode
	irq.mu.Unlock()
	return nil
}

// MapHW marks a line as backed by the physical interrupt hwIntID. Mapped
// lines only accept InjectMapped calls.
func (d *Distributor) MapHW(cpuID int, intid uint32, hwIntID uint32) error {
	irq, err := d.lineFor(cpuID, intid)
	if err != nil {
		return err
	}

	irq.mu.Lock()
	irq.hw = true
	irq.hwIntID = hwIntID
	irq.mu.Unlock()
	return nil
}

// UnmapHW reverts MapHW.
func (d *Distributor) UnmapHW(cpuID int, intid uint32) error {
	irq, err := d.lineFor(cpuID, intid)
	if err != nil {
		return err
	}

	irq.mu.Lock()
	irq.hw = false
	irq.hwIntID = 0
	irq.mu.Unlock()
	return nil
}

// SetDistributorEnabled flips the global delivery gate. On the
// disabled-to-enabled transition every line is rescanned and eligible ones
// are requeued, so level lines whose level was asserted while the
// distributor was masked are delivered without waiting for a new transition.
func (d *Distributor) SetDistributorEnabled(enabled bool) {
	was := d.enabled.Swap(enabled)
	if !enabled || was {
		return
	}

	slog.Debug("vgic: distributor enabled, rescanning pending lines")
	d.forEachLine(func(cpuID int, irq *IRQ) {
		irq.mu.Lock()
		d.queueIRQUnlock(irq)
	})
}
