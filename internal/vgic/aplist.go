package vgic

import (
	"fmt"
	"log/slog"
)

// Ready prunes cpuID's dispatch list and returns the interrupt ids still
// asserted to it, in insertion order. The delivery layer consumes this each
// time the vCPU re-enters guest execution.
func (d *Distributor) Ready(cpuID int) ([]uint32, error) {
	if cpuID < 0 || cpuID >= len(d.vcpus) {
		return nil, fmt.Errorf("vgic: vcpu %d out of range: %w", cpuID, ErrInvalidArgument)
	}
	vcpu := d.vcpus[cpuID]

	d.pruneAPList(vcpu)

	vcpu.apMu.Lock()
	defer vcpu.apMu.Unlock()

	out := make([]uint32, len(vcpu.apList))
	for i, irq := range vcpu.apList {
		out[i] = irq.intid
	}
	return out, nil
}

// Complete retires intid on cpuID after the guest has finished servicing
// it: the active state is cleared, the line is unlinked from the dispatch
// list and, if it is still pending and enabled (a level line whose level
// remains asserted), it is immediately requeued.
func (d *Distributor) Complete(cpuID int, intid uint32) error {
	if cpuID < 0 || cpuID >= len(d.vcpus) {
		return fmt.Errorf("vgic: vcpu %d out of range: %w", cpuID, ErrInvalidArgument)
	}
	vcpu := d.vcpus[cpuID]

	irq, err := d.irqFor(vcpu, intid)
	if err != nil {
		return err
	}

	vcpu.apMu.Lock()
	irq.mu.Lock()

	irq.active = false
	if irq.owner == vcpu.id {
		unlink(vcpu, irq)
		irq.owner = -1
	}
	requeue := irq.pending && irq.enabled

	irq.mu.Unlock()
	vcpu.apMu.Unlock()

	if requeue {
		irq.mu.Lock()
		d.queueIRQUnlock(irq)
	}
	return nil
}

// unlink removes irq from vcpu's dispatch list. Requires vcpu.apMu and
// irq.mu held and irq.owner == vcpu.id. A missing entry means the
// ownership invariant was broken by a lock-discipline bug.
func unlink(vcpu *vCPU, irq *IRQ) {
	for i, e := range vcpu.apList {
		if e == irq {
			vcpu.apList = append(vcpu.apList[:i], vcpu.apList[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("vgic: intid %d owned by vcpu %d but missing from its dispatch list", irq.intid, vcpu.id))
}

// pruneAPList drops dispatch list entries the target oracle no longer
// assigns to vcpu. Lines that became ineligible are unlinked; lines now
// routed to a different vCPU migrate to its list.
func (d *Distributor) pruneAPList(vcpu *vCPU) {
retry:
	for {
		vcpu.apMu.Lock()

		i := 0
		for i < len(vcpu.apList) {
			irq := vcpu.apList[i]

			irq.mu.Lock()
			target := d.targetVCPU(irq)

			if target == vcpu {
				irq.mu.Unlock()
				i++
				continue
			}

			if target == nil {
				// Not deliverable anywhere anymore.
				vcpu.apList = append(vcpu.apList[:i], vcpu.apList[i+1:]...)
				irq.owner = -1
				irq.mu.Unlock()
				continue
			}

			// The line belongs on another vCPU's list. Moving it needs both
			// ap list locks, which must be taken in increasing vCPU id
			// order, so drop everything and restart the scan afterwards.
			irq.mu.Unlock()
			vcpu.apMu.Unlock()

			d.migrate(vcpu, target, irq)
			continue retry
		}

		vcpu.apMu.Unlock()
		return
	}
}

// migrate relinks irq from src's dispatch list to dst's. Both ap list locks
// are taken in increasing vCPU id order, then the line lock; the move is
// abandoned if the line was retired or retargeted in the meantime.
func (d *Distributor) migrate(src, dst *vCPU, irq *IRQ) {
	lo, hi := src, dst
	if hi.id < lo.id {
		lo, hi = hi, lo
	}

	lo.apMu.Lock()
	hi.apMu.Lock()
	irq.mu.Lock()

	moved := false
	if irq.owner == src.id && dst == d.targetVCPU(irq) {
		unlink(src, irq)
		dst.apList = append(dst.apList, irq)
		irq.owner = dst.id
		moved = true

		slog.Debug("vgic: migrated line between dispatch lists",
			"intid", irq.intid,
			"from", src.id,
			"to", dst.id)
	}

	irq.mu.Unlock()
	hi.apMu.Unlock()
	lo.apMu.Unlock()

	if moved {
		d.kick(dst.id)
	}
}

// CheckInvariants verifies the ownership invariant: every line's owner field
// agrees with dispatch list membership and no line sits on more than one
// list. It takes every ap list lock (in id order), so it is meant for tests
// and offline validation, not hot paths.
func (d *Distributor) CheckInvariants() error {
	for _, vcpu := range d.vcpus {
		vcpu.apMu.Lock()
	}
	defer func() {
		for i := len(d.vcpus) - 1; i >= 0; i-- {
			d.vcpus[i].apMu.Unlock()
		}
	}()

	listed := make(map[*IRQ]int)
	for _, vcpu := range d.vcpus {
		for _, irq := range vcpu.apList {
			if prev, dup := listed[irq]; dup {
				return fmt.Errorf("vgic: intid %d on dispatch lists of vcpu %d and vcpu %d", irq.intid, prev, vcpu.id)
			}
			listed[irq] = vcpu.id
		}
	}

	var failure error
	d.forEachLine(func(cpuID int, irq *IRQ) {
		if failure != nil {
			return
		}
		irq.mu.Lock()
		owner := irq.owner
		irq.mu.Unlock()

		on, ok := listed[irq]
		switch {
		case owner >= 0 && !ok:
			failure = fmt.Errorf("vgic: intid %d claims owner vcpu %d but is on no dispatch list", irq.intid, owner)
		case owner >= 0 && on != owner:
			failure = fmt.Errorf("vgic: intid %d claims owner vcpu %d but sits on vcpu %d's dispatch list", irq.intid, owner, on)
		case owner < 0 && ok:
			failure = fmt.Errorf("vgic: intid %d has no owner but sits on vcpu %d's dispatch list", irq.intid, on)
		}
	})
	return failure
}
