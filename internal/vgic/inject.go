package vgic

import (
	"fmt"
	"log/slog"
)

// Inject signals a level or edge transition on behalf of an emulated device
// or host notification. cpuID resolves private ids and must be -1 or a valid
// vCPU id; it is ignored for shared ids beyond validation. Redundant
// transitions (same level on a level line, deassertion of an edge line) are
// not errors and leave all state untouched.
func (d *Distributor) Inject(cpuID int, intid uint32, level bool) error {
	return d.updatePending(cpuID, intid, level, false)
}

// InjectMapped is the passthrough variant of Inject for lines backed by a
// physical interrupt (see MapHW). Calling it on an unmapped line, or Inject
// on a mapped one, fails with ErrInvalidArgument.
func (d *Distributor) InjectMapped(cpuID int, intid uint32, level bool) error {
	return d.updatePending(cpuID, intid, level, true)
}

// updatePending validates an injection, latches the new pending state and
// hands the line to queueIRQUnlock. All validation happens before any state
// mutation, so a rejected call leaves the line untouched.
func (d *Distributor) updatePending(cpuID int, intid uint32, level, mapped bool) error {
	irq, err := d.lineFor(cpuID, intid)
	if err != nil {
		return err
	}

	irq.mu.Lock()

	if irq.hw != mapped {
		irq.mu.Unlock()
		return fmt.Errorf("vgic: intid %d hw=%v, caller expected hw=%v: %w", intid, irq.hw, mapped, ErrInvalidArgument)
	}

	if !irq.validTransition(level) {
		slog.Debug("vgic: injection is a no-op",
			"intid", intid,
			"level", level,
			"trigger", irq.trigger)
		irq.mu.Unlock()
		return nil
	}

	if irq.trigger == TriggerLevel {
		irq.lineLevel = level
		irq.pending = level || irq.softPending
	} else {
		irq.pending = true
	}

	d.queueIRQUnlock(irq)
	return nil
}

// targetVCPU is the target oracle: given a locked line, it returns the vCPU
// that should currently have the line on its dispatch list, or nil.
// Requires irq.mu held; performs no locking itself.
//
// An active line is pinned to the vCPU servicing it (falling back to its
// routed target) so it can never migrate mid-service. Otherwise a line is
// deliverable only while enabled and pending, routed somewhere, and the
// distributor is not globally masked.
func (d *Distributor) targetVCPU(irq *IRQ) *vCPU {
	if irq.active {
		if irq.owner >= 0 {
			return d.vcpus[irq.owner]
		}
		if irq.target >= 0 {
			return d.vcpus[irq.target]
		}
		return nil
	}

	if irq.enabled && irq.pending {
		if irq.target < 0 || !d.enabled.Load() {
			return nil
		}
		return d.vcpus[irq.target]
	}

	return nil
}

// queueIRQUnlock links an eligible line onto its target vCPU's dispatch
// list. It enters with irq.mu held and always returns with every lock
// released. Returns true if the line was queued (the target has been
// kicked), false if it was already queued somewhere or has no target.
//
// The ap list lock is ordered strictly before the line lock, so the line
// lock must be dropped before taking the list lock. Anything can happen in
// that window: another thread may queue the line, retire it, or retarget
// it. Both conditions are therefore re-checked under both locks and the
// whole sequence retried on interference. Every retry corresponds to
// another thread's completed state change, so the loop terminates under
// bounded interference.
func (d *Distributor) queueIRQUnlock(irq *IRQ) bool {
	for {
		target := d.targetVCPU(irq)
		if irq.owner >= 0 || target == nil {
			irq.mu.Unlock()
			return false
		}

		irq.mu.Unlock()

		target.apMu.Lock()
		irq.mu.Lock()

		if irq.owner >= 0 || target != d.targetVCPU(irq) {
			irq.mu.Unlock()
			target.apMu.Unlock()

			slog.Debug("vgic: queue raced, retrying",
				"intid", irq.intid,
				"target", target.id)

			irq.mu.Lock()
			continue
		}

		target.apList = append(target.apList, irq)
		irq.owner = target.id

		irq.mu.Unlock()
		target.apMu.Unlock()

		// The kick must happen after every lock is released so the woken
		// thread can immediately take them.
		d.kick(target.id)
		return true
	}
}
