package vgic

import "fmt"

// LineState is a plain copy of one interrupt line's state, for collaborators
// that save, restore or migrate distributor state. Ownership (which dispatch
// list a line sits on) is deliberately absent: it is re-derived on restore.
type LineState struct {
	CPU   int // owning vCPU for private lines, -1 for shared
	IntID uint32

	Trigger     TriggerMode
	Enabled     bool
	Pending     bool
	LineLevel   bool
	SoftPending bool
	Active      bool
	HW          bool
	HWIntID     uint32
	Priority    uint8
	Target      int
}

// SaveLines copies the state of every allocated line: each vCPU's private
// lines in vCPU order, then the shared lines. Each line is copied under its
// own lock; the result is a consistent per-line snapshot, not a global one.
func (d *Distributor) SaveLines() []LineState {
	var out []LineState
	d.forEachLine(func(cpuID int, irq *IRQ) {
		irq.mu.Lock()
		out = append(out, LineState{
			CPU:         cpuID,
			IntID:       irq.intid,
			Trigger:     irq.trigger,
			Enabled:     irq.enabled,
			Pending:     irq.pending,
			LineLevel:   irq.lineLevel,
			SoftPending: irq.softPending,
			Active:      irq.active,
			HW:          irq.hw,
			HWIntID:     irq.hwIntID,
			Priority:    irq.priority,
			Target:      irq.target,
		})
		irq.mu.Unlock()
	})
	return out
}

// RestoreLines applies saved line state to a distributor with matching vCPU
// count and shared line configuration, then requeues every line the target
// oracle finds eligible. It is intended for freshly constructed
// distributors; restoring over live dispatch lists is not supported.
func (d *Distributor) RestoreLines(states []LineState) error {
	for _, st := range states {
		irq, err := d.lineFor(st.CPU, st.IntID)
		if err != nil {
			return err
		}
		if st.Target >= len(d.vcpus) {
			return fmt.Errorf("vgic: restore intid %d: target vcpu %d out of range: %w", st.IntID, st.Target, ErrInvalidArgument)
		}

		irq.mu.Lock()
		irq.trigger = st.Trigger
		irq.enabled = st.Enabled
		irq.pending = st.Pending
		irq.lineLevel = st.LineLevel
		irq.softPending = st.SoftPending
		irq.active = st.Active
		irq.hw = st.HW
		irq.hwIntID = st.HWIntID
		irq.priority = st.Priority
		if !irq.isPrivate() {
			irq.target = st.Target
		}
		d.queueIRQUnlock(irq)
	}
	return nil
}
