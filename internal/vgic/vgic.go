// Package vgic implements a virtual interrupt distributor for a hypervisor
// hosting multiple virtual CPUs. It tracks every virtual interrupt line
// (private per-vCPU and shared), decides which vCPU should currently handle
// each pending or active line, and exposes an ordered per-vCPU list of
// interrupts ready for injection.
//
// Interrupt ids follow the GIC layout: ids below NumPrivateIRQs are private
// to a vCPU (SGIs then PPIs), ids from NumPrivateIRQs up to MaxSPIIntID are
// shared peripheral interrupts sized once via ConfigureSPIs, and ids at or
// above MinLPIIntID are reserved for message-signaled interrupts, which this
// package does not implement.
package vgic

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	// NumSGIs is the number of software-generated interrupt ids per vCPU.
	NumSGIs = 16

	// NumPrivateIRQs is the size of each vCPU's private id range (SGIs
	// followed by PPIs). Ids below this value always resolve against a vCPU.
	NumPrivateIRQs = 32

	// MaxSPIIntID is the highest valid shared interrupt id.
	MaxSPIIntID = 1019

	// MaxSPIs is the largest shared line table ConfigureSPIs accepts.
	MaxSPIs = MaxSPIIntID + 1 - NumPrivateIRQs

	// MinLPIIntID is the first id of the reserved message-signaled range.
	MinLPIIntID = 8192
)

var (
	ErrInvalidArgument   = errors.New("vgic: invalid argument")
	ErrAlreadyConfigured = errors.New("vgic: shared interrupt lines already configured")
	ErrBusy              = errors.New("vgic: configuration already in progress")
	ErrLPIsUnsupported   = fmt.Errorf("vgic: message-signaled interrupts unsupported: %w", ErrInvalidArgument)
)

// TriggerMode selects the pending-state semantics of an interrupt line.
type TriggerMode uint8

const (
	TriggerEdge TriggerMode = iota
	TriggerLevel
)

func (m TriggerMode) String() string {
	switch m {
	case TriggerEdge:
		return "edge"
	case TriggerLevel:
		return "level"
	default:
		return fmt.Sprintf("trigger(%d)", uint8(m))
	}
}

// WakeFunc notifies the surrounding runtime that a vCPU has work queued.
// It is always called with no distributor locks held and may be invoked
// from any thread; implementations must not call back into the distributor
// synchronously from it while holding their own locks that an injection
// path could contend on.
type WakeFunc func(cpuID int)

// IRQ is the state of one virtual interrupt line. All fields after intid
// and trigger creation are guarded by mu. owner and target are vCPU ids
// (-1 for none), never pointers: owner is where the line is currently
// queued, target is where guest routing says it should go.
type IRQ struct {
	mu sync.Mutex

	intid   uint32
	trigger TriggerMode

	enabled     bool
	pending     bool
	lineLevel   bool
	softPending bool
	active      bool

	hw      bool
	hwIntID uint32

	priority uint8

	owner  int
	target int
}

// IntID returns the line's interrupt id. Immutable after creation.
func (irq *IRQ) IntID() uint32 { return irq.intid }

func (irq *IRQ) isPrivate() bool { return irq.intid < NumPrivateIRQs }

// validTransition reports whether an injection call describes an actual
// state change. Requires irq.mu held. Edge lines only accept assertion;
// level lines only accept a transition away from the current line level.
func (irq *IRQ) validTransition(level bool) bool {
	if irq.trigger == TriggerEdge {
		return level
	}
	return level != irq.lineLevel
}

// vCPU holds the per-CPU half of the distributor: the private line array
// and the dispatch list of lines currently asserted to this CPU.
type vCPU struct {
	id int

	// apMu guards apList. Lock ordering: apMu is always taken before any
	// line's mu; when two vCPUs' apMu are held at once they are taken in
	// increasing id order.
	apMu   sync.Mutex
	apList []*IRQ

	private [NumPrivateIRQs]IRQ
}

// Distributor owns all interrupt lines of one virtual machine.
type Distributor struct {
	wake WakeFunc

	// enabled is the guest-controlled global delivery gate (GICD_CTLR
	// equivalent). Read by the target oracle without holding line locks.
	enabled atomic.Bool

	cfgMu sync.Mutex
	spis  atomic.Pointer[[]IRQ]

	vcpus []*vCPU
}

// New creates a distributor for numCPUs virtual CPUs. The shared line table
// starts unconfigured; call ConfigureSPIs before injecting shared ids.
// wake may be nil.
func New(numCPUs int, wake WakeFunc) (*Distributor, error) {
	if numCPUs <= 0 {
		return nil, fmt.Errorf("vgic: vcpu count %d: %w", numCPUs, ErrInvalidArgument)
	}

	d := &Distributor{wake: wake}
	for i := 0; i < numCPUs; i++ {
		vcpu := &vCPU{id: i}
		for j := range vcpu.private {
			irq := &vcpu.private[j]
			irq.intid = uint32(j)
			irq.owner = -1
			// Private lines are permanently routed to their own vCPU.
			irq.target = i
			if j < NumSGIs {
				irq.trigger = TriggerEdge
			} else {
				irq.trigger = TriggerLevel
			}
		}
		d.vcpus = append(d.vcpus, vcpu)
	}
	return d, nil
}

// NumCPUs returns the number of vCPUs the distributor was created with.
func (d *Distributor) NumCPUs() int { return len(d.vcpus) }

// NumSPIs returns the configured shared line count, or 0 before ConfigureSPIs.
func (d *Distributor) NumSPIs() int {
	if spis := d.spis.Load(); spis != nil {
		return len(*spis)
	}
	return 0
}

// DistributorEnabled reports the global delivery gate.
func (d *Distributor) DistributorEnabled() bool { return d.enabled.Load() }

// irqFor resolves an interrupt id to its line. vcpu is only consulted for
// private ids. No locking is performed; callers must take irq.mu before
// touching any guarded field of the result.
func (d *Distributor) irqFor(vcpu *vCPU, intid uint32) (*IRQ, error) {
	switch {
	case intid < NumPrivateIRQs:
		if vcpu == nil {
			return nil, fmt.Errorf("vgic: private intid %d requires a vcpu: %w", intid, ErrInvalidArgument)
		}
		return &vcpu.private[intid], nil

	case intid <= MaxSPIIntID:
		spis := d.spis.Load()
		if spis == nil {
			return nil, fmt.Errorf("vgic: shared intid %d before ConfigureSPIs: %w", intid, ErrInvalidArgument)
		}
		idx := int(intid - NumPrivateIRQs)
		if idx >= len(*spis) {
			return nil, fmt.Errorf("vgic: shared intid %d beyond configured %d lines: %w", intid, len(*spis), ErrInvalidArgument)
		}
		return &(*spis)[idx], nil

	case intid >= MinLPIIntID:
		return nil, fmt.Errorf("intid %d: %w", intid, ErrLPIsUnsupported)

	default:
		return nil, fmt.Errorf("vgic: intid %d out of range: %w", intid, ErrInvalidArgument)
	}
}

// lineFor is irqFor with the vCPU resolved from a caller-supplied id.
// cpuID may be -1 when the id is shared.
func (d *Distributor) lineFor(cpuID int, intid uint32) (*IRQ, error) {
	var vcpu *vCPU
	if cpuID >= 0 {
		if cpuID >= len(d.vcpus) {
			return nil, fmt.Errorf("vgic: vcpu %d out of range: %w", cpuID, ErrInvalidArgument)
		}
		vcpu = d.vcpus[cpuID]
	}
	return d.irqFor(vcpu, intid)
}

// forEachLine visits every allocated line. cpuID is -1 for shared lines.
// No locks are held during the visit.
func (d *Distributor) forEachLine(fn func(cpuID int, irq *IRQ)) {
	for _, vcpu := range d.vcpus {
		for i := range vcpu.private {
			fn(vcpu.id, &vcpu.private[i])
		}
	}
	if spis := d.spis.Load(); spis != nil {
		s := *spis
		for i := range s {
			fn(-1, &s[i])
		}
	}
}

func (d *Distributor) kick(cpuID int) {
	if d.wake != nil {
		d.wake(cpuID)
	}
}
