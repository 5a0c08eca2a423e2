// Package virq implements a virtual interrupt distributor for hypervisors
// hosting multiple virtual CPUs. It tracks private and shared virtual
// interrupt lines, resolves which vCPU should handle each pending or active
// line, and maintains an ordered per-vCPU list of interrupts ready for
// injection, safe against concurrent device emulation and vCPU threads.
package virq

import "github.com/tinyrange/virq/internal/vgic"

// -----------------------------------------------------------------------------
// Type Aliases - These re-export types from internal/vgic
// -----------------------------------------------------------------------------

// Distributor owns every interrupt line of one virtual machine.
type Distributor = vgic.Distributor

// LineState is a plain copy of one interrupt line's state for save/restore.
type LineState = vgic.LineState

// TriggerMode selects edge or level pending-state semantics.
type TriggerMode = vgic.TriggerMode

// WakeFunc is the schedule/kick notification into the surrounding runtime.
type WakeFunc = vgic.WakeFunc

const (
	TriggerEdge  = vgic.TriggerEdge
	TriggerLevel = vgic.TriggerLevel

	NumPrivateIRQs = vgic.NumPrivateIRQs
	MaxSPIIntID    = vgic.MaxSPIIntID
	MinLPIIntID    = vgic.MinLPIIntID
)

var (
	ErrInvalidArgument   = vgic.ErrInvalidArgument
	ErrAlreadyConfigured = vgic.ErrAlreadyConfigured
	ErrBusy              = vgic.ErrBusy
	ErrLPIsUnsupported   = vgic.ErrLPIsUnsupported
)

// New creates a distributor for numCPUs virtual CPUs. wake is invoked, with
// no locks held, whenever an interrupt is queued onto a vCPU's list.
func New(numCPUs int, wake WakeFunc) (*Distributor, error) {
	return vgic.New(numCPUs, wake)
}
