//go:build linux

package irqfd

import (
	"context"
	"testing"
	"time"

	"github.com/tinyrange/virq/internal/vgic"
)

func newTestDistributor(t *testing.T, wake vgic.WakeFunc) *vgic.Distributor {
	t.Helper()

	d, err := vgic.New(1, wake)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.ConfigureSPIs(64); err != nil {
		t.Fatalf("ConfigureSPIs: %v", err)
	}
	if err := d.SetTriggerMode(40, vgic.TriggerEdge); err != nil {
		t.Fatalf("SetTriggerMode: %v", err)
	}
	if err := d.SetTargetVCPU(40, 0); err != nil {
		t.Fatalf("SetTargetVCPU: %v", err)
	}
	if err := d.SetEnabled(-1, 40, true); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	d.SetDistributorEnabled(true)
	return d
}

func TestNotifierInjects(t *testing.T) {
	woken := make(chan int, 8)
	d := newTestDistributor(t, func(cpuID int) { woken <- cpuID })

	n, err := New(d, 40)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Close()

	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := n.Start(context.Background()); err == nil {
		t.Fatalf("second Start succeeded")
	}

	if err := n.Trigger(); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	select {
	case cpu := <-woken:
		if cpu != 0 {
			t.Fatalf("woke vcpu %d, want 0", cpu)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no wake after trigger")
	}

	ready, err := d.Ready(0)
	if err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if len(ready) != 1 || ready[0] != 40 {
		t.Fatalf("ready=%v, want [40]", ready)
	}
}

func TestNotifierStopsOnContextCancel(t *testing.T) {
	d := newTestDistributor(t, nil)

	n, err := New(d, 40)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	select {
	case <-n.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("injection loop still running after cancel")
	}
}

func TestNotifierCloseWithoutStart(t *testing.T) {
	d := newTestDistributor(t, nil)

	n, err := New(d, 40)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close is idempotent.
	if err := n.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
