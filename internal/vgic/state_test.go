package vgic

import (
	"errors"
	"testing"
)

func TestSaveLinesCoversEveryLine(t *testing.T) {
	d, _ := newTestDistributor(t, 2, 64)

	states := d.SaveLines()
	want := 2*NumPrivateIRQs + 64
	if len(states) != want {
		t.Fatalf("SaveLines returned %d states, want %d", len(states), want)
	}

	seen := make(map[[2]int]bool)
	for _, st := range states {
		key := [2]int{st.CPU, int(st.IntID)}
		if seen[key] {
			t.Fatalf("duplicate state for cpu=%d intid=%d", st.CPU, st.IntID)
		}
		seen[key] = true
		if st.IntID < NumPrivateIRQs && st.CPU < 0 {
			t.Fatalf("private intid %d saved without a cpu", st.IntID)
		}
		if st.IntID >= NumPrivateIRQs && st.CPU != -1 {
			t.Fatalf("shared intid %d saved with cpu=%d", st.IntID, st.CPU)
		}
	}
}

func TestSaveRestoreRoundtrip(t *testing.T) {
	src, _ := newTestDistributor(t, 2, 64)
	src.SetDistributorEnabled(true)

	if err := src.SetTriggerMode(40, TriggerEdge); err != nil {
		t.Fatalf("SetTriggerMode: %v", err)
	}
	if err := src.SetTargetVCPU(40, 1); err != nil {
		t.Fatalf("SetTargetVCPU: %v", err)
	}
	if err := src.SetEnabled(-1, 40, true); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if err := src.SetPriority(-1, 40, 0x80); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	if err := src.MapHW(-1, 40, 72); err != nil {
		t.Fatalf("MapHW: %v", err)
	}
	if err := src.InjectMapped(-1, 40, true); err != nil {
		t.Fatalf("InjectMapped: %v", err)
	}

	// A pending but disabled level line and a private line too.
	if err := src.Inject(-1, 41, true); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if err := src.SetEnabled(0, 17, true); err != nil {
		t.Fatalf("SetEnabled private: %v", err)
	}
	if err := src.Inject(0, 17, true); err != nil {
		t.Fatalf("Inject private: %v", err)
	}

	states := src.SaveLines()

	dst, wr := newTestDistributor(t, 2, 64)
	dst.SetDistributorEnabled(true)
	if err := dst.RestoreLines(states); err != nil {
		t.Fatalf("RestoreLines: %v", err)
	}

	got := dst.SaveLines()
	if len(got) != len(states) {
		t.Fatalf("restored %d states, want %d", len(got), len(states))
	}
	for i := range states {
		if got[i] != states[i] {
			t.Fatalf("state mismatch at %d: got %+v, want %+v", i, got[i], states[i])
		}
	}

	// Restore requeues eligible lines on their targets.
	if ids := readyIDs(t, dst, 1); len(ids) != 1 || ids[0] != 40 {
		t.Fatalf("vcpu 1 ready=%v after restore, want [40]", ids)
	}
	if ids := readyIDs(t, dst, 0); len(ids) != 1 || ids[0] != 17 {
		t.Fatalf("vcpu 0 ready=%v after restore, want [17]", ids)
	}
	if wr.count(1) == 0 {
		t.Fatalf("restore queued onto vcpu 1 without a wake")
	}
	if err := dst.CheckInvariants(); err != nil {
		t.Fatalf("CheckInvariants: %v", err)
	}
}

func TestRestoreRejectsBadState(t *testing.T) {
	d, _ := newTestDistributor(t, 2, 64)

	err := d.RestoreLines([]LineState{{CPU: 5, IntID: 3}})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("bad cpu err=%v, want ErrInvalidArgument", err)
	}
	err = d.RestoreLines([]LineState{{CPU: -1, IntID: 40, Target: 9}})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("bad target err=%v, want ErrInvalidArgument", err)
	}
	err = d.RestoreLines([]LineState{{CPU: -1, IntID: NumPrivateIRQs + 64}})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("out of range intid err=%v, want ErrInvalidArgument", err)
	}
}
