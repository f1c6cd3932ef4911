package request

import (
	"testing"

	"github.com/rcornwell/ssdsim/internal/ssd/topology"
)

func testDevice() *topology.Device {
	return topology.NewDevice(topology.Config{
		ChannelNumber: 1,
		ChipChannel:   []int{1},
		DieChip:       1,
		PlaneDie:      1,
		BlockPlane:    2,
		PageBlock:     2,
		SubpagePage:   4,
	})
}

func TestStepChannelAdmitsAndCompletesWrite(t *testing.T) {
	dev := testDevice()
	e := New(dev, Timing{TWC: 1, TR: 2, TPROG: 3, TBERS: 10, TWB: 1, TRC: 1})

	parent := &Request{Sub: make([]*SubRequest, 1)}
	sr := &SubRequest{Op: OpWrite, Size: 1, Location: topology.Coord{Channel: 0, Chip: 0}, Parent: parent}
	parent.Sub[0] = sr
	e.Submit(sr)

	e.Step(0)
	if sr.CurrentState != StateTransferCmd {
		t.Fatalf("expected StateTransferCmd after admission, got %v", sr.CurrentState)
	}

	e.Step(1)
	if sr.CurrentState != StateFlashBusy {
		t.Fatalf("expected StateFlashBusy once chip is free, got %v", sr.CurrentState)
	}

	e.Step(4)
	if sr.CurrentState != StateDataTransfer {
		t.Fatalf("expected StateDataTransfer once flash busy elapsed, got %v", sr.CurrentState)
	}

	e.Step(5)
	if sr.CurrentState != StateComplete {
		t.Fatalf("expected StateComplete once data transfer elapsed, got %v", sr.CurrentState)
	}
	if !parent.Done() {
		t.Fatalf("expected parent request done")
	}
}

func TestStepChannelSetsMetGCWhenChipHeldByGC(t *testing.T) {
	dev := testDevice()
	e := New(dev, Timing{TWC: 1, TR: 2, TPROG: 3, TBERS: 10, TWB: 1, TRC: 1})

	parent := &Request{Sub: make([]*SubRequest, 1)}
	sr := &SubRequest{Op: OpWrite, Size: 1, Location: topology.Coord{Channel: 0, Chip: 0}, Parent: parent}
	parent.Sub[0] = sr
	e.Submit(sr)

	e.Step(0)
	if sr.CurrentState != StateTransferCmd {
		t.Fatalf("expected StateTransferCmd after admission, got %v", sr.CurrentState)
	}

	chip := dev.ChipAt(0, 0)
	chip.State = topology.ResourceState{
		Current: topology.ResBusy, CurrentTime: 1,
		Next: topology.ResIdle, NextPredictTime: 100, GCBusy: true,
	}

	e.Step(1)
	if sr.CurrentState != StateTransferCmd {
		t.Fatalf("sub-request should still be waiting on the GC-held chip, got %v", sr.CurrentState)
	}
	if !parent.MetGC {
		t.Fatalf("expected MetGC to be set when the chip is held by GC")
	}
	if parent.MetGCRemain != 99 {
		t.Fatalf("expected MetGCRemain == 99, got %d", parent.MetGCRemain)
	}
}

func TestStepChannelDoesNotSetMetGCForForegroundStall(t *testing.T) {
	dev := testDevice()
	e := New(dev, Timing{TWC: 1, TR: 2, TPROG: 3, TBERS: 10, TWB: 1, TRC: 1})

	parent := &Request{Sub: make([]*SubRequest, 1)}
	sr := &SubRequest{Op: OpWrite, Size: 1, Location: topology.Coord{Channel: 0, Chip: 0}, Parent: parent}
	parent.Sub[0] = sr
	e.Submit(sr)

	e.Step(0)

	chip := dev.ChipAt(0, 0)
	chip.State = topology.ResourceState{
		Current: topology.ResBusy, CurrentTime: 1,
		Next: topology.ResIdle, NextPredictTime: 100,
	}

	e.Step(1)
	if parent.MetGC {
		t.Fatalf("MetGC should stay false when the chip is held by another foreground command")
	}
}
