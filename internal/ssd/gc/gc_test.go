package gc

import (
	"testing"

	"github.com/rcornwell/ssdsim/internal/ssd/address"
	"github.com/rcornwell/ssdsim/internal/ssd/alloc"
	"github.com/rcornwell/ssdsim/internal/ssd/ftl"
	"github.com/rcornwell/ssdsim/internal/ssd/gccoord"
	"github.com/rcornwell/ssdsim/internal/ssd/scheduler"
	"github.com/rcornwell/ssdsim/internal/ssd/topology"
)

func smallConfig() topology.Config {
	return topology.Config{
		ChannelNumber: 1,
		ChipChannel:   []int{1},
		DieChip:       1,
		PlaneDie:      1,
		BlockPlane:    3,
		PageBlock:     4,
		SubpagePage:   4,
	}
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *topology.Device, *alloc.Allocator) {
	t.Helper()
	tcfg := smallConfig()
	dev := topology.NewDevice(tcfg)
	addr := address.New(tcfg)
	table := ftl.New()
	clock := &scheduler.Clock{}

	allocCfg := alloc.Config{Scheme: alloc.SchemeDynamic, GCHardThreshold: 0.1}
	eng := New(dev, addr, table, nil, clock, Timing{TWC: 1, TR: 2, TPROG: 3, TBERS: 10, TWB: 1, TRC: 1}, cfg, gccoord.None{}, nil, nil)
	alc := alloc.New(dev, addr, table, allocCfg, eng)
	eng.alloc = alc
	return eng, dev, alc
}

func TestUninterruptGCReclaimsBlock(t *testing.T) {
	eng, dev, alc := newTestEngine(t, Config{VictimPolicy: VictimInvalidPages})

	plane := topology.Coord{Channel: 0, Chip: 0, Die: 0, Plane: 0}
	// Fill block 0 via repeated writes to the same lpn: pages 0-2 end up
	// invalid and page 3 holds the live copy, which GC has to relocate.
	for i := 0; i < 4; i++ {
		if _, err := alc.GetPPN(100, 0x0F); err != nil {
			t.Fatalf("GetPPN: %v", err)
		}
	}
	// Block 0 still has a valid page, so it is not on the erase queue; the
	// pop below only makes sure it goes through the uninterrupt path.
	p := dev.PlaneOf(plane)
	p.PopEraseQueueBlock(0)

	node := &Node{Plane: plane, Block: 0, State: NodeWait, Priority: PriorityUninterruptible}
	if !eng.uninterruptGC(0, node) {
		t.Fatalf("uninterruptGC: expected completion")
	}
	if p.Blocks[0].InvalidPageNum != 0 || p.Blocks[0].FreePageNum != len(p.Blocks[0].Pages) {
		t.Fatalf("block not erased: invalid=%d free=%d", p.Blocks[0].InvalidPageNum, p.Blocks[0].FreePageNum)
	}
}

func TestInterruptGCResumesAcrossCalls(t *testing.T) {
	eng, dev, alc := newTestEngine(t, Config{VictimPolicy: VictimInvalidPages})
	plane := topology.Coord{Channel: 0, Chip: 0, Die: 0, Plane: 0}

	for i := 0; i < 4; i++ {
		if _, err := alc.GetPPN(200+i, 0x0F); err != nil {
			t.Fatalf("GetPPN: %v", err)
		}
	}
	p := dev.PlaneOf(plane)
	_ = p

	node := &Node{Plane: plane, Block: 0, Page: 0, State: NodeWait, Priority: PriorityInterruptible}
	steps := 0
	for !eng.interruptGC(int64(steps), node) {
		steps++
		if steps > 10 {
			t.Fatalf("interruptGC did not converge")
		}
	}
	if node.Page < len(p.Blocks[0].Pages) {
		t.Fatalf("expected cursor to reach end of block, got %d", node.Page)
	}
}

func TestPendingTracksQueueByPlane(t *testing.T) {
	eng, _, _ := newTestEngine(t, Config{})
	coord := topology.Coord{Channel: 0, Chip: 0, Die: 0, Plane: 0}
	if eng.Pending(coord) {
		t.Fatalf("expected no pending GC initially")
	}
	eng.EnqueueUninterruptible(coord)
	if !eng.Pending(coord) {
		t.Fatalf("expected pending GC after enqueue")
	}
	if eng.QueueDepth(0) != 1 {
		t.Fatalf("expected queue depth 1, got %d", eng.QueueDepth(0))
	}
}

func TestDecideInvokeDefaultsTrueWithoutInspector(t *testing.T) {
	eng, _, _ := newTestEngine(t, Config{})
	if !eng.decideInvoke(topology.Coord{}) {
		t.Fatalf("expected decideInvoke to default true with nil inspector")
	}
}
