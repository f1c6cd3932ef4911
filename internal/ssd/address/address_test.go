package address

import (
	"testing"

	"github.com/rcornwell/ssdsim/internal/ssd/topology"
)

func testCfg() topology.Config {
	return topology.Config{
		ChannelNumber: 2,
		ChipChannel:   []int{3},
		DieChip:       2,
		PlaneDie:      2,
		BlockPlane:    4,
		PageBlock:     8,
		SubpagePage:   4,
	}
}

func TestIndexOfCoordinatesOfRoundTrip(t *testing.T) {
	a := New(testCfg())
	total := testCfg().ChannelNumber * testCfg().ChipsIn(0) * testCfg().DieChip *
		testCfg().PlaneDie * testCfg().BlockPlane * testCfg().PageBlock

	for ppn := 0; ppn < total; ppn++ {
		c := a.CoordinatesOf(ppn)
		got := a.IndexOf(c)
		if got != ppn {
			t.Fatalf("round trip broke at ppn=%d: coord=%+v gave back %d", ppn, c, got)
		}
	}
}

func TestIndexOfChannelOffset(t *testing.T) {
	a := New(testCfg())
	pageChip := testCfg().DieChip * testCfg().PlaneDie * testCfg().BlockPlane * testCfg().PageBlock
	chanPages := testCfg().ChipsIn(0) * pageChip

	first := a.IndexOf(topology.Coord{Channel: 1})
	if first != chanPages {
		t.Fatalf("channel 1 base offset = %d, want %d", first, chanPages)
	}
}

func TestStaticCoordStaysInRange(t *testing.T) {
	a := New(testCfg())
	cfg := testCfg()
	for scheme := 0; scheme <= 5; scheme++ {
		for lpn := 0; lpn < 64; lpn++ {
			c := a.StaticCoord(lpn, scheme)
			if c.Channel < 0 || c.Channel >= cfg.ChannelNumber {
				t.Fatalf("scheme %d lpn %d: channel %d out of range", scheme, lpn, c.Channel)
			}
			if c.Chip < 0 || c.Chip >= cfg.ChipsIn(0) {
				t.Fatalf("scheme %d lpn %d: chip %d out of range", scheme, lpn, c.Chip)
			}
			if c.Die < 0 || c.Die >= cfg.DieChip {
				t.Fatalf("scheme %d lpn %d: die %d out of range", scheme, lpn, c.Die)
			}
			if c.Plane < 0 || c.Plane >= cfg.PlaneDie {
				t.Fatalf("scheme %d lpn %d: plane %d out of range", scheme, lpn, c.Plane)
			}
		}
	}
}

func TestStaticCoordSchemesDiffer(t *testing.T) {
	a := New(testCfg())
	c0 := a.StaticCoord(5, 0)
	c1 := a.StaticCoord(5, 1)
	if c0 == c1 {
		t.Fatalf("expected scheme 0 and scheme 1 to interleave lpn 5 differently, both gave %+v", c0)
	}
}
