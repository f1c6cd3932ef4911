package raid

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/rcornwell/ssdsim/config/configparser"
	"github.com/rcornwell/ssdsim/internal/device"
)

func smallParams() configparser.Params {
	p := configparser.Default()
	p.ChannelNumber = 1
	p.ChipChannel = []int{1}
	p.DieChip = 1
	p.PlaneDie = 1
	p.BlockPlane = 3
	p.PageBlock = 4
	p.SubpagePage = 4
	p.DRAMCapacity = 4
	p.GCHardThreshold = 0.1
	p.TWC, p.TR, p.TPROG, p.TBERS, p.TWB, p.TRC = 1, 2, 3, 10, 1, 1
	p.RAIDSSDLatencyNS = 5
	return p
}

func openerFor(text string) device.TraceOpener {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(text)), nil
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRejectsUndersizedRAID0(t *testing.T) {
	if _, err := New(discardLogger(), smallParams(), Config{Scheme: RAID0, NDisk: 1}); err == nil {
		t.Fatalf("expected error for raid0 with 1 disk")
	}
}

func TestNewRejectsUndersizedRAID5(t *testing.T) {
	if _, err := New(discardLogger(), smallParams(), Config{Scheme: RAID5, NDisk: 2}); err == nil {
		t.Fatalf("expected error for raid5 with 2 disks")
	}
}

func TestNewRejectsGCSyncWithoutWindow(t *testing.T) {
	if _, err := New(discardLogger(), smallParams(), Config{Scheme: RAID0, NDisk: 2, Coord: CoordSync}); err == nil {
		t.Fatalf("expected error for gcsync without a gc_time_window")
	}
}

func TestRunStripesAcrossMembersRAID0(t *testing.T) {
	trace := "0 0 0 4 0\n0 0 1 4 0\n10 0 0 4 1\n10 0 1 4 1\n"
	a, err := New(discardLogger(), smallParams(), Config{Scheme: RAID0, NDisk: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.PreProcess(openerFor(trace)); err != nil {
		t.Fatalf("PreProcess: %v", err)
	}
	if err := a.Run(openerFor(trace)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for id := 0; id < a.NDisk(); id++ {
		records := a.Metrics(id).DrainIO()
		if len(records) != 2 {
			t.Fatalf("disk %d: expected 2 completed requests, got %d", id, len(records))
		}
	}
}

func TestRunWithGCLockSharesToken(t *testing.T) {
	trace := "0 0 0 4 0\n0 0 1 4 0\n0 0 2 4 0\n10 0 0 4 1\n"
	a, err := New(discardLogger(), smallParams(), Config{Scheme: RAID0, NDisk: 2, Coord: CoordLock})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Run(openerFor(trace)); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
