package device

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/rcornwell/ssdsim/config/configparser"
	"github.com/rcornwell/ssdsim/internal/ssd/gccoord"
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
	return p
}

func openerFor(text string) TraceOpener {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(text)), nil
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunWriteThenReadCompletes(t *testing.T) {
	trace := "0 0 0 4 0\n10 0 0 4 1\n"
	s := New(discardLogger(), smallParams(), gccoord.None{}, nil, nil)

	if err := s.PreProcess(openerFor(trace)); err != nil {
		t.Fatalf("PreProcess: %v", err)
	}
	if err := s.Run(openerFor(trace)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	records := s.Metrics().DrainIO()
	if len(records) != 2 {
		t.Fatalf("expected 2 completed requests, got %d", len(records))
	}
	for _, r := range records {
		if r.End < r.Begin {
			t.Fatalf("record completed before it began: %+v", r)
		}
	}
}

func TestRunReadUnmappedLPNCompletesImmediately(t *testing.T) {
	trace := "0 0 400 4 1\n"
	s := New(discardLogger(), smallParams(), gccoord.None{}, nil, nil)

	if err := s.Run(openerFor(trace)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	records := s.Metrics().DrainIO()
	if len(records) != 1 {
		t.Fatalf("expected 1 completed request, got %d", len(records))
	}
	if records[0].Latency != 0 {
		t.Fatalf("expected zero-latency miss, got latency %d", records[0].Latency)
	}
}

func TestRunServesReadFromWriteBuffer(t *testing.T) {
	trace := "0 0 0 4 0\n0 0 0 4 1\n"
	s := New(discardLogger(), smallParams(), gccoord.None{}, nil, nil)

	if err := s.Run(openerFor(trace)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	records := s.Metrics().DrainIO()
	if len(records) != 2 {
		t.Fatalf("expected 2 completed requests, got %d", len(records))
	}
	// The read hits the write buffer and resolves at the same tick it was
	// submitted, well before the flash program time (TPROG=3) the write
	// sub-request still needs to finish.
	foundBufferedRead := false
	for _, r := range records {
		if r.Op == 1 && r.Latency == 0 {
			foundBufferedRead = true
		}
	}
	if !foundBufferedRead {
		t.Fatalf("expected a zero-latency write-buffer read hit, got %+v", records)
	}
}
