/*
 * ssdsim - RAID striping wrapper
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package raid stripes one host trace across several internal/device.SSD
// instances sharing a single virtual clock, spec §5/§6.6: RAID0 interleaves
// by lsn with no parity; RAID5 interleaves the same way but skips a parity
// disk that rotates one stripe at a time. Neither reconstructs a failed
// member; the array exists to drive the GCSync/GCLock cross-device
// coordination scenarios (spec §8 scenarios 5-6) end to end, not to model
// data redundancy.
package raid

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/rcornwell/ssdsim/config/configparser"
	"github.com/rcornwell/ssdsim/internal/device"
	"github.com/rcornwell/ssdsim/internal/ssd/gccoord"
	"github.com/rcornwell/ssdsim/internal/ssd/metrics"
	"github.com/rcornwell/ssdsim/internal/ssd/scheduler"
	"github.com/rcornwell/ssdsim/trace"
)

// Scheme selects how host lsns are interleaved across member disks.
type Scheme int

// Striping schemes, spec §6.6.
const (
	RAID0 Scheme = iota
	RAID5
)

// CoordMode selects the cross-device GC coordination policy, spec §4.5.
type CoordMode int

// Coordination modes.
const (
	CoordNone CoordMode = iota
	CoordSync
	CoordLock
	CoordDefer
)

// Config configures an Array.
type Config struct {
	Scheme   Scheme
	NDisk    int
	Coord    CoordMode
	GCWindow int64 // gc_time_window, CoordSync only.
}

// Array is a RAID-striped set of disks advancing one shared virtual clock in
// round-robin lockstep, spec §5: "internal/raid.Array may run one SSD per
// simulated disk and steps them in round-robin lockstep".
type Array struct {
	log     *slog.Logger
	cfg     Config
	clock   *scheduler.Clock
	release *scheduler.Queue
	members []*device.SSD
}

// New validates cfg against spec §6.3's RAID argument rules (RAID0 needs at
// least two disks, RAID5 at least three, GCSync needs both ndisk and a
// positive gc_time_window) and builds one SSD per member, each wired to the
// coordination policy cfg.Coord names.
func New(log *slog.Logger, p configparser.Params, cfg Config) (*Array, error) {
	switch cfg.Scheme {
	case RAID0:
		if cfg.NDisk < 2 {
			return nil, fmt.Errorf("raid: raid0 needs at least 2 disks, got %d", cfg.NDisk)
		}
	case RAID5:
		if cfg.NDisk < 3 {
			return nil, fmt.Errorf("raid: raid5 needs at least 3 disks, got %d", cfg.NDisk)
		}
	default:
		return nil, fmt.Errorf("raid: unknown scheme %d", cfg.Scheme)
	}
	if cfg.Coord == CoordSync && cfg.GCWindow <= 0 {
		return nil, fmt.Errorf("raid: gcsync requires a positive gc_time_window")
	}

	clock := &scheduler.Clock{}
	a := &Array{log: log, cfg: cfg, clock: clock}

	var token *gccoord.Token
	if cfg.Coord == CoordLock {
		token = gccoord.NewToken()
		a.release = &scheduler.Queue{}
	}

	for id := 0; id < cfg.NDisk; id++ {
		var coord gccoord.Coordinator
		switch cfg.Coord {
		case CoordSync:
			coord = gccoord.Sync{Window: cfg.GCWindow, Buffer: p.GCSyncBufferTime, NDisk: cfg.NDisk, DiskID: id}
		case CoordLock:
			coord = &gccoord.Lock{Token: token, DiskID: id, RAIDSSDLatencyNS: p.RAIDSSDLatencyNS, Release: a.release}
		case CoordDefer:
			coord = gccoord.Defer{}
		default:
			coord = gccoord.None{}
		}
		a.members = append(a.members, device.New(log, p, coord, a.release, clock))
	}
	return a, nil
}

// route maps a host record to the member disk that owns it and that disk's
// own locally-addressed lsn. RAID0 is a straight round-robin interleave;
// RAID5 interleaves the same way but skips over a parity disk that rotates
// one position per stripe (stripe = lsn/ndisk), so host data never lands on
// the disk holding that stripe's parity.
func (a *Array) route(rec trace.Record) (int, trace.Record) {
	ndisk := int64(a.cfg.NDisk)
	stripe := rec.LSN / ndisk
	disk := int(rec.LSN % ndisk)

	if a.cfg.Scheme == RAID5 {
		parity := int(stripe % ndisk)
		if disk == parity {
			disk = (disk + 1) % a.cfg.NDisk
		}
	}

	local := rec
	local.LSN = stripe
	return disk, local
}

// PreProcess runs the spec §4.6 pre-process pass once over the combined
// trace, routing every read record to its owning member before folding it
// into that member's accumulated sub-page mask.
func (a *Array) PreProcess(open device.TraceOpener) error {
	rc, err := open()
	if err != nil {
		return fmt.Errorf("raid: pre-process: %w", err)
	}
	defer rc.Close()

	r := trace.New(rc, nil)
	err = trace.ReadAll(r, func(rec trace.Record) error {
		if rec.Op != trace.OpRead {
			return nil
		}
		disk, local := a.route(rec)
		a.members[disk].PreProcessRead(local.LSN, local.Size)
		return nil
	})
	if err != nil {
		return fmt.Errorf("raid: pre-process: %w", err)
	}
	for i, m := range a.members {
		if err := m.FinishPreProcess(); err != nil {
			return fmt.Errorf("raid: pre-process disk %d: %w", i, err)
		}
	}
	return nil
}

// Run drives every member disk from one combined, arrival-ordered trace,
// stepping them in round-robin lockstep against the array's shared clock:
// each tick admits every record due at the shared current_time to its
// owning disk, ticks every disk once, then jumps current_time to the
// nearest strictly-future event across every disk, spec §4.3/§5.
func (a *Array) Run(open device.TraceOpener) error {
	rc, err := open()
	if err != nil {
		return fmt.Errorf("raid: run: %w", err)
	}
	defer rc.Close()

	r := trace.New(rc, func(line int, text string) {
		a.log.Warn("all-zero trace record", "line", line, "text", text)
	})

	next, nextErr := r.Next()

	for {
		for nextErr == nil && next.Arrival <= a.clock.Now() {
			disk, local := a.route(next)
			a.members[disk].Submit(local)
			next, nextErr = r.Next()
		}
		if nextErr != nil && !errors.Is(nextErr, io.EOF) {
			return fmt.Errorf("raid: run: %w", nextErr)
		}

		now := a.clock.Now()
		var candidates []int64
		for _, m := range a.members {
			m.Tick(now)
			candidates = append(candidates, m.CandidateTimes()...)
		}
		if nextErr == nil {
			candidates = append(candidates, next.Arrival)
		}

		nextTime, ok := scheduler.NearestPositive(now, candidates...)
		if !ok {
			if errors.Is(nextErr, io.EOF) && a.idle() {
				break
			}
			return fmt.Errorf("raid: run: scheduler stalled at time %d with work still pending", now)
		}

		a.clock.Advance(nextTime)
		if a.release != nil {
			a.release.Advance(nextTime - now)
		}
	}
	return nil
}

func (a *Array) idle() bool {
	if a.release != nil && !a.release.Empty() {
		return false
	}
	for _, m := range a.members {
		if m.AnyWork() || !m.GCIdle() {
			return false
		}
	}
	return true
}

// Metrics returns the counters for member disk id, for a caller draining
// per-disk output files once the run finishes.
func (a *Array) Metrics(id int) *metrics.Counters { return a.members[id].Metrics() }

// NDisk reports how many member disks the array has.
func (a *Array) NDisk() int { return len(a.members) }
