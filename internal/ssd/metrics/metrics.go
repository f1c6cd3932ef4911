/*
 * ssdsim - Counters and latency aggregation
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

// Package metrics collects the per-request, per-GC-cycle and device-wide
// counters spec §6 output files need. It never writes to disk itself: the
// output package drains these records and formats the fixed-width lines.
package metrics

import "github.com/rcornwell/ssdsim/internal/ssd/topology"

// IORecord is one completed host request's line for io.dat/io_read.dat/
// io_write.dat, spec §6: "arrive lsn size ope begin end latency
// meet_gc_flag meet_gc_remaining_time".
type IORecord struct {
	Arrive         int64
	LSN            int64
	Size           int
	Op             int // 1=read, 0=write, matching the trace opcode convention.
	Begin          int64
	End            int64
	Latency        int64
	MetGC          bool
	MetGCRemaining int64
}

// GCRecord is one GC cycle's line for gc.dat, spec §6: "channel chip die
// plane free% moved start end duration".
type GCRecord struct {
	Channel, Chip, Die, Plane int
	FreePercent               float64
	Moved                     int
	Start, End, Duration      int64
}

// Snapshot is one point-in-time device-wide sample for statistic10.dat/
// statistic2.dat, spec §6: "current_time free_block% free_page%
// nonempty_free_page% nonempty_free_block% | direct_erase_count".
type Snapshot struct {
	CurrentTime              int64
	FreeBlockPercent         float64
	FreePagePercent          float64
	NonemptyFreePagePercent  float64
	NonemptyFreeBlockPercent float64
	DirectEraseCount         int
}

// Counters aggregates everything a single simulated disk's output files
// need. Safe for use by one disk at a time; a RAID array owns one Counters
// per member SSD.
type Counters struct {
	hostWrites  int64 // pages programmed by foreground writes.
	totalWrites int64 // hostWrites plus GC-relocation writes: write amplification = totalWrites/hostWrites.

	directEraseCount int
	gcEventCount     [2]int // indexed by gc.PriorityInterruptible / gc.PriorityUninterruptible.
	wastePages       int64
	transferSubpages int64

	io     []IORecord
	gc     []GCRecord
	stat10 []Snapshot
	stat2  []Snapshot
}

// New returns empty Counters.
func New() *Counters { return &Counters{} }

// RecordHostWrite counts one foreground page program, for write amplification.
func (c *Counters) RecordHostWrite() { c.hostWrites++; c.totalWrites++ }

// RecordGCWrite counts one GC-relocation page program, for write amplification.
func (c *Counters) RecordGCWrite() { c.totalWrites++ }

// WriteAmplification returns totalWrites/hostWrites, or 1 if there have been
// no host writes yet.
func (c *Counters) WriteAmplification() float64 {
	if c.hostWrites == 0 {
		return 1
	}
	return float64(c.totalWrites) / float64(c.hostWrites)
}

// IncDirectErase implements gc.MetricsSink.
func (c *Counters) IncDirectErase() { c.directEraseCount++ }

// IncGCEvent implements gc.MetricsSink. priority is gc.PriorityInterruptible
// (0) or gc.PriorityUninterruptible (1); metrics takes it as a plain int so
// it need not import the gc package.
func (c *Counters) IncGCEvent(priority int) {
	if priority < 0 || priority >= len(c.gcEventCount) {
		return
	}
	c.gcEventCount[priority]++
}

// AddWastePages implements gc.MetricsSink.
func (c *Counters) AddWastePages(n int) { c.wastePages += int64(n) }

// AddTransferSubpages implements gc.MetricsSink.
func (c *Counters) AddTransferSubpages(n int) { c.transferSubpages += int64(n) }

// DirectEraseCount reports the running direct-erase count.
func (c *Counters) DirectEraseCount() int { return c.directEraseCount }

// GCEventCount reports how many GC cycles of the given priority have run.
func (c *Counters) GCEventCount(priority int) int {
	if priority < 0 || priority >= len(c.gcEventCount) {
		return 0
	}
	return c.gcEventCount[priority]
}

// WastePages reports the running copyback-parity waste-page count.
func (c *Counters) WastePages() int64 { return c.wastePages }

// RecordIO appends a completed host request's line.
func (c *Counters) RecordIO(r IORecord) { c.io = append(c.io, r) }

// RecordGC appends a finished GC cycle's line.
func (c *Counters) RecordGC(r GCRecord) { c.gc = append(c.gc, r) }

// RecordGCCycle implements gc.MetricsSink, building the GCRecord a gc.Engine
// cycle completion reports from primitive fields so gc need not import this
// package for a value type.
func (c *Counters) RecordGCCycle(channel, chip, die, plane int, freePercent float64, moved int, start, end int64) {
	c.RecordGC(GCRecord{
		Channel: channel, Chip: chip, Die: die, Plane: plane,
		FreePercent: freePercent, Moved: moved,
		Start: start, End: end, Duration: end - start,
	})
}

// DrainIO returns and clears every IORecord recorded since the last drain.
func (c *Counters) DrainIO() []IORecord {
	out := c.io
	c.io = nil
	return out
}

// DrainGC returns and clears every GCRecord recorded since the last drain.
func (c *Counters) DrainGC() []GCRecord {
	out := c.gc
	c.gc = nil
	return out
}

// RecordStat10 appends a coarse-grained device-wide sample.
func (c *Counters) RecordStat10(s Snapshot) { c.stat10 = append(c.stat10, s) }

// RecordStat2 appends a fine-grained device-wide sample.
func (c *Counters) RecordStat2(s Snapshot) { c.stat2 = append(c.stat2, s) }

// DrainStat10 returns and clears every statistic10.dat sample recorded
// since the last drain.
func (c *Counters) DrainStat10() []Snapshot {
	out := c.stat10
	c.stat10 = nil
	return out
}

// DrainStat2 returns and clears every statistic2.dat sample recorded since
// the last drain.
func (c *Counters) DrainStat2() []Snapshot {
	out := c.stat2
	c.stat2 = nil
	return out
}

// Sample computes a device-wide sample at now, spec §6's statistic line.
// A block counts toward "nonempty" if at least one of its pages has been
// programmed (valid or since invalidated) but it still has free pages left
// to program (there is no explicit definition in
// spec.md; this is the reading that makes the four percentages mutually
// informative: free_block% is wholly-free blocks, nonempty_free_* tracks
// free capacity still reachable inside partially-used blocks).
func Sample(dev *topology.Device, now int64, directEraseCount int) Snapshot {
	var totalBlocks, freeBlocks, nonemptyBlocks int
	var totalPages, freePages, nonemptyFreePages int

	dev.ForEachPlane(func(_ topology.Coord, p *topology.Plane) {
		for bi := range p.Blocks {
			b := &p.Blocks[bi]
			totalBlocks++
			totalPages += len(b.Pages)
			freePages += b.FreePageNum

			switch {
			case b.FreePageNum == len(b.Pages):
				freeBlocks++
			case b.FreePageNum > 0:
				nonemptyBlocks++
				nonemptyFreePages += b.FreePageNum
			}
		}
	})

	snap := Snapshot{CurrentTime: now, DirectEraseCount: directEraseCount}
	if totalBlocks > 0 {
		snap.FreeBlockPercent = 100 * float64(freeBlocks) / float64(totalBlocks)
		snap.NonemptyFreeBlockPercent = 100 * float64(nonemptyBlocks) / float64(totalBlocks)
	}
	if totalPages > 0 {
		snap.FreePagePercent = 100 * float64(freePages) / float64(totalPages)
		snap.NonemptyFreePagePercent = 100 * float64(nonemptyFreePages) / float64(totalPages)
	}
	return snap
}
