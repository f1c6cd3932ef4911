/*
 * ssdsim - Garbage collection engine
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

// Package gc implements spec §4.4's garbage collector: the direct-erase fast
// path for blocks that went fully invalid without a GC cycle, and the two
// victim-relocation strategies (uninterruptible: one whole block per call;
// interruptible: one page move per call, yielding back to foreground work
// whenever decide_gc_invoke says a read or write needs the channel/chip).
package gc

import (
	"github.com/rcornwell/ssdsim/internal/ssd/address"
	"github.com/rcornwell/ssdsim/internal/ssd/alloc"
	"github.com/rcornwell/ssdsim/internal/ssd/ftl"
	"github.com/rcornwell/ssdsim/internal/ssd/gccoord"
	"github.com/rcornwell/ssdsim/internal/ssd/scheduler"
	"github.com/rcornwell/ssdsim/internal/ssd/topology"
)

// Advanced-command bits, spec §4.4/§6.
const (
	ADCopyback   = 1 << 0
	ADTwoPlane   = 1 << 1
	ADInterleave = 1 << 2
)

// Direct-erase dispatch variants and their channel/chip busy-time formulas,
// spec §4.4's timing table.
const (
	variantNormal = iota
	variantTwoPlane
	variantInterleave
	variantInterleaveTwoPlane
)

// GC-node priorities, spec §3.
const (
	PriorityInterruptible = iota
	PriorityUninterruptible
)

// GC-node states.
const (
	NodeWait = iota
	NodeRunning
)

// VictimPolicy selects which aggregate a GC cycle maximizes over when
// picking a victim block. Spec §9 leaves this an open question; cached-page
// count is the default the Design Notes settle on, with invalid-page count
// offered as the alternative most implementations also consider.
type VictimPolicy int

// Victim-selection policies.
const (
	VictimCachedPages VictimPolicy = iota
	VictimInvalidPages
)

// Node is one queued or running GC cycle on a single plane.
type Node struct {
	Plane    topology.Coord // Channel/Chip/Die/Plane meaningful; Block/Page are scratch.
	Block    int            // -1 until a victim is chosen.
	Page     int            // Next page to examine, interruptible cursor.
	State    int
	Priority int

	InitTime  int64
	StartTime int64
	EndTime   int64

	MovedPages     int
	FreePercentage float64
}

// RequestInspector lets the GC engine ask the foreground request engine
// whether it is safe to run an interruptible cycle right now, without gc
// importing the request package back.
type RequestInspector interface {
	PendingWrite(ch int) bool
	ReadTargetsChip(ch, cp int) bool
}

// MetricsSink receives GC event counters; satisfied by the metrics package.
type MetricsSink interface {
	IncDirectErase()
	IncGCEvent(priority int)
	AddWastePages(n int)
	AddTransferSubpages(n int)
	// RecordGCCycle reports one finished GC cycle's gc.dat line, spec §6.
	RecordGCCycle(channel, chip, die, plane int, freePercent float64, moved int, start, end int64)
	// RecordGCWrite counts one GC-relocation page program, for write
	// amplification (spec §1).
	RecordGCWrite()
}

type nopMetrics struct{}

func (nopMetrics) IncDirectErase()                                                              {}
func (nopMetrics) IncGCEvent(int)                                                                {}
func (nopMetrics) AddWastePages(int)                                                             {}
func (nopMetrics) AddTransferSubpages(int)                                                       {}
func (nopMetrics) RecordGCCycle(channel, chip, die, plane int, freePercent float64, moved int, start, end int64) {
}
func (nopMetrics) RecordGCWrite() {}

// Config carries the GC-policy knobs of spec §4.4/§6.
type Config struct {
	AdvancedCommands int // OR of ADCopyback/ADTwoPlane/ADInterleave.
	GreedyCopyback   bool
	VictimPolicy     VictimPolicy
	ActiveWrite      bool    // enables the periodic soft-threshold scan (init_gc).
	SoftThreshold    float64 // free-page fraction that trips the periodic scan.
}

// Engine runs GC for one device. One Engine per simulated disk.
type Engine struct {
	dev   *topology.Device
	addr  *address.Allocator
	table *ftl.Table
	alloc *alloc.Allocator
	clock *scheduler.Clock

	timing struct {
		twc, tr, tprog, tbers, twb, trc int64
	}

	cfg   Config
	coord gccoord.Coordinator
	req   RequestInspector
	mx    MetricsSink

	queues [][]*Node // one GC-node queue per channel.
}

// Timing mirrors request.Timing; gc imports its own copy to avoid a
// dependency on the request package purely for a value type.
type Timing struct {
	TWC, TR, TPROG, TBERS, TWB, TRC int64
}

// New builds a gc.Engine. coord may be gccoord.None{} for a single,
// uncoordinated disk. req and mx may be nil, in which case decide_gc_invoke
// always proceeds and counters are discarded.
func New(dev *topology.Device, addr *address.Allocator, table *ftl.Table, alc *alloc.Allocator,
	clock *scheduler.Clock, timing Timing, cfg Config, coord gccoord.Coordinator,
	req RequestInspector, mx MetricsSink) *Engine {

	if coord == nil {
		coord = gccoord.None{}
	}
	if mx == nil {
		mx = nopMetrics{}
	}

	e := &Engine{
		dev: dev, addr: addr, table: table, alloc: alc, clock: clock,
		cfg: cfg, coord: coord, req: req, mx: mx,
		queues: make([][]*Node, len(dev.Channels)),
	}
	e.timing.twc = timing.TWC
	e.timing.tr = timing.TR
	e.timing.tprog = timing.TPROG
	e.timing.tbers = timing.TBERS
	e.timing.twb = timing.TWB
	e.timing.trc = timing.TRC
	return e
}

// BindAllocator wires the allocator this engine moves GC pages through.
// alloc.Allocator's constructor needs a GCNotifier (this Engine) and this
// Engine needs the Allocator back, so construction order is: build the
// Engine with alloc left nil, build the Allocator passing the Engine, then
// call BindAllocator before running any GC.
func (e *Engine) BindAllocator(a *alloc.Allocator) { e.alloc = a }

// Pending implements alloc.GCNotifier: true if plane c already has a queued
// or running GC node, identified by (chip,die,plane) regardless of which
// block/page it is working on.
func (e *Engine) Pending(c topology.Coord) bool {
	for _, n := range e.queues[c.Channel] {
		if n.Plane.Chip == c.Chip && n.Plane.Die == c.Die && n.Plane.Plane == c.Plane {
			return true
		}
	}
	return false
}

// EnqueueUninterruptible implements alloc.GCNotifier.
func (e *Engine) EnqueueUninterruptible(c topology.Coord) {
	e.enqueue(c, PriorityUninterruptible)
}

func (e *Engine) enqueue(c topology.Coord, priority int) {
	node := &Node{
		Plane: topology.Coord{Channel: c.Channel, Chip: c.Chip, Die: c.Die, Plane: c.Plane},
		Block: -1, Page: 0,
		State: NodeWait, Priority: priority,
		InitTime: e.clock.Now(),
	}
	e.queues[c.Channel] = append(e.queues[c.Channel], node)
}

// InitGC is the periodic soft-threshold scan, spec §4.4's init_gc. It visits
// every plane exactly once (the Design Notes flag the original's loop bound
// as wrong; ForEachPlane always covers every (chip,die,plane) tuple) and
// enqueues an interruptible node for any plane running low that doesn't
// already have GC queued.
func (e *Engine) InitGC() {
	if !e.cfg.ActiveWrite {
		return
	}
	e.dev.ForEachPlane(func(c topology.Coord, p *topology.Plane) {
		capacity := float64(len(p.Blocks) * e.dev.Cfg.PageBlock)
		if capacity <= 0 {
			return
		}
		if float64(p.FreePage) < capacity*e.cfg.SoftThreshold && !e.Pending(c) {
			e.enqueue(c, PriorityInterruptible)
		}
	})
}

// RunChannel is spec §4.4's gc_for_channel, called once per channel on every
// simulation tick. It tries the direct-erase fast path first (no victim
// relocation needed, a block already went fully invalid), then advances the
// head of the channel's GC-node queue by one cycle.
func (e *Engine) RunChannel(now int64, ch int) {
	if e.tryDirectErase(now, ch) {
		return
	}

	queue := e.queues[ch]
	if len(queue) == 0 {
		return
	}
	if !e.coord.Permit(now) {
		return
	}

	node := queue[0]
	var completed bool
	if node.Priority == PriorityUninterruptible {
		completed = e.uninterruptGC(now, node)
	} else {
		completed = e.interruptGC(now, node)
	}
	if completed {
		e.queues[ch] = queue[1:]
		// Spec §4.5: GCLock's shared token is released at absolute time
		// end_time + 2*RAID_SSD_LATENCY_NS of the cycle that held it.
		// Coordinators that don't hold a resource across cycles (None,
		// Sync, Defer) don't implement Releaser, so this is a no-op there.
		if r, ok := e.coord.(gccoord.Releaser); ok {
			r.ReleaseAt(now, node.EndTime)
		}
	}
}

// selectVictim picks the non-active block in plane that maximizes the
// configured victim metric, requiring it to be strictly positive. Returns
// ok=false if no such block exists (nothing useful to reclaim yet).
func (e *Engine) selectVictim(plane *topology.Plane) (block int, ok bool) {
	best := -1
	bestScore := 0
	for idx := range plane.Blocks {
		if idx == plane.ActiveBlock {
			continue
		}
		b := &plane.Blocks[idx]
		score := b.CachedPagesNum
		if e.cfg.VictimPolicy == VictimInvalidPages {
			score = b.InvalidPageNum
		}
		if score > bestScore {
			bestScore = score
			best = idx
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

func (e *Engine) planeFreePercentage(plane *topology.Plane) float64 {
	capacity := len(plane.Blocks) * e.dev.Cfg.PageBlock
	if capacity == 0 {
		return 0
	}
	return 100 * float64(plane.FreePage) / float64(capacity)
}

func (e *Engine) copybackActive() bool {
	return e.cfg.AdvancedCommands&ADCopyback != 0 && e.cfg.GreedyCopyback
}

// moveTime returns how long one page relocation occupies the chip, spec
// §4.4: 14*tWC of command overhead plus the read and program busy times,
// plus a data-transfer round trip unless copyback avoids the DRAM hop.
func (e *Engine) moveTime() int64 {
	base := 14*e.timing.twc + e.timing.tr + e.timing.tprog
	if e.copybackActive() {
		return base
	}
	return base + e.timing.trc
}

// movePage relocates the valid sub-pages of (block,page) in planeCoord's
// plane to a fresh page in the same plane's active block, updating the
// mapping table if it still points at the source. Reports whether a valid
// page was actually moved.
func (e *Engine) movePage(planeCoord topology.Coord, block, page int) bool {
	srcCoord := planeCoord
	srcCoord.Block = block
	srcCoord.Page = page
	src := e.dev.PageOf(srcCoord)
	if src.ValidState == 0 {
		return false
	}

	lpn := src.LPN
	state := src.ValidState
	cached := src.CachedPage
	srcPPN := e.addr.IndexOf(srcCoord)

	copyback := e.copybackActive()

	var dstPPN int
	for {
		ppn, err := e.alloc.GetPPNForGC(planeCoord, lpn, state)
		if err != nil {
			return false
		}
		if copyback && ppn%2 != srcPPN%2 {
			e.wastePage(ppn)
			continue
		}
		dstPPN = ppn
		break
	}

	if !copyback {
		e.mx.AddTransferSubpages(popcount(state))
	}

	dstCoord := e.addr.CoordinatesOf(dstPPN)
	dst := e.dev.PageOf(dstCoord)
	dst.CachedPage = cached

	srcBlock := e.dev.BlockOf(srcCoord)
	src.ValidState = 0
	src.FreeState = 0
	src.LPN = 0
	src.CachedPage = 0
	srcBlock.InvalidPageNum++

	if entry, mapped := e.table.Lookup(lpn); mapped && entry.PN == srcPPN {
		e.table.Redirect(lpn, dstPPN, state)
	}
	e.mx.RecordGCWrite()
	return true
}

// wastePage marks a copyback destination that missed the plane-parity
// constraint as immediately invalid: the program already happened, but the
// data it carries (still the stale relocation target) can never be mapped
// to a live lpn, per spec §4.4's waste_page_count bookkeeping.
func (e *Engine) wastePage(ppn int) {
	coord := e.addr.CoordinatesOf(ppn)
	page := e.dev.PageOf(coord)
	page.ValidState = 0
	page.FreeState = 0
	block := e.dev.BlockOf(coord)
	block.InvalidPageNum++
	e.mx.AddWastePages(1)
}

func popcount(x uint8) int {
	n := 0
	for x != 0 {
		n += int(x & 1)
		x >>= 1
	}
	return n
}

func (e *Engine) occupy(now int64, planeCoord topology.Coord, busy int64) {
	channel := e.dev.Ch(planeCoord.Channel)
	channel.State = topology.ResourceState{
		Current: topology.ResBusy, CurrentTime: now,
		Next: topology.ResIdle, NextPredictTime: now + busy, GCBusy: true,
	}
	chip := e.dev.ChipAt(planeCoord.Channel, planeCoord.Chip)
	chip.State = topology.ResourceState{
		Current: topology.ResBusy, CurrentTime: now,
		Next: topology.ResIdle, NextPredictTime: now + busy, GCBusy: true,
	}
}

// uninterruptGC is spec §4.4's uninterrupt_gc: picks a victim (if the node
// doesn't already have one), relocates every valid page in it, erases it,
// and finishes in this single call. If no victim can be chosen it returns
// false and the node stays queued.
func (e *Engine) uninterruptGC(now int64, node *Node) bool {
	plane := e.dev.PlaneOf(node.Plane)

	if node.Block < 0 {
		victim, ok := e.selectVictim(plane)
		if !ok {
			return false
		}
		node.Block = victim
		node.StartTime = now
	}

	block := &plane.Blocks[node.Block]
	moved := 0
	for pg := range block.Pages {
		if block.Pages[pg].ValidState == 0 {
			continue
		}
		if e.movePage(node.Plane, node.Block, pg) {
			moved++
		}
	}
	node.MovedPages = moved

	eraseCoord := node.Plane
	eraseCoord.Block = node.Block
	e.dev.EraseOperation(eraseCoord)
	plane.PopEraseQueueBlock(node.Block)

	busy := int64(moved)*e.moveTime() + e.timing.tbers
	node.EndTime = now + busy
	node.FreePercentage = e.planeFreePercentage(plane)
	e.occupy(now, node.Plane, busy)
	e.mx.IncGCEvent(PriorityUninterruptible)
	e.mx.RecordGCCycle(node.Plane.Channel, node.Plane.Chip, node.Plane.Die, node.Plane.Plane,
		node.FreePercentage, node.MovedPages, node.StartTime, node.EndTime)
	return true
}

// decideInvoke is spec §4.4's decide_gc_invoke: an interruptible cycle backs
// off for this tick if a foreground read targets the same chip, or a write
// is queued on the same channel, so GC never steals a slot foreground work
// needs right now.
func (e *Engine) decideInvoke(c topology.Coord) bool {
	if e.req == nil {
		return true
	}
	if e.req.ReadTargetsChip(c.Channel, c.Chip) {
		return false
	}
	if e.req.PendingWrite(c.Channel) {
		return false
	}
	return true
}

// interruptGC is spec §4.4's interrupt_gc: moves at most one valid page per
// call, resuming from node.Page across calls, and erases the victim only
// once every page has been examined.
func (e *Engine) interruptGC(now int64, node *Node) bool {
	plane := e.dev.PlaneOf(node.Plane)

	if node.Block < 0 {
		victim, ok := e.selectVictim(plane)
		if !ok {
			return false
		}
		node.Block = victim
		node.Page = 0
		node.StartTime = now
	}

	if !e.decideInvoke(node.Plane) {
		return false
	}

	block := &plane.Blocks[node.Block]
	for node.Page < len(block.Pages) {
		pg := node.Page
		node.Page++
		if block.Pages[pg].ValidState == 0 {
			continue
		}
		if e.movePage(node.Plane, node.Block, pg) {
			node.MovedPages++
		}
		e.occupy(now, node.Plane, e.moveTime())
		return false
	}

	eraseCoord := node.Plane
	eraseCoord.Block = node.Block
	e.dev.EraseOperation(eraseCoord)
	plane.PopEraseQueueBlock(node.Block)

	node.EndTime = now
	node.FreePercentage = e.planeFreePercentage(plane)
	e.mx.IncGCEvent(PriorityInterruptible)
	e.mx.RecordGCCycle(node.Plane.Channel, node.Plane.Chip, node.Plane.Die, node.Plane.Plane,
		node.FreePercentage, node.MovedPages, node.StartTime, node.EndTime)
	return true
}

// directEraseCandidate names the planes (and their queued victim block) a
// direct-erase dispatch would touch together under one variant.
type directEraseCandidate struct {
	coord topology.Coord
	block int
}

// tryDirectErase is spec §4.4's gc_direct_erase: a block that went fully
// invalid through ordinary overwrite traffic (never via a GC relocation)
// skips victim selection entirely and is erased as soon as its channel/chip
// are free. When the advanced-command bits allow it, a same-die two-plane
// sibling and/or a same-chip interleave sibling erase alongside it, which
// changes only the channel/chip busy-time formula, not what gets erased on
// the primary plane.
func (e *Engine) tryDirectErase(now int64, ch int) bool {
	channel := e.dev.Ch(ch)
	if !channel.State.Available(now) {
		return false
	}

	for cp := range channel.Chips {
		chip := e.dev.ChipAt(ch, cp)
		if !chip.State.Available(now) {
			continue
		}
		for de := range chip.Dies {
			die := &chip.Dies[de]
			for pl := range die.Planes {
				coord := topology.Coord{Channel: ch, Chip: cp, Die: de, Plane: pl}
				plane := &die.Planes[pl]
				block := plane.PeekEraseQueue()
				if block < 0 {
					continue
				}
				e.dispatchDirectErase(now, coord, block)
				return true
			}
		}
	}
	return false
}

func (e *Engine) dispatchDirectErase(now int64, coord topology.Coord, block int) {
	primary := directEraseCandidate{coord: coord, block: block}
	group := []directEraseCandidate{primary}

	twoPlaneSib, hasTwoPlane := e.findTwoPlaneSibling(coord, block)
	hasTwoPlane = hasTwoPlane && e.cfg.AdvancedCommands&ADTwoPlane != 0

	interleaveSib, hasInterleave := e.findInterleaveSibling(coord)
	hasInterleave = hasInterleave && e.cfg.AdvancedCommands&ADInterleave != 0

	variant := variantNormal
	switch {
	case hasTwoPlane && hasInterleave:
		variant = variantInterleaveTwoPlane
		group = append(group, twoPlaneSib, interleaveSib)
	case hasTwoPlane:
		variant = variantTwoPlane
		group = append(group, twoPlaneSib)
	case hasInterleave:
		variant = variantInterleave
		group = append(group, interleaveSib)
	}

	for _, cand := range group {
		e.dev.EraseOperation(topology.Coord{
			Channel: cand.coord.Channel, Chip: cand.coord.Chip,
			Die: cand.coord.Die, Plane: cand.coord.Plane, Block: cand.block,
		})
		e.dev.PlaneOf(cand.coord).PopEraseQueueBlock(cand.block)
	}

	var channelBusy, chipBusy int64
	switch variant {
	case variantTwoPlane, variantInterleave:
		channelBusy = 14 * e.timing.twc
		chipBusy = e.timing.tbers
	case variantInterleaveTwoPlane:
		channelBusy = 18*e.timing.twc + e.timing.twb
		chipBusy = e.timing.tbers - 9*e.timing.twc
	default:
		channelBusy = 5 * e.timing.twc
		chipBusy = e.timing.twb + e.timing.tbers
	}
	if chipBusy < 0 {
		chipBusy = 0
	}

	busy := channelBusy
	if chipBusy > busy {
		busy = chipBusy
	}
	e.occupy(now, coord, busy)
	e.mx.IncDirectErase()
}

// findTwoPlaneSibling looks for another plane on the same die whose erase
// queue's head is also block, the condition AD_TWO_PLANE erase needs.
func (e *Engine) findTwoPlaneSibling(c topology.Coord, block int) (directEraseCandidate, bool) {
	die := e.dev.DieAt(c.Channel, c.Chip, c.Die)
	for pl := range die.Planes {
		if pl == c.Plane {
			continue
		}
		if die.Planes[pl].PeekEraseQueue() == block {
			return directEraseCandidate{
				coord: topology.Coord{Channel: c.Channel, Chip: c.Chip, Die: c.Die, Plane: pl},
				block: block,
			}, true
		}
	}
	return directEraseCandidate{}, false
}

// findInterleaveSibling looks for another die on the same chip with any
// plane carrying a queued direct erase, the condition AD_INTERLEAVE needs.
func (e *Engine) findInterleaveSibling(c topology.Coord) (directEraseCandidate, bool) {
	chip := e.dev.ChipAt(c.Channel, c.Chip)
	for de := range chip.Dies {
		if de == c.Die {
			continue
		}
		die := &chip.Dies[de]
		for pl := range die.Planes {
			if b := die.Planes[pl].PeekEraseQueue(); b >= 0 {
				return directEraseCandidate{
					coord: topology.Coord{Channel: c.Channel, Chip: c.Chip, Die: de, Plane: pl},
					block: b,
				}, true
			}
		}
	}
	return directEraseCandidate{}, false
}

// QueueDepth reports how many GC nodes (waiting or running) sit on channel
// ch's queue, for metrics and tests.
func (e *Engine) QueueDepth(ch int) int { return len(e.queues[ch]) }
