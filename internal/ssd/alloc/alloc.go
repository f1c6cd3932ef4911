/*
 * ssdsim - Write allocator and address-mapping updates
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

// Package alloc picks the active block and next free page for a write, and
// updates the FTL mapping table for foreground writes (GC relocation and
// warmup update it on their own paths). It implements spec §4.2 in full: write_page,
// find_active_block, get_ppn, get_ppn_for_gc and the three allocation
// policies (dynamic round-robin, dynamic with fixed channel, static).
package alloc

import (
	"errors"
	"fmt"

	"github.com/rcornwell/ssdsim/internal/ssd/address"
	"github.com/rcornwell/ssdsim/internal/ssd/ftl"
	"github.com/rcornwell/ssdsim/internal/ssd/topology"
	"github.com/rcornwell/ssdsim/util/bits"
)

// Allocation schemes, spec §4.2.
const (
	SchemeDynamic = 0
	SchemeStatic  = 1
)

// ErrCapacity is returned when find_active_block finds no freshly-erased
// block to rotate onto; spec §7 treats this as fatal ("operation expands
// SSD capacity").
var ErrCapacity = errors.New("alloc: no free block available, operation expands SSD capacity")

// GCNotifier lets the allocator tell the GC engine that a plane crossed the
// hard threshold, without alloc importing the gc package back.
type GCNotifier interface {
	// Pending reports whether a plane already has a queued GC node.
	Pending(c topology.Coord) bool
	// EnqueueUninterruptible enqueues a GC_WAIT / GC_UNINTERRUPTIBLE node
	// for the plane at c.
	EnqueueUninterruptible(c topology.Coord)
}

// Config carries the allocation-policy knobs of spec §4.2/§6.
type Config struct {
	Scheme            int // SchemeDynamic or SchemeStatic
	DynamicAllocation int // within SchemeDynamic: 0 full round-robin, 1 channel = lpn mod channel_number
	StaticAllocation  int // 0..5, spec §6 table
	GCHardThreshold   float64
}

// Allocator is the write allocator for one device.
type Allocator struct {
	dev   *topology.Device
	addr  *address.Allocator
	table *ftl.Table
	cfg   Config
	gc    GCNotifier
}

// New builds an Allocator wired to dev/addr/table and notifying gc.
func New(dev *topology.Device, addr *address.Allocator, table *ftl.Table, cfg Config, gc GCNotifier) *Allocator {
	return &Allocator{dev: dev, addr: addr, table: table, cfg: cfg, gc: gc}
}

// FindActiveBlock returns the block coordinate to program into for the
// plane named by c (Block/Page ignored on input). If the current active
// block is full it rotates to a freshly-erased block on the same plane.
func (a *Allocator) FindActiveBlock(c topology.Coord) (topology.Coord, error) {
	plane := a.dev.PlaneOf(c)
	active := &plane.Blocks[plane.ActiveBlock]

	if active.LastWritePage+1 < len(active.Pages) {
		out := c
		out.Block = plane.ActiveBlock
		return out, nil
	}

	for idx := range plane.Blocks {
		if plane.Blocks[idx].FreePageNum == len(plane.Blocks[idx].Pages) {
			plane.ActiveBlock = idx
			out := c
			out.Block = idx
			return out, nil
		}
	}
	return topology.Coord{}, ErrCapacity
}

// WritePage programs the next page of the active block at c (Block filled
// in, Page ignored) and returns its flat physical page number.
func (a *Allocator) WritePage(c topology.Coord) (int, error) {
	plane := a.dev.PlaneOf(c)
	block := &plane.Blocks[c.Block]

	if block.LastWritePage+1 >= len(block.Pages) {
		return 0, fmt.Errorf("alloc: last_write_page reached page_block on %s, active block must be rotated", c)
	}
	block.LastWritePage++
	block.FreePageNum--
	plane.FreePage--

	out := c
	out.Page = block.LastWritePage
	return a.addr.IndexOf(out), nil
}

// AllocateCoord picks the (channel,chip,die,plane) a foreground write for
// lpn lands on, per the configured allocation policy.
func (a *Allocator) AllocateCoord(lpn int) topology.Coord {
	switch {
	case a.cfg.Scheme == SchemeStatic:
		return a.addr.StaticCoord(lpn, a.cfg.StaticAllocation)
	case a.cfg.DynamicAllocation == 1:
		return a.dynamicCoord(lpn, true)
	default:
		return a.dynamicCoord(lpn, false)
	}
}

// dynamicCoord implements the two Dynamic(0) variants of spec §4.2: full
// round-robin token chase, or a channel fixed by lpn mod channel_number
// with chip/die/plane still round-robin.
func (a *Allocator) dynamicCoord(lpn int, fixedChannel bool) topology.Coord {
	cfg := a.dev.Cfg

	var ch int
	if fixedChannel {
		ch = lpn % cfg.ChannelNumber
	} else {
		ch = a.dev.Token % cfg.ChannelNumber
		a.dev.Token++
	}

	channel := a.dev.Ch(ch)
	cp := channel.Token % len(channel.Chips)
	channel.Token++

	chip := a.dev.ChipAt(ch, cp)
	de := chip.Token % cfg.DieChip
	chip.Token++

	die := a.dev.DieAt(ch, cp, de)
	pl := die.Token % cfg.PlaneDie
	die.Token++

	return topology.Coord{Channel: ch, Chip: cp, Die: de, Plane: pl}
}

// invalidateOld clears the page currently backing lpn's mapping, if any,
// and returns the coordinate of the block it lived in so the caller can
// check for a direct-erase transition. ok is false if lpn was unmapped.
func (a *Allocator) invalidateOld(lpn int) (coord topology.Coord, ok bool) {
	entry, mapped := a.table.Lookup(lpn)
	if !mapped {
		return topology.Coord{}, false
	}
	coord = a.addr.CoordinatesOf(entry.PN)
	page := a.dev.PageOf(coord)
	page.ValidState = 0
	page.FreeState = 0
	page.LPN = 0

	block := a.dev.BlockOf(coord)
	block.InvalidPageNum++
	return coord, true
}

// maybeDirectErase pushes block onto its plane's erase queue once every
// non-free page in it has gone invalid (no valid pages remain).
func (a *Allocator) maybeDirectErase(coord topology.Coord) {
	plane := a.dev.PlaneOf(coord)
	block := &plane.Blocks[coord.Block]
	if block.InvalidPageNum > 0 && block.InvalidPageNum+block.FreePageNum == len(block.Pages) {
		plane.PushEraseQueue(coord.Block)
	}
}

// programNew writes sub.state into a freshly-allocated page on planeCoord's
// active block and returns its ppn.
func (a *Allocator) programNew(planeCoord topology.Coord, lpn int, state uint8) (int, error) {
	active, err := a.FindActiveBlock(planeCoord)
	if err != nil {
		return 0, err
	}
	ppn, err := a.WritePage(active)
	if err != nil {
		return 0, err
	}
	pageCoord := a.addr.CoordinatesOf(ppn)
	page := a.dev.PageOf(pageCoord)
	page.ValidState = state
	page.FreeState = bits.Complement(state, a.dev.Cfg.SubpagePage)
	page.LPN = lpn
	page.WrittenCount++
	return ppn, nil
}

// GetPPN is the foreground-write path of spec §4.2 get_ppn: invalidates any
// prior mapping for lpn, programs a new page, updates the mapping table,
// and enqueues uninterruptible GC if the plane just crossed the hard
// threshold.
func (a *Allocator) GetPPN(lpn int, state uint8) (int, error) {
	if oldCoord, ok := a.invalidateOld(lpn); ok {
		a.maybeDirectErase(oldCoord)
	}

	planeCoord := a.AllocateCoord(lpn)
	ppn, err := a.programNew(planeCoord, lpn, state)
	if err != nil {
		return 0, err
	}

	existing, _ := a.table.Lookup(lpn)
	newState := state
	if existing.PN == ppn {
		newState |= existing.State
	}
	a.table.Set(lpn, ppn, newState)

	a.maybeTriggerGC(planeCoord)
	return ppn, nil
}

// GetPPNForPreProcess is get_ppn without the GC side effects: used to
// materialize pages a future read will need (spec §4.6), it still updates
// the mapping table but never enqueues GC work.
func (a *Allocator) GetPPNForPreProcess(lpn int, state uint8) (int, error) {
	if oldCoord, ok := a.invalidateOld(lpn); ok {
		a.maybeDirectErase(oldCoord)
	}

	planeCoord := a.AllocateCoord(lpn)
	ppn, err := a.programNew(planeCoord, lpn, state)
	if err != nil {
		return 0, err
	}

	existing, _ := a.table.Lookup(lpn)
	newState := state
	if existing.PN == ppn {
		newState |= existing.State
	}
	a.table.Set(lpn, ppn, newState)
	return ppn, nil
}

// GetPPNForGC is identical to GetPPN except it never enqueues GC and never
// touches the mapping table: the caller (move_page) reconciles the mapping
// once the copy completes. planeCoord pins the destination plane, which for
// GC is always the victim's own plane.
func (a *Allocator) GetPPNForGC(planeCoord topology.Coord, lpn int, state uint8) (int, error) {
	return a.programNew(planeCoord, lpn, state)
}

// maybeTriggerGC enqueues uninterruptible GC for planeCoord's plane once its
// free-page count falls below gc_hard_threshold, unless one is already
// queued.
func (a *Allocator) maybeTriggerGC(planeCoord topology.Coord) {
	if a.gc == nil {
		return
	}
	plane := a.dev.PlaneOf(planeCoord)
	capacity := float64(len(plane.Blocks) * a.dev.Cfg.PageBlock)
	if float64(plane.FreePage) < capacity*a.cfg.GCHardThreshold && !a.gc.Pending(planeCoord) {
		a.gc.EnqueueUninterruptible(planeCoord)
	}
}
