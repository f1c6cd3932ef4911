/*
 * ssdsim - Flat physical-page addressing and allocation-policy coordinates
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

// Package address computes the flat physical-page-number encoding of a
// topology.Coord (and its inverse) and the six bit-exact static allocation
// interleavings from spec §6. Every caller that needs this arithmetic goes
// through the one allocator here rather than re-deriving it.
package address

import "github.com/rcornwell/ssdsim/internal/ssd/topology"

// Allocator precomputes the per-level page strides for a topology.Config.
type Allocator struct {
	cfg        topology.Config
	pagePlane  int   // page_block * block_plane
	pageDie    int   // plane_die * page_plane
	pageChip   int   // die_chip * page_die
	chanOffset []int // cumulative offset in pages at the start of each channel
}

// New builds an Allocator for cfg.
func New(cfg topology.Config) *Allocator {
	a := &Allocator{cfg: cfg}
	a.pagePlane = cfg.PageBlock * cfg.BlockPlane
	a.pageDie = cfg.PlaneDie * a.pagePlane
	a.pageChip = cfg.DieChip * a.pageDie

	a.chanOffset = make([]int, cfg.ChannelNumber)
	offset := 0
	for ch := 0; ch < cfg.ChannelNumber; ch++ {
		a.chanOffset[ch] = offset
		offset += cfg.ChipsIn(ch) * a.pageChip
	}
	return a
}

// IndexOf returns the flat physical page number for a coordinate, per spec
// §4.1: ppn = Σ_{c<channel}(chip_channel[c]·page_chip) + chip·page_chip +
// die·page_die + plane·page_plane + block·page_block + page.
func (a *Allocator) IndexOf(c topology.Coord) int {
	ppn := a.chanOffset[c.Channel]
	ppn += c.Chip * a.pageChip
	ppn += c.Die * a.pageDie
	ppn += c.Plane * a.pagePlane
	ppn += c.Block * a.cfg.PageBlock
	ppn += c.Page
	return ppn
}

// CoordinatesOf is the inverse of IndexOf: successive modulo/division over
// the flat ppn.
func (a *Allocator) CoordinatesOf(ppn int) topology.Coord {
	ch := 0
	for ch+1 < len(a.chanOffset) && ppn >= a.chanOffset[ch+1] {
		ch++
	}
	rem := ppn - a.chanOffset[ch]

	chip := rem / a.pageChip
	rem %= a.pageChip
	die := rem / a.pageDie
	rem %= a.pageDie
	plane := rem / a.pagePlane
	rem %= a.pagePlane
	block := rem / a.cfg.PageBlock
	page := rem % a.cfg.PageBlock

	return topology.Coord{Channel: ch, Chip: chip, Die: die, Plane: plane, Block: block, Page: page}
}

// StaticCoord returns the (channel,chip,die,plane) tuple for lpn under one
// of the six static-allocation interleavings of spec §6. C, H, D, P are
// channel_number, chip_channel[0], die_chip, plane_die respectively.
func (a *Allocator) StaticCoord(lpn, scheme int) topology.Coord {
	c := a.cfg.ChannelNumber
	h := a.cfg.ChipsIn(0)
	d := a.cfg.DieChip
	p := a.cfg.PlaneDie

	var ch, chip, die, plane int
	switch scheme {
	case 0:
		ch = (lpn / (p * d * h)) % c
		chip = lpn % h
		die = (lpn / h) % d
		plane = (lpn / (d * h)) % p
	case 1:
		ch = lpn % c
		chip = (lpn / c) % h
		die = (lpn / (h * c)) % d
		plane = (lpn / (d * h * c)) % p
	case 2:
		ch = lpn % c
		chip = (lpn / (p * c)) % h
		die = (lpn / (p * h * c)) % d
		plane = (lpn / c) % p
	case 3:
		ch = lpn % c
		chip = (lpn / (d * c)) % h
		die = (lpn / c) % d
		plane = (lpn / (d * h * c)) % p
	case 4:
		ch = lpn % c
		chip = (lpn / (p * d * c)) % h
		die = (lpn / (p * c)) % d
		plane = (lpn / c) % p
	case 5:
		ch = lpn % c
		chip = (lpn / (p * d * c)) % h
		die = (lpn / c) % d
		plane = (lpn / (d * c)) % p
	default:
		ch, chip, die, plane = 0, 0, 0, 0
	}
	return topology.Coord{Channel: ch, Chip: chip, Die: die, Plane: plane}
}
