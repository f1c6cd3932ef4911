/*
 * ssdsim - Aging and warm-up
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

// Package aging pre-populates a freshly-erased device so a trace replay
// starts against a used SSD instead of a blank one, spec §4.7: make_aged
// seeds each plane with already-invalid pages, warmup fills the rest with
// live mappings.
package aging

import (
	"math"

	"github.com/rcornwell/ssdsim/internal/ssd/address"
	"github.com/rcornwell/ssdsim/internal/ssd/ftl"
	"github.com/rcornwell/ssdsim/internal/ssd/topology"
	"github.com/rcornwell/ssdsim/util/bits"
)

// MakeAged marks the leading aged_ratio fraction of each plane's blocks as
// partially invalid, as if GC had already passed over them once: the first
// ceil(block_plane*agedRatio) blocks each get their first
// ceil(page_block*agedRatio) pages invalidated, per spec §4.7.
func MakeAged(dev *topology.Device, agedRatio float64) {
	if agedRatio <= 0 {
		return
	}
	dev.ForEachPlane(func(_ topology.Coord, p *topology.Plane) {
		agedBlocks := int(math.Ceil(float64(len(p.Blocks)) * agedRatio))
		if agedBlocks > len(p.Blocks) {
			agedBlocks = len(p.Blocks)
		}
		for bi := 0; bi < agedBlocks; bi++ {
			block := &p.Blocks[bi]
			agedPages := int(math.Ceil(float64(len(block.Pages)) * agedRatio))
			if agedPages > len(block.Pages) {
				agedPages = len(block.Pages)
			}
			for pi := 0; pi < agedPages; pi++ {
				page := &block.Pages[pi]
				if page.ValidState == 0 && page.FreeState == 0 {
					// Already invalid.
					continue
				}
				if page.FreeState != 0 {
					block.FreePageNum--
					p.FreePage--
				}
				page.ValidState = 0
				page.FreeState = 0
				page.LPN = 0
				block.InvalidPageNum++
				if pi > block.LastWritePage {
					block.LastWritePage = pi
				}
			}
		}
	})
}

// Warmup programs live pages across the device, in flat physical-page order,
// until (1-overprovide)*total_pages pages carry a mapping, assigning lpn as
// a monotonically increasing counter starting at 1, per spec §4.7. It
// updates both the topology pages and the FTL table directly: warmup runs
// before simulation starts, so there is no foreground/GC bookkeeping to
// preserve.
//
// Every plane keeps its last block untouched, erased, regardless of target:
// find_active_block (alloc.go) needs at least one freshly-erased block per
// plane to rotate onto, and overprovide=0 would otherwise mean warmup fills
// every page in the device, leaving the very first foreground write with
// nowhere to land. A plane with only one block is left alone entirely.
func Warmup(dev *topology.Device, addr *address.Allocator, table *ftl.Table, overprovide float64) {
	total := dev.TotalPages()
	target := int(float64(total) * (1 - overprovide))
	if target <= 0 {
		return
	}

	validMask := bits.Full(dev.Cfg.SubpagePage)
	lpn := 0
	written := 0

	dev.ForEachPlane(func(c topology.Coord, p *topology.Plane) {
		if written >= target {
			return
		}
		usable := len(p.Blocks) - 1
		for bi := 0; bi < usable; bi++ {
			if written >= target {
				return
			}
			block := &p.Blocks[bi]
			for pi := range block.Pages {
				if written >= target {
					return
				}
				page := &block.Pages[pi]
				lpn++
				page.ValidState = validMask
				page.FreeState = 0
				page.LPN = lpn
				page.WrittenCount = 1

				pageCoord := c
				pageCoord.Block = bi
				pageCoord.Page = pi
				ppn := addr.IndexOf(pageCoord)
				table.Set(lpn, ppn, validMask)

				block.FreePageNum--
				block.LastWritePage = pi
				p.FreePage--
				written++
			}
		}
	})
}
