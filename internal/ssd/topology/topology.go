/*
 * ssdsim - Device topology and page state
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

// Package topology holds the hierarchical channel -> chip -> die -> plane ->
// block -> page arrays that model one SSD. Ownership is strictly
// hierarchical: a Device owns Channels, a Channel owns Chips, and so on
// down to Pages. Every other package reaches into this tree through a Coord
// (never a pointer), per the arena-plus-indices design used throughout.
package topology

import (
	"fmt"

	"github.com/rcornwell/ssdsim/util/bits"
)

// Resource availability states for channels and chips.
const (
	ResIdle = iota
	ResBusy
)

// Coord addresses one page uniquely across the whole hierarchy.
type Coord struct {
	Channel int
	Chip    int
	Die     int
	Plane   int
	Block   int
	Page    int
}

func (c Coord) String() string {
	return fmt.Sprintf("ch%d/cp%d/d%d/p%d/b%d/pg%d", c.Channel, c.Chip, c.Die, c.Plane, c.Block, c.Page)
}

// Config carries the topology constants read from the parameter file.
type Config struct {
	ChannelNumber int   // Number of channels.
	ChipChannel   []int // Chips per channel, indexed by channel. Broadcast from [0] if shorter.
	DieChip       int   // Dies per chip.
	PlaneDie      int   // Planes per die.
	BlockPlane    int   // Blocks per plane.
	PageBlock     int   // Pages per block.
	SubpagePage   int   // Sub-pages per page, 1..8.
}

// ChipsIn returns the number of chips on channel ch.
func (cfg Config) ChipsIn(ch int) int {
	if len(cfg.ChipChannel) == 0 {
		return 0
	}
	if ch < len(cfg.ChipChannel) {
		return cfg.ChipChannel[ch]
	}
	return cfg.ChipChannel[0]
}

// ResourceState governs when a channel or chip becomes available again, per
// spec §3: current_state, current_time, next_state, next_state_predict_time.
type ResourceState struct {
	Current         int
	CurrentTime     int64
	Next            int
	NextPredictTime int64

	// GCBusy marks an occupancy set by the GC engine rather than a
	// foreground sub-request, so request.Engine can tell a foreground stall
	// behind GC apart from one behind another foreground command and set
	// meet_gc_flag (spec §6) accordingly.
	GCBusy bool
}

// Available reports whether the resource can accept new work at now.
func (r *ResourceState) Available(now int64) bool {
	if r.Current == ResIdle {
		return true
	}
	return r.Next == ResIdle && r.NextPredictTime <= now
}

// Page is the smallest unit carrying an lpn and its sub-page masks.
type Page struct {
	LPN          int
	ValidState   uint8
	FreeState    uint8
	CachedPage   uint8
	WrittenCount int
}

// Invariant checks popcount(valid)+popcount(free) <= subpages and
// valid&free == 0, per spec §8 universal invariants.
func (p *Page) Invariant(subpages int) error {
	if p.ValidState&p.FreeState != 0 {
		return fmt.Errorf("page lpn=%d: valid_state & free_state != 0 (%#x & %#x)", p.LPN, p.ValidState, p.FreeState)
	}
	if bits.PopCount(p.ValidState)+bits.PopCount(p.FreeState) > subpages {
		return fmt.Errorf("page lpn=%d: popcount(valid)+popcount(free) exceeds %d sub-pages", p.LPN, subpages)
	}
	return nil
}

// Block is a fixed array of Pages plus the aggregate counters spec §3 names.
type Block struct {
	Pages          []Page
	FreePageNum    int
	InvalidPageNum int
	LastWritePage  int // -1 when erased.
	EraseCount     int
	CachedPagesNum int
}

// Invariant checks free+invalid+valid == page_block, per spec §8.
func (b *Block) Invariant() error {
	validCount := 0
	for i := range b.Pages {
		if b.Pages[i].ValidState > 0 {
			validCount++
		}
	}
	if b.FreePageNum+b.InvalidPageNum+validCount != len(b.Pages) {
		return fmt.Errorf("block: free(%d)+invalid(%d)+valid(%d) != page_block(%d)",
			b.FreePageNum, b.InvalidPageNum, validCount, len(b.Pages))
	}
	return nil
}

// Plane holds the Blocks, the active block cursor, the aggregate free-page
// count, the direct-erase queue, and the dynamic-allocation token.
type Plane struct {
	Blocks      []Block
	ActiveBlock int
	FreePage    int
	EraseQueue  []int // Stack of block indices known fully invalid.
	Token       int
}

// PushEraseQueue pushes a block index eligible for direct erase.
func (p *Plane) PushEraseQueue(block int) {
	p.EraseQueue = append(p.EraseQueue, block)
}

// PeekEraseQueue returns the most recently queued block, or -1 if empty.
func (p *Plane) PeekEraseQueue() int {
	if len(p.EraseQueue) == 0 {
		return -1
	}
	return p.EraseQueue[len(p.EraseQueue)-1]
}

// PopEraseQueueBlock removes a specific block number from the erase queue,
// wherever it sits, and reports whether it was found.
func (p *Plane) PopEraseQueueBlock(block int) bool {
	for i, b := range p.EraseQueue {
		if b == block {
			p.EraseQueue = append(p.EraseQueue[:i], p.EraseQueue[i+1:]...)
			return true
		}
	}
	return false
}

// Die holds the Planes beneath it.
type Die struct {
	Planes []Plane
	Token  int
}

// Chip holds the Dies beneath it plus the resource state governing
// flash-busy occupancy.
type Chip struct {
	Dies  []Die
	State ResourceState
	Token int
}

// Channel holds the Chips beneath it plus the resource state governing
// command/data bus occupancy.
type Channel struct {
	Chips []Chip
	State ResourceState
	Token int
}

// Device is the root of the hierarchy.
type Device struct {
	Cfg      Config
	Channels []Channel
	Token    int
}

// NewDevice allocates a fully erased device: every page free, every block's
// free_page_num == page_block, last_write_page == -1.
func NewDevice(cfg Config) *Device {
	d := &Device{Cfg: cfg}
	d.Channels = make([]Channel, cfg.ChannelNumber)
	freeMask := bits.Full(cfg.SubpagePage)
	for ch := range d.Channels {
		nChips := cfg.ChipsIn(ch)
		d.Channels[ch].Chips = make([]Chip, nChips)
		for cp := range d.Channels[ch].Chips {
			chip := &d.Channels[ch].Chips[cp]
			chip.Dies = make([]Die, cfg.DieChip)
			for de := range chip.Dies {
				die := &chip.Dies[de]
				die.Planes = make([]Plane, cfg.PlaneDie)
				for pl := range die.Planes {
					plane := &die.Planes[pl]
					plane.Blocks = make([]Block, cfg.BlockPlane)
					plane.FreePage = cfg.BlockPlane * cfg.PageBlock
					for bl := range plane.Blocks {
						block := &plane.Blocks[bl]
						block.Pages = make([]Page, cfg.PageBlock)
						block.FreePageNum = cfg.PageBlock
						block.LastWritePage = -1
						for pg := range block.Pages {
							block.Pages[pg].FreeState = freeMask
						}
					}
				}
			}
		}
	}
	return d
}

// Ch returns the Channel at index ch.
func (d *Device) Ch(ch int) *Channel { return &d.Channels[ch] }

// ChipAt returns the Chip at (ch,cp).
func (d *Device) ChipAt(ch, cp int) *Chip { return &d.Channels[ch].Chips[cp] }

// DieAt returns the Die at (ch,cp,die).
func (d *Device) DieAt(ch, cp, die int) *Die { return &d.Channels[ch].Chips[cp].Dies[die] }

// PlaneAt returns the Plane at (ch,cp,die,pl).
func (d *Device) PlaneAt(ch, cp, die, pl int) *Plane {
	return &d.Channels[ch].Chips[cp].Dies[die].Planes[pl]
}

// PlaneOf is the Coord-addressed form of PlaneAt.
func (d *Device) PlaneOf(c Coord) *Plane { return d.PlaneAt(c.Channel, c.Chip, c.Die, c.Plane) }

// BlockOf returns the Block addressed by c.
func (d *Device) BlockOf(c Coord) *Block {
	return &d.PlaneOf(c).Blocks[c.Block]
}

// PageOf returns the Page addressed by c.
func (d *Device) PageOf(c Coord) *Page {
	return &d.BlockOf(c).Pages[c.Page]
}

// EraseOperation resets a block to the freshly-erased state, bumps its
// erase count and adds the freed pages to the plane's FreePage aggregate
// (the only free-page aggregate kept), per spec §4.4 erase_operation.
func (d *Device) EraseOperation(c Coord) {
	plane := d.PlaneOf(c)
	block := &plane.Blocks[c.Block]

	freedPages := len(block.Pages) - block.FreePageNum
	freeMask := bits.Full(d.Cfg.SubpagePage)

	block.FreePageNum = len(block.Pages)
	block.InvalidPageNum = 0
	block.LastWritePage = -1
	block.EraseCount++
	block.CachedPagesNum = 0
	for i := range block.Pages {
		block.Pages[i] = Page{FreeState: freeMask}
	}

	plane.FreePage += freedPages
}

// TotalPages returns the number of pages across the whole device.
func (d *Device) TotalPages() int {
	total := 0
	for ch := range d.Channels {
		for cp := range d.Channels[ch].Chips {
			for de := range d.Channels[ch].Chips[cp].Dies {
				for pl := range d.Channels[ch].Chips[cp].Dies[de].Planes {
					plane := &d.Channels[ch].Chips[cp].Dies[de].Planes[pl]
					for _, b := range plane.Blocks {
						total += len(b.Pages)
					}
				}
			}
		}
	}
	return total
}

// ForEachPlane calls fn for every (channel,chip,die,plane) tuple in the
// device, addressed by the Coord's Channel/Chip/Die/Plane fields (Block and
// Page left zero). The Design Notes flag the original's `init_gc` scan as
// looping over the wrong bound (plane_die where die_chip was meant); this
// helper always visits every tuple so callers can't repeat that mistake.
func (d *Device) ForEachPlane(fn func(c Coord, p *Plane)) {
	for ch := range d.Channels {
		for cp := range d.Channels[ch].Chips {
			chip := &d.Channels[ch].Chips[cp]
			for de := range chip.Dies {
				die := &chip.Dies[de]
				for pl := range die.Planes {
					fn(Coord{Channel: ch, Chip: cp, Die: de, Plane: pl}, &die.Planes[pl])
				}
			}
		}
	}
}
