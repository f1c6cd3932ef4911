/*
 * ssdsim - Write buffer
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

// Package wbuffer is the DRAM write buffer sitting in front of the flash
// array: a simple LRU-indexed cache from lpn to the sub-page bitmask
// observed there, used only to decide whether a read is buffer-served
// before it ever reaches the FTL (spec §1, §8 scenario 2).
package wbuffer

import "container/list"

type entry struct {
	lpn  int
	mask uint8
}

// Buffer is a fixed-capacity LRU cache of lpn -> cached sub-page mask.
type Buffer struct {
	capacity int
	order    *list.List // front = most recently used.
	index    map[int]*list.Element
}

// New returns a Buffer holding at most capacity entries. capacity <= 0
// means the buffer never caches anything (every read is a flash miss).
func New(capacity int) *Buffer {
	return &Buffer{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[int]*list.Element),
	}
}

// Lookup reports the sub-page mask currently cached for lpn, if any, and
// promotes it to most-recently-used.
func (b *Buffer) Lookup(lpn int) (uint8, bool) {
	el, ok := b.index[lpn]
	if !ok {
		return 0, false
	}
	b.order.MoveToFront(el)
	return el.Value.(*entry).mask, true
}

// Write records that mask's sub-pages of lpn are now held in the buffer,
// merging with any bits already cached, and evicts the least-recently-used
// entry if this pushes the buffer over capacity.
func (b *Buffer) Write(lpn int, mask uint8) {
	if b.capacity <= 0 {
		return
	}
	if el, ok := b.index[lpn]; ok {
		el.Value.(*entry).mask |= mask
		b.order.MoveToFront(el)
		return
	}
	el := b.order.PushFront(&entry{lpn: lpn, mask: mask})
	b.index[lpn] = el

	for b.order.Len() > b.capacity {
		oldest := b.order.Back()
		if oldest == nil {
			break
		}
		b.order.Remove(oldest)
		delete(b.index, oldest.Value.(*entry).lpn)
	}
}

// Evict drops lpn from the buffer entirely. The device layer does not call
// it; entries leave the buffer only through LRU capacity eviction there.
func (b *Buffer) Evict(lpn int) {
	if el, ok := b.index[lpn]; ok {
		b.order.Remove(el)
		delete(b.index, lpn)
	}
}

// Len reports how many lpns are currently cached.
func (b *Buffer) Len() int { return b.order.Len() }
