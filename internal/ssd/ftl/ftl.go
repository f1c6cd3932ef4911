/*
 * ssdsim - Logical-to-physical mapping table
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

// Package ftl is the flash translation layer's address-mapping table: one
// entry per logical page number, holding the physical page number it
// currently resides at and the sub-page validity mask for that mapping.
package ftl

// Entry is one mapping-table row. State is the bitmask of sub-pages valid
// for this lpn at PN.
type Entry struct {
	PN    int
	State uint8
}

// Table is indexed by lpn. A zero-value Entry (State == 0) means unmapped.
type Table struct {
	entries map[int]Entry
}

// New returns an empty mapping table.
func New() *Table {
	return &Table{entries: make(map[int]Entry)}
}

// Lookup returns the entry for lpn and whether it is mapped (State != 0).
func (t *Table) Lookup(lpn int) (Entry, bool) {
	e, ok := t.entries[lpn]
	if !ok || e.State == 0 {
		return Entry{}, false
	}
	return e, true
}

// Set installs pn/state as the mapping for lpn, replacing any prior entry.
func (t *Table) Set(lpn, pn int, state uint8) {
	t.entries[lpn] = Entry{PN: pn, State: state}
}

// MergeState ORs extra bits into the existing mapping's valid-subpage mask,
// leaving its PN unchanged.
func (t *Table) MergeState(lpn int, extra uint8) {
	e := t.entries[lpn]
	e.State |= extra
	t.entries[lpn] = e
}

// Redirect points lpn at a new physical page, used by move_page (spec
// §4.4) only when the lpn's current mapping still targets the page being
// relocated.
func (t *Table) Redirect(lpn, pn int, state uint8) {
	t.entries[lpn] = Entry{PN: pn, State: state}
}

// Clear removes the mapping for lpn entirely.
func (t *Table) Clear(lpn int) {
	delete(t.entries, lpn)
}

// Len reports how many lpns currently have a non-zero mapping.
func (t *Table) Len() int {
	count := 0
	for _, e := range t.entries {
		if e.State != 0 {
			count++
		}
	}
	return count
}
