/*
 * ssdsim - Sub-page bitmask helpers
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

// Package bits holds the explicit popcount/mask helpers the sub-page
// bitmasks rely on, instead of spreading raw bit twiddling through the FTL
// and GC packages.
package bits

// Full returns a mask with the low n bits set, n in [0,8].
func Full(n int) uint8 {
	if n <= 0 {
		return 0
	}
	if n >= 8 {
		return 0xff
	}
	return uint8(1<<uint(n)) - 1
}

// Complement returns ^x restricted to the low n sub-page bits.
func Complement(x uint8, n int) uint8 {
	return Full(n) &^ x
}

// PopCount returns the number of set bits in x.
func PopCount(x uint8) int {
	count := 0
	for x != 0 {
		count += int(x & 1)
		x >>= 1
	}
	return count
}
