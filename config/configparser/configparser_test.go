/*
 * ssdsim - Parameter file parser test set.
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

package configparser

import (
	"strings"
	"testing"
)

func TestParseBasicKeys(t *testing.T) {
	text := `
# comment line
channel_number = 4
chip_channel = 2,2,2,2
die_chip = 2
plane_die = 2
block_plane = 8
page_block = 16
subpage_page = 4
overprovide = 0.1
allocation_scheme = 1
static_allocation = 3
gc_hard_threshold = 0.15
advanced_commands = 3
twc = 25
tr = 25000
tprog = 200000
tbers = 1500000
twb = 100
trc = 50
`
	p, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.ChannelNumber != 4 {
		t.Fatalf("expected channel_number 4, got %d", p.ChannelNumber)
	}
	if len(p.ChipChannel) != 4 || p.ChipChannel[1] != 2 {
		t.Fatalf("expected chip_channel [2,2,2,2], got %v", p.ChipChannel)
	}
	if p.AllocationScheme != 1 || p.StaticAllocation != 3 {
		t.Fatalf("expected allocation_scheme=1 static_allocation=3, got %d/%d", p.AllocationScheme, p.StaticAllocation)
	}
	if p.AdvancedCommands != 3 {
		t.Fatalf("expected advanced_commands 3, got %d", p.AdvancedCommands)
	}
	if p.TBERS != 1500000 {
		t.Fatalf("expected tbers 1500000, got %d", p.TBERS)
	}
}

func TestParseRejectsBadSubpage(t *testing.T) {
	_, err := Parse(strings.NewReader("subpage_page = 9\n"))
	if err == nil {
		t.Fatalf("expected error for out-of-range subpage_page")
	}
}

func TestParseRejectsUnknownKey(t *testing.T) {
	_, err := Parse(strings.NewReader("not_a_real_key = 1\n"))
	if err == nil {
		t.Fatalf("expected error for unknown key")
	}
}

func TestParseRejectsMissingEquals(t *testing.T) {
	_, err := Parse(strings.NewReader("channel_number 4\n"))
	if err == nil {
		t.Fatalf("expected error for missing '='")
	}
}

func TestDefaultIsValid(t *testing.T) {
	d := Default()
	if d.SubpagePage < 1 || d.SubpagePage > 8 {
		t.Fatalf("default subpage_page out of range: %d", d.SubpagePage)
	}
}
