/*
 * ssdsim - Parameter file parser
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

/* Parameter file format:
 *
 * '#' indicates comment, rest of line is ignored.
 * blank lines are ignored.
 * <line> := <key> *<whitespace> '=' *<whitespace> <value>
 * <value> := <number> | <number> *(',' <number>)
 */

// Package configparser reads the key=value parameter file spec §6 describes:
// topology constants, allocation policy, GC thresholds, advanced-command
// bits and flash timing. One line, one key; '#' starts a comment.
package configparser

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Params holds every parameter-file key, with the defaults spec §6 implies
// for an otherwise-unspecified key.
type Params struct {
	ChannelNumber int
	ChipChannel   []int
	DieChip       int
	PlaneDie      int
	BlockPlane    int
	PageBlock     int
	SubpagePage   int

	Overprovide  float64
	DRAMCapacity int
	QueueLength  int

	AllocationScheme  int
	DynamicAllocation int
	StaticAllocation  int

	ActiveWrite     bool
	GCHardThreshold float64
	GCSoftThreshold float64

	Aged      bool
	AgedRatio float64
	Warmup    bool

	AdvancedCommands int
	GreedCBAD        bool

	TWC   int64
	TR    int64
	TPROG int64
	TBERS int64
	TWB   int64
	TRC   int64

	RAIDSSDLatencyNS int64
	GCSyncBufferTime int64
}

// Default returns a Params with the conservative defaults a small test
// topology needs when the parameter file omits a key.
func Default() Params {
	return Params{
		ChannelNumber: 1,
		ChipChannel:   []int{1},
		DieChip:       1,
		PlaneDie:      1,
		BlockPlane:    1,
		PageBlock:     1,
		SubpagePage:   1,
		Overprovide:     0,
		QueueLength:     1,
		GCHardThreshold: 0.1,
		GCSoftThreshold: 0.2,
		TWC:             1, TR: 1, TPROG: 1, TBERS: 1, TWB: 1, TRC: 1,
		RAIDSSDLatencyNS: 100,
		GCSyncBufferTime: 1000,
	}
}

// line is the cursor-based scanner state for one parameter-file line,
// mirroring the key/value-walking idiom of a hand-rolled line parser: a
// string plus a position cursor, rather than repeated slicing.
type line struct {
	text string
	pos  int
}

func (l *line) skipSpace() {
	for l.pos < len(l.text) && (l.text[l.pos] == ' ' || l.text[l.pos] == '\t') {
		l.pos++
	}
}

func (l *line) rest() string { return strings.TrimSpace(l.text[l.pos:]) }

// Parse reads a parameter file from r into a Params starting from Default().
func Parse(r io.Reader) (Params, error) {
	p := Default()
	scanner := bufio.NewScanner(r)
	lineNumber := 0

	for scanner.Scan() {
		lineNumber++
		raw := scanner.Text()
		if hash := strings.IndexByte(raw, '#'); hash >= 0 {
			raw = raw[:hash]
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		eq := strings.IndexByte(raw, '=')
		if eq < 0 {
			return p, fmt.Errorf("configparser: line %d: missing '=' in %q", lineNumber, raw)
		}

		l := &line{text: raw}
		key := strings.TrimSpace(raw[:eq])
		l.pos = eq + 1
		l.skipSpace()
		value := l.rest()

		if err := p.set(strings.ToLower(key), value); err != nil {
			return p, fmt.Errorf("configparser: line %d: %w", lineNumber, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return p, err
	}
	if p.SubpagePage < 1 || p.SubpagePage > 8 {
		return p, fmt.Errorf("configparser: subpage_page must be in [1,8], got %d", p.SubpagePage)
	}
	return p, nil
}

// ParseFile opens path and parses it as a parameter file.
func ParseFile(path string) (Params, error) {
	f, err := os.Open(path)
	if err != nil {
		return Params{}, fmt.Errorf("configparser: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func (p *Params) set(key, value string) error {
	switch key {
	case "channel_number":
		return setInt(&p.ChannelNumber, value)
	case "chip_channel":
		ints, err := splitInts(value)
		if err != nil {
			return err
		}
		p.ChipChannel = ints
		return nil
	case "die_chip":
		return setInt(&p.DieChip, value)
	case "plane_die":
		return setInt(&p.PlaneDie, value)
	case "block_plane":
		return setInt(&p.BlockPlane, value)
	case "page_block":
		return setInt(&p.PageBlock, value)
	case "subpage_page":
		return setInt(&p.SubpagePage, value)
	case "overprovide":
		return setFloat(&p.Overprovide, value)
	case "dram_capacity":
		return setInt(&p.DRAMCapacity, value)
	case "queue_length":
		return setInt(&p.QueueLength, value)
	case "allocation_scheme":
		return setInt(&p.AllocationScheme, value)
	case "dynamic_allocation":
		return setInt(&p.DynamicAllocation, value)
	case "static_allocation":
		return setInt(&p.StaticAllocation, value)
	case "active_write":
		return setBool(&p.ActiveWrite, value)
	case "gc_hard_threshold":
		return setFloat(&p.GCHardThreshold, value)
	case "gc_soft_threshold":
		return setFloat(&p.GCSoftThreshold, value)
	case "aged":
		return setBool(&p.Aged, value)
	case "aged_ratio":
		return setFloat(&p.AgedRatio, value)
	case "warmup":
		return setBool(&p.Warmup, value)
	case "advanced_commands":
		return setInt(&p.AdvancedCommands, value)
	case "greed_cb_ad":
		return setBool(&p.GreedCBAD, value)
	case "twc":
		return setInt64(&p.TWC, value)
	case "tr":
		return setInt64(&p.TR, value)
	case "tprog":
		return setInt64(&p.TPROG, value)
	case "tbers":
		return setInt64(&p.TBERS, value)
	case "twb":
		return setInt64(&p.TWB, value)
	case "trc":
		return setInt64(&p.TRC, value)
	case "raid_ssd_latency_ns":
		return setInt64(&p.RAIDSSDLatencyNS, value)
	case "gcsync_buffer_time":
		return setInt64(&p.GCSyncBufferTime, value)
	default:
		return fmt.Errorf("unknown parameter key %q", key)
	}
}

func setInt(dst *int, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", value, err)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, value string) error {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", value, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid float %q: %w", value, err)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, value string) error {
	switch value {
	case "0":
		*dst = false
	case "1":
		*dst = true
	default:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean %q: %w", value, err)
		}
		*dst = b
	}
	return nil
}

func splitInts(value string) ([]int, error) {
	parts := strings.Split(value, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid integer list %q: %w", value, err)
		}
		out = append(out, n)
	}
	return out, nil
}
