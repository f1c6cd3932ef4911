/*
 * ssdsim - Trace file reader
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

// Package trace reads the workload trace spec §6 describes: one ASCII
// record per line, five whitespace-separated fields,
// "arrival_ns device lsn size opcode". A negative field is fatal; an
// all-zero line is a warning, not a stop.
package trace

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Op mirrors the trace file's own opcode convention: 1=read, 0=write. This
// is the inverse of request.OpRead/OpWrite's zero-valued iota, so the device
// layer maps it to a request op on submit and back to this convention when
// it writes an io.dat line (spec §6's line format uses the trace's "ope").
type Op int

// Trace opcodes, spec §6.
const (
	OpWrite Op = 0
	OpRead  Op = 1
)

// Record is one parsed trace line.
type Record struct {
	Arrival int64
	Device  int
	LSN     int64
	Size    int
	Op      Op
}

// IsZero reports whether every field of r is the zero value: spec §6 treats
// an all-zero line as a warning, not a malformed record.
func (r Record) IsZero() bool {
	return r.Arrival == 0 && r.Device == 0 && r.LSN == 0 && r.Size == 0 && r.Op == 0
}

// Reader scans a trace file one record at a time.
type Reader struct {
	scanner *bufio.Scanner
	line    int
	onWarn  func(line int, text string)
}

// New wraps r as a trace Reader. onWarn, if non-nil, is called once per
// all-zero line encountered; it may be nil to discard warnings.
func New(r io.Reader, onWarn func(line int, text string)) *Reader {
	return &Reader{scanner: bufio.NewScanner(r), onWarn: onWarn}
}

// Next returns the next record, or io.EOF once the trace is exhausted. A
// malformed field (wrong count, non-numeric, or negative) is a fatal error
// per spec §7; an all-zero record is returned normally after invoking the
// warning callback.
func (r *Reader) Next() (Record, error) {
	for r.scanner.Scan() {
		r.line++
		text := strings.TrimSpace(r.scanner.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 5 {
			return Record{}, fmt.Errorf("trace: line %d: expected 5 fields, got %d", r.line, len(fields))
		}

		rec, err := parseRecord(fields)
		if err != nil {
			return Record{}, fmt.Errorf("trace: line %d: %w", r.line, err)
		}

		if rec.IsZero() {
			if r.onWarn != nil {
				r.onWarn(r.line, text)
			}
		}
		return rec, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Record{}, err
	}
	return Record{}, io.EOF
}

func parseRecord(fields []string) (Record, error) {
	arrival, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || arrival < 0 {
		return Record{}, fmt.Errorf("invalid arrival_ns %q", fields[0])
	}
	device, err := strconv.Atoi(fields[1])
	if err != nil || device < 0 {
		return Record{}, fmt.Errorf("invalid device %q", fields[1])
	}
	lsn, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil || lsn < 0 {
		return Record{}, fmt.Errorf("invalid lsn %q", fields[2])
	}
	size, err := strconv.Atoi(fields[3])
	if err != nil || size < 0 {
		return Record{}, fmt.Errorf("invalid size %q", fields[3])
	}
	opcode, err := strconv.Atoi(fields[4])
	if err != nil || (opcode != 0 && opcode != 1) {
		return Record{}, fmt.Errorf("invalid opcode %q", fields[4])
	}

	return Record{
		Arrival: arrival,
		Device:  device,
		LSN:     lsn,
		Size:    size,
		Op:      Op(opcode),
	}, nil
}

// ReadAll drains every record from r, calling fn for each; it stops and
// returns fn's error immediately if fn returns one.
func ReadAll(r *Reader, fn func(Record) error) error {
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
