/*
 * ssdsim - Output file writers
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

// Package output writes the per-disk result files of spec §6 under
// raw/<timestamp>/: ex.out (a run summary), statistic10.dat/statistic2.dat
// (periodic device-wide samples), io.dat/io_write.dat/io_read.dat (per
// host request latency lines) and gc.dat (per GC-cycle lines).
package output

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rcornwell/ssdsim/internal/ssd/metrics"
)

// Writer owns every open output file for one simulated disk.
type Writer struct {
	dir string

	exOut   *bufio.Writer
	stat10  *bufio.Writer
	stat2   *bufio.Writer
	io      *bufio.Writer
	ioWrite *bufio.Writer
	ioRead  *bufio.Writer
	gc      *bufio.Writer
	closers []*os.File
}

// Open creates raw/<timestamp>/<suffix>/ (suffix distinguishes disks in a
// RAID array; pass "" for a single disk) and opens every output file in it.
func Open(timestamp, suffix string) (*Writer, error) {
	dir := filepath.Join("raw", timestamp, suffix)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("output: %w", err)
	}

	w := &Writer{dir: dir}
	var err error
	if w.exOut, err = w.create("ex.out"); err != nil {
		return nil, err
	}
	if w.stat10, err = w.create("statistic10.dat"); err != nil {
		return nil, err
	}
	if w.stat2, err = w.create("statistic2.dat"); err != nil {
		return nil, err
	}
	if w.io, err = w.create("io.dat"); err != nil {
		return nil, err
	}
	if w.ioWrite, err = w.create("io_write.dat"); err != nil {
		return nil, err
	}
	if w.ioRead, err = w.create("io_read.dat"); err != nil {
		return nil, err
	}
	if w.gc, err = w.create("gc.dat"); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) create(name string) (*bufio.Writer, error) {
	f, err := os.Create(filepath.Join(w.dir, name))
	if err != nil {
		return nil, fmt.Errorf("output: creating %s: %w", name, err)
	}
	w.closers = append(w.closers, f)
	return bufio.NewWriter(f), nil
}

// Summary writes one free-form line to ex.out; callers use it for a final
// run summary (elapsed virtual time, write amplification, direct-erase, GC
// and waste-page counts).
func (w *Writer) Summary(format string, args ...any) {
	fmt.Fprintf(w.exOut, format+"\n", args...)
}

// IO writes one host request's line to io.dat, and additionally to
// io_write.dat or io_read.dat depending on op (1=read, 0=write, spec §6).
func (w *Writer) IO(r metrics.IORecord) {
	line := fmt.Sprintf("%d %d %d %d %d %d %d %d %d\n",
		r.Arrive, r.LSN, r.Size, r.Op, r.Begin, r.End, r.Latency, boolInt(r.MetGC), r.MetGCRemaining)
	w.io.WriteString(line)
	if r.Op == 1 {
		w.ioRead.WriteString(line)
	} else {
		w.ioWrite.WriteString(line)
	}
}

// GC writes one finished GC cycle's line to gc.dat.
func (w *Writer) GC(r metrics.GCRecord) {
	fmt.Fprintf(w.gc, "%d %d %d %d %.4f %d %d %d %d\n",
		r.Channel, r.Chip, r.Die, r.Plane, r.FreePercent, r.Moved, r.Start, r.End, r.Duration)
}

// Stat10 writes one device-wide sample to statistic10.dat.
func (w *Writer) Stat10(s metrics.Snapshot) { writeSnapshot(w.stat10, s) }

// Stat2 writes one device-wide sample to statistic2.dat.
func (w *Writer) Stat2(s metrics.Snapshot) { writeSnapshot(w.stat2, s) }

func writeSnapshot(w *bufio.Writer, s metrics.Snapshot) {
	fmt.Fprintf(w, "%d %.2f %.2f %.2f %.2f | %d\n",
		s.CurrentTime, s.FreeBlockPercent, s.FreePagePercent,
		s.NonemptyFreePagePercent, s.NonemptyFreeBlockPercent, s.DirectEraseCount)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Close flushes and closes every output file.
func (w *Writer) Close() error {
	for _, bw := range []*bufio.Writer{w.exOut, w.stat10, w.stat2, w.io, w.ioWrite, w.ioRead, w.gc} {
		if err := bw.Flush(); err != nil {
			return err
		}
	}
	for _, f := range w.closers {
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
