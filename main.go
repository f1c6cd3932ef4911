/*
 * ssdsim - Main process.
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

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	getopt "github.com/pborman/getopt/v2"

	"github.com/rcornwell/ssdsim/config/configparser"
	"github.com/rcornwell/ssdsim/internal/device"
	"github.com/rcornwell/ssdsim/internal/output"
	"github.com/rcornwell/ssdsim/internal/raid"
	"github.com/rcornwell/ssdsim/internal/ssd/gccoord"
	"github.com/rcornwell/ssdsim/internal/ssd/metrics"
	logger "github.com/rcornwell/ssdsim/util/logger"
)

var Logger *slog.Logger

func main() {
	optParameter := getopt.StringLong("parameter", 'p', "", "Parameter file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optTimestamp := getopt.StringLong("timestamp", 't', "", "Run timestamp (YYYYMMDD_HHMMSS), defaults to now")
	optRAID0 := getopt.BoolLong("raid0", 0, "Stripe the trace RAID0-style across ndisk disks")
	optRAID5 := getopt.BoolLong("raid5", 0, "Stripe the trace RAID5-style across ndisk disks")
	optGCSync := getopt.BoolLong("gcsync", 0, "Coordinate GC across disks with a rotating time window")
	optGCLock := getopt.BoolLong("gclock", 0, "Coordinate GC across disks with a shared token")
	optGCDefer := getopt.BoolLong("gcdefer", 0, "Select GCDefer coordination (permits GC on every disk)")
	optNDisk := getopt.IntLong("ndisk", 0, 1, "Number of simulated disks")
	optDiskID := getopt.IntLong("diskid", 0, 0, "This disk's id within the array (range check only)")
	optGCWindow := getopt.Int64Long("gc_time_window", 0, 0, "GCSync rotation window, in ns")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file *os.File
	if *optLogFile != "" {
		file, _ = os.Create(*optLogFile)
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	debug := false
	Logger = slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel, AddSource: false}, &debug))
	slog.SetDefault(Logger)

	defer func() {
		if r := recover(); r != nil {
			Logger.Error("simulation aborted", "error", r)
			os.Exit(1)
		}
	}()

	args := getopt.Args()
	if len(args) != 1 {
		Logger.Error("expected exactly one trace_file argument")
		os.Exit(0)
	}
	traceFile := args[0]

	if *optRAID0 && *optRAID5 {
		Logger.Error("--raid0 and --raid5 are mutually exclusive")
		os.Exit(0)
	}
	coordCount := 0
	for _, b := range []bool{*optGCSync, *optGCLock, *optGCDefer} {
		if b {
			coordCount++
		}
	}
	if coordCount > 1 {
		Logger.Error("at most one of --gcsync, --gclock, --gcdefer may be given")
		os.Exit(0)
	}
	if *optDiskID < 0 || *optDiskID >= *optNDisk {
		Logger.Error("diskid out of range", "diskid", *optDiskID, "ndisk", *optNDisk)
		os.Exit(0)
	}
	if (*optRAID0 || *optRAID5 || coordCount > 0) && *optNDisk <= 1 {
		Logger.Error("--raid0/--raid5/--gcsync/--gclock/--gcdefer require --ndisk >= 2")
		os.Exit(0)
	}

	params := configparser.Default()
	if *optParameter != "" {
		var err error
		params, err = configparser.ParseFile(*optParameter)
		if err != nil {
			Logger.Error(err.Error())
			os.Exit(0)
		}
	}

	timestamp := *optTimestamp
	if timestamp == "" {
		timestamp = time.Now().Format("20060102_150405")
	}

	opener := func() (io.ReadCloser, error) { return os.Open(traceFile) }

	Logger.Info("ssdsim started", "trace", traceFile, "timestamp", timestamp)

	if *optNDisk <= 1 {
		runSingle(params, opener, timestamp)
		return
	}

	scheme := raid.RAID0
	if *optRAID5 {
		scheme = raid.RAID5
	}
	coord := raid.CoordNone
	switch {
	case *optGCSync:
		coord = raid.CoordSync
	case *optGCLock:
		coord = raid.CoordLock
	case *optGCDefer:
		coord = raid.CoordDefer
	}

	runArray(params, opener, timestamp, raid.Config{
		Scheme: scheme, NDisk: *optNDisk, Coord: coord, GCWindow: *optGCWindow,
	})
}

// runSingle drives one un-striped disk, spec §6.3's default when ndisk<=1.
func runSingle(params configparser.Params, opener device.TraceOpener, timestamp string) {
	ssd := device.New(Logger, params, gccoord.None{}, nil, nil)

	if err := ssd.PreProcess(opener); err != nil {
		Logger.Error(err.Error())
		os.Exit(0)
	}
	if err := ssd.Run(opener); err != nil {
		Logger.Error(err.Error())
		os.Exit(0)
	}

	w, err := output.Open(timestamp, "")
	if err != nil {
		Logger.Error(err.Error())
		os.Exit(0)
	}
	writeResults(w, ssd.Metrics(), ssd.Now())
	if err := w.Close(); err != nil {
		Logger.Error(err.Error())
	}
	Logger.Info("ssdsim finished", "elapsed", ssd.Now())
}

// runArray drives a RAID-striped array of disks, spec §6.6.
func runArray(params configparser.Params, opener device.TraceOpener, timestamp string, cfg raid.Config) {
	arr, err := raid.New(Logger, params, cfg)
	if err != nil {
		Logger.Error(err.Error())
		os.Exit(0)
	}

	if err := arr.PreProcess(opener); err != nil {
		Logger.Error(err.Error())
		os.Exit(0)
	}
	if err := arr.Run(opener); err != nil {
		Logger.Error(err.Error())
		os.Exit(0)
	}

	for id := 0; id < arr.NDisk(); id++ {
		w, err := output.Open(timestamp, fmt.Sprintf("disk%d", id))
		if err != nil {
			Logger.Error(err.Error())
			os.Exit(0)
		}
		writeResults(w, arr.Metrics(id), 0)
		if err := w.Close(); err != nil {
			Logger.Error(err.Error())
		}
	}
	Logger.Info("ssdsim finished", "ndisk", arr.NDisk())
}

// writeResults drains a disk's counters into its output files and writes a
// one-line run summary to ex.out, spec §6.4.
func writeResults(w *output.Writer, mx *metrics.Counters, elapsed int64) {
	for _, r := range mx.DrainIO() {
		w.IO(r)
	}
	for _, r := range mx.DrainGC() {
		w.GC(r)
	}
	for _, s := range mx.DrainStat10() {
		w.Stat10(s)
	}
	for _, s := range mx.DrainStat2() {
		w.Stat2(s)
	}
	w.Summary("elapsed=%d write_amplification=%.4f direct_erase=%d gc_interruptible=%d gc_uninterruptible=%d waste_pages=%d",
		elapsed, mx.WriteAmplification(), mx.DirectEraseCount(), mx.GCEventCount(0), mx.GCEventCount(1), mx.WastePages())
}
