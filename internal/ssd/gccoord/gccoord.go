/*
 * ssdsim - Cross-device GC coordination (GCSync, GCLock, GCDefer)
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

// Package gccoord implements the three cross-device GC coordination
// policies of spec §4.5: GCSync rotates a time window across disks, GCLock
// shares one process-global token, and GCDefer is a pass-through flag that
// permits GC on every disk.
package gccoord

import "github.com/rcornwell/ssdsim/internal/ssd/scheduler"

// Coordinator gates whether a disk may run GC right now.
type Coordinator interface {
	Permit(now int64) bool
}

// Releaser is implemented by coordinators that hold a resource across GC
// cycles and need telling when one finishes, so it can be scheduled for
// release. The GC engine type-asserts for this after a node completes.
type Releaser interface {
	ReleaseAt(now, endTime int64)
}

// None permits GC unconditionally: the single-disk, no-coordination case.
type None struct{}

// Permit always returns true.
func (None) Permit(now int64) bool { return true }

// Sync implements GCSync: GC is permitted only during this disk's rotating
// slot within the window, per spec §4.5.
//
//	slot = current_time / (window + buffer)
//	permit = (slot mod ndisk == diskid) && current_time <= slot*(window+buffer) + window
type Sync struct {
	Window int64 // gc_time_window
	Buffer int64 // GCSSYNC_BUFFER_TIME
	NDisk  int
	DiskID int
}

// Permit implements Coordinator for Sync.
func (s Sync) Permit(now int64) bool {
	period := s.Window + s.Buffer
	if period <= 0 || s.NDisk <= 0 {
		return false
	}
	slot := now / period
	if slot%int64(s.NDisk) != int64(s.DiskID) {
		return false
	}
	return now <= slot*period+s.Window
}

// Token is the single process-shared GCLock token: one struct, passed by
// reference to every per-disk simulator in a RAID array, per the Design
// Notes' "global mutable state" guidance.
type Token struct {
	IsAvailable bool
	EndTime     int64
	HolderID    int
	BeginTime   int64
}

// NewToken returns a token initially available to any disk.
func NewToken() *Token { return &Token{IsAvailable: true} }

// Lock implements GCLock: a single shared token serializes GC across disks.
type Lock struct {
	Token            *Token
	DiskID           int
	RAIDSSDLatencyNS int64
	Release          *scheduler.Queue // queue used to schedule the delayed release.
}

// Permit acquires the token if it is available and its cooldown has
// elapsed, per spec §4.5. A disk already holding the token keeps being
// permitted on later ticks (an interruptible GC cycle spans many ticks
// before it calls ReleaseAt), so the check here is "free, or already mine".
func (l *Lock) Permit(now int64) bool {
	if l.Token == nil {
		return false
	}
	if !l.Token.IsAvailable {
		return l.Token.HolderID == l.DiskID
	}
	if l.Token.EndTime > now {
		return false
	}
	l.Token.IsAvailable = false
	l.Token.HolderID = l.DiskID
	l.Token.BeginTime = now
	return true
}

// ReleaseAt schedules the token to become available again at absolute time
// end_time + 2*RAID_SSD_LATENCY_NS (an event delta of that time minus now),
// matching the release timing the Design Notes call out for GC-node deletion.
func (l *Lock) ReleaseAt(now, endTime int64) {
	l.Token.EndTime = endTime
	if l.Release == nil {
		l.Token.IsAvailable = true
		return
	}
	delta := endTime + 2*l.RAIDSSDLatencyNS - now
	l.Release.Add(delta, l.DiskID, func(int) {
		l.Token.IsAvailable = true
	})
}

// Defer implements GCDefer as a pass-through: GC is always permitted. No
// layer of this module (the RAID striping wrapper included) staggers which
// disk of an array runs GC for it.
type Defer struct{}

// Permit always returns true.
func (Defer) Permit(now int64) bool { return true }
