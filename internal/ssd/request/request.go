/*
 * ssdsim - Sub-request engine
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

// Package request drives one read/write sub-request through the resource
// states of spec §4.3: WAIT -> TRANSFER_CMD -> FLASH_BUSY -> DATA_TRANSFER
// -> COMPLETE. Command and data phases occupy the owning channel; the
// flash-busy phase occupies only the chip, so several sub-requests on
// different chips of the same channel can be flash-busy concurrently, per
// spec §5.
package request

import "github.com/rcornwell/ssdsim/internal/ssd/topology"

// Op identifies the kind of sub-request.
type Op int

// Sub-request operations.
const (
	OpRead Op = iota
	OpWrite
)

// State is a sub-request's position in the WAIT..COMPLETE state machine.
type State int

// Sub-request states, spec §4.3.
const (
	StateWait State = iota
	StateTransferCmd
	StateFlashBusy
	StateDataTransfer
	StateComplete
)

// SubRequest is one per-plane unit of work carved out of a Request.
type SubRequest struct {
	LPN      int
	PPN      int
	Size     int // sub-pages touched.
	Mask     uint8
	Location topology.Coord
	Op       Op

	CurrentState    State
	NextPredictTime int64

	Parent  *Request
	Sibling *SubRequest // write-after-read pairing.

	BeginTime    int64
	CompleteTime int64
}

// Request is one trace record's worth of work, carved into sub-requests.
type Request struct {
	Arrival int64
	Device  int
	LSN     int64
	Size    int
	Op      Op

	Sub []*SubRequest

	BeginTime    int64
	CompleteTime int64
	MetGC        bool
	MetGCRemain  int64

	completedSub int
}

// Done reports whether every sub-request of this Request has completed.
func (r *Request) Done() bool { return r.completedSub >= len(r.Sub) }

// Timing carries the flash/bus time characteristics of spec §6.
type Timing struct {
	TWC   int64 // Command word cycle time.
	TR    int64 // Flash read-busy time.
	TPROG int64 // Flash program-busy time.
	TBERS int64 // Flash erase-busy time.
	TWB   int64 // Write-to-busy delay.
	TRC   int64 // Per sub-page data-transfer cycle time.
}

// Engine owns the per-channel pending and in-flight sub-request queues.
type Engine struct {
	dev    *topology.Device
	timing Timing

	pending  [][]*SubRequest
	inflight [][]*SubRequest

	completed []*SubRequest
}

// New builds an Engine for dev with the given timing characteristics.
func New(dev *topology.Device, timing Timing) *Engine {
	e := &Engine{
		dev:      dev,
		timing:   timing,
		pending:  make([][]*SubRequest, len(dev.Channels)),
		inflight: make([][]*SubRequest, len(dev.Channels)),
	}
	return e
}

// Submit admits a sub-request onto its target channel's pending queue, in
// admission (trace) order.
func (e *Engine) Submit(sr *SubRequest) {
	ch := sr.Location.Channel
	e.pending[ch] = append(e.pending[ch], sr)
}

// Pending reports whether channel ch has any sub-request not yet admitted
// into the resource state machine, used by decide_gc_invoke (spec §4.4).
func (e *Engine) Pending(ch int) bool {
	return len(e.pending[ch]) > 0
}

// PendingWrite reports whether channel ch has a write sub-request queued,
// the specific condition spec §4.4's decide_gc_invoke checks before letting
// an interruptible GC cycle proceed.
func (e *Engine) PendingWrite(ch int) bool {
	for _, sr := range e.pending[ch] {
		if sr.Op == OpWrite {
			return true
		}
	}
	for _, sr := range e.inflight[ch] {
		if sr.Op == OpWrite && sr.CurrentState == StateWait {
			return true
		}
	}
	return false
}

// ReadTargetsChip reports whether any in-flight or pending read sub-request
// on channel ch targets chip cp, used by decide_gc_invoke (spec §4.4): an
// interruptible GC cycle on that chip should not start if a foreground read
// is about to need it.
func (e *Engine) ReadTargetsChip(ch, cp int) bool {
	for _, sr := range e.pending[ch] {
		if sr.Op == OpRead && sr.Location.Chip == cp {
			return true
		}
	}
	for _, sr := range e.inflight[ch] {
		if sr.Op == OpRead && sr.Location.Chip == cp {
			return true
		}
	}
	return false
}

// CompleteNow resolves sr immediately at now without going through the
// TRANSFER_CMD/FLASH_BUSY/DATA_TRANSFER phases: used for a read that is
// served entirely out of the write buffer, spec §8 scenario 2's "buffer
// served" read-hit, which never touches a channel or chip at all.
func (e *Engine) CompleteNow(sr *SubRequest, now int64) {
	sr.BeginTime = now
	sr.CurrentState = StateComplete
	sr.CompleteTime = now
	if sr.Parent != nil {
		sr.Parent.completedSub++
		if sr.Parent.CompleteTime < now {
			sr.Parent.CompleteTime = now
		}
	}
	e.completed = append(e.completed, sr)
}

// Completed drains and returns every sub-request that finished since the
// last call.
func (e *Engine) Completed() []*SubRequest {
	done := e.completed
	e.completed = nil
	return done
}

// CandidateTimes gathers every resource or sub-request time that could be
// the next nearest event, per spec §4.3 step 5.
func (e *Engine) CandidateTimes() []int64 {
	var out []int64
	for ch := range e.dev.Channels {
		channel := e.dev.Ch(ch)
		out = append(out, channel.State.NextPredictTime)
		for cp := range channel.Chips {
			out = append(out, channel.Chips[cp].State.NextPredictTime)
		}
		for _, sr := range e.inflight[ch] {
			out = append(out, sr.NextPredictTime)
		}
	}
	return out
}

func (e *Engine) flashTime(op Op) int64 {
	if op == OpWrite {
		return e.timing.TPROG
	}
	return e.timing.TR
}

func (e *Engine) startTransferCmd(now int64, channel *topology.Channel, sr *SubRequest) {
	channel.State = topology.ResourceState{
		Current: topology.ResBusy, CurrentTime: now,
		Next: topology.ResIdle, NextPredictTime: now + e.timing.TWC,
	}
	sr.BeginTime = now
	sr.CurrentState = StateTransferCmd
	sr.NextPredictTime = now + e.timing.TWC
}

func (e *Engine) startFlashBusy(now int64, chip *topology.Chip, sr *SubRequest) {
	busy := e.flashTime(sr.Op)
	chip.State = topology.ResourceState{
		Current: topology.ResBusy, CurrentTime: now,
		Next: topology.ResIdle, NextPredictTime: now + busy,
	}
	sr.CurrentState = StateFlashBusy
	sr.NextPredictTime = now + busy
}

func (e *Engine) startDataTransfer(now int64, channel *topology.Channel, sr *SubRequest) {
	xfer := int64(sr.Size) * e.timing.TRC
	if xfer <= 0 {
		xfer = e.timing.TRC
	}
	channel.State = topology.ResourceState{
		Current: topology.ResBusy, CurrentTime: now,
		Next: topology.ResIdle, NextPredictTime: now + xfer,
	}
	sr.CurrentState = StateDataTransfer
	sr.NextPredictTime = now + xfer
}

// Step advances every channel's sub-requests one decision point at now.
func (e *Engine) Step(now int64) {
	for ch := range e.dev.Channels {
		e.stepChannel(now, ch)
	}
}

func (e *Engine) stepChannel(now int64, ch int) {
	channel := e.dev.Ch(ch)
	list := e.inflight[ch]

	// Flash-busy sub-requests that finished want the channel for data
	// transfer; only one channel-occupying transition may start per tick.
	startedTransfer := false
	for _, sr := range list {
		if sr.CurrentState == StateFlashBusy && now >= sr.NextPredictTime {
			if !channel.State.Available(now) {
				break
			}
			e.startDataTransfer(now, channel, sr)
			startedTransfer = true
			break
		}
	}

	// Transfer-cmd sub-requests that finished want their chip; this needs
	// no channel arbitration so every ready one can progress.
	for _, sr := range list {
		if sr.CurrentState == StateTransferCmd && now >= sr.NextPredictTime {
			chip := e.dev.ChipAt(sr.Location.Channel, sr.Location.Chip)
			if chip.State.Available(now) {
				e.startFlashBusy(now, chip, sr)
				continue
			}
			// Spec §6's meet_gc_flag/meet_gc_remaining_time: a foreground
			// sub-request stalled because GC, not another foreground
			// command, is holding the chip it needs.
			if chip.State.GCBusy && sr.Parent != nil {
				sr.Parent.MetGC = true
				sr.Parent.MetGCRemain = chip.State.NextPredictTime - now
			}
		}
	}

	// Retire finished data transfers.
	remaining := list[:0]
	for _, sr := range list {
		if sr.CurrentState == StateDataTransfer && now >= sr.NextPredictTime {
			sr.CurrentState = StateComplete
			sr.CompleteTime = now
			if sr.Parent != nil {
				sr.Parent.completedSub++
				if sr.Parent.CompleteTime < now {
					sr.Parent.CompleteTime = now
				}
			}
			e.completed = append(e.completed, sr)
			continue
		}
		remaining = append(remaining, sr)
	}
	e.inflight[ch] = remaining

	// Admit the next pending sub-request into TRANSFER_CMD if the channel
	// is free and we didn't just hand it to a data transfer this tick.
	if !startedTransfer && channel.State.Available(now) && len(e.pending[ch]) > 0 {
		sr := e.pending[ch][0]
		e.pending[ch] = e.pending[ch][1:]
		e.startTransferCmd(now, channel, sr)
		e.inflight[ch] = append(e.inflight[ch], sr)
	}
}

// Idle reports whether channel ch has no pending or in-flight work.
func (e *Engine) Idle(ch int) bool {
	return len(e.pending[ch]) == 0 && len(e.inflight[ch]) == 0
}

// AnyWork reports whether any channel still has pending or in-flight work.
func (e *Engine) AnyWork() bool {
	for ch := range e.dev.Channels {
		if !e.Idle(ch) {
			return true
		}
	}
	return false
}
