/*
 * ssdsim - Event scheduler
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

// Package scheduler advances virtual time. It has two parts: a Clock that
// simply holds the monotonic current_time, and a Queue of one-shot
// callbacks ordered by delta-time, for events that fire independently of
// any resource's next_state_predict_time (GCLock token release is the one
// user in this repository). The delta-ordered linked list here is a direct
// generalization of the emulator's original device event queue, swapping
// the per-Device callback key for a plain opaque key so non-device
// schedulers (GC coordination) can use it too.
package scheduler

// Clock holds the single monotonically non-decreasing virtual-time value
// shared by every resource in a device, per spec §4.3/§5.
type Clock struct {
	now int64
}

// Now returns current_time.
func (c *Clock) Now() int64 { return c.now }

// Advance moves current_time forward to t. Advancing backwards panics: time
// must never decrease, per spec §8's monotonicity invariant.
func (c *Clock) Advance(t int64) {
	if t < c.now {
		panic("scheduler: current_time must not decrease")
	}
	c.now = t
}

// Callback runs when a queued event's delta time reaches zero.
type Callback func(key int)

type event struct {
	time int64
	key  int
	cb   Callback
	prev *event
	next *event
}

// Queue is a delta-ordered singly-threaded event list: each node's time is
// relative to the node before it, so firing the head only ever requires
// decrementing by the elapsed delta, never rescanning the whole list.
type Queue struct {
	head *event
	tail *event
}

// Add schedules cb to fire after delta (>=0) ticks, keyed by key so it can
// later be found by Cancel.
func (q *Queue) Add(delta int64, key int, cb Callback) {
	if delta <= 0 {
		cb(key)
		return
	}

	ev := &event{time: delta, key: key, cb: cb}

	cur := q.head
	if cur == nil {
		q.head = ev
		q.tail = ev
		return
	}

	for cur != nil {
		if ev.time <= cur.time {
			cur.time -= ev.time
			ev.prev = cur.prev
			ev.next = cur
			cur.prev = ev
			if ev.prev != nil {
				ev.prev.next = ev
			} else {
				q.head = ev
			}
			return
		}
		ev.time -= cur.time
		cur = cur.next
	}

	ev.prev = q.tail
	q.tail.next = ev
	q.tail = ev
}

// Cancel removes the first queued event matching key, if any.
func (q *Queue) Cancel(key int) {
	cur := q.head
	for cur != nil {
		if cur.key == key {
			if cur.next != nil {
				cur.next.time += cur.time
				cur.next.prev = cur.prev
			} else {
				q.tail = cur.prev
			}
			if cur.prev != nil {
				cur.prev.next = cur.next
			} else {
				q.head = cur.next
			}
			return
		}
		cur = cur.next
	}
}

// Advance moves every queued event forward by delta ticks, firing (and
// removing) every event whose remaining time drops to zero or below.
func (q *Queue) Advance(delta int64) {
	cur := q.head
	if cur == nil {
		return
	}
	cur.time -= delta
	for cur != nil && cur.time <= 0 {
		overshoot := cur.time
		cur.cb(cur.key)
		q.head = cur.next
		if q.head != nil {
			q.head.prev = nil
		} else {
			q.tail = nil
		}
		cur = q.head
		if cur != nil {
			cur.time += overshoot
		}
	}
}

// Empty reports whether the queue has no pending events.
func (q *Queue) Empty() bool { return q.head == nil }

// NearestPositive returns the smallest value in candidates that is strictly
// greater than now, and true if one exists. This is the "find_nearest_event"
// reduction of spec §4.3 step 5: the scheduler never needs to consider a
// resource whose predicted time has already passed or sits at now.
func NearestPositive(now int64, candidates ...int64) (int64, bool) {
	best := int64(0)
	found := false
	for _, t := range candidates {
		if t <= now {
			continue
		}
		if !found || t < best {
			best = t
			found = true
		}
	}
	return best, found
}
