package scheduler

import "testing"

func TestClockAdvancePanicsOnBackwardTime(t *testing.T) {
	c := &Clock{}
	c.Advance(10)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic advancing backward")
		}
	}()
	c.Advance(5)
}

func TestNearestPositiveSkipsPastAndCurrent(t *testing.T) {
	got, ok := NearestPositive(10, 3, 10, 15, 12)
	if !ok || got != 12 {
		t.Fatalf("got (%d, %v), want (12, true)", got, ok)
	}
}

func TestNearestPositiveNoneFound(t *testing.T) {
	if _, ok := NearestPositive(10, 1, 5, 10); ok {
		t.Fatalf("expected no candidate strictly greater than now")
	}
}

func TestQueueFiresInDeltaOrder(t *testing.T) {
	q := &Queue{}
	var fired []int
	q.Add(5, 1, func(k int) { fired = append(fired, k) })
	q.Add(2, 2, func(k int) { fired = append(fired, k) })
	q.Add(8, 3, func(k int) { fired = append(fired, k) })

	q.Advance(2)
	if len(fired) != 1 || fired[0] != 2 {
		t.Fatalf("after advancing 2, got %v, want [2]", fired)
	}
	q.Advance(3)
	if len(fired) != 2 || fired[1] != 1 {
		t.Fatalf("after advancing to 5, got %v, want [2 1]", fired)
	}
	q.Advance(3)
	if len(fired) != 3 || fired[2] != 3 {
		t.Fatalf("after advancing to 8, got %v, want [2 1 3]", fired)
	}
	if !q.Empty() {
		t.Fatalf("queue should be empty once every event has fired")
	}
}

func TestQueueCancelRemovesEvent(t *testing.T) {
	q := &Queue{}
	fired := false
	q.Add(5, 1, func(int) { fired = true })
	q.Cancel(1)
	q.Advance(10)
	if fired {
		t.Fatalf("cancelled event must not fire")
	}
	if !q.Empty() {
		t.Fatalf("queue should be empty after cancel")
	}
}

func TestQueueAddWithNonPositiveDeltaFiresImmediately(t *testing.T) {
	q := &Queue{}
	fired := false
	q.Add(0, 1, func(int) { fired = true })
	if !fired {
		t.Fatalf("zero-delta event should fire synchronously")
	}
	if !q.Empty() {
		t.Fatalf("an immediately-fired event should never be queued")
	}
}
