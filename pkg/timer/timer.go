// Package timer implements the deadline wheel of spec §4.6: a min-heap of
// one-shot and cyclic deadlines, queried by a WaitSet for "how long until
// I next need to wake up" and "which timers fired, possibly more than
// once since I was last able to check."
package timer

import (
	"container/heap"
	"time"

	"github.com/sasha-s/go-deadlock"
)

// ID identifies one registered timer.
type ID uint64

type entry struct {
	id       ID
	deadline time.Time
	period   time.Duration // 0 for one-shot
	index    int           // heap.Interface bookkeeping
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Wheel is a single WaitSet's collection of cyclic/one-shot deadlines
// (spec §4.6 "owned by exactly one WaitSet"). It is built on
// container/heap rather than a dedicated timer-wheel library: the pack
// carries no timer-wheel abstraction, and a binary min-heap is the
// idiomatic stdlib primitive for "next deadline across N timers" that
// every scheduler-shaped component in the ecosystem reaches for.
type Wheel struct {
	mu      deadlock.Mutex
	h       entryHeap
	byID    map[ID]*entry
	nextID  ID
	nowFunc func() time.Time
}

// New creates an empty Wheel.
func New() *Wheel {
	return &Wheel{byID: make(map[ID]*entry), nowFunc: time.Now}
}

// AddOneShot registers a timer that fires once, after d.
func (w *Wheel) AddOneShot(d time.Duration) ID {
	return w.add(d, 0)
}

// AddCyclic registers a timer that fires every period, re-arming itself
// immediately on each observed timeout (spec §4.6 "cyclic timers
// auto-rearm").
func (w *Wheel) AddCyclic(period time.Duration) ID {
	return w.add(period, period)
}

func (w *Wheel) add(d, period time.Duration) ID {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextID++
	e := &entry{id: w.nextID, deadline: w.nowFunc().Add(d), period: period}
	w.byID[e.id] = e
	heap.Push(&w.h, e)
	return e.id
}

// Remove cancels a timer; a no-op if id is unknown or already removed.
func (w *Wheel) Remove(id ID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.byID[id]
	if !ok {
		return
	}
	delete(w.byID, id)
	if e.index >= 0 {
		heap.Remove(&w.h, e.index)
	}
}

// DurationUntilNextTimeout returns how long until the earliest deadline,
// or ok=false if no timer is registered. A negative/zero duration means
// the deadline has already passed.
func (w *Wheel) DurationUntilNextTimeout() (d time.Duration, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.h) == 0 {
		return 0, false
	}
	return w.h[0].deadline.Sub(w.nowFunc()), true
}

// MissedTimeouts drains every timer whose deadline has passed, invoking
// fn once per id. A cyclic timer that missed more than one period while
// unchecked still only fires fn once per call (spec §4.6 "missed
// intermediate periods are not replayed, only the next deadline is
// recomputed from now") and is immediately re-armed for its next period;
// a one-shot timer is removed after firing.
func (w *Wheel) MissedTimeouts(fn func(ID)) {
	now := w.nowFunc()

	w.mu.Lock()
	var fired []ID
	for len(w.h) > 0 && !w.h[0].deadline.After(now) {
		e := heap.Pop(&w.h).(*entry)
		fired = append(fired, e.id)
		if e.period > 0 {
			e.deadline = now.Add(e.period)
			heap.Push(&w.h, e)
		} else {
			delete(w.byID, e.id)
		}
	}
	w.mu.Unlock()

	for _, id := range fired {
		fn(id)
	}
}

// Reset rearms an existing timer's deadline to now+d (for one-shot) or
// resets its period's next deadline (for cyclic), without changing its ID.
func (w *Wheel) Reset(id ID, d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.byID[id]
	if !ok {
		return
	}
	e.deadline = w.nowFunc().Add(d)
	if e.index >= 0 {
		heap.Fix(&w.h, e.index)
	}
}

// Len returns the number of registered timers.
func (w *Wheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.byID)
}
