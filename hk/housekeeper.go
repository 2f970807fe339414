// Package hk provides a mechanism for registering callback functions that
// are invoked at specified intervals on a single cooperative goroutine.
// Storage's flush scheduler is built on top of it: a callback returns the duration
// until its next invocation, so Storage can raise its own wake frequency
// once a ring's occupancy crosses the configured high-water mark simply by
// returning a shorter interval.
/*
 * Copyright (c) 2024, HERMES authors. All rights reserved.
 */
package hk

import (
	"container/heap"
	"sync"
	"time"

	"github.com/hermes-sensorfusion/hermes/cmn/mono"
	"github.com/hermes-sensorfusion/hermes/cmn/nlog"
)

// NameSuffix disambiguates a registration name from any user-facing ID it
// happens to share with it, e.g. a stream_id also used as a config key.
const NameSuffix = ".hk"

// TickFunc is invoked at its scheduled time and returns the duration until
// its next invocation. A non-positive return value unregisters the entry.
type TickFunc func() time.Duration

type entry struct {
	name string
	f TickFunc
	deadline int64 // mono.NanoTime() ns
	index int // heap.Interface bookkeeping
}

type pq []*entry

func (q pq) Len() int { return len(q) }
func (q pq) Less(i, j int) bool { return q[i].deadline < q[j].deadline }
func (q pq) Swap(i, j int) { q[i], q[j] = q[j], q[i]; q[i].index, q[j].index = i, j }
func (q *pq) Push(x any) { e := x.(*entry); e.index = len(*q); *q = append(*q, e) }
func (q *pq) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

// Housekeeper runs registered TickFuncs on a single goroutine.
type Housekeeper struct {
	mu sync.Mutex
	byName map[string]*entry
	q pq
	wake chan struct{}
	started chan struct{}
	stop chan struct{}
	stopped chan struct{}
	once sync.Once
}

// New constructs a Housekeeper; call Run to start its goroutine.
func New() *Housekeeper {
	return &Housekeeper{
		byName: make(map[string]*entry),
		wake: make(chan struct{}, 1),
		started: make(chan struct{}),
		stop: make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// DefaultHK is the process-wide housekeeper instance, mirroring the
// teacher's single package-level hk.DefaultHK.
var DefaultHK = New()

// Reg schedules f to first run after `initial`. Re-registering an existing
// name replaces it.
func (h *Housekeeper) Reg(name string, f TickFunc, initial time.Duration) {
	h.mu.Lock()
	if old, ok := h.byName[name]; ok {
		heap.Remove(&h.q, old.index)
	}
	e := &entry{name: name, f: f, deadline: mono.NanoTime() + int64(initial)}
	h.byName[name] = e
	heap.Push(&h.q, e)
	h.mu.Unlock()
	h.nudge()
}

// Unreg cancels a registration; a no-op if the name is unknown.
func (h *Housekeeper) Unreg(name string) {
	h.mu.Lock()
	if e, ok := h.byName[name]; ok {
		heap.Remove(&h.q, e.index)
		delete(h.byName, name)
	}
	h.mu.Unlock()
}

func (h *Housekeeper) nudge() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Run drives the scheduler loop until Stop is called. Intended to be run
// on its own goroutine: `go hk.DefaultHK.Run()`.
func (h *Housekeeper) Run() {
	close(h.started)
	defer close(h.stopped)
	for {
		h.mu.Lock()
		var wait time.Duration
		if h.q.Len() == 0 {
			wait = time.Hour
		} else {
			next := h.q[0]
			wait = time.Duration(next.deadline - mono.NanoTime())
			if wait < 0 {
				wait = 0
			}
		}
		h.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-h.stop:
			timer.Stop()
			return
		case <-h.wake:
			timer.Stop()
		case <-timer.C:
		}
		h.fireDue()
	}
}

func (h *Housekeeper) fireDue() {
	now := mono.NanoTime()
	for {
		h.mu.Lock()
		if h.q.Len() == 0 || h.q[0].deadline > now {
			h.mu.Unlock()
			return
		}
		e := heap.Pop(&h.q).(*entry)
		delete(h.byName, e.name)
		h.mu.Unlock()

		next := safeCall(e.f)
		if next > 0 {
			h.Reg(e.name, e.f, next)
		}
	}
}

func safeCall(f TickFunc) (next time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			nlog.Errorf("hk: callback panicked: %v", r)
			next = 0
		}
	}()
	return f()
}

// Stop terminates the scheduler goroutine; Run's call returns once stopped.
func (h *Housekeeper) Stop() {
	h.once.Do(func() { close(h.stop) })
}

// WaitStarted blocks until Run has begun its loop; used by tests to avoid
// racing registration against the first tick.
func (h *Housekeeper) WaitStarted() { <-h.started }

// Reg/Unreg/WaitStarted on the package-level DefaultHK, mirroring the
// teacher's package-level convenience wrappers.
func Reg(name string, f TickFunc, initial time.Duration) { DefaultHK.Reg(name, f, initial) }
func Unreg(name string) { DefaultHK.Unreg(name) }
func WaitStarted() { DefaultHK.WaitStarted() }
