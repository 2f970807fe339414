// Package keyboard fans operator stdin out to every local worker: one daemon goroutine reads stdin line-by-line and broadcasts
// each line to a registry of per-consumer channels, modeled on the hk
// registry-of-callbacks idiom generalized here to a registry-of-channels.
// Consumers poll nondestructively: each sees every keystroke exactly once,
// independently of how fast (or slow) any other consumer drains its own
// channel.
/*
 * Copyright (c) 2024, HERMES authors. All rights reserved.
 */
package keyboard

import (
	"bufio"
	"io"
	"sync"

	"github.com/hermes-sensorfusion/hermes/cmn/nlog"
)

// queueSize bounds per-consumer buffering; a consumer whose queue is full
// misses the lines broadcast while it stays full (the queued lines are
// kept) rather than stalling the reader, matching the backpressure policy
// used by the data-plane Bus.
const queueSize = 64

// Hub owns the stdin reader goroutine and the set of registered consumer
// channels.
//
// The blocking read off stdin and the dispatch-to-consumers loop run on
// two separate goroutines so that Shutdown can make the dispatch loop
// (the "reader" the rest of HERMES talks to) exit promptly even while
// the underlying stdin read is itself still blocked with no input
// available.
type Hub struct {
	mu sync.Mutex
	subs map[string]chan string

	lines chan string
	stop chan struct{}
	once sync.Once

	stopped chan struct{}
}

// NewHub constructs a Hub and immediately starts the blocking stdin-scan
// goroutine; call Run to start the dispatch loop.
func NewHub(r io.Reader) *Hub {
	h := &Hub{
		subs: make(map[string]chan string),
		lines: make(chan string),
		stop: make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go h.scan(r)
	return h
}

// scan blocks on r.Read (via bufio.Scanner) and forwards each line onto
// h.lines. It exits when r reaches EOF/error, or once Shutdown has fired
// and this goroutine's next line (if any) would otherwise be posted to a
// hub no one is dispatching for anymore. If r never produces anything
// and is never closed, this goroutine simply never returns: acceptable
// for a short-lived per-session daemon, since the dispatch loop — the
// part every other component actually depends on — still exits on
// Shutdown.
func (h *Hub) scan(r io.Reader) {
	defer close(h.lines)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		select {
		case h.lines <- sc.Text():
		case <-h.stop:
			return
		}
	}
}

func (h *Hub) broadcast(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, ch := range h.subs {
		select {
		case ch <- line:
		default:
			nlog.Warningf("keyboard: dropping line for consumer %q (queue full)", name)
		}
	}
}

// Register adds a new consumer, identified by name (e.g. a node_id), and
// returns the channel it should poll. Registering an existing name
// replaces its channel.
func (h *Hub) Register(name string) <-chan string {
	ch := make(chan string, queueSize)
	h.mu.Lock()
	h.subs[name] = ch
	h.mu.Unlock()
	return ch
}

// Unregister removes a consumer; safe to call after Run has exited.
func (h *Hub) Unregister(name string) {
	h.mu.Lock()
	delete(h.subs, name)
	h.mu.Unlock()
}

// Run dispatches lines read off stdin to every registered consumer until
// EOF or Shutdown. Intended to run on its own goroutine: `go hub.Run()`.
func (h *Hub) Run() {
	defer close(h.stopped)
	for {
		select {
		case line, ok := <-h.lines:
			if !ok {
				return
			}
			h.broadcast(line)
		case <-h.stop:
			return
		}
	}
}

// Shutdown causes Run to return, posted when the Broker enters DRAIN.
// Idempotent.
func (h *Hub) Shutdown() {
	h.once.Do(func() { close(h.stop) })
}

// WaitStopped blocks until Run has returned, used by a caller (or a test)
// confirming the reader exited within the drain deadline.
func (h *Hub) WaitStopped() <-chan struct{} { return h.stopped }
