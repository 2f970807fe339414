package transport

import (
	"io"
	"sync"

	"github.com/hermes-sensorfusion/hermes/cmn/atomic"
	"github.com/hermes-sensorfusion/hermes/cmn/nlog"
)

// PeerLink is an outbound data-plane stream to one peer broker. It
// implements a send-queue discipline: Send enqueues onto a bounded channel and
// returns immediately; a single goroutine drains the queue and performs
// the actual (possibly slow) socket write, so a stalled peer never blocks
// whoever is publishing.
type PeerLink struct {
	PeerID string

	w io.Writer
	workCh chan *DataFrame
	wg sync.WaitGroup

	sent atomic.Int64
	dropped atomic.Int64

	onDrop func()
}

// SetDropHandler registers a callback invoked once per dropped frame,
// wired to stats.Tracker.AddPeerLinkDropped in production; nil disables
// the hook (the default).
func (l *PeerLink) SetDropHandler(f func()) { l.onDrop = f }

// NewPeerLink starts the send loop for w (typically a net.Conn to the
// peer broker's data endpoint). burst bounds how many frames may be
// queued before Send starts dropping rather than blocking the publisher.
func NewPeerLink(peerID string, w io.Writer, burst int) *PeerLink {
	if burst <= 0 {
		burst = queueSize
	}
	l := &PeerLink{PeerID: peerID, w: w, workCh: make(chan *DataFrame, burst)}
	l.wg.Add(1)
	go l.sendLoop()
	return l
}

func (l *PeerLink) sendLoop() {
	defer l.wg.Done()
	for f := range l.workCh {
		if err := WriteDataFrame(l.w, f); err != nil {
			nlog.Warningf("peerlink %s: write failed: %v", l.PeerID, err)
			return
		}
		l.sent.Add(1)
	}
}

// Send enqueues frame for transmission to the peer. It never blocks: if
// the send queue is full the frame is dropped and counted, matching the
// bus's subscriber backpressure policy.
func (l *PeerLink) Send(frame *DataFrame) {
	select {
	case l.workCh <- frame:
	default:
		l.dropped.Add(1)
		nlog.Warningf("peerlink %s: dropping frame on topic %q (send queue full)", l.PeerID, frame.Topic)
		if l.onDrop != nil {
			l.onDrop()
		}
	}
}

func (l *PeerLink) Stats() (sent, dropped int64) {
	return l.sent.Load(), l.dropped.Load()
}

// Close drains remaining queued frames, stops the send loop, and waits
// for it to exit.
func (l *PeerLink) Close() {
	close(l.workCh)
	l.wg.Wait()
}
