package transport

import (
	"sync"

	"github.com/hermes-sensorfusion/hermes/cmn/atomic"
	"github.com/hermes-sensorfusion/hermes/cmn/nlog"
)

// GapObserver is notified when a topic's (publisher_id, stream_id)
// sequence jumps by more than one, wired to stats.Tracker.AddSeqGap in
// production; n is the number of missing sequence numbers.
type GapObserver func(topic string, n int)

// Bus is the intra-host pub/sub transport: publishing here
// never serializes anything — frames are delivered over Go channels
// directly to every local subscriber of a topic, with no inproc socket in
// between.
type Bus struct {
	mu sync.RWMutex
	subs map[string]map[*subscription]struct{}

	seqMu sync.Mutex
	lastSeq map[string]uint64 // "topic|publisher_id" -> last seq observed
	onGap GapObserver
}

// NewBus constructs an empty local bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]map[*subscription]struct{}),
		lastSeq: make(map[string]uint64),
	}
}

// SetGapObserver registers f to be called whenever Publish observes a
// sequence-number gap on a (publisher_id, stream_id) pair; nil disables
// the hook (the default).
func (b *Bus) SetGapObserver(f GapObserver) { b.onGap = f }

// recordSeq detects a gap in frame's per-publisher sequence and reports
// it via onGap; per spec, gaps are reported but never retransmitted.
func (b *Bus) recordSeq(frame *DataFrame) {
	key := frame.Topic + "|" + frame.PublisherID
	b.seqMu.Lock()
	last, ok := b.lastSeq[key]
	b.lastSeq[key] = frame.Seq
	b.seqMu.Unlock()
	if ok && frame.Seq > last+1 && b.onGap != nil {
		b.onGap(frame.Topic, int(frame.Seq-last-1))
	}
}

type subscription struct {
	ch chan *DataFrame
	dropped atomic.Int64
}

// Subscriber is the consumer-facing handle returned by Subscribe.
type Subscriber struct {
	topic string
	sub *subscription
	bus *Bus
}

// Frames returns the channel of delivered frames for this subscription.
func (s *Subscriber) Frames() <-chan *DataFrame { return s.sub.ch }

// Dropped returns the count of frames dropped because this subscriber's
// queue was full: a sequence gap the subscriber must detect itself, since
// gaps are reported but never retransmitted.
func (s *Subscriber) Dropped() int64 { return s.sub.dropped.Load() }

// Unsubscribe removes this subscription from the bus.
func (s *Subscriber) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if set, ok := s.bus.subs[s.topic]; ok {
		delete(set, s.sub)
		if len(set) == 0 {
			delete(s.bus.subs, s.topic)
		}
	}
}

// queueSize bounds per-subscriber buffering; a slow consumer drops frames
// rather than stalling the publisher.
const queueSize = 1024

// Subscribe registers a new subscription for topic.
func (b *Bus) Subscribe(topic string) *Subscriber {
	sub := &subscription{ch: make(chan *DataFrame, queueSize)}
	b.mu.Lock()
	set, ok := b.subs[topic]
	if !ok {
		set = make(map[*subscription]struct{})
		b.subs[topic] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()
	return &Subscriber{topic: topic, sub: sub, bus: b}
}

// Publish delivers frame to every local subscriber of its topic. A full
// subscriber queue drops the frame for that subscriber only; others are
// unaffected.
func (b *Bus) Publish(frame *DataFrame) {
	b.recordSeq(frame)
	b.mu.RLock()
	set := b.subs[frame.Topic]
	subs := make([]*subscription, 0, len(set))
	for s := range set {
		subs = append(subs, s)
	}
	b.mu.RUnlock()
	for _, s := range subs {
		select {
		case s.ch <- frame:
		default:
			s.dropped.Add(1)
			nlog.Warningf("bus: dropping frame on topic %q (subscriber queue full)", frame.Topic)
		}
	}
}

// SubscriberCount reports how many local subscribers a topic has. Proxy
// forwarding to peers does not consult it.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
