package node

import (
	"context"
	"sync"

	"github.com/hermes-sensorfusion/hermes/meta"
	"github.com/hermes-sensorfusion/hermes/transport"
)

// Callback processes one delivered frame. It must be non-blocking
// relative to the Consumer's own coordination reply channel:
// it runs on a dedicated ingestion goroutine, never on Base.Serve's.
type Callback func(frame *transport.DataFrame)

// Consumer subscribes to a configured topic set and, once STARTed,
// dispatches every delivered frame to Callback.
type Consumer struct {
	*Base
	bus *transport.Bus
	topics []string
	callback Callback

	subs []*transport.Subscriber
	wg sync.WaitGroup
	stopOnce sync.Once
	stopCh chan struct{}
}

// NewConsumer constructs a Consumer; subscriptions are created lazily in
// OnStart so a Consumer that never reaches RUNNING leaves no dangling
// subscription on the bus.
func NewConsumer(desc meta.NodeDescriptor, coord transport.CoordChannel, bus *transport.Bus, topics []string, callback Callback) *Consumer {
	return &Consumer{
		Base: NewBase(desc, coord),
		bus: bus,
		topics: topics,
		callback: callback,
		stopCh: make(chan struct{}),
	}
}

var _ Handler = (*Consumer)(nil)

// OnPrepare is a no-op for Consumer: it has no device to self-test, only
// a subscription set created at START.
func (c *Consumer) OnPrepare(context.Context) error { return nil }

func (c *Consumer) OnStart(context.Context) error {
	c.subs = make([]*transport.Subscriber, 0, len(c.topics))
	for _, topic := range c.topics {
		sub := c.bus.Subscribe(topic)
		c.subs = append(c.subs, sub)
		c.wg.Add(1)
		go c.ingest(sub)
	}
	return nil
}

func (c *Consumer) ingest(sub *transport.Subscriber) {
	defer c.wg.Done()
	for {
		select {
		case frame, ok := <-sub.Frames():
			if !ok {
				return
			}
			c.callback(frame)
		case <-c.stopCh:
			return
		}
	}
}

func (c *Consumer) OnStop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	done := make(chan struct{})
	go func() { c.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	return nil
}
