package node

import (
	"context"
	"sync"

	"github.com/hermes-sensorfusion/hermes/meta"
	"github.com/hermes-sensorfusion/hermes/transport"
)

// ReactFunc handles one delivered input frame, optionally emitting
// derived output via publish. It runs on the ingest worker.
type ReactFunc func(frame *transport.DataFrame, publish Publisher)

// GenerateFunc produces internally-triggered output not gated by input
// arrival. It must return
// once ctx is done.
type GenerateFunc func(ctx context.Context, publish Publisher)

// Pipeline combines a Consumer's ingestion with a Producer's generation:
// it runs two logically independent workers, a synchronous
// ingest worker and an asynchronous generator worker, sharing only
// ownership-disjoint outbound streams so no cross-worker lock is needed.
// Whether re-emitted data should have the delay-estimator correction
// re-applied is left to react/generate themselves: the core does not prescribe it.
type Pipeline struct {
	*Base
	bus *transport.Bus
	inputTopics []string
	react ReactFunc
	generate GenerateFunc
	publish Publisher

	subs []*transport.Subscriber
	wg sync.WaitGroup
	cancel context.CancelFunc

	stopOnce sync.Once
	stopCh chan struct{}
	genDone chan struct{}
}

// NewPipeline constructs a Pipeline. generate may be nil if this
// Pipeline instance only reacts to input (a degenerate, ingest-only
// configuration still valid under the Pipeline role).
func NewPipeline(desc meta.NodeDescriptor, coord transport.CoordChannel, bus *transport.Bus, inputTopics []string, react ReactFunc, generate GenerateFunc, publish Publisher) *Pipeline {
	return &Pipeline{
		Base: NewBase(desc, coord),
		bus: bus,
		inputTopics: inputTopics,
		react: react,
		generate: generate,
		publish: publish,
		stopCh: make(chan struct{}),
	}
}

var _ Handler = (*Pipeline)(nil)

func (p *Pipeline) OnPrepare(context.Context) error { return nil }

func (p *Pipeline) OnStart(ctx context.Context) error {
	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.subs = make([]*transport.Subscriber, 0, len(p.inputTopics))
	for _, topic := range p.inputTopics {
		sub := p.bus.Subscribe(topic)
		p.subs = append(p.subs, sub)
		p.wg.Add(1)
		go p.ingest(sub)
	}

	if p.generate != nil {
		p.genDone = make(chan struct{})
		go func() {
			defer close(p.genDone)
			p.generate(workerCtx, p.publish)
		}()
	}
	return nil
}

func (p *Pipeline) ingest(sub *transport.Subscriber) {
	defer p.wg.Done()
	for {
		select {
		case frame, ok := <-sub.Frames():
			if !ok {
				return
			}
			p.react(frame, p.publish)
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pipeline) OnStop(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		if p.genDone != nil {
			<-p.genDone
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	for _, sub := range p.subs {
		sub.Unsubscribe()
	}
	return nil
}
