package node

import (
	"context"
	"sync"

	"github.com/hermes-sensorfusion/hermes/clock"
	"github.com/hermes-sensorfusion/hermes/cmn/atomic"
	"github.com/hermes-sensorfusion/hermes/cmn/nlog"
	"github.com/hermes-sensorfusion/hermes/core"
	"github.com/hermes-sensorfusion/hermes/meta"
	"github.com/hermes-sensorfusion/hermes/transport"
)

// Device is the thin interface the core consumes from a vendor sensor
// SDK binding: Read blocks until one sample
// (or burst) is available, or ctx is done.
type Device interface {
	Open() error
	Read(ctx context.Context) (payload []byte, deviceTS int64, err error)
	Close() error
}

// SelfTester is optionally implemented by a Device to back the short
// self-test PREPARE performs before a Producer is declared READY.
type SelfTester interface {
	SelfTest(ctx context.Context) error
}

// Publisher is where a Producer hands off a finished frame: the local
// Broker's transport.Proxy in production, a recording stub in tests.
type Publisher func(*transport.DataFrame)

// Producer acquires a device in INIT, self-tests it in PREPARE, then
// repeatedly reads-and-publishes on its own goroutine once STARTed.
type Producer struct {
	*Base
	Stream core.Stream
	device Device
	clk *clock.Clock
	delay core.DelayEstimator
	publish Publisher

	seq atomic.Uint64

	stopOnce sync.Once
	stopCh chan struct{}
	loopDone chan struct{}
}

// NewProducer constructs a Producer and opens its device immediately. A
// device open failure is returned to the caller unchanged and no
// Producer is built; cmd/hermes then aborts node wiring and exits with
// the configuration-error code.
func NewProducer(desc meta.NodeDescriptor, stream core.Stream, coord transport.CoordChannel, device Device, clk *clock.Clock, delay core.DelayEstimator, publish Publisher) (*Producer, error) {
	if delay == nil {
		delay = core.ZeroDelay
	}
	if err := device.Open(); err != nil {
		return nil, err
	}
	return &Producer{
		Base: NewBase(desc, coord),
		Stream: stream,
		device: device,
		clk: clk,
		delay: delay,
		publish: publish,
		stopCh: make(chan struct{}),
	}, nil
}

var _ Handler = (*Producer)(nil)

func (p *Producer) OnPrepare(ctx context.Context) error {
	if st, ok := p.device.(SelfTester); ok {
		return st.SelfTest(ctx)
	}
	return nil
}

func (p *Producer) OnStart(ctx context.Context) error {
	p.loopDone = make(chan struct{})
	go p.loop(ctx)
	return nil
}

func (p *Producer) OnStop(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	select {
	case <-p.loopDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.device.Close()
}

// loop is the production worker: read -> stamp -> publish,
// never touching the coordination reply path so a slow device can never
// delay a STATUS/STOP reply.
func (p *Producer) loop(ctx context.Context) {
	defer close(p.loopDone)
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}
		payload, deviceTS, err := p.device.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.Errs().Add(err)
			nlog.Warningf("producer %s: transient read error: %v", p.Desc.NodeID, err)
			continue
		}
		seq := p.seq.Add(1)
		md := core.SampleMetadata{StreamID: p.Stream.ID, DeviceTS: deviceTS, ArrivalOrder: seq}
		d := p.delay(p.Stream.ID, md)
		refTS := p.clk.ReferenceTime() - int64(d)
		p.publish(&transport.DataFrame{
				Topic: p.Stream.ID,
				PublisherID: p.Desc.NodeID,
				Seq: seq,
				ReferenceTSNS: refTS,
				Payload: payload,
			})
	}
}
