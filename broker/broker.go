package broker

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/hermes-sensorfusion/hermes/clock"
	"github.com/hermes-sensorfusion/hermes/cmn"
	hatomic "github.com/hermes-sensorfusion/hermes/cmn/atomic"
	"github.com/hermes-sensorfusion/hermes/cmn/cos"
	"github.com/hermes-sensorfusion/hermes/cmn/nlog"
	"github.com/hermes-sensorfusion/hermes/hk"
	"github.com/hermes-sensorfusion/hermes/keyboard"
	"github.com/hermes-sensorfusion/hermes/meta"
	"github.com/hermes-sensorfusion/hermes/stats"
	"github.com/hermes-sensorfusion/hermes/storage"
	"github.com/hermes-sensorfusion/hermes/transport"
	jsoniter "github.com/json-iterator/go"
)

// json is the package-wide codec for control-message payloads
// (ANNOUNCE/SYNC_PROBE/SYNC_REPLY bodies), matching the encoder the wire
// envelope itself uses in transport/conn.go.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ExitCode is the process exit code a Broker run reports to its host process.
type ExitCode int

const (
	ExitClean ExitCode = 0
	ExitUserAbort ExitCode = 1
	ExitConfigError ExitCode = 2
	ExitDiscoverySyncFail ExitCode = 3
	ExitStorageOverflow ExitCode = 4
	ExitFatalRuntime ExitCode = 5
)

// NodeHandle is the Broker-side coordination handle to one locally-owned
// Node. It is uniform whether the Node runs on a goroutine or in a
// separate OS process: both speak the same transport.CoordChannel interface.
type NodeHandle struct {
	Desc meta.NodeDescriptor
	coord transport.CoordChannel
	statusCh chan *transport.ControlMsg
}

func newNodeHandle(desc meta.NodeDescriptor, coord transport.CoordChannel) *NodeHandle {
	h := &NodeHandle{Desc: desc, coord: coord, statusCh: make(chan *transport.ControlMsg, 8)}
	go h.recvLoop()
	return h
}

func (h *NodeHandle) recvLoop() {
	for {
		msg, err := h.coord.Recv()
		if err != nil {
			close(h.statusCh)
			return
		}
		h.statusCh <- msg
	}
}

func (h *NodeHandle) command(kind transport.ControlKind) error {
	return h.coord.Send(&transport.ControlMsg{Kind: kind, SenderID: "broker"})
}

// waitStatus blocks for the next STATUS/ERROR from this node, returning a
// *cos.ErrDevice if the node reported ERROR instead.
func (h *NodeHandle) waitStatus(ctx context.Context) (string, error) {
	select {
	case msg, ok := <-h.statusCh:
		if !ok {
			return "", &cos.ErrDevice{NodeID: h.Desc.NodeID, Detail: "coordination channel closed"}
		}
		if msg.Kind == transport.KindError {
			return "", &cos.ErrDevice{NodeID: h.Desc.NodeID, Detail: string(msg.Payload)}
		}
		return string(msg.Payload), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Broker is the per-host orchestrator.
type Broker struct {
	cfg *cmn.Config
	desc meta.BrokerDescriptor

	fsm *fsm
	referenceID string
	clk *clock.Clock
	proxy *transport.Proxy
	storageEng *storage.Engine
	keyboardHub *keyboard.Hub
	hkRunner *hk.Housekeeper
	statsTracker *stats.Tracker

	smap hatomic.Pointer[meta.Smap]

	peersMu sync.Mutex
	peers map[string]*peerLink

	nodesMu sync.Mutex
	nodes map[string]*NodeHandle

	listener net.Listener
	dataListener net.Listener

	syncProbeCh chan syncProbeEvent
	syncReplyCh chan syncReplyEvent
	syncOKCh chan string
	allReadyCh chan string
	drainCh chan struct{}
	drainOnce sync.Once

	startedAt hatomic.Int64
	overflowed hatomic.Bool
	abortRequested hatomic.Bool

	failHostOnDeviceErr bool
}

// StartedAt returns the session's started_at_reference_ns, valid once
// RUN has begun.
func (b *Broker) StartedAt() int64 { return b.startedAt.Load() }

// AbortRun requests an operator-initiated stop:
// it triggers DRAIN the same way a storage overflow or peer DRAIN
// broadcast would, distinguished only by the reason reported on exit.
func (b *Broker) AbortRun() {
	b.abortRequested.Store(true)
	b.triggerDrain()
}

type runReason int

const (
	reasonNone runReason = iota
	reasonOverflow
	reasonUserAbort
)

type syncProbeEvent struct {
	link *peerLink
	msg *transport.ControlMsg
}

type syncReplyEvent struct {
	peerID string
	msg *transport.ControlMsg
}

// New constructs a Broker for the local host. clk, proxy, storageEng,
// keyboardHub, hkRunner, and statsTracker are injected so tests can
// exercise the FSM with stubs.
func New(cfg *cmn.Config, desc meta.BrokerDescriptor, clk *clock.Clock, proxy *transport.Proxy, storageEng *storage.Engine, keyboardHub *keyboard.Hub, hkRunner *hk.Housekeeper, statsTracker *stats.Tracker) *Broker {
	b := &Broker{
		cfg: cfg,
		desc: desc,
		clk: clk,
		proxy: proxy,
		storageEng: storageEng,
		keyboardHub: keyboardHub,
		hkRunner: hkRunner,
		peers: make(map[string]*peerLink),
		nodes: make(map[string]*NodeHandle),
		syncProbeCh: make(chan syncProbeEvent, 32),
		syncReplyCh: make(chan syncReplyEvent, 8),
		syncOKCh: make(chan string, 32),
		allReadyCh: make(chan string, 32),
		drainCh: make(chan struct{}),
	}
	b.statsTracker = statsTracker
	onChange := func(State) {}
	if statsTracker != nil {
		onChange = func(s State) { statsTracker.SetBrokerState(s.String()) }
	}
	b.fsm = newFSM(onChange)
	return b
}

func (b *Broker) State() State { return b.fsm.State() }

// AddNode registers a locally-owned Node's coordination handle before
// Run is called.
func (b *Broker) AddNode(desc meta.NodeDescriptor, coord transport.CoordChannel) *NodeHandle {
	h := newNodeHandle(desc, coord)
	b.nodesMu.Lock()
	b.nodes[desc.NodeID] = h
	b.nodesMu.Unlock()
	return h
}

func (b *Broker) currentSmap() *meta.Smap {
	if sm := b.smap.Load(); sm != nil {
		return sm
	}
	return meta.NewSmap()
}

// Run drives the Broker through its full lifecycle and
// returns the process exit code.
func (b *Broker) Run(ctx context.Context) ExitCode {
	if err := b.cfg.Validate(); err != nil {
		nlog.Errorf("broker %s: config error: %v", b.desc.BrokerID, err)
		return ExitConfigError
	}

	if err := b.boot(); err != nil {
		nlog.Errorf("broker %s: boot failed: %v", b.desc.BrokerID, err)
		b.fsm.transition(EvFail)
		return ExitConfigError
	}
	b.fsm.transition(EvProceed) // BOOT -> DISCOVER

	discoverCtx, cancelDiscover := context.WithTimeout(ctx, time.Duration(b.cfg.Sync.DiscoverTimeoutMS)*time.Millisecond)
	err := b.discover(discoverCtx)
	cancelDiscover()
	if err != nil {
		nlog.Errorf("broker %s: discover failed: %v", b.desc.BrokerID, err)
		b.fsm.transition(EvFail)
		return ExitDiscoverySyncFail
	}
	b.fsm.transition(EvProceed) // DISCOVER -> SYNC

	syncCtx, cancelSync := context.WithTimeout(ctx, time.Duration(b.cfg.Sync.SyncTimeoutMS)*time.Millisecond)
	err = b.sync(syncCtx)
	cancelSync()
	if err != nil {
		nlog.Errorf("broker %s: sync failed: %v", b.desc.BrokerID, err)
		b.fsm.transition(EvFail)
		return ExitDiscoverySyncFail
	}
	b.fsm.transition(EvProceed) // SYNC -> READY

	if err := b.ready(ctx); err != nil {
		nlog.Errorf("broker %s: ready failed: %v", b.desc.BrokerID, err)
		b.fsm.transition(EvFail)
		return ExitFatalRuntime
	}
	b.fsm.transition(EvProceed) // READY -> RUN

	startedAt := b.clk.ReferenceTime()
	exitReason := b.runPhase(ctx, startedAt)
	b.fsm.transition(EvProceed) // RUN -> DRAIN

	unflushed, drainErr := b.drain(ctx)
	b.fsm.transition(EvProceed) // DRAIN -> STOP

	b.stop()

	switch {
	case exitReason == reasonOverflow:
		return ExitStorageOverflow
	case exitReason == reasonUserAbort:
		return ExitUserAbort
	case drainErr != nil:
		nlog.Warningf("broker %s: drain timeout, %d samples unflushed", b.desc.BrokerID, unflushed)
		return ExitClean
	default:
		return ExitClean
	}
}
