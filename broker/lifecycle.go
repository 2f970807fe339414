package broker

import (
	"context"
	"time"

	"github.com/hermes-sensorfusion/hermes/cmn/cos"
	"github.com/hermes-sensorfusion/hermes/cmn/nlog"
	"github.com/hermes-sensorfusion/hermes/meta"
	"github.com/hermes-sensorfusion/hermes/transport"
	"golang.org/x/sync/errgroup"
)

// boot opens the control-plane listener and starts the background
// goroutines that must run for the whole process lifetime.
func (b *Broker) boot() error {
	if err := b.listen(); err != nil {
		return err
	}
	go b.runProbeResponder()
	if b.hkRunner != nil {
		go b.hkRunner.Run()
	}
	return nil
}

// ready drives the READY phase: command every locally-owned
// Node to PREPARE, and once all have replied, broadcast ALL_READY to
// every peer. A Node that fails PREPARE is logged and, unless
// failHostOnDeviceErr is set, left out of the run rather than aborting
// the whole host.
func (b *Broker) ready(ctx context.Context) error {
	b.nodesMu.Lock()
	nodes := make([]*NodeHandle, 0, len(b.nodes))
	for _, h := range b.nodes {
		nodes = append(nodes, h)
	}
	b.nodesMu.Unlock()

	for _, h := range nodes {
		if err := h.command(transport.KindPrepare); err != nil {
			return err
		}
	}
	for _, h := range nodes {
		status, err := h.waitStatus(ctx)
		if err != nil || status != "ready" {
			if b.failHostOnDeviceErr {
				if err != nil {
					return err
				}
				return &nodePrepareError{nodeID: h.Desc.NodeID, detail: status}
			}
			nlog.Warningf("broker %s: node %s failed PREPARE, continuing degraded: %v/%s", b.desc.BrokerID, h.Desc.NodeID, err, status)
		}
	}
	return b.broadcastAllReady()
}

type nodePrepareError struct {
	nodeID string
	detail string
}

func (e *nodePrepareError) Error() string {
	return "node " + e.nodeID + " failed PREPARE: " + e.detail
}

func (b *Broker) broadcastAllReady() error {
	b.peersMu.Lock()
	defer b.peersMu.Unlock()
	for id, link := range b.peers {
		if err := link.send(&transport.ControlMsg{Kind: transport.KindAllReady, SenderID: b.desc.BrokerID}); err != nil {
			return &nodePrepareError{nodeID: id, detail: "broadcasting ALL_READY: " + err.Error()}
		}
	}
	return nil
}

// runPhase drives the RUN phase: barrier on every peer's
// ALL_READY, then command local Nodes to START and stamp the Session's
// started_at (invariant: stamped exactly once, at the instant every
// locally- and remotely-owned Node is commanded to begin producing).
// It blocks until DRAIN is triggered — by a peer broadcast, a storage
// overflow, an operator abort, or ctx cancellation — and reports why.
func (b *Broker) runPhase(ctx context.Context, startedAt int64) runReason {
	sm := b.currentSmap()
	want := make(map[string]struct{}, len(sm.Brokers))
	for id := range sm.Brokers {
		if id != b.desc.BrokerID {
			want[id] = struct{}{}
		}
	}
	for len(want) > 0 {
		select {
		case id := <-b.allReadyCh:
			delete(want, id)
		case <-b.drainCh:
			return b.exitReason()
		case <-ctx.Done():
			return reasonUserAbort
		}
	}

	b.startedAt.Store(startedAt)

	b.nodesMu.Lock()
	nodes := make([]*NodeHandle, 0, len(b.nodes))
	for _, h := range b.nodes {
		nodes = append(nodes, h)
	}
	b.nodesMu.Unlock()
	for _, h := range nodes {
		if err := h.command(transport.KindStart); err != nil {
			nlog.Warningf("broker %s: failed to START node %s: %v", b.desc.BrokerID, h.Desc.NodeID, err)
		}
	}

	select {
	case <-b.drainCh:
		return b.exitReason()
	case <-ctx.Done():
		return reasonUserAbort
	}
}

func (b *Broker) exitReason() runReason {
	switch {
	case b.overflowed.Load():
		return reasonOverflow
	case b.abortRequested.Load():
		return reasonUserAbort
	default:
		return reasonNone
	}
}

// triggerDrain is the single idempotent entry point into DRAIN,
// reachable from a storage overflow (SignalOverflow), an operator abort
// (AbortRun), or a peer's DRAIN broadcast (peerDispatch). It closes
// drainCh to release whichever barrier runPhase is blocked on and
// forwards DRAIN to every peer so the whole cluster winds down together.
func (b *Broker) triggerDrain() {
	b.drainOnce.Do(func() {
			close(b.drainCh)
			b.peersMu.Lock()
			peers := make([]*peerLink, 0, len(b.peers))
			for _, l := range b.peers {
				peers = append(peers, l)
			}
			b.peersMu.Unlock()
			for _, l := range peers {
				if err := l.send(&transport.ControlMsg{Kind: transport.KindDrain, SenderID: b.desc.BrokerID}); err != nil {
					nlog.Warningf("broker %s: failed to broadcast DRAIN to %s: %v", b.desc.BrokerID, l.id, err)
				}
			}
		})
}

// SignalOverflow is wired as the storage.Engine's OverflowHandler by
// cmd/hermes. Engine construction happens before the Broker it
// belongs to, so callers close over a not-yet-assigned *Broker variable
// rather than threading one through storage.NewEngine.
func (b *Broker) SignalOverflow(streamID string, err *cos.ErrOverflow) {
	nlog.Errorf("broker %s: storage overflow on stream %s: %v", b.desc.BrokerID, streamID, err)
	b.overflowed.Store(true)
	b.triggerDrain()
}

// drain drives the DRAIN phase: Producers are stopped
// immediately so no new samples enter the system; Consumers, Pipelines,
// and Storage are given drain_deadline_ms to empty what's already
// in flight before the host tears down regardless.
func (b *Broker) drain(ctx context.Context) (unflushed int, err error) {
	if b.keyboardHub != nil {
		b.keyboardHub.Shutdown()
	}
	deadline := time.Duration(b.cfg.Storage.DrainDeadlineMS) * time.Millisecond
	drainCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	b.nodesMu.Lock()
	var producers, others []*NodeHandle
	for _, h := range b.nodes {
		if h.Desc.Role == meta.RoleProducer {
			producers = append(producers, h)
		} else {
			others = append(others, h)
		}
	}
	b.nodesMu.Unlock()

	b.stopAndWait(drainCtx, producers)

	if b.storageEng != nil {
		unflushed, err = b.storageEng.Drain(deadline)
	}

	b.stopAndWait(drainCtx, others)

	return unflushed, err
}

// stopAndWait commands every handle to STOP and waits for its reply
// concurrently via an errgroup, so one slow Node's drain can't
// serialize behind another's within the same drain_deadline_ms budget.
// Per-node failures are logged, not propagated: DRAIN tears the whole
// host down regardless of any single Node's outcome.
func (b *Broker) stopAndWait(ctx context.Context, handles []*NodeHandle) {
	var g errgroup.Group
	for _, h := range handles {
		h := h
		g.Go(func() error {
			if err := h.command(transport.KindStop); err != nil {
				nlog.Warningf("broker %s: failed to STOP node %s: %v", b.desc.BrokerID, h.Desc.NodeID, err)
				return nil
			}
			if _, err := h.waitStatus(ctx); err != nil {
				nlog.Warningf("broker %s: node %s did not confirm STOP: %v", b.desc.BrokerID, h.Desc.NodeID, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// stop tears the host down: close sockets, flush and
// close storage, and stop the housekeeper. Idempotent pieces (like
// Hub.Shutdown in drain) are not repeated here.
func (b *Broker) stop() {
	if b.listener != nil {
		_ = b.listener.Close()
	}
	if b.dataListener != nil {
		_ = b.dataListener.Close()
	}
	b.peersMu.Lock()
	for id, link := range b.peers {
		link.coord.Close()
		delete(b.peers, id)
	}
	b.peersMu.Unlock()

	if b.storageEng != nil {
		if err := b.storageEng.Close(); err != nil {
			nlog.Warningf("broker %s: storage close: %v", b.desc.BrokerID, err)
		}
	}
	if b.hkRunner != nil {
		b.hkRunner.Stop()
	}
	nlog.Infof("broker %s: stopped", b.desc.BrokerID)
}
