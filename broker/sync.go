package broker

import (
	"context"
	"fmt"

	"github.com/hermes-sensorfusion/hermes/clock"
	"github.com/hermes-sensorfusion/hermes/cmn/cos"
	"github.com/hermes-sensorfusion/hermes/cmn/mono"
	"github.com/hermes-sensorfusion/hermes/cmn/nlog"
	"github.com/hermes-sensorfusion/hermes/meta"
	"github.com/hermes-sensorfusion/hermes/transport"
)

// runProbeResponder answers SYNC_PROBE messages for as long as this
// process lives: every broker runs it, but only the elected reference
// broker ever actually receives a probe.
func (b *Broker) runProbeResponder() {
	for ev := range b.syncProbeCh {
		var probe clock.SyncProbe
		if err := json.Unmarshal(ev.msg.Payload, &probe); err != nil {
			nlog.Warningf("broker %s: malformed SYNC_PROBE: %v", b.desc.BrokerID, err)
			continue
		}
		reply := clock.SyncReply{
			ReferenceID: b.desc.BrokerID,
			ReferenceNowNS: b.clk.ReferenceTime(),
			EchoSentMono: probe.SentMono,
		}
		payload, _ := json.Marshal(reply)
		if err := ev.link.send(&transport.ControlMsg{Kind: transport.KindSyncReply, SenderID: b.desc.BrokerID, Payload: payload}); err != nil {
			nlog.Warningf("broker %s: failed to send SYNC_REPLY to %s: %v", b.desc.BrokerID, ev.link.id, err)
		}
	}
}

// sync drives the SYNC phase: elect the reference broker,
// perform a single SYNC_PROBE/SYNC_REPLY exchange if we are not it, then
// barrier on every peer's SYNC_OK before proceeding (invariant 4).
func (b *Broker) sync(ctx context.Context) error {
	sm := b.currentSmap()
	refID, ok := sm.ElectReference()
	if !ok {
		return &cos.ErrSync{Detail: "ambiguous reference-clock election: no eligible broker among multiple brokers"}
	}
	b.referenceID = refID

	if refID == b.desc.BrokerID {
		b.clk.SetOffset(0)
	} else {
		link, found := b.peerLinkByID(refID)
		if !found {
			return &cos.ErrSync{Detail: "reference broker " + refID + " is not a known peer"}
		}
		offset, err := b.probeReference(ctx, link)
		if err != nil {
			return err
		}
		b.clk.SetOffset(offset)
	}

	if err := b.broadcastSyncOK(); err != nil {
		return err
	}
	return b.awaitSyncOK(ctx, sm)
}

func (b *Broker) probeReference(ctx context.Context, link *peerLink) (int64, error) {
	probeSentMono := mono.NanoTime()
	payload, _ := json.Marshal(clock.SyncProbe{SenderID: b.desc.BrokerID, SentMono: probeSentMono})
	if err := link.send(&transport.ControlMsg{Kind: transport.KindSyncProbe, SenderID: b.desc.BrokerID, Payload: payload}); err != nil {
		return 0, &cos.ErrSync{Detail: "sending SYNC_PROBE: " + err.Error()}
	}
	for {
		select {
		case ev := <-b.syncReplyCh:
			if ev.peerID != link.id {
				// A single broker only ever has one SYNC_PROBE in flight
				// (to the elected reference), so a reply from any other
				// peer here would indicate a misbehaving peer; ignore it.
				continue
			}
			var reply clock.SyncReply
			if err := json.Unmarshal(ev.msg.Payload, &reply); err != nil {
				return 0, &cos.ErrSync{Detail: "malformed SYNC_REPLY: " + err.Error()}
			}
			offset, halfTrip := clock.ComputeOffset(probeSentMono, mono.NanoTime(), reply)
			if tol := b.cfg.Sync.ToleranceNS; tol > 0 && halfTrip > tol {
				return 0, &cos.ErrSync{Detail: fmt.Sprintf(
					"round-trip estimate exceeds sync tolerance: half-trip=%dns > tolerance_ns=%d",
					halfTrip, tol)}
			}
			return offset, nil
		case <-ctx.Done():
			return 0, &cos.ErrSync{Detail: "SYNC_PROBE to " + link.id + " timed out"}
		}
	}
}

func (b *Broker) broadcastSyncOK() error {
	b.peersMu.Lock()
	defer b.peersMu.Unlock()
	for id, link := range b.peers {
		if err := link.send(&transport.ControlMsg{Kind: transport.KindSyncOK, SenderID: b.desc.BrokerID}); err != nil {
			return &cos.ErrSync{Detail: "broadcasting SYNC_OK to " + id + ": " + err.Error()}
		}
	}
	return nil
}

// awaitSyncOK blocks until every other known broker has acknowledged, or
// ctx is done.
func (b *Broker) awaitSyncOK(ctx context.Context, sm *meta.Smap) error {
	want := make(map[string]struct{}, len(sm.Brokers))
	for id := range sm.Brokers {
		if id != b.desc.BrokerID {
			want[id] = struct{}{}
		}
	}
	for len(want) > 0 {
		select {
		case id := <-b.syncOKCh:
			delete(want, id)
		case <-ctx.Done():
			return &cos.ErrSync{Detail: "SYNC_OK barrier timed out waiting for peer acknowledgement"}
		}
	}
	return nil
}
