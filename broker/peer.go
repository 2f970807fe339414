package broker

import (
	"fmt"
	"net"
	"time"

	"github.com/hermes-sensorfusion/hermes/cmn/cos"
	"github.com/hermes-sensorfusion/hermes/cmn/nlog"
	"github.com/hermes-sensorfusion/hermes/meta"
	"github.com/hermes-sensorfusion/hermes/transport"
)

// peerLink wraps one peer broker's control connection: a single
// CoordChannel plus the receive loop draining it into typed event
// channels on the owning Broker. Unlike transport.PeerLink on the data
// plane, send has no queue: it writes the frame on the calling goroutine
// and blocks until the write completes.
type peerLink struct {
	id string
	coord transport.CoordChannel
}

func (b *Broker) newPeerLink(id string, coord transport.CoordChannel) *peerLink {
	l := &peerLink{id: id, coord: coord}
	go b.peerDispatch(l)
	return l
}

func (l *peerLink) send(msg *transport.ControlMsg) error { return l.coord.Send(msg) }

// peerDispatch is the sole reader of one peer's inbound control stream;
// it demuxes by Kind into the Broker's aggregated event channels so
// concurrent SYNC exchanges and DRAIN broadcasts never race each other
// over the same connection.
func (b *Broker) peerDispatch(l *peerLink) {
	for {
		msg, err := l.coord.Recv()
		if err != nil {
			b.handlePeerLost(l.id)
			return
		}
		switch msg.Kind {
		case transport.KindSyncProbe:
			b.syncProbeCh <- syncProbeEvent{link: l, msg: msg}
		case transport.KindSyncReply:
			b.syncReplyCh <- syncReplyEvent{peerID: l.id, msg: msg}
		case transport.KindSyncOK:
			b.syncOKCh <- l.id
		case transport.KindAllReady:
			b.allReadyCh <- l.id
		case transport.KindDrain:
			b.triggerDrain()
		case transport.KindError:
			nlog.Warningf("broker %s: peer %s reported ERROR: %s", b.desc.BrokerID, l.id, string(msg.Payload))
		default:
			nlog.Warningf("broker %s: unexpected control message %q from peer %s", b.desc.BrokerID, msg.Kind, l.id)
		}
	}
}

// handlePeerLost logs a dropped peer and continues serving local
// subscribers; reconnection is not attempted, since sessions are
// single-shot.
func (b *Broker) handlePeerLost(peerID string) {
	nlog.Warningf("broker %s: lost peer %s", b.desc.BrokerID, peerID)
	b.peersMu.Lock()
	delete(b.peers, peerID)
	b.peersMu.Unlock()
	if b.proxy != nil {
		b.proxy.RemovePeer(peerID)
	}
}

// listen opens the local control socket, and the
// data-plane socket if a Proxy was injected: inbound peer connections on
// the data plane are read frame-by-frame and republished on the local
// Bus only, never forwarded back out to other peers.
func (b *Broker) listen() error {
	ln, err := net.Listen("tcp", b.desc.ControlEndpoint)
	if err != nil {
		return &cos.ErrConfig{Detail: fmt.Sprintf("control listen on %s: %v", b.desc.ControlEndpoint, err)}
	}
	b.listener = ln
	go b.acceptLoop(ln)

	if b.proxy != nil {
		dln, err := net.Listen("tcp", b.desc.DataEndpoint)
		if err != nil {
			ln.Close()
			return &cos.ErrConfig{Detail: fmt.Sprintf("data listen on %s: %v", b.desc.DataEndpoint, err)}
		}
		b.dataListener = dln
		go b.acceptDataLoop(dln)
	}
	return nil
}

func (b *Broker) acceptDataLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return // listener closed at STOP
		}
		go b.handleInboundData(conn)
	}
}

func (b *Broker) handleInboundData(conn net.Conn) {
	defer conn.Close()
	for {
		frame, err := transport.ReadDataFrame(conn)
		if err != nil {
			return
		}
		b.proxy.Bus.Publish(frame)
	}
}

func (b *Broker) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return // listener closed at STOP
		}
		go b.handleInbound(conn)
	}
}

func (b *Broker) handleInbound(conn net.Conn) {
	coord := transport.NewConnCoord(conn)
	msg, err := coord.Recv()
	if err != nil || msg.Kind != transport.KindAnnounce {
		nlog.Warningf("broker %s: rejecting inbound connection: expected ANNOUNCE first", b.desc.BrokerID)
		coord.Close()
		return
	}
	var desc meta.BrokerDescriptor
	if err := json.Unmarshal(msg.Payload, &desc); err != nil {
		nlog.Warningf("broker %s: malformed ANNOUNCE payload: %v", b.desc.BrokerID, err)
		coord.Close()
		return
	}
	selfJSON, _ := json.Marshal(b.desc)
	if err := coord.Send(&transport.ControlMsg{Kind: transport.KindAnnounce, SenderID: b.desc.BrokerID, Payload: selfJSON}); err != nil {
		nlog.Warningf("broker %s: failed to reply ANNOUNCE to %s: %v", b.desc.BrokerID, desc.BrokerID, err)
	}
	b.registerPeer(desc, coord)
}

// dialPeer announces to addr and registers the resulting peer link,
// reporting whether it succeeded so announceLoop knows when to stop
// retrying.
func (b *Broker) dialPeer(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		nlog.Warningf("broker %s: failed to dial peer %s: %v", b.desc.BrokerID, addr, err)
		return false
	}
	coord := transport.NewConnCoord(conn)
	selfJSON, _ := json.Marshal(b.desc)
	if err := coord.Send(&transport.ControlMsg{Kind: transport.KindAnnounce, SenderID: b.desc.BrokerID, Payload: selfJSON}); err != nil {
		nlog.Warningf("broker %s: failed to announce to %s: %v", b.desc.BrokerID, addr, err)
		coord.Close()
		return false
	}
	msg, err := coord.Recv()
	if err != nil || msg.Kind != transport.KindAnnounce {
		nlog.Warningf("broker %s: peer %s did not reply with ANNOUNCE", b.desc.BrokerID, addr)
		coord.Close()
		return false
	}
	var desc meta.BrokerDescriptor
	if err := json.Unmarshal(msg.Payload, &desc); err != nil {
		nlog.Warningf("broker %s: malformed ANNOUNCE reply from %s: %v", b.desc.BrokerID, addr, err)
		coord.Close()
		return false
	}
	b.registerPeer(desc, coord)
	return true
}

// registerPeer is idempotent: a peer discovered via both our outbound
// dial and its inbound dial to us is only registered once.
func (b *Broker) registerPeer(desc meta.BrokerDescriptor, coord transport.CoordChannel) {
	b.peersMu.Lock()
	if _, exists := b.peers[desc.BrokerID]; exists {
		b.peersMu.Unlock()
		coord.Close()
		return
	}
	link := b.newPeerLink(desc.BrokerID, coord)
	b.peers[desc.BrokerID] = link
	b.peersMu.Unlock()

	next := b.currentSmap().Clone()
	d := desc
	next.Put(&d)
	b.smap.Store(next)

	if b.proxy != nil {
		b.dialDataPlane(desc)
	}
	nlog.Infof("broker %s: discovered peer %s", b.desc.BrokerID, desc.BrokerID)
}

// dialDataPlane opens the outbound data-plane connection to a newly
// discovered peer's DataEndpoint. A failure here is logged and
// degrades to no forwarding for that peer rather than failing discovery.
func (b *Broker) dialDataPlane(desc meta.BrokerDescriptor) {
	conn, err := net.DialTimeout("tcp", desc.DataEndpoint, time.Duration(b.cfg.Sync.DiscoverTimeoutMS)*time.Millisecond)
	if err != nil {
		nlog.Warningf("broker %s: failed to open data plane to peer %s: %v", b.desc.BrokerID, desc.BrokerID, err)
		return
	}
	link := transport.NewPeerLink(desc.BrokerID, conn, 1024)
	if b.statsTracker != nil {
		peerID := desc.BrokerID
		link.SetDropHandler(func() { b.statsTracker.AddPeerLinkDropped(peerID, 1) })
	}
	b.proxy.AddPeer(link)
}

func (b *Broker) peerLinkByID(id string) (*peerLink, bool) {
	b.peersMu.Lock()
	defer b.peersMu.Unlock()
	l, ok := b.peers[id]
	return l, ok
}
