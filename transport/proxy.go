package transport

import "sync"

// Proxy implements the pub/sub proxy contract: every message
// published locally is forwarded to (a) local subscribers via the Bus and
// (b) every configured peer broker via a PeerLink. Inbound traffic from a
// peer is re-published on the local Bus by calling Publish directly with
// frames read off that peer's inbound connection.
type Proxy struct {
	Bus *Bus

	mu sync.RWMutex
	peers map[string]*PeerLink
}

func NewProxy() *Proxy {
	return &Proxy{Bus: NewBus(), peers: make(map[string]*PeerLink)}
}

// AddPeer registers an outbound link to a peer broker's data endpoint.
func (p *Proxy) AddPeer(link *PeerLink) {
	p.mu.Lock()
	p.peers[link.PeerID] = link
	p.mu.Unlock()
}

// RemovePeer closes and forgets a peer link, e.g. on peer disappearance
// during RUN: the Broker logs the event and
// continues serving local subscribers without it.
func (p *Proxy) RemovePeer(peerID string) {
	p.mu.Lock()
	link, ok := p.peers[peerID]
	delete(p.peers, peerID)
	p.mu.Unlock()
	if ok {
		link.Close()
	}
}

// Publish forwards frame to every local subscriber and every peer link.
func (p *Proxy) Publish(frame *DataFrame) {
	p.Bus.Publish(frame)
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, link := range p.peers {
		link.Send(frame)
	}
}

// PeerCount reports the number of live peer links, used for diagnostics.
func (p *Proxy) PeerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.peers)
}
