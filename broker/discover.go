package broker

import (
	"context"
	"time"

	"github.com/hermes-sensorfusion/hermes/cmn/cos"
	"golang.org/x/time/rate"
)

// discover drives the DISCOVER phase: announce self to every
// configured peer endpoint, collect descriptors, and await quorum (all
// configured peers present) or the discover_timeout_ms deadline — no
// early exit, matching invariant 4's barrier discipline carried into SYNC.
// A peer that refuses the first dial (not yet listening) is retried at
// rate_limit.announce_per_sec rather than abandoned, since peers on a
// LAN typically boot within a few seconds of each other.
func (b *Broker) discover(ctx context.Context) error {
	self := b.desc
	next := b.currentSmap().Clone()
	next.Put(&self)
	b.smap.Store(next)

	limit := rate.Limit(b.cfg.RateLimit.AnnouncePerSec)
	if limit <= 0 {
		limit = rate.Limit(2) // unconfigured: retry at a conservative 2/s rather than busy-loop
	}
	announceLimiter := rate.NewLimiter(limit, 1)
	for _, addr := range b.cfg.Peers {
		go b.announceLoop(ctx, addr, announceLimiter)
	}

	want := len(b.cfg.Peers) + 1
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if len(b.currentSmap().Brokers) >= want {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return &cos.ErrDiscovery{Peer: "one or more configured peers unreachable"}
		}
	}
}

// announceLoop retries dialPeer at limiter's rate until addr is
// registered as a known peer or ctx (the DISCOVER deadline) fires.
func (b *Broker) announceLoop(ctx context.Context, addr string, limiter *rate.Limiter) {
	dialTimeout := time.Duration(b.cfg.Sync.DiscoverTimeoutMS) * time.Millisecond
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if b.dialPeer(addr, dialTimeout) {
			return
		}
	}
}
