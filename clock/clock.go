// Package clock implements the per-process reference clock negotiated
// once at SYNC: reference_time = local_monotonic_time +
// offset_ns. The core relies on an external PTP grandmaster for
// sub-microsecond accuracy beneath this layer; this package only
// establishes process-wide agreement on offset_ns via a single
// request/reply exchange with the elected reference broker.
/*
 * Copyright (c) 2024, HERMES authors. All rights reserved.
 */
package clock

import (
	"github.com/hermes-sensorfusion/hermes/cmn/atomic"
	"github.com/hermes-sensorfusion/hermes/cmn/mono"
)

// Clock exposes ReferenceTime() to every Broker and Node goroutine. Offset
// is written exactly once, during SYNC, then read-only for the rest of
// the process lifetime.
type Clock struct {
	offsetNS atomic.Int64
}

func New() *Clock { return &Clock{} }

// SetOffset is called once by the Broker at the end of SYNC.
func (c *Clock) SetOffset(offsetNS int64) { c.offsetNS.Store(offsetNS) }

func (c *Clock) Offset() int64 { return c.offsetNS.Load() }

// ReferenceTime returns the session-wide reference clock reading.
func (c *Clock) ReferenceTime() int64 {
	return mono.NanoTime() + c.offsetNS.Load()
}

// SyncProbe is sent by a non-reference broker to the reference broker.
type SyncProbe struct {
	SenderID string
	SentMono int64 // sender's local mono.NanoTime() at send
}

// SyncReply is the reference broker's answer to a SyncProbe: its own
// reference-clock origin, echoing the prober's send time so the prober
// can compute a symmetric round-trip estimate.
type SyncReply struct {
	ReferenceID string
	ReferenceNowNS int64 // reference broker's ReferenceTime() at reply-send
	EchoSentMono int64 // echoes SyncProbe.SentMono
}

// ComputeOffset implements the single-exchange symmetric round-trip
// estimate: assuming request and response legs
// take equal time, the prober's reference_time() at receipt should equal
// the reference broker's ReferenceNowNS plus half the round trip.
// halfTripNS is returned alongside offsetNS as the estimate's inherent
// uncertainty (the worst-case asymmetry between the two legs), so a
// caller can enforce a configured sync tolerance against it.
func ComputeOffset(probeSentMono, replyRecvMono int64, reply SyncReply) (offsetNS, halfTripNS int64) {
	roundTrip := replyRecvMono - probeSentMono
	halfTrip := roundTrip / 2
	// The reference broker's clock read `ReferenceNowNS` at a point roughly
	// halfTrip after our probe departed; our local mono reading at that
	// same instant was probeSentMono+halfTrip, so offset = refNow - (ours).
	estimatedLocalAtRefRead := probeSentMono + halfTrip
	return reply.ReferenceNowNS - estimatedLocalAtRefRead, halfTrip
}
