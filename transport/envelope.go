// Package transport implements HERMES's typed publish/subscribe and
// request/reply wire formats: an in-process bus for intra-host
// delivery, and length-prefixed framing over TCP for inter-host peer
// links and Node coordination sockets.
/*
 * Copyright (c) 2024, HERMES authors. All rights reserved.
 */
package transport

// ControlKind enumerates the control-plane message kinds.
type ControlKind string

const (
	KindAnnounce ControlKind = "ANNOUNCE"
	KindSyncProbe ControlKind = "SYNC_PROBE"
	KindSyncReply ControlKind = "SYNC_REPLY"
	KindSyncOK ControlKind = "SYNC_OK"
	KindReady ControlKind = "READY"
	KindAllReady ControlKind = "ALL_READY"
	KindStart ControlKind = "START"
	KindDrain ControlKind = "DRAIN"
	KindStop ControlKind = "STOP"
	KindStatus ControlKind = "STATUS"
	KindError ControlKind = "ERROR"
	KindPrepare ControlKind = "PREPARE"
	KindAbort ControlKind = "ABORT"
	// KindKey names a keyboard event carried over a coordination channel.
	// keyboard.Hub delivers only to in-process channels and nothing in
	// this build sends or handles KEY messages.
	KindKey ControlKind = "KEY"
)

// ControlMsg is the control-plane envelope: {sender_id,
// monotonic_ns, payload}, typed by Kind.
type ControlMsg struct {
	Kind ControlKind `json:"kind"`
	SenderID string `json:"sender_id"`
	MonotonicNS int64 `json:"monotonic_ns"`
	Payload []byte `json:"payload,omitempty"`
}

// DataFrame is the data-plane envelope: {topic,
// publisher_id, sequence_no, reference_ts_ns, payload}.
type DataFrame struct {
	Topic string
	PublisherID string
	Seq uint64
	ReferenceTSNS int64
	Payload []byte
}
