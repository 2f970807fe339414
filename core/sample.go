// Package core holds the data-model types shared by every producer,
// consumer, pipeline, and the storage engine.
/*
 * Copyright (c) 2024, HERMES authors. All rights reserved.
 */
package core

// Sample is a single timestamped record on one stream.
// Samples are immutable once constructed; nothing in HERMES mutates a
// Sample after a Node hands it to the transport layer.
type Sample struct {
	StreamID string
	Seq uint64
	HostArrivalTS int64 // nanoseconds, stamped with the negotiated reference clock
	DeviceTS int64 // opaque secondary timestamp, carried through verbatim
	Payload []byte
}

// Stream is a typed channel of samples from one device under one node.
// Burst streams deliver N samples under a single timestamp and
// require interpolation on read; video streams carry opaque frame bytes.
type Stream struct {
	ID string
	DeviceID string
	NodeID string
	Schema []ChannelSpec
	NominalRate float64 // Hz, or FPS for video
	IsBurst bool
	IsVideo bool
}

// ChannelSpec names one column of a tabular stream's fixed-shape payload.
type ChannelSpec struct {
	Name string
	Kind string // e.g. "float32", "int16"
}

// SampleMetadata is the subset of a sample's provenance visible to the
// delay-estimator hook before reference_ts is assigned: the
// hook runs at ingress, before HostArrivalTS exists on the sample proper.
type SampleMetadata struct {
	StreamID string
	DeviceTS int64
	ArrivalOrder uint64
}
