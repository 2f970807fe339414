// Node construction from a cmn.Config: the Broker owns lifecycle dispatch
// for each Node, but someone has to build the concrete
// Producer/Consumer/Pipeline and hand the Broker its coordination handle
// first. That someone is this file.
/*
 * Copyright (c) 2024, HERMES authors. All rights reserved.
 */
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hermes-sensorfusion/hermes/broker"
	"github.com/hermes-sensorfusion/hermes/clock"
	"github.com/hermes-sensorfusion/hermes/cmn"
	"github.com/hermes-sensorfusion/hermes/cmn/nlog"
	"github.com/hermes-sensorfusion/hermes/core"
	"github.com/hermes-sensorfusion/hermes/meta"
	"github.com/hermes-sensorfusion/hermes/node"
	"github.com/hermes-sensorfusion/hermes/storage"
	"github.com/hermes-sensorfusion/hermes/transport"
)

// collectStreams derives the session-wide stream inventory from every
// producer NodeSpec: each producer owns exactly one output stream in
// this build's driver registry.
func collectStreams(cfg *cmn.Config) []core.Stream {
	streams := make([]core.Stream, 0, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		if n.Role != "producer" || len(n.Streams) == 0 {
			continue
		}
		rateHz, _ := expHarnessParams(n.Params)
		streams = append(streams, core.Stream{
				ID: n.Streams[0],
				DeviceID: n.Driver,
				NodeID: n.Driver,
				NominalRate: rateHz,
				IsBurst: parseBoolParam(n.Params, "burst"),
				IsVideo: parseBoolParam(n.Params, "video"),
			})
	}
	return streams
}

// wireDelayEstimators registers the delay-estimator driver selected per
// stream. Only two drivers are defined: "zero" (the default) and
// "fixed:<ns>", a pure constant-offset estimator; anything beyond that
// is an out-of-scope numeric-analytics concern.
func wireDelayEstimators(cfg *cmn.Config, estimators *core.DelayEstimators) {
	for streamID, driver := range cfg.DelayEstimators {
		var ns int64
		if _, err := fmt.Sscanf(driver, "fixed:%d", &ns); err == nil {
			fixed := time.Duration(ns)
			estimators.Register(streamID, func(string, core.SampleMetadata) time.Duration {
					return fixed
				})
			continue
		}
		// "zero" or unrecognized: DelayEstimators.For already defaults to
		// core.ZeroDelay for streams with no registration.
	}
}

// wireNodes builds every Node named in cfg.Nodes, registers it with brk,
// and starts its coordination-reply goroutine. The returned teardown
// cancels each Node's context and closes its coordination channel; safe
// to call after brk.Run has already driven every Node through STOP.
func wireNodes(cfg *cmn.Config, brk *broker.Broker, proxy *transport.Proxy, eng *storage.Engine, clk *clock.Clock, delays *core.DelayEstimators) (teardown func(), err error) {
	streamsByID := make(map[string]core.Stream)
	for _, s := range collectStreams(cfg) {
		streamsByID[s.ID] = s
	}

	var cancels []context.CancelFunc
	var coords []transport.CoordChannel

	teardown = func() {
		for _, c := range cancels {
			c()
		}
		for _, co := range coords {
			co.Close()
		}
	}

	publish := func(f *transport.DataFrame) { proxy.Publish(f) }

	for _, n := range cfg.Nodes {
		desc := meta.NodeDescriptor{
			NodeID: n.Driver,
			Role: meta.Role(n.Role),
			InputStreams: n.Streams,
			OutputStreams: n.Streams,
			Addressing: "chan://" + n.Driver,
		}
		brokerSide, nodeSide := transport.NewChanCoordPair(32)
		brk.AddNode(desc, brokerSide)
		coords = append(coords, nodeSide)

		ctx, cancel := context.WithCancel(context.Background())
		cancels = append(cancels, cancel)

		var handler node.Handler
		switch n.Role {
		case "producer":
			handler, err = buildProducer(n, desc, nodeSide, proxy, eng, clk, delays, cfg.Storage.RootDir)
		case "consumer":
			handler, err = buildConsumer(n, desc, nodeSide, proxy, eng, streamsByID)
		case "pipeline":
			handler, err = buildPipeline(n, desc, nodeSide, proxy, publish)
		default:
			err = fmt.Errorf("unknown role %q", n.Role)
		}
		if err != nil {
			teardown()
			return nil, fmt.Errorf("node %s: %w", n.Driver, err)
		}

		base := baseOf(handler)
		go func(h node.Handler) {
			if serveErr := base.Serve(ctx, h); serveErr != nil && serveErr != transport.ErrCoordClosed {
				nlog.Warningf("node %s: coordination loop exited: %v", base.Desc.NodeID, serveErr)
			}
		}(handler)
	}
	return teardown, nil
}

// baseOf extracts the embedded *node.Base every concrete role composes,
// so wireNodes can drive Serve uniformly regardless of role.
func baseOf(h node.Handler) *node.Base {
	switch v := h.(type) {
	case *node.Producer:
		return v.Base
	case *node.Consumer:
		return v.Base
	case *node.Pipeline:
		return v.Base
	default:
		panic(fmt.Sprintf("hermes: unhandled node handler type %T", h))
	}
}

func buildProducer(n cmn.NodeSpec, desc meta.NodeDescriptor, coord transport.CoordChannel, proxy *transport.Proxy, eng *storage.Engine, clk *clock.Clock, delays *core.DelayEstimators, storageRoot string) (*node.Producer, error) {
	if len(n.Streams) == 0 {
		return nil, fmt.Errorf("producer must declare at least one stream")
	}
	streamID := n.Streams[0]
	isVideo := parseBoolParam(n.Params, "video")
	rateHz, numBytes := expHarnessParams(n.Params)
	capacity := parseIntParam(n.Params, "ring_capacity", 2000)

	stream := core.Stream{
		ID: streamID,
		DeviceID: n.Driver,
		NodeID: n.Driver,
		NominalRate: rateHz,
		IsBurst: parseBoolParam(n.Params, "burst"),
		IsVideo: isVideo,
	}

	var device node.Device
	if isVideo {
		if _, err := eng.AddVideoStream(videoRoot(n, storageRoot), streamID, capacity); err != nil {
			return nil, err
		}
		device = newSyntheticCameraDevice(rateHz, numBytes)
	} else {
		eng.AddTabularStream(streamID, capacity)
		device = newSyntheticDevice(rateHz, numBytes)
	}

	publish := func(f *transport.DataFrame) { proxy.Publish(f) }

	return node.NewProducer(desc, stream, coord, device, clk, delays.For(streamID), publish)
}

func videoRoot(n cmn.NodeSpec, storageRoot string) string {
	if v, ok := n.Params["video_root"]; ok {
		return v
	}
	return storageRoot
}

func buildConsumer(n cmn.NodeSpec, desc meta.NodeDescriptor, coord transport.CoordChannel, proxy *transport.Proxy, eng *storage.Engine, streamsByID map[string]core.Stream) (*node.Consumer, error) {
	var cb node.Callback
	switch n.Driver {
	case "storage":
		// A single storage-sink consumer may front a mix of tabular and
		// video streams; dispatch per-frame by the stream's declared kind.
		tabularSink := storageSinkCallback(eng)
		cb = func(f *transport.DataFrame) {
			if s, ok := streamsByID[f.Topic]; ok && s.IsVideo {
				videoSink(eng, f)
				return
			}
			tabularSink(f)
		}
	default:
		cb = loggerCallback(desc.NodeID)
	}
	return node.NewConsumer(desc, coord, proxy.Bus, n.Streams, cb), nil
}

// videoSink pushes one delivered video frame into its registered ring
// (storage.Engine.AddVideoStream already attached the VideoWriter; Push
// is the uniform ingestion path for both tabular and video streams).
func videoSink(eng *storage.Engine, f *transport.DataFrame) {
	devicePTS, frame := splitVideoPayload(f.Payload)
	if err := eng.Push(f.Topic, core.Sample{
			StreamID: f.Topic,
			Seq: f.Seq,
			HostArrivalTS: f.ReferenceTSNS,
			DeviceTS: devicePTS,
			Payload: frame,
		}); err != nil {
		nlog.Warningf("video sink: push %s: %v", f.Topic, err)
	}
}

func buildPipeline(n cmn.NodeSpec, desc meta.NodeDescriptor, coord transport.CoordChannel, proxy *transport.Proxy, publish node.Publisher) (*node.Pipeline, error) {
	heartbeatHz := parseFloatParam(n.Params, "heartbeat_hz", 0)
	react, generate := echoPipelineFuncs(desc.NodeID, heartbeatHz)
	return node.NewPipeline(desc, coord, proxy.Bus, n.Streams, react, generate, publish), nil
}
