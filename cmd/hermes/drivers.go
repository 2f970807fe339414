// Drivers in this file stand in for the vendor-SDK, storage-sink, and
// latency-test-harness collaborators HERMES deliberately keeps
// external to the core: a named registry of Device/Callback/Pipeline
// implementations selected by config, the same way a backend provider
// is selected by name at boot.
/*
 * Copyright (c) 2024, HERMES authors. All rights reserved.
 */
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/hermes-sensorfusion/hermes/cmn/cos"
	"github.com/hermes-sensorfusion/hermes/cmn/nlog"
	"github.com/hermes-sensorfusion/hermes/core"
	"github.com/hermes-sensorfusion/hermes/node"
	"github.com/hermes-sensorfusion/hermes/storage"
	"github.com/hermes-sensorfusion/hermes/transport"
	"golang.org/x/time/rate"
)

// syntheticDevice generates fixed-size random payloads at a configured
// rate. It is the default Producer driver: HERMES has no vendor sensor
// SDK bindings in scope, so this is what exercises the
// Producer data path end to end, doubling as the latency-test harness
// collaborator (driven via the HERMES_EXP_RATE, HERMES_EXP_NUM_BYTES
// env vars).
type syntheticDevice struct {
	limiter *rate.Limiter
	numBytes int
	rnd *rand.Rand
}

func newSyntheticDevice(rateHz float64, numBytes int) *syntheticDevice {
	if rateHz <= 0 {
		rateHz = 100
	}
	if numBytes <= 0 {
		numBytes = 64
	}
	return &syntheticDevice{
		limiter: rate.NewLimiter(rate.Limit(rateHz), 1),
		numBytes: numBytes,
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (d *syntheticDevice) Open() error { return nil }
func (d *syntheticDevice) Close() error { return nil }

func (d *syntheticDevice) Read(ctx context.Context) ([]byte, int64, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}
	payload := make([]byte, d.numBytes)
	_, _ = d.rnd.Read(payload)
	return payload, time.Now().UnixNano(), nil
}

// expHarnessParams reads the two env vars reserved for the
// latency-test harness (HERMES_EXP_RATE, HERMES_EXP_NUM_BYTES), falling
// back to a NodeSpec's own params when unset.
func expHarnessParams(params map[string]string) (rateHz float64, numBytes int) {
	rateHz = parseFloatParam(params, "rate_hz", 100)
	numBytes = parseIntParam(params, "num_bytes", 64)
	if v := os.Getenv("HERMES_EXP_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rateHz = f
		}
	}
	if v := os.Getenv("HERMES_EXP_NUM_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			numBytes = n
		}
	}
	return rateHz, numBytes
}

func parseFloatParam(params map[string]string, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func parseIntParam(params map[string]string, key string, def int) int {
	if v, ok := params[key]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func parseBoolParam(params map[string]string, key string) bool {
	v, ok := params[key]
	return ok && (v == "true" || v == "1")
}

// decodeSample recovers a core.Sample from a delivered DataFrame, the
// inverse of what Producer.loop hands to transport.DataFrame.
func decodeSample(f *transport.DataFrame) core.Sample {
	return core.Sample{
		StreamID: f.Topic,
		Seq: f.Seq,
		HostArrivalTS: f.ReferenceTSNS,
		DeviceTS: 0,
		Payload: f.Payload,
	}
}

// storageSinkCallback is the consumer driver that feeds the Storage
// engine.
func storageSinkCallback(eng *storage.Engine) node.Callback {
	return func(f *transport.DataFrame) {
		if err := eng.Push(f.Topic, decodeSample(f)); err != nil {
			if _, isOverflow := err.(*cos.ErrOverflow); !isOverflow {
				nlog.Warningf("storage sink: push %s: %v", f.Topic, err)
			}
		}
	}
}

// syntheticCameraDevice is the Producer driver for is_video streams: the
// data-plane wire envelope carries no separate device_ts field,
// so the camera convention used here prefixes each frame's payload with
// an 8-byte big-endian device_pts before the opaque frame bytes; the
// storage-sink consumer driver (splitVideoPayload) reverses it before
// the sample reaches Engine.Push, which is is_video-agnostic otherwise.
type syntheticCameraDevice struct {
	*syntheticDevice
	frameNo uint64
}

func newSyntheticCameraDevice(fps float64, frameBytes int) *syntheticCameraDevice {
	return &syntheticCameraDevice{syntheticDevice: newSyntheticDevice(fps, frameBytes)}
}

func (d *syntheticCameraDevice) Read(ctx context.Context) ([]byte, int64, error) {
	raw, deviceTS, err := d.syntheticDevice.Read(ctx)
	if err != nil {
		return nil, 0, err
	}
	d.frameNo++
	out := make([]byte, 8+len(raw))
	binary.BigEndian.PutUint64(out[:8], uint64(deviceTS))
	copy(out[8:], raw)
	return out, deviceTS, nil
}

// splitVideoPayload reverses syntheticCameraDevice's 8-byte device_pts
// prefix convention, recovering the (devicePTS, frame) pair Engine's
// flushVideo expects on a core.Sample.
func splitVideoPayload(payload []byte) (devicePTS int64, frame []byte) {
	if len(payload) < 8 {
		return 0, payload
	}
	return int64(binary.BigEndian.Uint64(payload[:8])), payload[8:]
}

// loggerCallback is a diagnostic consumer driver: logs one line per
// delivered frame, useful for smoke-testing a topology without Storage.
func loggerCallback(nodeID string) node.Callback {
	return func(f *transport.DataFrame) {
		nlog.Infof("consumer %s: frame topic=%s seq=%d ref_ts=%d bytes=%d", nodeID, f.Topic, f.Seq, f.ReferenceTSNS, len(f.Payload))
	}
}

// echoPipelineFuncs builds a pipeline that republishes every ingested frame on an "<topic>.echo"
// output stream and, if heartbeatHz > 0, additionally emits a periodic
// zero-length heartbeat frame from its independent generator worker,
// sharing only ownership-disjoint outbound streams with the react side.
func echoPipelineFuncs(nodeID string, heartbeatHz float64) (node.ReactFunc, node.GenerateFunc) {
	var seq uint64
	react := func(frame *transport.DataFrame, publish node.Publisher) {
		seq++
		publish(&transport.DataFrame{
			Topic:         frame.Topic + ".echo",
			PublisherID:   nodeID,
			Seq:           seq,
			ReferenceTSNS: frame.ReferenceTSNS,
			Payload:       frame.Payload,
		})
	}
	if heartbeatHz <= 0 {
		return react, nil
	}
	generate := func(ctx context.Context, publish node.Publisher) {
		ticker := time.NewTicker(time.Duration(float64(time.Second) / heartbeatHz))
		defer ticker.Stop()
		var hbSeq uint64
		for {
			select {
			case <-ticker.C:
				hbSeq++
				publish(&transport.DataFrame{
					Topic:       fmt.Sprintf("%s.heartbeat", nodeID),
					PublisherID: nodeID,
					Seq:         hbSeq,
				})
			case <-ctx.Done():
				return
			}
		}
	}
	return react, generate
}
