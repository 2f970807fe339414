package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/hermes-sensorfusion/hermes/cmn/atomic"
	"github.com/hermes-sensorfusion/hermes/cmn/cos"
	"github.com/hermes-sensorfusion/hermes/cmn/nlog"
	"github.com/hermes-sensorfusion/hermes/core"
	"github.com/hermes-sensorfusion/hermes/hk"
	"github.com/hermes-sensorfusion/hermes/stats"
)

// OverflowHandler is invoked when a ring overflows; the Broker wires this
// to transition the host into DRAIN with an overflow diagnostic.
type OverflowHandler func(streamID string, err *cos.ErrOverflow)

// Engine is the storage subsystem for one session: one ring and one
// flush task per subscribed stream, scheduled on a shared housekeeper.
type Engine struct {
	hk *hk.Housekeeper
	container *Container
	stats *stats.Tracker

	baseInterval time.Duration
	fastInterval time.Duration
	highWater float64
	onOverflow OverflowHandler

	mu sync.RWMutex
	rings map[string]*Ring
	videoWriters map[string]*VideoWriter

	draining atomic.Bool
}

// NewEngine constructs a storage engine writing into container, driven by
// hkRunner. baseInterval/fastInterval are the normal and high-water flush
// periods.
func NewEngine(container *Container, hkRunner *hk.Housekeeper, baseInterval, fastInterval time.Duration, highWater float64, onOverflow OverflowHandler) *Engine {
	return &Engine{
		hk: hkRunner,
		container: container,
		baseInterval: baseInterval,
		fastInterval: fastInterval,
		highWater: highWater,
		onOverflow: onOverflow,
		rings: make(map[string]*Ring),
		videoWriters: make(map[string]*VideoWriter),
	}
}

// SetStats wires a stats.Tracker so every flush reports ring occupancy
// and flush latency; nil (the default) disables reporting.
func (e *Engine) SetStats(t *stats.Tracker) { e.stats = t }

// AddTabularStream registers a ring for a tabular stream and schedules
// its flush task.
func (e *Engine) AddTabularStream(streamID string, capacity int) *Ring {
	ring := NewRing(streamID, capacity)
	e.mu.Lock()
	e.rings[streamID] = ring
	e.mu.Unlock()
	e.hk.Reg(streamID+hk.NameSuffix, func() time.Duration { return e.flushTabular(ring) }, e.baseInterval)
	return ring
}

// AddVideoStream registers a ring plus a VideoWriter for a camera stream
// and schedules its flush task.
func (e *Engine) AddVideoStream(root, streamID string, capacity int) (*Ring, error) {
	vw, err := NewVideoWriter(root, streamID)
	if err != nil {
		return nil, err
	}
	ring := NewRing(streamID, capacity)
	e.mu.Lock()
	e.rings[streamID] = ring
	e.videoWriters[streamID] = vw
	e.mu.Unlock()
	e.hk.Reg(streamID+hk.NameSuffix, func() time.Duration { return e.flushVideo(ring, vw) }, e.baseInterval)
	return ring, nil
}

// Push appends a sample to streamID's ring. A *cos.ErrOverflow is fatal
// for the session: the caller is expected to propagate it
// to the owning Broker.
func (e *Engine) Push(streamID string, s core.Sample) error {
	e.mu.RLock()
	ring, ok := e.rings[streamID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("storage: unknown stream %q", streamID)
	}
	if err := ring.Push(s); err != nil {
		if of, isOverflow := err.(*cos.ErrOverflow); isOverflow && e.onOverflow != nil {
			e.onOverflow(streamID, of)
		}
		return err
	}
	return nil
}

func (e *Engine) flushTabular(ring *Ring) time.Duration {
	start0 := time.Now()
	samples, start, end, ok := ring.ClaimFlush()
	if ok {
		block := Block{StreamID: ring.StreamID(), StartSeq: start, EndSeq: end, Samples: samples}
		if err := e.container.AppendBlock(block); err != nil {
			nlog.Errorf("storage: flush %s failed: %v", ring.StreamID(), err)
			e.reportFlush(ring, start0)
			return e.nextInterval(ring)
		}
		ring.Advance(end)
	}
	e.reportFlush(ring, start0)
	return e.nextInterval(ring)
}

func (e *Engine) flushVideo(ring *Ring, vw *VideoWriter) time.Duration {
	start0 := time.Now()
	samples, _, end, ok := ring.ClaimFlush()
	if ok {
		for _, s := range samples {
			if err := vw.WriteFrame(s.HostArrivalTS, s.DeviceTS, s.Payload); err != nil {
				nlog.Errorf("storage: video flush %s failed: %v", ring.StreamID(), err)
				e.reportFlush(ring, start0)
				return e.nextInterval(ring)
			}
		}
		ring.Advance(end)
	}
	e.reportFlush(ring, start0)
	return e.nextInterval(ring)
}

// reportFlush feeds one flush task's latency and the ring's resulting
// occupancy into stats, if a Tracker was wired via SetStats.
func (e *Engine) reportFlush(ring *Ring, started time.Time) {
	if e.stats == nil {
		return
	}
	e.stats.ObserveFlushLatency(ring.StreamID(), time.Since(started))
	e.stats.SetRingOccupancy(ring.StreamID(), ring.Occupancy())
}

// nextInterval implements the backpressure policy: once
// occupancy crosses the configured high-water fraction, the flusher wakes
// more often until it drains back below it.
func (e *Engine) nextInterval(ring *Ring) time.Duration {
	if e.draining.Load() {
		return 0 // flush task is being driven manually by Drain
	}
	if ring.OccupancyFrac() >= e.highWater {
		return e.fastInterval
	}
	return e.baseInterval
}

// TotalUnflushed sums the occupancy across every registered ring, used
// for the DRAIN diagnostic.
func (e *Engine) TotalUnflushed() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	total := 0
	for _, r := range e.rings {
		total += r.Occupancy()
	}
	return total
}

// Drain flushes every ring until empty or deadline elapses: the final
// flush must complete before the Node reports DONE, and the deadline is
// a hard ceiling beyond which remaining data is discarded and reported.
func (e *Engine) Drain(deadline time.Duration) (unflushed int, err error) {
	e.draining.Store(true)
	defer e.draining.Store(false)

	e.mu.RLock()
	rings := make([]*Ring, 0, len(e.rings))
	for _, r := range e.rings {
		rings = append(rings, r)
	}
	e.mu.RUnlock()

	deadlineAt := time.Now().Add(deadline)
	for {
		anyLeft := false
		for _, r := range rings {
			if r.Occupancy() > 0 {
				anyLeft = true
				break
			}
		}
		if !anyLeft {
			if syncErr := e.syncAll(); syncErr != nil {
				return 0, syncErr
			}
			return 0, nil
		}
		if time.Now().After(deadlineAt) {
			unflushed = e.TotalUnflushed()
			return unflushed, &cos.ErrDrainTimeout{Unflushed: unflushed}
		}
		for _, r := range rings {
			if vw, isVideo := e.videoWriterFor(r.StreamID()); isVideo {
				e.flushVideo(r, vw)
			} else {
				e.flushTabular(r)
			}
		}
	}
}

func (e *Engine) videoWriterFor(streamID string) (*VideoWriter, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	vw, ok := e.videoWriters[streamID]
	return vw, ok
}

func (e *Engine) syncAll() error {
	if err := e.container.Sync(); err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, vw := range e.videoWriters {
		if err := vw.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Close unregisters every flush task and closes underlying files.
func (e *Engine) Close() error {
	e.mu.Lock()
	streamIDs := make([]string, 0, len(e.rings))
	for id := range e.rings {
		streamIDs = append(streamIDs, id)
	}
	e.mu.Unlock()
	for _, id := range streamIDs {
		e.hk.Unreg(id + hk.NameSuffix)
	}
	var firstErr error
	for _, vw := range e.videoWriters {
		if err := vw.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.container.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
