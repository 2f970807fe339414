// Package stats exposes HERMES's runtime counters and gauges, refreshed
// on every relevant event and built on the Prometheus client library:
// HERMES has no StatsD collaborator in scope.
/*
 * Copyright (c) 2024, HERMES authors. All rights reserved.
 */
package stats

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hermes-sensorfusion/hermes/cmn/nlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tracker is the process-wide metrics registry: Storage ring occupancy,
// flush latency, per-stream sequence-gap counters, and Broker FSM state.
type Tracker struct {
	reg *prometheus.Registry

	ringOccupancy *prometheus.GaugeVec
	flushLatency *prometheus.HistogramVec
	seqGaps *prometheus.CounterVec
	brokerState *prometheus.GaugeVec
	peerLinkDropped *prometheus.CounterVec

	srv *http.Server
}

// New constructs a Tracker registered against a private registry (never
// the global default one, so multiple Brokers in the same test binary
// never collide on metric registration).
func New(brokerID string) *Tracker {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"broker_id": brokerID}
	t := &Tracker{
		reg: reg,
		ringOccupancy: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "hermes",
				Subsystem: "storage",
				Name: "ring_occupancy",
				Help: "Current sample count buffered in a stream's storage ring.",
				ConstLabels: constLabels,
			}, []string{"stream_id"}),
		flushLatency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "hermes",
				Subsystem: "storage",
				Name: "flush_latency_seconds",
				Help: "Time to serialize and advance one flushed range.",
				ConstLabels: constLabels,
				Buckets: prometheus.DefBuckets,
			}, []string{"stream_id"}),
		seqGaps: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
				Namespace: "hermes",
				Subsystem: "transport",
				Name: "sequence_gaps_total",
				Help: "Sequence-number gaps observed by a subscriber.",
				ConstLabels: constLabels,
			}, []string{"stream_id"}),
		brokerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "hermes",
				Subsystem: "broker",
				Name: "fsm_state",
				Help: "1 for the Broker's current FSM state, 0 otherwise, one series per known state.",
				ConstLabels: constLabels,
			}, []string{"state"}),
		peerLinkDropped: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
				Namespace: "hermes",
				Subsystem: "transport",
				Name: "peerlink_dropped_total",
				Help: "Frames dropped on a peer link send queue.",
				ConstLabels: constLabels,
			}, []string{"peer_id"}),
	}
	return t
}

func (t *Tracker) SetRingOccupancy(streamID string, n int) {
	t.ringOccupancy.WithLabelValues(streamID).Set(float64(n))
}

func (t *Tracker) ObserveFlushLatency(streamID string, d time.Duration) {
	t.flushLatency.WithLabelValues(streamID).Observe(d.Seconds())
}

func (t *Tracker) AddSeqGap(streamID string, n int) {
	t.seqGaps.WithLabelValues(streamID).Add(float64(n))
}

func (t *Tracker) AddPeerLinkDropped(peerID string, n int) {
	t.peerLinkDropped.WithLabelValues(peerID).Add(float64(n))
}

// knownStates lists every Broker FSM state so SetBrokerState can zero out
// the previous state's series instead of leaving it stuck at 1.
var knownStates = []string{"BOOT", "DISCOVER", "SYNC", "READY", "RUN", "DRAIN", "STOP", "FAILED"}

// SetBrokerState marks state as current (1) and every other known state
// as inactive (0), so a dashboard can graph FSM occupancy over time.
func (t *Tracker) SetBrokerState(state string) {
	for _, s := range knownStates {
		if s == state {
			t.brokerState.WithLabelValues(s).Set(1)
		} else {
			t.brokerState.WithLabelValues(s).Set(0)
		}
	}
}

// Serve starts the /metrics HTTP endpoint on addr if addr is non-empty.
// It returns immediately; the server runs until Shutdown is called.
func (t *Tracker) Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(t.reg, promhttp.HandlerOpts{}))
	t.srv = &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := t.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			nlog.Errorf("stats: metrics server stopped: %v", err)
		}
	}()
}

// Shutdown gracefully stops the metrics server, if one was started.
func (t *Tracker) Shutdown(ctx context.Context) error {
	if t.srv == nil {
		return nil
	}
	return t.srv.Shutdown(ctx)
}
