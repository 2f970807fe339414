package stats_test

import (
	"context"
	"testing"
	"time"

	"github.com/hermes-sensorfusion/hermes/stats"
	"github.com/stretchr/testify/require"
)

func TestSetBrokerStateDoesNotPanic(t *testing.T) {
	tr := stats.New("broker-a")
	require.NotPanics(t, func() { tr.SetBrokerState("BOOT") })
	require.NotPanics(t, func() { tr.SetBrokerState("SYNC") })
}

func TestRingOccupancyAndFlushLatencyDoNotPanic(t *testing.T) {
	tr := stats.New("broker-a")
	tr.SetRingOccupancy("imu0", 42)
	tr.ObserveFlushLatency("imu0", 5*time.Millisecond)
	tr.AddSeqGap("imu0", 1)
	tr.AddPeerLinkDropped("broker-b", 3)
}

func TestServeNoopOnEmptyAddr(t *testing.T) {
	tr := stats.New("broker-a")
	tr.Serve("")
	require.NoError(t, tr.Shutdown(context.Background()))
}
