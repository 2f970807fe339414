package core_test

import (
	"testing"
	"time"

	"github.com/hermes-sensorfusion/hermes/core"
	"github.com/stretchr/testify/require"
)

func TestZeroDelayIsZero(t *testing.T) {
	require.Equal(t, time.Duration(0), core.ZeroDelay("imu0", core.SampleMetadata{}))
}

func TestDelayEstimatorsRegistryFallsBackToZero(t *testing.T) {
	reg := core.NewDelayEstimators()
	require.Equal(t, time.Duration(0), reg.For("unregistered")("unregistered", core.SampleMetadata{}))

	reg.Register("imu0", func(string, core.SampleMetadata) time.Duration { return 5 * time.Millisecond })
	require.Equal(t, 5*time.Millisecond, reg.For("imu0")("imu0", core.SampleMetadata{}))
}

// Pure-function property (invariant 8): calling twice with identical
// metadata yields identical corrections.
func TestDelayEstimatorIsPure(t *testing.T) {
	est := func(_ string, meta core.SampleMetadata) time.Duration {
		return time.Duration(meta.DeviceTS % 1000)
	}
	meta := core.SampleMetadata{StreamID: "cam0", DeviceTS: 123456}
	require.Equal(t, est("cam0", meta), est("cam0", meta))
}
