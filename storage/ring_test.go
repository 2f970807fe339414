package storage_test

import (
	"testing"

	"github.com/hermes-sensorfusion/hermes/cmn/cos"
	"github.com/hermes-sensorfusion/hermes/core"
	"github.com/hermes-sensorfusion/hermes/storage"
	"github.com/stretchr/testify/require"
)

func TestRingCapacityExactlyFullSucceeds(t *testing.T) {
	r := storage.NewRing("imu0", 4)
	for i := 0; i < 4; i++ {
		require.NoError(t, r.Push(core.Sample{Seq: uint64(i)}))
	}
	require.Equal(t, 4, r.Occupancy())
}

func TestRingOneBeyondCapacityOverflows(t *testing.T) {
	r := storage.NewRing("imu0", 4)
	for i := 0; i < 4; i++ {
		require.NoError(t, r.Push(core.Sample{Seq: uint64(i)}))
	}
	err := r.Push(core.Sample{Seq: 4})
	require.Error(t, err)
	var overflow *cos.ErrOverflow
	require.ErrorAs(t, err, &overflow)
}

func TestClaimFlushAndAdvanceFreesCapacity(t *testing.T) {
	r := storage.NewRing("imu0", 4)
	for i := 0; i < 4; i++ {
		require.NoError(t, r.Push(core.Sample{Seq: uint64(i)}))
	}
	samples, start, end, ok := r.ClaimFlush()
	require.True(t, ok)
	require.EqualValues(t, 0, start)
	require.EqualValues(t, 4, end)
	require.Len(t, samples, 4)

	r.Advance(end)
	require.Equal(t, 0, r.Occupancy())
	require.NoError(t, r.Push(core.Sample{Seq: 4}))
}

func TestClaimFlushEmptyRingIsNotOK(t *testing.T) {
	r := storage.NewRing("imu0", 4)
	_, _, _, ok := r.ClaimFlush()
	require.False(t, ok)
}
