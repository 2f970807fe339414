package hk_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/hermes-sensorfusion/hermes/hk"
	"github.com/stretchr/testify/require"
)

func TestRegFiresRepeatedly(t *testing.T) {
	h := hk.New()
	go h.Run()
	h.WaitStarted()
	defer h.Stop()

	var n int32
	h.Reg("tick", func() time.Duration {
			atomic.AddInt32(&n, 1)
			return 5 * time.Millisecond
		}, time.Millisecond)

	require.Eventually(t, func() bool {
			return atomic.LoadInt32(&n) >= 3
		}, time.Second, time.Millisecond)
}

func TestUnregStopsFiring(t *testing.T) {
	h := hk.New()
	go h.Run()
	h.WaitStarted()
	defer h.Stop()

	var n int32
	h.Reg("tick", func() time.Duration {
			atomic.AddInt32(&n, 1)
			return time.Millisecond
		}, time.Millisecond)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&n) >= 1 }, time.Second, time.Millisecond)
	h.Unreg("tick")
	snap := atomic.LoadInt32(&n)
	time.Sleep(50 * time.Millisecond)
	require.LessOrEqual(t, atomic.LoadInt32(&n), snap+1) // at most one in-flight fire races the Unreg
}

func TestZeroIntervalUnregisters(t *testing.T) {
	h := hk.New()
	go h.Run()
	h.WaitStarted()
	defer h.Stop()

	var n int32
	h.Reg("once", func() time.Duration {
			atomic.AddInt32(&n, 1)
			return 0
		}, time.Millisecond)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&n) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&n))
}
