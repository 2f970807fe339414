package clock_test

import (
	"testing"

	"github.com/hermes-sensorfusion/hermes/clock"
	"github.com/stretchr/testify/require"
)

func TestReferenceTimeAppliesOffset(t *testing.T) {
	c := clock.New()
	before := c.ReferenceTime()
	c.SetOffset(1_000_000_000) // +1s
	after := c.ReferenceTime()
	require.Greater(t, after, before)
}

func TestComputeOffsetSymmetricRoundTrip(t *testing.T) {
	// Reference broker's clock reads 10_000 at the midpoint of a 200ns
	// round trip that started at local mono time 1_000_000.
	probeSent := int64(1_000_000)
	replyRecv := probeSent + 200
	reply := clock.SyncReply{ReferenceID: "a", ReferenceNowNS: 10_000, EchoSentMono: probeSent}

	offset, halfTrip := clock.ComputeOffset(probeSent, replyRecv, reply)

	// estimatedLocalAtRefRead = probeSent + 100 = 1_000_100
	// offset = 10_000 - 1_000_100 = -990_100
	require.Equal(t, int64(10_000)-(probeSent+100), offset)
	require.Equal(t, int64(100), halfTrip)
}

// Invariant 3: two brokers syncing against the same reference reading
// converge to offsets that agree within the round-trip/2 jitter term.
func TestTwoBrokersConvergeWithinTolerance(t *testing.T) {
	refNow := int64(50_000_000)

	// C probes 1ms of local time after B, so the reference clock it reads
	// is 1ms further along.
	offsetB, _ := clock.ComputeOffset(1_000_000, 1_000_100, clock.SyncReply{ReferenceNowNS: refNow})
	offsetC, _ := clock.ComputeOffset(2_000_000, 2_000_300, clock.SyncReply{ReferenceNowNS: refNow + 1_000_000})

	cb, cc := clock.New(), clock.New()
	cb.SetOffset(offsetB)
	cc.SetOffset(offsetC)

	// offsetB = refNow - 1_000_050, offsetC = refNow - 1_000_150: the two
	// offsets differ only by the difference of their half round trips
	// (50ns vs 150ns).
	diff := offsetB - offsetC
	if diff < 0 {
		diff = -diff
	}
	require.Less(t, diff, int64(1000))
}
