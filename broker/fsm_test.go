package broker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFSMHappyPathSequence(t *testing.T) {
	var seen []State
	f := newFSM(func(s State) { seen = append(seen, s) })
	require.Equal(t, StateBoot, f.State())

	steps := []State{StateDiscover, StateSync, StateReady, StateRun, StateDrain, StateStop}
	for _, want := range steps {
		require.Equal(t, want, f.transition(EvProceed))
	}
	require.Equal(t, StateStop, f.State())
	require.Equal(t, append([]State{StateBoot}, steps...), seen)
}

func TestFSMFailTransitionsToFailed(t *testing.T) {
	f := newFSM(nil)
	f.transition(EvProceed) // BOOT -> DISCOVER
	require.Equal(t, StateFailed, f.transition(EvFail))
}

func TestFSMUndefinedPairForcesFailed(t *testing.T) {
	f := newFSM(nil)
	for i := 0; i < 6; i++ {
		f.transition(EvProceed)
	}
	require.Equal(t, StateStop, f.State())
	// StateStop has no outgoing transitions: any event is illegal and
	// forces FAILED rather than panicking (production-build behavior).
	require.Equal(t, StateFailed, f.transition(EvProceed))
}
