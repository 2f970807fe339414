package meta_test

import (
	"testing"

	"github.com/hermes-sensorfusion/hermes/meta"
	"github.com/stretchr/testify/require"
)

func TestElectReferenceSoleBroker(t *testing.T) {
	s := meta.NewSmap()
	s.Put(&meta.BrokerDescriptor{BrokerID: "a"})
	id, ok := s.ElectReference()
	require.True(t, ok)
	require.Equal(t, "a", id)
}

func TestElectReferenceLexicographicallySmallest(t *testing.T) {
	s := meta.NewSmap()
	s.Put(&meta.BrokerDescriptor{BrokerID: "b", IsClockRef: true})
	s.Put(&meta.BrokerDescriptor{BrokerID: "a", IsClockRef: true})
	s.Put(&meta.BrokerDescriptor{BrokerID: "c", IsClockRef: false})
	id, ok := s.ElectReference()
	require.True(t, ok)
	require.Equal(t, "a", id)
}

func TestElectReferenceAmbiguousWithoutEligible(t *testing.T) {
	s := meta.NewSmap()
	s.Put(&meta.BrokerDescriptor{BrokerID: "a"})
	s.Put(&meta.BrokerDescriptor{BrokerID: "b"})
	_, ok := s.ElectReference()
	require.False(t, ok)
}

func TestQuorum(t *testing.T) {
	s := meta.NewSmap()
	s.Put(&meta.BrokerDescriptor{BrokerID: "a"})
	require.False(t, s.Quorum([]string{"a", "b"}))
	s.Put(&meta.BrokerDescriptor{BrokerID: "b"})
	require.True(t, s.Quorum([]string{"a", "b"}))
}

func TestCloneIsIndependent(t *testing.T) {
	s := meta.NewSmap()
	s.Put(&meta.BrokerDescriptor{BrokerID: "a"})
	clone := s.Clone()
	clone.Put(&meta.BrokerDescriptor{BrokerID: "b"})
	require.Len(t, s.Brokers, 1)
	require.Len(t, clone.Brokers, 2)
}
