package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/hermes-sensorfusion/hermes/broker"
	"github.com/hermes-sensorfusion/hermes/clock"
	"github.com/hermes-sensorfusion/hermes/cmn"
	"github.com/hermes-sensorfusion/hermes/meta"
	"github.com/stretchr/testify/require"
)

// TestTwoBrokerSyncRunDrain exercises the full Broker lifecycle over real
// loopback TCP sockets: DISCOVER finds the peer, SYNC elects a reference
// and barriers on SYNC_OK, READY barriers on ALL_READY, and an operator
// abort on one host propagates DRAIN to the other.
func TestTwoBrokerSyncRunDrain(t *testing.T) {
	descA := meta.BrokerDescriptor{BrokerID: "b1", ControlEndpoint: "127.0.0.1:19901", DataEndpoint: "127.0.0.1:19902", IsClockRef: true}
	descB := meta.BrokerDescriptor{BrokerID: "b2", ControlEndpoint: "127.0.0.1:19903", DataEndpoint: "127.0.0.1:19904"}

	cfgA := &cmn.Config{
		BrokerID: "b1", ControlEndpoint: descA.ControlEndpoint, DataEndpoint: descA.DataEndpoint,
		Peers: []string{descB.ControlEndpoint}, ClockEligible: true,
		Storage: cmn.StorageConfig{RootDir: "/tmp", HighWater: 0.8, DrainDeadlineMS: 100},
		Sync: cmn.SyncConfig{DiscoverTimeoutMS: 3000, SyncTimeoutMS: 3000},
	}
	cfgB := &cmn.Config{
		BrokerID: "b2", ControlEndpoint: descB.ControlEndpoint, DataEndpoint: descB.DataEndpoint,
		Peers: []string{descA.ControlEndpoint},
		Storage: cmn.StorageConfig{RootDir: "/tmp", HighWater: 0.8, DrainDeadlineMS: 100},
		Sync: cmn.SyncConfig{DiscoverTimeoutMS: 3000, SyncTimeoutMS: 3000},
	}

	brkA := broker.New(cfgA, descA, clock.New(), nil, nil, nil, nil, nil)
	brkB := broker.New(cfgB, descB, clock.New(), nil, nil, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doneA := make(chan broker.ExitCode, 1)
	doneB := make(chan broker.ExitCode, 1)
	go func() { doneA <- brkA.Run(ctx) }()
	go func() { doneB <- brkB.Run(ctx) }()

	require.Eventually(t, func() bool { return brkA.State() == broker.StateRun }, 3*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return brkB.State() == broker.StateRun }, 3*time.Second, 5*time.Millisecond)

	brkA.AbortRun()

	require.Equal(t, broker.ExitUserAbort, <-doneA)
	require.Equal(t, broker.ExitClean, <-doneB)
}

// TestDiscoverFailsWithoutQuorum confirms a host configured with an
// unreachable peer fails DISCOVER rather than hanging.
func TestDiscoverFailsWithoutQuorum(t *testing.T) {
	desc := meta.BrokerDescriptor{BrokerID: "lonely", ControlEndpoint: "127.0.0.1:19911", DataEndpoint: "127.0.0.1:19912"}
	cfg := &cmn.Config{
		BrokerID: "lonely", ControlEndpoint: desc.ControlEndpoint, DataEndpoint: desc.DataEndpoint,
		Peers: []string{"127.0.0.1:19999"},
		Storage: cmn.StorageConfig{RootDir: "/tmp", HighWater: 0.8, DrainDeadlineMS: 100},
		Sync: cmn.SyncConfig{DiscoverTimeoutMS: 100, SyncTimeoutMS: 100},
	}
	brk := broker.New(cfg, desc, clock.New(), nil, nil, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.Equal(t, broker.ExitDiscoverySyncFail, brk.Run(ctx))
}

// TestConfigErrorShortCircuits confirms Run never boots a host with an
// invalid config.
func TestConfigErrorShortCircuits(t *testing.T) {
	cfg := &cmn.Config{} // missing broker_id, storage root, sync timeouts
	brk := broker.New(cfg, meta.BrokerDescriptor{BrokerID: "x"}, clock.New(), nil, nil, nil, nil, nil)
	require.Equal(t, broker.ExitConfigError, brk.Run(context.Background()))
}
