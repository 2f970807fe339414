package node_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hermes-sensorfusion/hermes/meta"
	"github.com/hermes-sensorfusion/hermes/node"
	"github.com/hermes-sensorfusion/hermes/transport"
	"github.com/stretchr/testify/require"
)

func TestConsumerDeliversEveryPublishedFrame(t *testing.T) {
	bus := transport.NewBus()
	broker, nodeSide := transport.NewChanCoordPair(4)
	desc := meta.NodeDescriptor{NodeID: "logger0", Role: meta.RoleConsumer}

	var mu sync.Mutex
	var got []*transport.DataFrame
	cb := func(f *transport.DataFrame) {
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	}

	c := node.NewConsumer(desc, nodeSide, bus, []string{"imu0/acc"}, cb)
	go func() { _ = c.Serve(context.Background(), c) }()

	require.NoError(t, broker.Send(&transport.ControlMsg{Kind: transport.KindPrepare}))
	_, err := broker.Recv()
	require.NoError(t, err)
	require.NoError(t, broker.Send(&transport.ControlMsg{Kind: transport.KindStart}))
	_, err = broker.Recv()
	require.NoError(t, err)

	// Give the subscription time to register before publishing.
	require.Eventually(t, func() bool { return bus.SubscriberCount("imu0/acc") == 1 }, time.Second, time.Millisecond)

	for i := 0; i < 5; i++ {
		bus.Publish(&transport.DataFrame{Topic: "imu0/acc", Seq: uint64(i)})
	}

	require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(got) == 5
		}, time.Second, 5*time.Millisecond)

	require.NoError(t, broker.Send(&transport.ControlMsg{Kind: transport.KindStop}))
	_, err = broker.Recv()
	require.NoError(t, err)
	require.Equal(t, 0, bus.SubscriberCount("imu0/acc"))
}
