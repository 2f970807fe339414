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

func TestPipelineIngestAndGenerateRunIndependently(t *testing.T) {
	bus := transport.NewBus()
	broker, nodeSide := transport.NewChanCoordPair(4)
	desc := meta.NodeDescriptor{NodeID: "pipe0", Role: meta.RolePipeline}

	var mu sync.Mutex
	var reacted, generated int

	react := func(f *transport.DataFrame, publish node.Publisher) {
		mu.Lock()
		reacted++
		mu.Unlock()
	}
	generate := func(ctx context.Context, publish node.Publisher) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
				mu.Lock()
				generated++
				mu.Unlock()
			}
		}
	}

	p := node.NewPipeline(desc, nodeSide, bus, []string{"in"}, react, generate, func(*transport.DataFrame) {})
	go func() { _ = p.Serve(context.Background(), p) }()

	require.NoError(t, broker.Send(&transport.ControlMsg{Kind: transport.KindPrepare}))
	_, err := broker.Recv()
	require.NoError(t, err)
	require.NoError(t, broker.Send(&transport.ControlMsg{Kind: transport.KindStart}))
	_, err = broker.Recv()
	require.NoError(t, err)

	require.Eventually(t, func() bool { return bus.SubscriberCount("in") == 1 }, time.Second, time.Millisecond)
	for i := 0; i < 3; i++ {
		bus.Publish(&transport.DataFrame{Topic: "in", Seq: uint64(i)})
	}

	require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return reacted == 3 && generated >= 2
		}, time.Second, 5*time.Millisecond)

	require.NoError(t, broker.Send(&transport.ControlMsg{Kind: transport.KindStop}))
	_, err = broker.Recv()
	require.NoError(t, err)
}
