package node_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hermes-sensorfusion/hermes/clock"
	"github.com/hermes-sensorfusion/hermes/core"
	"github.com/hermes-sensorfusion/hermes/meta"
	"github.com/hermes-sensorfusion/hermes/node"
	"github.com/hermes-sensorfusion/hermes/transport"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	mu sync.Mutex
	opened bool
	closed bool
	n int
}

func (d *fakeDevice) Open() error { d.opened = true; return nil }
func (d *fakeDevice) Read(ctx context.Context) ([]byte, int64, error) {
	d.mu.Lock()
	d.n++
	n := d.n
	d.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case <-time.After(time.Millisecond):
	}
	return []byte{byte(n)}, int64(n), nil
}
func (d *fakeDevice) Close() error { d.closed = true; return nil }

func TestProducerPublishesStampedFrames(t *testing.T) {
	broker, nodeSide := transport.NewChanCoordPair(4)
	desc := meta.NodeDescriptor{NodeID: "imu0", Role: meta.RoleProducer}
	stream := core.Stream{ID: "imu0/acc"}
	clk := clock.New()
	clk.SetOffset(1000)

	var mu sync.Mutex
	var frames []*transport.DataFrame
	pub := func(f *transport.DataFrame) {
		mu.Lock()
		frames = append(frames, f)
		mu.Unlock()
	}

	dev := &fakeDevice{}
	p, err := node.NewProducer(desc, stream, nodeSide, dev, clk, nil, pub)
	require.NoError(t, err)
	require.True(t, dev.opened)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Serve(ctx, p) }()

	require.NoError(t, broker.Send(&transport.ControlMsg{Kind: transport.KindPrepare}))
	_, err = broker.Recv()
	require.NoError(t, err)
	require.NoError(t, broker.Send(&transport.ControlMsg{Kind: transport.KindStart}))
	_, err = broker.Recv()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(frames) >= 3
		}, time.Second, 5*time.Millisecond)

	require.NoError(t, broker.Send(&transport.ControlMsg{Kind: transport.KindStop}))
	_, err = broker.Recv()
	require.NoError(t, err)
	require.True(t, dev.closed)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(frames); i++ {
		require.LessOrEqual(t, frames[i-1].Seq, frames[i].Seq)
		require.Equal(t, stream.ID, frames[i].Topic)
		require.Equal(t, desc.NodeID, frames[i].PublisherID)
	}
}
