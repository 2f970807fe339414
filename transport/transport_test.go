package transport_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/hermes-sensorfusion/hermes/transport"
	"github.com/stretchr/testify/require"
)

func TestControlMsgRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := &transport.ControlMsg{Kind: transport.KindAnnounce, SenderID: "a", MonotonicNS: 42, Payload: []byte("hi")}
	require.NoError(t, transport.WriteControlMsg(&buf, in))

	out, err := transport.ReadControlMsg(&buf)
	require.NoError(t, err)
	require.Equal(t, in.Kind, out.Kind)
	require.Equal(t, in.SenderID, out.SenderID)
	require.Equal(t, in.MonotonicNS, out.MonotonicNS)
	require.Equal(t, in.Payload, out.Payload)
}

func TestDataFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := &transport.DataFrame{Topic: "imu0", PublisherID: "a/imu", Seq: 7, ReferenceTSNS: 123456789, Payload: []byte{1, 2, 3, 4}}
	require.NoError(t, transport.WriteDataFrame(&buf, in))

	out, err := transport.ReadDataFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, in.Topic, out.Topic)
	require.Equal(t, in.PublisherID, out.PublisherID)
	require.Equal(t, in.Seq, out.Seq)
	require.Equal(t, in.ReferenceTSNS, out.ReferenceTSNS)
	require.Equal(t, in.Payload, out.Payload)
}

func TestBusFanOutToMultipleSubscribers(t *testing.T) {
	bus := transport.NewBus()
	s1 := bus.Subscribe("imu0")
	s2 := bus.Subscribe("imu0")
	defer s1.Unsubscribe()
	defer s2.Unsubscribe()

	bus.Publish(&transport.DataFrame{Topic: "imu0", Seq: 1})

	for _, s := range []*transport.Subscriber{s1, s2} {
		select {
		case f := <-s.Frames():
			require.EqualValues(t, 1, f.Seq)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for frame")
		}
	}
}

func TestBusDropsOnFullQueueWithoutBlocking(t *testing.T) {
	bus := transport.NewBus()
	s := bus.Subscribe("cam0")
	defer s.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 2000; i++ {
			bus.Publish(&transport.DataFrame{Topic: "cam0", Seq: uint64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber queue")
	}
	require.Greater(t, s.Dropped(), int64(0))
}

func TestProxyForwardsToLocalAndPeers(t *testing.T) {
	proxy := transport.NewProxy()
	local := proxy.Bus.Subscribe("imu0")
	defer local.Unsubscribe()

	var peerBuf bytes.Buffer
	link := transport.NewPeerLink("b", &peerBuf, 16)
	proxy.AddPeer(link)

	proxy.Publish(&transport.DataFrame{Topic: "imu0", PublisherID: "a/imu", Seq: 1, Payload: []byte("x")})

	select {
	case <-local.Frames():
	case <-time.After(time.Second):
		t.Fatal("local subscriber never received frame")
	}

	link.Close()
	sent, dropped := link.Stats()
	require.EqualValues(t, 1, sent)
	require.EqualValues(t, 0, dropped)

	out, err := transport.ReadDataFrame(&peerBuf)
	require.NoError(t, err)
	require.Equal(t, "imu0", out.Topic)
}
