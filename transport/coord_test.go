package transport_test

import (
	"net"
	"testing"

	"github.com/hermes-sensorfusion/hermes/transport"
	"github.com/stretchr/testify/require"
)

func TestChanCoordPairDeliversBothDirections(t *testing.T) {
	brokerSide, nodeSide := transport.NewChanCoordPair(4)

	require.NoError(t, brokerSide.Send(&transport.ControlMsg{Kind: transport.KindPrepare, SenderID: "broker"}))
	msg, err := nodeSide.Recv()
	require.NoError(t, err)
	require.Equal(t, transport.KindPrepare, msg.Kind)

	require.NoError(t, nodeSide.Send(&transport.ControlMsg{Kind: transport.KindStatus, SenderID: "n1"}))
	msg, err = brokerSide.Recv()
	require.NoError(t, err)
	require.Equal(t, transport.KindStatus, msg.Kind)
}

func TestChanCoordCloseUnblocksRecv(t *testing.T) {
	brokerSide, nodeSide := transport.NewChanCoordPair(4)
	brokerSide.Close()

	_, err := nodeSide.Recv()
	require.ErrorIs(t, err, transport.ErrCoordClosed)
	_, err = brokerSide.Recv()
	require.ErrorIs(t, err, transport.ErrCoordClosed)
}

func TestConnCoordRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	ca := transport.NewConnCoord(a)
	cb := transport.NewConnCoord(b)

	go func() {
		_ = ca.Send(&transport.ControlMsg{Kind: transport.KindStart, SenderID: "broker"})
	}()
	msg, err := cb.Recv()
	require.NoError(t, err)
	require.Equal(t, transport.KindStart, msg.Kind)
}
