package node_test

import (
	"context"
	"testing"
	"time"

	"github.com/hermes-sensorfusion/hermes/meta"
	"github.com/hermes-sensorfusion/hermes/node"
	"github.com/hermes-sensorfusion/hermes/transport"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	prepareErr error
	startErr error
	stopErr error
}

func (s *stubHandler) OnPrepare(context.Context) error { return s.prepareErr }
func (s *stubHandler) OnStart(context.Context) error { return s.startErr }
func (s *stubHandler) OnStop(context.Context) error { return s.stopErr }

func TestFullLifecyclePrepareStartStop(t *testing.T) {
	broker, nodeSide := transport.NewChanCoordPair(4)
	desc := meta.NodeDescriptor{NodeID: "n1", Role: meta.RoleConsumer}
	base := node.NewBase(desc, nodeSide)
	h := &stubHandler{}

	go func() { _ = base.Serve(context.Background(), h) }()

	require.NoError(t, broker.Send(&transport.ControlMsg{Kind: transport.KindPrepare, SenderID: "broker"}))
	readStatus(t, broker)
	require.Equal(t, node.StateReady, base.State())

	require.NoError(t, broker.Send(&transport.ControlMsg{Kind: transport.KindStart, SenderID: "broker"}))
	readStatus(t, broker)
	require.Equal(t, node.StateRunning, base.State())

	require.NoError(t, broker.Send(&transport.ControlMsg{Kind: transport.KindStop, SenderID: "broker"}))
	readStatus(t, broker)
	require.Equal(t, node.StateDone, base.State())

	select {
	case <-base.WaitServed():
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after DONE")
	}
}

func TestPrepareFailureTransitionsToError(t *testing.T) {
	broker, nodeSide := transport.NewChanCoordPair(4)
	desc := meta.NodeDescriptor{NodeID: "n1", Role: meta.RoleProducer}
	base := node.NewBase(desc, nodeSide)
	h := &stubHandler{prepareErr: assertErr{}}

	go func() { _ = base.Serve(context.Background(), h) }()

	require.NoError(t, broker.Send(&transport.ControlMsg{Kind: transport.KindPrepare, SenderID: "broker"}))
	readStatus(t, broker)
	require.Equal(t, node.StateError, base.State())
}

func readStatus(t *testing.T, coord transport.CoordChannel) *transport.ControlMsg {
	t.Helper()
	msg, err := coord.Recv()
	require.NoError(t, err)
	return msg
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
