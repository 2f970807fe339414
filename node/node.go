// Package node implements the common base of every Producer, Consumer,
// and Pipeline: the explicit tagged-variant Node FSM, the
// coordination request/reply protocol with the owning Broker, shared by
// every role (the delay-estimator hook lives on Producer). Concrete roles
// compose Base by embedding it, the same layering pattern used for
// concrete task types built on a common base type.
/*
 * Copyright (c) 2024, HERMES authors. All rights reserved.
 */
package node

import (
	"context"
	"fmt"

	"github.com/hermes-sensorfusion/hermes/cmn/atomic"
	"github.com/hermes-sensorfusion/hermes/cmn/cos"
	"github.com/hermes-sensorfusion/hermes/cmn/debug"
	"github.com/hermes-sensorfusion/hermes/cmn/nlog"
	"github.com/hermes-sensorfusion/hermes/meta"
	"github.com/hermes-sensorfusion/hermes/transport"
)

// State is one of the Node FSM's tagged variants.
type State int32

const (
	StateInit State = iota
	StateReady
	StateRunning
	StateDraining
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateDraining:
		return "DRAINING"
	case StateDone:
		return "DONE"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is one coordination message kind or internal signal driving a
// transition.
type Event int32

const (
	EvPrepareOK Event = iota
	EvDeviceErr
	EvStart
	EvStop
	EvRuntimeErr
	EvDrained
	EvAbort
)

// transitions is the total function (state, event) -> state:
// pairs absent from this table are programming errors, asserted loudly
// in debug builds and turned into StateError in production.
var transitions = map[State]map[Event]State{
	StateInit: {EvPrepareOK: StateReady, EvDeviceErr: StateError, EvAbort: StateError},
	StateReady: {EvStart: StateRunning, EvAbort: StateError},
	StateRunning: {EvStop: StateDraining, EvRuntimeErr: StateError, EvAbort: StateError},
	StateDraining: {EvDrained: StateDone, EvRuntimeErr: StateError, EvAbort: StateError},
}

// Handler is implemented by each concrete role (Producer, Consumer,
// Pipeline) and invoked by Base as coordination messages arrive.
type Handler interface {
	// OnPrepare runs the role's self-test.
	OnPrepare(ctx context.Context) error
	// OnStart launches the role's production/ingestion loop on its own
	// goroutine and returns immediately, so the reply path is never
	// blocked by device or socket I/O.
	OnStart(ctx context.Context) error
	// OnStop signals the loop to wind down (flush, close device) and
	// blocks until it has, within the caller's context deadline.
	OnStop(ctx context.Context) error
}

// Base is the common Node FSM plus coordination-channel plumbing,
// embedded by Producer, Consumer, and Pipeline.
type Base struct {
	Desc meta.NodeDescriptor
	coord transport.CoordChannel

	state atomic.Int32
	errs cos.Errs
	handler Handler

	replyDone chan struct{}
}

// NewBase constructs the shared Node machinery. coord is this Node's
// coordination channel to its Broker: an address, not an owning handle.
func NewBase(desc meta.NodeDescriptor, coord transport.CoordChannel) *Base {
	b := &Base{Desc: desc, coord: coord, replyDone: make(chan struct{})}
	b.state.Store(int32(StateInit))
	return b
}

func (b *Base) State() State { return State(b.state.Load()) }

// Transition applies event to the current state per the total-function
// table above. An undefined (state, event) pair is a programming error:
// debug builds panic immediately, production builds log and
// force StateError so the Broker's reply path stays responsive.
func (b *Base) Transition(event Event) State {
	cur := b.State()
	table, ok := transitions[cur]
	next, defined := table[event]
	debug.Assertf(ok && defined, "illegal node transition: state=%s event=%d", cur, event)
	if !ok || !defined {
		nlog.Errorf("node %s: illegal transition state=%s event=%d, forcing ERROR", b.Desc.NodeID, cur, event)
		next = StateError
	}
	b.state.Store(int32(next))
	nlog.Infof("node %s: %s -> %s", b.Desc.NodeID, cur, next)
	return next
}

// Errs returns the bounded transient-error collector for per-sample
// failures that don't propagate.
func (b *Base) Errs() *cos.Errs { return &b.errs }

// sendStatus posts an unsolicited STATUS frame to the Broker.
func (b *Base) sendStatus(detail string) {
	if err := b.coord.Send(&transport.ControlMsg{
		Kind:     transport.KindStatus,
		SenderID: b.Desc.NodeID,
		Payload:  []byte(detail),
	}); err != nil {
		nlog.Warningf("node %s: failed to send STATUS: %v", b.Desc.NodeID, err)
	}
}

// ReportError surfaces a fatal (non-transient) error to the Broker and
// transitions to ERROR.
func (b *Base) ReportError(err error) {
	b.Transition(EvRuntimeErr)
	if sendErr := b.coord.Send(&transport.ControlMsg{
		Kind:     transport.KindError,
		SenderID: b.Desc.NodeID,
		Payload:  []byte(err.Error()),
	}); sendErr != nil {
		nlog.Warningf("node %s: failed to report error %v: %v", b.Desc.NodeID, err, sendErr)
	}
}

// Serve runs the coordination reply loop on the calling goroutine:
// PREPARE/START/STOP/ABORT dispatch to handler, each reply is sent before
// the next message is read so a slow device never delays the Broker's
// other Nodes. Serve returns once
// the coordination channel is closed or the Node reaches DONE/ERROR.
func (b *Base) Serve(ctx context.Context, handler Handler) error {
	b.handler = handler
	defer close(b.replyDone)
	for {
		msg, err := b.coord.Recv()
		if err != nil {
			return err
		}
		if done := b.dispatch(ctx, msg); done {
			return nil
		}
	}
}

// dispatch handles one coordination message and reports whether the Node
// has reached a terminal state.
func (b *Base) dispatch(ctx context.Context, msg *transport.ControlMsg) (terminal bool) {
	switch msg.Kind {
	case transport.KindPrepare:
		if err := b.handler.OnPrepare(ctx); err != nil {
			b.Transition(EvDeviceErr)
			b.sendStatus(fmt.Sprintf("prepare failed: %v", err))
			return true
		}
		b.Transition(EvPrepareOK)
		b.sendStatus("ready")
	case transport.KindStart:
		b.Transition(EvStart)
		if err := b.handler.OnStart(ctx); err != nil {
			b.ReportError(err)
			return true
		}
		b.sendStatus("running")
	case transport.KindStop:
		b.Transition(EvStop)
		if err := b.handler.OnStop(ctx); err != nil {
			nlog.Warningf("node %s: stop reported error: %v", b.Desc.NodeID, err)
		}
		b.Transition(EvDrained)
		b.sendStatus("done")
		return true
	case transport.KindAbort:
		b.Transition(EvAbort)
		b.sendStatus("aborted")
		return true
	default:
		nlog.Warningf("node %s: unexpected coordination message kind %q", b.Desc.NodeID, msg.Kind)
	}
	return false
}

// WaitServed blocks until Serve has returned.
func (b *Base) WaitServed() <-chan struct{} { return b.replyDone }
