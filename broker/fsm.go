// Package broker implements the per-host orchestrator: the
// Broker FSM drives BOOT through STOP, negotiates a reference clock with
// its peers, and owns the local pub/sub proxy and every locally-owned
// Node's lifecycle, using the same renew/registry pattern as a per-task
// state machine but generalized from one-task-at-a-time to a whole-host
// lifecycle, with transitions kept as total functions throughout.
/*
 * Copyright (c) 2024, HERMES authors. All rights reserved.
 */
package broker

import (
	"github.com/hermes-sensorfusion/hermes/cmn/atomic"
	"github.com/hermes-sensorfusion/hermes/cmn/debug"
	"github.com/hermes-sensorfusion/hermes/cmn/nlog"
)

// State is one of the Broker FSM's tagged variants.
type State int32

const (
	StateBoot State = iota
	StateDiscover
	StateSync
	StateReady
	StateRun
	StateDrain
	StateStop
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateBoot:
		return "BOOT"
	case StateDiscover:
		return "DISCOVER"
	case StateSync:
		return "SYNC"
	case StateReady:
		return "READY"
	case StateRun:
		return "RUN"
	case StateDrain:
		return "DRAIN"
	case StateStop:
		return "STOP"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Event drives a Broker FSM transition: each phase either proceeds to the
// next state or fails terminally.
type Event int32

const (
	EvProceed Event = iota
	EvFail
)

// transitions is the total function (state, event) -> state:
// every phase proceeds linearly or fails to FAILED; no other
// pair is defined.
var transitions = map[State]map[Event]State{
	StateBoot: {EvProceed: StateDiscover, EvFail: StateFailed},
	StateDiscover: {EvProceed: StateSync, EvFail: StateFailed},
	StateSync: {EvProceed: StateReady, EvFail: StateFailed},
	StateReady: {EvProceed: StateRun, EvFail: StateFailed},
	StateRun: {EvProceed: StateDrain, EvFail: StateFailed},
	StateDrain: {EvProceed: StateStop, EvFail: StateFailed},
}

// fsm holds the current FSM state plus the stats hook that mirrors it
// into the broker_fsm_state gauge.
type fsm struct {
	cur atomic.Int32
	onChange func(State)
}

func newFSM(onChange func(State)) *fsm {
	f := &fsm{onChange: onChange}
	f.cur.Store(int32(StateBoot))
	if onChange != nil {
		onChange(StateBoot)
	}
	return f
}

func (f *fsm) State() State { return State(f.cur.Load()) }

// transition applies event to the current state. An undefined pair is a
// programming error: debug builds panic, production builds log
// and force FAILED.
func (f *fsm) transition(event Event) State {
	cur := f.State()
	table, ok := transitions[cur]
	next, defined := table[event]
	debug.Assertf(ok && defined, "illegal broker transition: state=%s event=%d", cur, event)
	if !ok || !defined {
		nlog.Errorf("broker: illegal transition state=%s event=%d, forcing FAILED", cur, event)
		next = StateFailed
	}
	f.cur.Store(int32(next))
	nlog.Infof("broker: %s -> %s", cur, next)
	if f.onChange != nil {
		f.onChange(next)
	}
	return next
}
