// Package statemachine is a small finite-state machine with guarded
// transitions and side-effect actions.
//
// States and events are anything with a Name. StringState and StringEvent
// cover the common case:
//
//	const (
//	    Idle    = statemachine.StringState("idle")
//	    Pending = statemachine.StringState("pending")
//	    Fire    = statemachine.StringEvent("fire")
//	    Settle  = statemachine.StringEvent("settle")
//	)
//
//	m, err := statemachine.New(Idle,
//	    statemachine.WithTransition(Idle, Pending, Fire),
//	    statemachine.WithTransition(Pending, Idle, Settle, statemachine.WithGuard(jobDone)),
//	)
//	err = m.Fire(ctx, Fire, nil)
//
// Several transitions may share a state and event; the first whose guards
// all pass wins. Fire reports an undefined transition with
// ErrNoTransitionAvailable and a vetoed one with ErrTransitionRejected.
// Actions run in order before the state changes and abort it on error.
//
// A machine is safe for concurrent use. Guards and actions run under its
// lock and must not call back into the same machine.
package statemachine
