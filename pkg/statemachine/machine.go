package statemachine

import (
	"context"
	"fmt"
	"sync"
)

// Machine is an in-memory StateMachine. Transitions are indexed by state
// name, then event name.
type Machine struct {
	mu          sync.RWMutex
	current     State
	transitions map[string]map[string][]Transition
}

var _ StateMachine = (*Machine)(nil)

// Option configures a Machine during New.
type Option func(*Machine) error

// New creates a machine in initial.
func New(initial State, opts ...Option) (*Machine, error) {
	if initial == nil {
		return nil, ErrNoInitialState
	}
	m := &Machine{
		current:     initial,
		transitions: make(map[string]map[string][]Transition),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// TransitionOption attaches guards and actions to a transition.
type TransitionOption func(*Transition)

// WithTransition adds a transition during New.
func WithTransition(from, to State, event Event, opts ...TransitionOption) Option {
	return func(m *Machine) error {
		t := Transition{From: from, To: to, Event: event}
		for _, opt := range opts {
			opt(&t)
		}
		return m.AddTransition(t.From, t.To, t.Event, t.Guards, t.Actions)
	}
}

// WithGuard adds a guard. Nil guards are ignored.
func WithGuard(g Guard) TransitionOption {
	return func(t *Transition) {
		if g != nil {
			t.Guards = append(t.Guards, g)
		}
	}
}

// WithAction adds an action. Nil actions are ignored.
func WithAction(a Action) TransitionOption {
	return func(t *Transition) {
		if a != nil {
			t.Actions = append(t.Actions, a)
		}
	}
}

func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Machine) AddTransition(from, to State, event Event, guards []Guard, actions []Action) error {
	if from == nil || to == nil || event == nil {
		return ErrInvalidTransition
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byEvent, ok := m.transitions[from.Name()]
	if !ok {
		byEvent = make(map[string][]Transition)
		m.transitions[from.Name()] = byEvent
	}
	byEvent[event.Name()] = append(byEvent[event.Name()], Transition{
		From:    from,
		To:      to,
		Event:   event,
		Guards:  guards,
		Actions: actions,
	})
	return nil
}

func (m *Machine) Fire(ctx context.Context, event Event, data any) error {
	if event == nil {
		return ErrInvalidEvent
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.match(ctx, event, data)
	if err != nil {
		return err
	}
	for _, action := range t.Actions {
		if err := action(ctx, m.current, t.To, event, data); err != nil {
			return fmt.Errorf("statemachine: action on %q: %w", event.Name(), err)
		}
	}
	m.current = t.To
	return nil
}

func (m *Machine) CanFire(ctx context.Context, event Event, data any) bool {
	if event == nil {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	_, err := m.match(ctx, event, data)
	return err == nil
}

// match returns the first transition for event whose guards pass. The
// caller holds m.mu.
func (m *Machine) match(ctx context.Context, event Event, data any) (Transition, error) {
	from := m.current.Name()
	candidates := m.transitions[from][event.Name()]
	if len(candidates) == 0 {
		return Transition{}, &ErrNoTransitionAvailable{State: from, Event: event.Name()}
	}

next:
	for _, t := range candidates {
		for _, guard := range t.Guards {
			if !guard(ctx, m.current, event, data) {
				continue next
			}
		}
		return t, nil
	}
	return Transition{}, &ErrTransitionRejected{State: from, Event: event.Name()}
}
