package strategy

import (
	"fmt"
	"sync"
)

// InvalidTransitionError rejects an event the current state does not
// accept. The state is left unchanged.
type InvalidTransitionError struct {
	From  State
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("event %s not allowed in state %s", e.Event, e.From)
}

// StateMachine holds the run lifecycle. Every transition goes through
// Apply; an emergency is a transition like any other and is only legal
// while running.
type StateMachine struct {
	mu        sync.Mutex
	state     State
	emergency bool
}

func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateCreated}
}

func (s *StateMachine) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Emergency reports whether the shutdown in progress (or completed) was
// triggered by a liquidation.
func (s *StateMachine) Emergency() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emergency
}

func (s *StateMachine) Apply(event Event) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := nextState(s.state, event)
	if !ok {
		return s.state, &InvalidTransitionError{From: s.state, Event: event}
	}
	if event == EventEmergency {
		s.emergency = true
	}
	s.state = next
	return s.state, nil
}

// SetState force-sets the state, bypassing transition checks.
func (s *StateMachine) SetState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func nextState(current State, event Event) (State, bool) {
	switch current {
	case StateCreated:
		if event == EventInitialize {
			return StateInitialized, true
		}
	case StateInitialized:
		if event == EventValidate {
			return StateValidated, true
		}
	case StateValidated:
		if event == EventPlaceOrders {
			return StateOrdersPlaced, true
		}
	case StateOrdersPlaced:
		if event == EventRun {
			return StateRunning, true
		}
	case StateRunning:
		if event == EventShutdown {
			return StateShuttingDown, true
		}
		if event == EventEmergency {
			return StateEmergency, true
		}
	case StateEmergency:
		if event == EventShutdown {
			return StateShuttingDown, true
		}
	case StateShuttingDown:
		if event == EventStopComplete {
			return StateStopped, true
		}
	}
	// Shutdown is honoured from any pre-running state so a signal during
	// setup still tears down cleanly.
	if event == EventShutdown && current != StateStopped && current != StateShuttingDown {
		return StateShuttingDown, true
	}
	return current, false
}
