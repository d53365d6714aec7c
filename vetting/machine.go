package vetting

import (
	"errors"
	"fmt"

	"depvet/model"
)

var ErrInvalidTransition = errors.New("invalid state transition")

type State string

const (
	StatePending      State = "pending"
	StateScreening    State = State(model.StageScreening)
	StateSecurity     State = State(model.StageSecurity)
	StateLicense      State = State(model.StageLicense)
	StateMaintenance  State = State(model.StageMaintenance)
	StatePerformance  State = State(model.StagePerformance)
	StateIntegration  State = State(model.StageIntegration)
	StateArchitecture State = State(model.StageArchitecture)
	StateAggregating  State = "aggregating"
	StateTerminal     State = "terminal"
)

var stateRank = map[State]int{
	StatePending:      0,
	StateScreening:    1,
	StateSecurity:     2,
	StateLicense:      3,
	StateMaintenance:  4,
	StatePerformance:  5,
	StateIntegration:  6,
	StateArchitecture: 7,
	StateAggregating:  8,
	StateTerminal:     9,
}

// Machine tracks one vetting run. States only move forward; stage states may be skipped,
// Terminal is reachable from any other state and nothing leaves it.
type Machine struct {
	state   State
	history []State
}

func NewMachine() *Machine {
	return &Machine{state: StatePending, history: []State{StatePending}}
}

func (m *Machine) State() State {
	return m.state
}

func (m *Machine) History() []State {
	return append([]State(nil), m.history...)
}

func (m *Machine) Transition(to State) error {
	from, ok := stateRank[m.state]
	target, known := stateRank[to]
	switch {
	case !ok || !known:
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, to)
	case m.state == StateTerminal:
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, m.state)
	case to == StateTerminal:
	case target <= from:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
	}
	m.state = to
	m.history = append(m.history, to)
	return nil
}
