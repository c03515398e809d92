package profile

import "fmt"

// State is a step of profile resolution for one authenticated user.
type State string

const (
	StateUnresolved   State = "unresolved"
	StateMissing      State = "profile-missing"
	StateProvisioning State = "profile-provisioning"
	StateReady        State = "profile-ready"
)

// allowed lists the legal transitions. Missing is terminal when provisioning fails.
var allowed = map[State][]State{
	StateUnresolved:   {StateReady, StateMissing},
	StateMissing:      {StateReady, StateProvisioning},
	StateProvisioning: {StateReady, StateMissing},
}

// Machine tracks resolution state and records every transition it accepts.
type Machine struct {
	state State
	trace []State
}

func NewMachine() *Machine {
	return &Machine{state: StateUnresolved, trace: []State{StateUnresolved}}
}

func (m *Machine) State() State { return m.state }

// Trace returns a copy of the states visited so far, starting with StateUnresolved.
func (m *Machine) Trace() []State {
	out := make([]State, len(m.trace))
	copy(out, m.trace)
	return out
}

// To moves the machine to next, rejecting transitions that are not in the table.
func (m *Machine) To(next State) error {
	for _, s := range allowed[m.state] {
		if s == next {
			m.state = next
			m.trace = append(m.trace, next)
			return nil
		}
	}
	return fmt.Errorf("profile: illegal transition %s -> %s", m.state, next)
}
