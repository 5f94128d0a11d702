package avrcp

import "fmt"

type State uint8

const (
	StateUninitialised State = iota
	StateInitialising
	StateReady
	StateConnecting
	StateConnected
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialised:
		return "uninitialised"
	case StateInitialising:
		return "initialising"
	case StateReady:
		return "ready"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

var transitions = map[State][]State{
	StateUninitialised: {StateInitialising},
	StateInitialising:  {StateReady, StateUninitialised},
	StateReady:         {StateConnecting, StateClosed},
	StateConnecting:    {StateConnected, StateReady},
	StateConnected:     {StateDisconnecting},
	StateDisconnecting: {StateReady, StateClosed},
}

func (s State) canMoveTo(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}
