package session

import (
	"fmt"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateReconnectFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	case StateReconnectFailed:
		return "ReconnectFailed"
	case StateClosed:
		return "Closed"
	default:
		return "InvalidState"
	}
}

func (s State) validateTransitionTo(newState State) error {
	if newState == StateClosed {
		if s == StateClosed {
			return fmt.Errorf("invalid state transition from %v to %v", s, newState)
		}
		return nil
	}

	switch s {
	case StateDisconnected:
		switch newState {
		case StateConnecting, StateReconnecting:
			return nil
		}
	case StateConnecting:
		switch newState {
		case StateConnected, StateDisconnected, StateReconnecting, StateReconnectFailed:
			return nil
		}
	case StateConnected:
		// Connected to Reconnecting happens when an established
		// connection is lost.
		switch newState {
		case StateDisconnected, StateReconnecting:
			return nil
		}
	case StateReconnecting:
		switch newState {
		case StateConnected, StateDisconnected, StateReconnectFailed:
			return nil
		}
	case StateReconnectFailed:
		// Only an explicit Reconnect leaves the terminal failure state.
		if newState == StateConnecting {
			return nil
		}
	}

	return fmt.Errorf("invalid state transition from %v to %v", s, newState)
}
