package session

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateTransitions(t *testing.T) {
	all := []State{StateDisconnected, StateConnecting, StateConnected, StateReconnecting, StateReconnectFailed, StateClosed}
	allowed := map[State][]State{
		StateDisconnected:    {StateConnecting, StateReconnecting, StateClosed},
		StateConnecting:      {StateConnected, StateDisconnected, StateReconnecting, StateReconnectFailed, StateClosed},
		StateConnected:       {StateDisconnected, StateReconnecting, StateClosed},
		StateReconnecting:    {StateConnected, StateDisconnected, StateReconnectFailed, StateClosed},
		StateReconnectFailed: {StateConnecting, StateClosed},
		StateClosed:          {},
	}

	for _, from := range all {
		for _, to := range all {
			err := from.validateTransitionTo(to)
			if slices.Contains(allowed[from], to) {
				assert.NoError(t, err, "%v -> %v", from, to)
			} else {
				assert.Error(t, err, "%v -> %v", from, to)
			}
		}
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ReconnectFailed", StateReconnectFailed.String())
	assert.Equal(t, "InvalidState", State(42).String())
}
