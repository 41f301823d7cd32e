package negotiator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransition(t *testing.T) {
	testCases := []struct {
		from  State
		event Event
		want  State
		ok    bool
	}{
		{StateIdle, EventNegotiate, StateNegotiating, true},
		{StateNegotiating, EventConnected, StateConnected, true},
		{StateNegotiating, EventDisconnected, StateDisconnected, true},
		{StateNegotiating, EventNegotiate, StateNegotiating, true},
		{StateConnected, EventDisconnected, StateDisconnected, true},
		{StateConnected, EventNegotiate, StateNegotiating, true},
		{StateConnected, EventConnected, StateConnected, false},
		{StateDisconnected, EventReconnect, StateReconnecting, true},
		{StateDisconnected, EventNegotiate, StateNegotiating, true},
		{StateReconnecting, EventNegotiate, StateNegotiating, true},
		{StateReconnecting, EventDisconnected, StateDisconnected, true},
		{StateIdle, EventConnected, StateIdle, false},
		{StateIdle, EventReconnect, StateIdle, false},
		{StateIdle, EventEnd, StateEnded, true},
		{StateConnected, EventEnd, StateEnded, true},
		{StateEnded, EventNegotiate, StateEnded, false},
		{StateEnded, EventReconnect, StateEnded, false},
		{StateEnded, EventEnd, StateEnded, false},
	}

	for _, tc := range testCases {
		got, ok := transition(tc.from, tc.event)
		assert.Equal(t, tc.want, got, "%s + event %d", tc.from, tc.event)
		assert.Equal(t, tc.ok, ok, "%s + event %d", tc.from, tc.event)
	}
}
