package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_String(t *testing.T) {
	assert.Equal(t, "OFFLINE", StateOffline.String())
	assert.Equal(t, "ONLINE", StateOnline.String())
	assert.Equal(t, "CONNECTING", StateConnecting.String())
	assert.Equal(t, "ERROR", StateError.String())
	assert.Equal(t, "UNKNOWN", State(5).String())
}

func TestState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateOffline, StateConnecting, true},
		{StateOffline, StateOnline, false},
		{StateConnecting, StateOnline, true},
		{StateConnecting, StateError, true},
		{StateConnecting, StateOffline, false},
		{StateOnline, StateOffline, true},
		{StateOnline, StateError, true},
		{StateOnline, StateConnecting, false},
		{StateError, StateOffline, true},
		{StateError, StateOnline, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}
