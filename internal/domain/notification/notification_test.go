package notification

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSSEClient(t *testing.T) {
	t.Run("keeps given id", func(t *testing.T) {
		c := NewSSEClient("dash-1", nil)
		assert.Equal(t, "dash-1", c.ClientID)
		assert.Equal(t, clientBuffer, cap(c.MessageChan))
		assert.False(t, c.ConnectedAt.IsZero())
	})

	t.Run("generates id when empty", func(t *testing.T) {
		c := NewSSEClient("", nil)
		_, err := uuid.Parse(c.ClientID)
		assert.NoError(t, err)
	})
}

func TestSSEClient_Wants(t *testing.T) {
	all := NewSSEClient("a", nil)
	assert.True(t, all.Wants(EventStatus))
	assert.True(t, all.Wants(EventDenied))

	some := NewSSEClient("b", []string{EventStatus})
	assert.True(t, some.Wants(EventStatus))
	assert.False(t, some.Wants(EventControllers))
}

func TestSSEClient_Close(t *testing.T) {
	c := NewSSEClient("a", nil)
	c.Close()
	_, ok := <-c.MessageChan
	assert.False(t, ok)
}

func TestEncodeSSEMessage(t *testing.T) {
	msg, err := EncodeSSEMessage(EventStatus, map[string]string{"status": "online"})
	require.NoError(t, err)

	assert.Equal(t, EventStatus, msg.Event)
	assert.JSONEq(t, `{"status":"online"}`, string(msg.Data))
	assert.NotEmpty(t, msg.ID)

	out, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"event":"status"`)

	_, err = EncodeSSEMessage(EventStatus, func() {})
	assert.Error(t, err)
}

func TestValidateEvents(t *testing.T) {
	assert.NoError(t, ValidateEvents(nil))
	assert.NoError(t, ValidateEvents([]string{EventStatus, EventController}))
	assert.ErrorIs(t, ValidateEvents([]string{EventStatus, "bogus"}), ErrUnknownEvent)
}
