package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/moldwatch/internal/domain/controller"
)

func press(id int, name, opMode string, operator int) controller.State {
	s := controller.NewState(id)
	s.DisplayName = name
	s.OpMode = opMode
	s.OperatorID = operator
	return s
}

func TestCompile(t *testing.T) {
	for _, cond := range []string{"", "  ", "true", "TRUE"} {
		c, err := Compile(cond)
		require.NoError(t, err)
		ok, err := c.Match(controller.NewState(1))
		require.NoError(t, err)
		assert.True(t, ok, "condition %q", cond)
	}

	c, err := Compile("false")
	require.NoError(t, err)
	ok, err := c.Match(controller.NewState(1))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Compile("opMode == (")
	assert.ErrorIs(t, err, ErrInvalidCondition)
}

func TestCondition_Match(t *testing.T) {
	s := press(1, "P1", "Automatic", 7)
	s.ApplyAlarm("E01", true, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	cases := []struct {
		cond string
		want bool
	}{
		{"opMode == 'Automatic'", true},
		{"opMode == 'Manual'", false},
		{"operatorId > 5 && controllerId == 1", true},
		{"[alarms.E01]", true},
		{"[alarm.key] == 'E01'", true},
	}
	for _, tc := range cases {
		c, err := Compile(tc.cond)
		require.NoError(t, err, tc.cond)
		got, err := c.Match(s)
		require.NoError(t, err, tc.cond)
		assert.Equal(t, tc.want, got, tc.cond)
	}

	c, err := Compile("operatorId + 1")
	require.NoError(t, err)
	_, err = c.Match(s)
	assert.ErrorIs(t, err, ErrNotBoolean)
}

func TestFilter(t *testing.T) {
	alarmed := press(3, "C", "Automatic", 0)
	alarmed.ApplyAlarm("E01", true, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	states := []controller.State{
		press(1, "A", "Automatic", 2),
		press(2, "B", "Manual", 0),
		alarmed,
	}

	got, err := Filter("opMode == 'Automatic'", states)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].ControllerID)
	assert.Equal(t, 3, got[1].ControllerID)

	got, err = Filter("[alarms.E01]", states)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].ControllerID)

	got, err = Filter("", states)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	_, err = Filter("(((", states)
	assert.ErrorIs(t, err, ErrInvalidCondition)
}
