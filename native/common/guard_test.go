package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGuardHonoursPauseSet(t *testing.T) {
	pauses := NewPauseSet("Lending")
	require.ErrorIs(t, Guard(pauses, "lending"), ErrModulePaused)
	require.Equal(t, []string{"lending"}, pauses.Paused())

	pauses.Set("lending", false)
	require.NoError(t, Guard(pauses, "lending"))
	require.Empty(t, pauses.Paused())
}

func TestGuardIgnoresMissingView(t *testing.T) {
	require.NoError(t, Guard(nil, "lending"))
	require.NoError(t, Guard(NewPauseSet("lending"), ""))

	var nilSet *PauseSet
	require.False(t, nilSet.IsPaused("lending"))
}
