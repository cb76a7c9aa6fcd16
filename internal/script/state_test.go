package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewState_StartsActive(t *testing.T) {
	s := NewState()
	assert.True(t, s.Active())
}

func TestDo_TrueNestsActive(t *testing.T) {
	s := NewState()
	require.NoError(t, s.Do(true))
	assert.True(t, s.Active())
}

func TestDo_FalseNestsInactive(t *testing.T) {
	s := NewState()
	require.NoError(t, s.Do(false))
	assert.False(t, s.Active())
}

func TestDo_NestedUnderFalseStaysInactiveEvenIfTrue(t *testing.T) {
	s := NewState()
	require.NoError(t, s.Do(false))
	require.NoError(t, s.Do(true))
	assert.False(t, s.Active(), "a true DO nested under a false outer scope must not activate")
}

func TestEls_TogglesActive(t *testing.T) {
	s := NewState()
	require.NoError(t, s.Do(false))
	require.NoError(t, s.Els())
	assert.True(t, s.Active())
}

func TestEls_WithoutDoErrors(t *testing.T) {
	s := NewState()
	assert.Error(t, s.Els())
}

func TestFin_PopsScope(t *testing.T) {
	s := NewState()
	require.NoError(t, s.Do(false))
	require.NoError(t, s.Fin())
	assert.True(t, s.Active())
}

func TestFin_WithoutDoErrors(t *testing.T) {
	s := NewState()
	assert.Error(t, s.Fin())
}

func TestFin_RestoresOuterFalseAfterNestedTrue(t *testing.T) {
	s := NewState()
	require.NoError(t, s.Do(false))
	require.NoError(t, s.Do(true))
	require.NoError(t, s.Fin())
	assert.False(t, s.Active(), "popping the inner DO must restore the outer false scope")
}

func TestDo_DeeplyNestedTrueScopesStayActive(t *testing.T) {
	s := NewState()
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Do(true))
	}
	assert.True(t, s.Active())
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Fin())
	}
	assert.True(t, s.Active(), "unwinding every nested DO restores the outer scope")
}
