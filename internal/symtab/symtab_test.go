package symtab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFind_InsertsOnMiss(t *testing.T) {
	tab := New()
	id, ok := tab.Find("Foo", false)
	assert.False(t, ok)
	assert.Zero(t, id)

	id, ok = tab.Find("Foo", true)
	require.True(t, ok)
	assert.NotZero(t, id)

	again, ok := tab.Find("Foo", false)
	require.True(t, ok)
	assert.Equal(t, id, again)
}

func TestDefine_IdenticalRedeclarationAccepted(t *testing.T) {
	tab := New()
	id1, err := tab.Define("Foo", 0x1234, true, 0, "a.rel", ScopeLinker)
	require.NoError(t, err)

	id2, err := tab.Define("Foo", 0x1234, true, 0, "b.rel", ScopeLinker)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestDefine_ConflictingRedeclarationKeepsFirst(t *testing.T) {
	tab := New()
	_, err := tab.Define("Foo", 0x1234, true, 0, "a.rel", ScopeLinker)
	require.NoError(t, err)

	_, err = tab.Define("Foo", 0x9999, true, 0, "b.rel", ScopeLinker)
	require.Error(t, err)
	var conflict *DuplicateConflict
	require.ErrorAs(t, err, &conflict)

	id, _ := tab.Find("Foo", false)
	sym := tab.Get(id)
	assert.Equal(t, uint32(0x1234), sym.Value, "first binding must win")
}

func TestDefine_AppliesScopeBitmask(t *testing.T) {
	tab := New()
	_, err := tab.Define("Local", 1, true, 0, "script", ScopeScript)
	require.NoError(t, err)

	_, ok := tab.Find("Local", false)
	assert.False(t, ok, "script-scoped symbol must not leak into the global table")

	_, ok = tab.FindLocal("Local")
	assert.True(t, ok)
}

func TestIncRef(t *testing.T) {
	tab := New()
	id, _ := tab.Find("Foo", true)
	tab.IncRef(id)
	tab.IncRef(id)
	assert.Equal(t, 2, tab.Get(id).RefCount)
}

func TestCopyGlobalToLocal(t *testing.T) {
	tab := New()
	_, err := tab.Define("Bar", 42, true, 0, "a.rel", ScopeLinker)
	require.NoError(t, err)

	require.NoError(t, tab.CopyGlobalToLocal("Bar"))
	id, ok := tab.FindLocal("Bar")
	require.True(t, ok)
	assert.Equal(t, uint32(42), tab.Get(id).Value)
}

func TestCopyGlobalToLocal_RequiresDefinedAbsolute(t *testing.T) {
	tab := New()
	tab.Find("Undefined", true)
	assert.Error(t, tab.CopyGlobalToLocal("Undefined"))
	assert.Error(t, tab.CopyGlobalToLocal("NeverSeen"))
}

func TestAllExcludesSentinel(t *testing.T) {
	tab := New()
	tab.Define("A", 1, true, 0, "f", ScopeLinker)
	tab.Define("B", 2, true, 0, "f", ScopeLinker)
	assert.Len(t, tab.All(), 2)
	assert.Equal(t, 2, tab.Len())
}
