package astinject

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo(v string) *Node { return Stmt(KindStmt, v) }

func TestInjectAfterDeclarations(t *testing.T) {
	first := echo("first")
	root := List(
		Stmt(KindDeclare, "strict_types=1"),
		Stmt(KindNamespace, `App`),
		first,
		echo("second"),
	)
	u := NewUnit("index.php", root)

	require.True(t, Inject(u, AutoBlockFunction))
	require.Len(t, root.Children, 4)

	block := root.Children[2]
	assert.Equal(t, KindStmtList, block.Kind)
	require.Len(t, block.Children, 2)
	call := block.Children[0]
	assert.Equal(t, KindCall, call.Kind)
	assert.Equal(t, AutoBlockFunction, call.Children[0].Value)
	assert.Equal(t, KindArgList, call.Children[1].Kind)
	assert.Same(t, first, block.Children[1])
	assert.Equal(t, KindDeclare, root.Children[0].Kind)

	assert.Equal(t, 4, u.Arena().Len())
	assert.True(t, u.Arena().Owns(block))
	assert.False(t, u.Arena().Owns(first))
}

func TestInjectSkips(t *testing.T) {
	cases := map[string]*Node{
		"nil root":          nil,
		"not a list":        echo("x"),
		"empty list":        List(),
		"only declarations": List(Stmt(KindDeclare, "ticks=1"), Stmt(KindNamespace, "A")),
	}
	for name, root := range cases {
		u := NewUnit(name, root)
		assert.False(t, Inject(u, AutoBlockFunction), name)
		assert.Equal(t, 0, u.Arena().Len(), name)
	}
}

func TestInsertionPointSkipsNilChildren(t *testing.T) {
	assert.Equal(t, 0, InsertionPoint(List(echo("a"))))
	assert.Equal(t, 3, InsertionPoint(List(Stmt(KindDeclare, ""), nil, Stmt(KindNamespace, ""), echo("a"))))
}

func TestDiscardReleasesArena(t *testing.T) {
	u := NewUnit("a.php", List(echo("a")))
	require.True(t, Inject(u, AutoBlockFunction))
	block := u.Root.Children[0]

	u.Discard()
	assert.Equal(t, 0, u.Arena().Len())
	assert.Nil(t, block.Children)
	assert.Nil(t, u.Root)
}

func TestHookChainsAndUnhookRestores(t *testing.T) {
	var slot Slot
	var seen []string
	prev := ProcessorFunc(func(u *Unit) { seen = append(seen, "prev:"+u.Name) })
	slot.Set(prev)

	in := NewInjector("", nil)
	require.NoError(t, in.Hook(&slot))
	assert.ErrorIs(t, in.Hook(&slot), ErrAlreadyHooked)

	u := NewUnit("page.php", List(echo("a")))
	slot.Run(u)
	assert.Equal(t, []string{"prev:page.php"}, seen)
	assert.Equal(t, KindStmtList, u.Root.Children[0].Kind)

	in.Unhook()
	_, isFunc := slot.Current().(ProcessorFunc)
	assert.True(t, isFunc, "previous processor restored")
}

func TestUnhookLeavesLaterProcessor(t *testing.T) {
	var slot Slot
	in := NewInjector("", nil)
	require.NoError(t, in.Hook(&slot))

	other := NewInjector(`\other\hook`, nil)
	require.NoError(t, other.Hook(&slot))

	in.Unhook()
	assert.Same(t, other, slot.Current().(*Injector))
}

func TestUnhookWithNoPreviousClearsSlot(t *testing.T) {
	var slot Slot
	in := NewInjector("", nil)
	require.NoError(t, in.Hook(&slot))
	in.Unhook()
	assert.Nil(t, slot.Current())
	in.Unhook()
}

func TestInjectedCall(t *testing.T) {
	u := NewUnit("job.php", List(Stmt(KindNamespace, "Jobs"), echo("run")))
	_, ok := InjectedCall(u)
	assert.False(t, ok)

	require.True(t, Inject(u, AutoBlockFunction))
	name, ok := InjectedCall(u)
	require.True(t, ok)
	assert.Equal(t, AutoBlockFunction, name)

	written := NewUnit("own.php", List(List(Stmt(KindCall, "", Stmt(KindName, AutoBlockFunction)), echo("a"))))
	_, ok = InjectedCall(written)
	assert.False(t, ok, "calls written by the program are not injected")

	u.Discard()
	_, ok = InjectedCall(u)
	assert.False(t, ok)
}
