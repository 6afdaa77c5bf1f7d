package infra

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveScenario(t *testing.T) {
	c := calls{}
	a := newFake(c, "A")
	b := newFake(c, "B", a)
	cc := newFake(c, "C", a, b)

	order, err := Resolve(cc)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, idents(order))
}

func TestResolveSharedDependencyOnce(t *testing.T) {
	c := calls{}
	// constructed independently, same identifier
	d1 := newFake(c, "D")
	d2 := newFake(c, "D")
	x := newFake(c, "X", d1)
	y := newFake(c, "Y", d2)

	order, err := Resolve(x, y)
	require.NoError(t, err)
	assert.Equal(t, []string{"D", "X", "Y"}, idents(order))
	assert.Same(t, d1, order[0], "first instance wins")
}

func TestResolveDependenciesFirst(t *testing.T) {
	c := calls{}
	base := newFake(c, "base")
	m4 := newFake(c, "m4", base)
	autoconf := newFake(c, "autoconf", m4)
	libtool := newFake(c, "libtool", base)
	automake := newFake(c, "automake", autoconf, libtool)
	cmake := newFake(c, "cmake")
	llvm := newFake(c, "llvm", base, automake, cmake)
	tool := newFake(c, "tool", llvm, automake)

	order, err := Resolve(tool, libtool)
	require.NoError(t, err)
	ids := idents(order)
	assert.Len(t, ids, 8)

	pos := func(id string) int { return slices.Index(ids, id) }
	for _, p := range order {
		for _, d := range p.Dependencies() {
			assert.Less(t, pos(d.Ident()), pos(p.Ident()), "%s before %s", d.Ident(), p.Ident())
		}
	}
}

func TestResolveCycle(t *testing.T) {
	c := calls{}
	a := newFake(c, "A")
	b := newFake(c, "B", a)
	a.deps = []Package{b}

	order, err := Resolve(a)
	assert.Nil(t, order)
	require.ErrorIs(t, err, ErrConfiguration)

	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"A", "B", "A"}, cycle.Path)
}

func TestResolveSelfCycle(t *testing.T) {
	c := calls{}
	p := newFake(c, "P")
	p.deps = []Package{p}

	_, err := Resolve(p)
	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"P", "P"}, cycle.Path)
}

func TestResolveIdentifierClash(t *testing.T) {
	c := calls{}
	root := newFake(c, "root", newFake(c, "shared"), &otherPkg{id: "shared"})

	_, err := Resolve(root)
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "shared", dup.Ident)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestResolveNilDependency(t *testing.T) {
	c := calls{}
	_, err := Resolve(newFake(c, "A", nil))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestResolveNoRoots(t *testing.T) {
	order, err := Resolve()
	require.NoError(t, err)
	assert.Empty(t, order)
}
