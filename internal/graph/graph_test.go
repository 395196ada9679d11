package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func add(t *testing.T, s *Store, kind Kind, nodeID string, pos Position, ref Ident) *Node {
	t.Helper()
	n := NewNode(kind, nodeID)
	require.NoError(t, s.Insert(pos, ref, n))
	return n
}

func path(t *testing.T, s *Store, id Ident) string {
	t.Helper()
	p, err := s.AbsolutePath(id)
	require.NoError(t, err)
	return p
}

func TestStore_InsertAndPaths(t *testing.T) {
	s := NewStore("data")
	root := s.Root().ID
	q := add(t, s, KindText, "q", Into, root)
	g := add(t, s, KindGroup, "group", Into, root)
	inner := add(t, s, KindInt, "age", Into, g.ID)
	first := add(t, s, KindHidden, "first", First, root)
	before := add(t, s, KindLabel, "intro", Before, q.ID)

	assert.Equal(t, "/data/q", path(t, s, q.ID))
	assert.Equal(t, "/data/group/age", path(t, s, inner.ID))

	kids, err := s.Children(root)
	require.NoError(t, err)
	var ids []string
	for _, k := range kids {
		ids = append(ids, k.NodeID)
	}
	assert.Equal(t, []string{"first", "intro", "q", "group"}, ids)

	got, err := s.GetByPath("/data/group/age")
	require.NoError(t, err)
	assert.Equal(t, inner.ID, got.ID)

	_, err = s.GetByPath("/data/group/missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetByPath("/other/q")
	assert.ErrorIs(t, err, ErrNotFound)

	p, err := s.Parent(inner.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, p.ID)
	assert.Equal(t, first.ID, kids[0].ID)
	assert.Equal(t, before.ID, kids[1].ID)
}

func TestStore_InsertRejectsKindViolations(t *testing.T) {
	s := NewStore("data")
	root := s.Root().ID
	q := add(t, s, KindText, "q", Into, root)
	sel := add(t, s, KindSelect, "sel", Into, root)
	fl := add(t, s, KindFieldList, "fl", Into, root)

	err := s.Insert(Into, q.ID, NewNode(KindText, "nested"))
	var se *StructuralError
	require.True(t, errors.As(err, &se))
	assert.ErrorIs(t, err, ErrStructural)

	assert.ErrorIs(t, s.Insert(Into, sel.ID, NewNode(KindText, "x")), ErrStructural)
	assert.ErrorIs(t, s.Insert(Into, root, NewNode(KindChoice, "a")), ErrStructural)
	assert.ErrorIs(t, s.Insert(Into, fl.ID, NewNode(KindGroup, "g")), ErrStructural)
	assert.ErrorIs(t, s.Insert(Before, root, NewNode(KindText, "x")), ErrStructural)
	assert.ErrorIs(t, s.Insert(Into, root, NewNode(KindText, "1bad")), ErrInvalidNodeID)

	require.NoError(t, s.Insert(Into, sel.ID, NewNode(KindChoice, "a")))
	require.NoError(t, s.Insert(Into, sel.ID, NewNode(KindChoice, "a")))
	assert.Equal(t, 6, s.Len())
}

func link(parent *Node, kids ...*Node) {
	for _, k := range kids {
		k.Parent = parent.ID
		parent.Children = append(parent.Children, k.ID)
	}
}

func TestStore_InsertChecksEveryDescendant(t *testing.T) {
	s := NewStore("data")
	root := s.Root().ID

	g := NewNode(KindGroup, "g")
	choice := NewNode(KindChoice, "a")
	link(g, choice)
	err := s.Insert(Into, root, g, choice)
	assert.ErrorIs(t, err, ErrStructural)

	g = NewNode(KindGroup, "g")
	x, y := NewNode(KindText, "x"), NewNode(KindInt, "x")
	link(g, x, y)
	err = s.Insert(Into, root, g, x, y)
	var ce *CollisionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, x.ID, ce.Existing)

	g = NewNode(KindGroup, "g")
	stray := NewNode(KindText, "stray")
	err = s.Insert(Into, root, g, stray)
	assert.ErrorIs(t, err, ErrStructural)

	g = NewNode(KindGroup, "g")
	missing := NewNode(KindText, "missing")
	link(g, missing)
	err = s.Insert(Into, root, g)
	assert.ErrorIs(t, err, ErrStructural)

	assert.Equal(t, 1, s.Len())
	assert.Empty(t, s.Root().Children)

	g = NewNode(KindGroup, "g")
	sel := NewNode(KindSelect, "sel")
	link(g, sel)
	a, b := NewNode(KindChoice, "a"), NewNode(KindChoice, "a")
	link(sel, a, b)
	require.NoError(t, s.Insert(Into, root, g, sel, a, b))
	assert.Equal(t, "/data/g/sel", path(t, s, sel.ID))
}

func TestStore_SiblingCollision(t *testing.T) {
	s := NewStore("data")
	root := s.Root().ID
	first := add(t, s, KindText, "text", Into, root)

	err := s.Insert(Into, root, NewNode(KindText, "text"))
	var ce *CollisionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, first.ID, ce.Existing)
	assert.ErrorIs(t, err, ErrSiblingIDCollision)

	second := add(t, s, KindText, "text2", Into, root)
	_, err = s.Rename(second.ID, "text")
	assert.ErrorIs(t, err, ErrSiblingIDCollision)
	assert.Equal(t, "/data/text2", path(t, s, second.ID))
	assert.Equal(t, "/data/text", path(t, s, first.ID))
}

func TestStore_MoveReportsSubtreeDeltas(t *testing.T) {
	s := NewStore("data")
	root := s.Root().ID
	g := add(t, s, KindGroup, "g", Into, root)
	c := add(t, s, KindText, "c", Into, g.ID)
	x := add(t, s, KindGroup, "x", Into, root)

	deltas, err := s.Move(g.ID, Into, x.ID)
	require.NoError(t, err)
	assert.Equal(t, []Delta{
		{Node: g.ID, Old: "/data/g", New: "/data/x/g"},
		{Node: c.ID, Old: "/data/g/c", New: "/data/x/g/c"},
	}, deltas)
	assert.Equal(t, x.ID, g.Parent)

	// Reordering among siblings changes no path.
	y := add(t, s, KindText, "y", Into, root)
	deltas, err = s.Move(y.ID, First, root)
	require.NoError(t, err)
	assert.Empty(t, deltas)
	assert.Equal(t, y.ID, s.Root().Children[0])

	_, err = s.Move(x.ID, Into, g.ID)
	assert.ErrorIs(t, err, ErrStructural)
	_, err = s.Move(x.ID, After, x.ID)
	assert.ErrorIs(t, err, ErrStructural)
}

func TestStore_MoveWithinParentIndex(t *testing.T) {
	s := NewStore("data")
	root := s.Root().ID
	a := add(t, s, KindText, "a", Into, root)
	b := add(t, s, KindText, "b", Into, root)
	c := add(t, s, KindText, "c", Into, root)

	_, err := s.Move(a.ID, After, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []Ident{b.ID, c.ID, a.ID}, s.Root().Children)

	_, err = s.Move(a.ID, Before, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []Ident{a.ID, b.ID, c.ID}, s.Root().Children)
}

func TestStore_MoveRejectsCollisionAtTarget(t *testing.T) {
	s := NewStore("data")
	root := s.Root().ID
	add(t, s, KindText, "q", Into, root)
	g := add(t, s, KindGroup, "g", Into, root)
	inner := add(t, s, KindText, "q", Into, g.ID)

	_, err := s.Move(inner.ID, Into, root)
	assert.ErrorIs(t, err, ErrSiblingIDCollision)
	assert.Equal(t, "/data/g/q", path(t, s, inner.ID))
}

func TestStore_RenameCascades(t *testing.T) {
	s := NewStore("data")
	g := add(t, s, KindGroup, "g", Into, s.Root().ID)
	c := add(t, s, KindText, "c", Into, g.ID)

	deltas, err := s.Rename(g.ID, "h")
	require.NoError(t, err)
	assert.Equal(t, []Delta{
		{Node: g.ID, Old: "/data/g", New: "/data/h"},
		{Node: c.ID, Old: "/data/g/c", New: "/data/h/c"},
	}, deltas)

	deltas, err = s.Rename(g.ID, "h")
	require.NoError(t, err)
	assert.Empty(t, deltas)

	_, err = s.Rename(s.Root().ID, "x")
	assert.ErrorIs(t, err, ErrStructural)
	_, err = s.Rename(g.ID, "has space")
	assert.ErrorIs(t, err, ErrInvalidNodeID)
}

func TestStore_RemoveCascades(t *testing.T) {
	s := NewStore("data")
	g := add(t, s, KindGroup, "g", Into, s.Root().ID)
	c := add(t, s, KindText, "c", Into, g.ID)

	deltas, removed, err := s.Remove(g.ID)
	require.NoError(t, err)
	assert.Equal(t, []Delta{
		{Node: g.ID, Old: "/data/g"},
		{Node: c.ID, Old: "/data/g/c"},
	}, deltas)
	assert.Len(t, removed, 2)
	assert.Equal(t, 1, s.Len())
	_, err = s.Get(c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CloneFreshIdentities(t *testing.T) {
	s := NewStore("data")
	g := add(t, s, KindGroup, "g", Into, s.Root().ID)
	c := add(t, s, KindText, "c", Into, g.ID)
	require.NoError(t, s.SetProp(c.ID, PropRelevant, "#form/g/c = 'x'"))

	nodes, mapping, err := s.Clone(g.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.NotEqual(t, g.ID, nodes[0].ID)
	assert.True(t, nodes[0].Parent.IsZero())
	assert.Equal(t, mapping[c.ID], nodes[1].ID)
	assert.Equal(t, nodes[0].ID, nodes[1].Parent)
	assert.Equal(t, []Ident{nodes[1].ID}, nodes[0].Children)
	assert.Equal(t, "#form/g/c = 'x'", nodes[1].Props[PropRelevant])

	nodes[0].NodeID = "copy-1-of-g"
	require.NoError(t, s.Insert(After, g.ID, nodes...))
	assert.Equal(t, "/data/copy-1-of-g/c", path(t, s, nodes[1].ID))
	assert.Equal(t, "/data/g/c", path(t, s, c.ID))
}

func TestStore_RollbackRestoresTree(t *testing.T) {
	s := NewStore("data")
	root := s.Root().ID
	g := add(t, s, KindGroup, "g", Into, root)
	c := add(t, s, KindText, "c", Into, g.ID)
	require.NoError(t, s.SetProp(c.ID, PropRelevant, "true()"))

	require.NoError(t, s.Begin())
	assert.ErrorIs(t, s.Begin(), ErrTransactionPending)
	_, err := s.Rename(g.ID, "h")
	require.NoError(t, err)
	require.NoError(t, s.SetProp(c.ID, PropRelevant, "false()"))
	extra := add(t, s, KindText, "extra", Into, root)
	_, _, err = s.Remove(c.ID)
	require.NoError(t, err)
	require.NoError(t, s.Rollback())

	assert.Equal(t, "/data/g/c", path(t, s, c.ID))
	got, err := s.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, "true()", got.Props[PropRelevant])
	_, err = s.Get(extra.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []Ident{g.ID}, s.Root().Children)
	assert.ErrorIs(t, s.Rollback(), ErrNoTransaction)
}

func TestStore_WalkAndSubtree(t *testing.T) {
	s := NewStore("data")
	root := s.Root().ID
	g := add(t, s, KindGroup, "g", Into, root)
	add(t, s, KindText, "c", Into, g.ID)
	add(t, s, KindText, "d", Into, root)

	var seen []string
	s.Walk(func(n *Node, p string) bool {
		seen = append(seen, p)
		return true
	})
	assert.Equal(t, []string{"/data/g", "/data/g/c", "/data/d"}, seen)

	seen = nil
	s.Walk(func(n *Node, p string) bool {
		seen = append(seen, p)
		return n.Kind != KindGroup
	})
	assert.Equal(t, []string{"/data/g", "/data/d"}, seen)
	assert.Len(t, s.Subtree(root), 4)
	assert.True(t, s.Contains(root, g.ID))
	assert.False(t, s.Contains(g.ID, root))
}

func TestKind_SpecTable(t *testing.T) {
	assert.True(t, CanContain(KindGroup, KindRepeat))
	assert.False(t, CanContain(KindText, KindText))
	assert.True(t, KindText.Spec().Leaf())
	assert.Equal(t, Required, KindText.Spec().Text(TextLabel))
	assert.Equal(t, NotAllowed, KindText.Spec().Prop(PropCalculate))
	assert.Equal(t, Optional, KindHidden.Spec().Prop(PropCalculate))
	assert.True(t, KindChoice.Spec().AddressByValue)

	k, err := ParseKind("MultiSelect")
	require.NoError(t, err)
	assert.Equal(t, KindMultiSelect, k)
	_, err = ParseKind("form")
	assert.Error(t, err)

	assert.Equal(t, "bind", PropCalculate.Group())
	assert.Equal(t, "calculate", PropCalculate.Name())
	assert.True(t, PropNodeset.IsExpression())
	assert.False(t, PropAppearance.IsExpression())
	assert.True(t, PropConstraint.AllowsSelfReference())
	assert.False(t, PropRelevant.AllowsSelfReference())
}

func TestKind_PropsListCoversTable(t *testing.T) {
	for k := KindForm; k < numKinds; k++ {
		for p := range k.Spec().Props {
			assert.Contains(t, Props, p, "%s declares %s", k, p)
		}
	}
	for _, p := range ExpressionProps {
		assert.Contains(t, Props, p)
	}
}

func TestIdent_RoundTrip(t *testing.T) {
	id := NewIdent()
	parsed, err := ParseIdent(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.NotEqual(t, id, NewIdent())
	assert.True(t, Ident{}.IsZero())
}
