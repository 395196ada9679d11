package refindex

import (
	"path/filepath"
	"testing"

	"github.com/agentic-research/formgraph/internal/graph"
	"github.com/agentic-research/formgraph/internal/itext"
	"github.com/agentic-research/formgraph/internal/paths"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIndex() *Index {
	return New(paths.NewAliaser("data", paths.DefaultRules()...))
}

func TestAnalyze_ClassifiesReferences(t *testing.T) {
	a := paths.NewAliaser("data", paths.DefaultRules()...)

	e := Analyze(a, "#form/text + /data/group/text + #form/text", "/data/calc")
	require.NoError(t, e.Err)
	assert.Equal(t, []string{"/data/text", "/data/group/text"}, e.Paths)
	assert.False(t, e.SelfRef)

	e = Analyze(a, "instance('fixture')/items/item[@id = #case/owner]", "/data/q")
	assert.Equal(t, []string{"fixture", "casedb", "commcaresession"}, e.Instances)
	assert.Equal(t, []string{"casedb", "commcaresession"}, e.Implied)
	assert.Empty(t, e.Paths)

	e = Analyze(a, ". > 5", "/data/q")
	assert.True(t, e.SelfRef)

	e = Analyze(a, "#form/q = 'x'", "/data/q")
	assert.True(t, e.SelfRef)

	e = Analyze(a, "#nope/x = 1", "/data/q")
	assert.Equal(t, []string{"#nope"}, e.Unknown)

	e = Analyze(a, "#form/q = ", "/data/q")
	assert.Error(t, e.Err)
	assert.Equal(t, "#form/q = ", e.Value)
}

func TestAnalyzeText_Outputs(t *testing.T) {
	a := paths.NewAliaser("data")
	e := AnalyzeText(a, `Hi <output value="#form/name"/> from <output value="instance('loc')/city"/>`)
	require.NoError(t, e.Err)
	assert.Equal(t, []string{"/data/name"}, e.Paths)
	assert.Equal(t, []string{"loc"}, e.Instances)

	e = AnalyzeText(a, `broken <output value="#form/"/>`)
	assert.Error(t, e.Err)
}

func TestIndex_PrefixAwareLookup(t *testing.T) {
	x := newIndex()
	n1, n2 := graph.NewIdent(), graph.NewIdent()
	l1 := NodeLocation(n1, graph.PropCalculate)
	l2 := NodeLocation(n2, graph.PropRelevant)

	x.Update(l1, "#form/text + #form/group/text", "/data/calc")
	x.Update(l2, "#form/text2 = 'x'", "/data/other")

	assert.Equal(t, []Location{l1}, x.Referencing("/data/text"))
	assert.Equal(t, []Location{l2}, x.Referencing("/data/text2"))
	assert.Equal(t, []Location{l1}, x.Referencing("/data/group"))
	assert.ElementsMatch(t, []Location{l1, l2}, x.Referencing("/data"))
	assert.ElementsMatch(t, []Location{l1, l2}, x.ReferencingAny([]string{"/data/text", "/data/text2"}))
	assert.Empty(t, x.Referencing("/data/tex"))

	x.Update(l1, "#form/orange", "/data/calc")
	assert.Empty(t, x.Referencing("/data/text"))
	assert.Equal(t, []Location{l1}, x.Referencing("/data/orange"))
}

func TestIndex_RemoveAndInstances(t *testing.T) {
	x := newIndex()
	n := graph.NewIdent()
	key := itext.NewKey()
	l1 := NodeLocation(n, graph.PropNodeset)
	l2 := TextLocation(key, itext.DefaultForm, "en")

	x.Update(l1, "instance('fixture')/a", "/data/sel")
	x.Update(l2, `<output value="instance('fixture')/b"/>`, "")
	assert.Equal(t, []string{"fixture"}, x.Instances())
	assert.Len(t, x.InstanceLocations("fixture"), 2)
	assert.Equal(t, []Location{l1}, x.NodeLocations(n))
	assert.Equal(t, []Location{l2}, x.TextLocations(key))

	x.RemoveNode(n)
	assert.Equal(t, []Location{l2}, x.InstanceLocations("fixture"))

	x.Update(l2, "", "")
	assert.Empty(t, x.Instances())
	assert.Equal(t, 0, x.Len())
}

func TestIndex_UnparsedLocations(t *testing.T) {
	x := newIndex()
	loc := NodeLocation(graph.NewIdent(), graph.PropRelevant)
	x.Update(loc, "#form/q = ", "/data/r")
	assert.Equal(t, []Location{loc}, x.Unparsed())

	x.Update(loc, "#form/q = 1", "/data/r")
	assert.Empty(t, x.Unparsed())
}

func TestSidecar_FlushAndQuery(t *testing.T) {
	x := newIndex()
	n := graph.NewIdent()
	loc := NodeLocation(n, graph.PropCalculate)
	x.Update(loc, "#form/a + instance('fixture')/b", "/data/c")

	sc, err := OpenSidecar(filepath.Join(t.TempDir(), "refs.db"))
	require.NoError(t, err)
	defer func() { _ = sc.Close() }()
	require.NoError(t, sc.Flush(x))

	rows, err := sc.Query("SELECT location FROM formgraph_refs WHERE token = ?", PathToken("/data/a"))
	require.NoError(t, err)
	var got []string
	for rows.Next() {
		var s string
		require.NoError(t, rows.Scan(&s))
		got = append(got, s)
	}
	require.NoError(t, rows.Err())
	_ = rows.Close()
	assert.Equal(t, []string{loc.String()}, got)

	rows, err = sc.Query("SELECT token FROM formgraph_refs WHERE token LIKE 'instance:%'")
	require.NoError(t, err)
	got = nil
	for rows.Next() {
		var s string
		require.NoError(t, rows.Scan(&s))
		got = append(got, s)
	}
	_ = rows.Close()
	assert.Equal(t, []string{"instance:fixture"}, got)
}
