package xpath

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paths(t *testing.T, src string) []*PathExpr {
	t.Helper()
	e, err := Parse(src)
	require.NoError(t, err)
	var out []*PathExpr
	Walk(e, func(n Expr) bool {
		if p, ok := n.(*PathExpr); ok {
			out = append(out, p)
		}
		return true
	})
	return out
}

func TestParse_HashtagPaths(t *testing.T) {
	ps := paths(t, "#form/text + #form/group/text")
	require.Len(t, ps, 2)

	assert.Equal(t, PathHashtag, ps[0].Kind)
	assert.Equal(t, "#form", ps[0].Hashtag)
	require.Len(t, ps[0].NameSteps(), 1)
	assert.Equal(t, "text", ps[0].Steps[0].Name)

	require.Len(t, ps[1].NameSteps(), 2)
	assert.Equal(t, "group", ps[1].Steps[0].Name)
	assert.Equal(t, "text", ps[1].Steps[1].Name)
}

func TestParse_OperatorDisambiguation(t *testing.T) {
	e, err := Parse("/data/div div 2 * count(/data/and)")
	require.NoError(t, err)
	b, ok := e.(*BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "*", b.Op)

	left, ok := b.Left.(*BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "div", left.Op)
	p, ok := left.Left.(*PathExpr)
	require.True(t, ok)
	assert.Equal(t, "div", p.Steps[1].Name)

	call, ok := b.Right.(*FuncCall)
	require.True(t, ok)
	arg := call.Args[0].(*PathExpr)
	assert.Equal(t, "and", arg.Steps[1].Name)
}

func TestParse_NamesWithDashesAndDots(t *testing.T) {
	ps := paths(t, "/data/copy-1-of-group/q.2 - 1")
	require.Len(t, ps, 1)
	names := []string{}
	for _, s := range ps[0].NameSteps() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"data", "copy-1-of-group", "q.2"}, names)
}

func TestParse_InstanceFilterPath(t *testing.T) {
	e, err := Parse("instance('casedb')/casedb/case[@case_id = instance('commcaresession')/session/data/case_id]/name")
	require.NoError(t, err)
	p, ok := e.(*PathExpr)
	require.True(t, ok)
	assert.Equal(t, PathFiltered, p.Kind)
	assert.Empty(t, p.NameSteps())

	var ids []string
	Walk(e, func(n Expr) bool {
		if f, ok := n.(*FuncCall); ok {
			if lit, ok := f.InstanceID(); ok {
				ids = append(ids, lit.Value)
			}
		}
		return true
	})
	assert.Equal(t, []string{"casedb", "commcaresession"}, ids)
}

func TestParse_NameStepsStopAtNonChildSteps(t *testing.T) {
	ps := paths(t, "/data/rep[2]/q/@attr")
	require.Len(t, ps, 1)
	steps := ps[0].NameSteps()
	require.Len(t, steps, 3)
	assert.Len(t, steps[1].Predicates, 1)

	ps = paths(t, "/data//q")
	assert.Len(t, ps[0].NameSteps(), 1)

	ps = paths(t, "../sibling")
	assert.Empty(t, ps[0].NameSteps())
}

func TestParse_Context(t *testing.T) {
	ps := paths(t, ". > 5 and ./x")
	require.Len(t, ps, 2)
	assert.True(t, ps[0].IsContext())
	assert.False(t, ps[1].IsContext())
}

func TestParse_Errors(t *testing.T) {
	for _, src := range []string{
		"",
		"   ",
		"/data/q = ",
		"concat('a', ",
		"'unterminated",
		"/data/q]",
		"#",
		"count(/data/q",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidXPath))
			var se *SyntaxError
			assert.True(t, errors.As(err, &se))
		})
	}
}

func TestPrint_Canonical(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"#form/a+#form/b", "#form/a + #form/b"},
		{"concat( 'x',\"y\" )", "concat('x', \"y\")"},
		{"-(/data/a)mod 2", "-(/data/a) mod 2"},
		{"/data/rep[ 1 ]/q", "/data/rep[1]/q"},
		{"//q | ../r/@s", "//q | ../r/@s"},
		{"$v/child::x/text()", "$v/child::x/text()"},
		{"/", "/"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			e, err := Parse(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Print(e))
		})
	}
}

func TestSplice(t *testing.T) {
	src := "#form/text  +  #form/text2"
	got, err := Splice(src, []Edit{
		{Span: Span{6, 10}, Text: "orange"},
	})
	require.NoError(t, err)
	assert.Equal(t, "#form/orange  +  #form/text2", got)

	got, err = Splice("abcdef", []Edit{
		{Span: Span{1, 5}, Text: "X"},
		{Span: Span{2, 3}, Text: "nested"},
	})
	require.NoError(t, err)
	assert.Equal(t, "aXf", got)

	_, err = Splice("abcdef", []Edit{
		{Span: Span{1, 3}, Text: "X"},
		{Span: Span{2, 5}, Text: "Y"},
	})
	assert.Error(t, err)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "'a'", Quote("a", '\''))
	assert.Equal(t, `"a"`, Quote("a", '"'))
	assert.Equal(t, `"it's"`, Quote("it's", '\''))
	assert.Equal(t, "'a'", Quote("a", 0))
}
